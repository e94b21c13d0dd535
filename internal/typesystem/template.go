package typesystem

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/funvibe/dynrt/internal/diagnostics"
)

// Builder fills in a freshly allocated instantiation. self is already in the
// template cache when the builder runs, so a builder that instantiates its
// own template with the same arguments gets self back.
type Builder func(self *Type, args []*Type) error

// Template is a parameterized class definition awaiting type arguments.
type Template struct {
	Name   string
	Params []string

	id    uint64
	build Builder

	mu    sync.Mutex
	cache map[string]*Type
}

var templateIDs atomic.Uint64

// NewTemplate creates a template with the given type parameter names.
// A nil builder produces bare descriptors.
func NewTemplate(name string, params []string, build Builder) *Template {
	return &Template{
		Name:   name,
		Params: append([]string(nil), params...),
		id:     templateIDs.Add(1),
		build:  build,
		cache:  make(map[string]*Type),
	}
}

// Arity is the number of type parameters.
func (tp *Template) Arity() int { return len(tp.Params) }

// Raw returns the instantiation with implicit dynamic arguments.
func (tp *Template) Raw() (*Type, error) { return Instantiate(tp) }

// Instantiate returns the canonical instantiation of tp for args.
//
// Structurally equal argument tuples always return the identical *Type. An
// empty tuple is equivalent to an all-dynamic tuple of the template's arity.
// A tuple of the wrong length is an ArityError.
func Instantiate(tp *Template, args ...*Type) (*Type, error) {
	if len(args) == 0 && len(tp.Params) > 0 {
		args = make([]*Type, len(tp.Params))
		for i := range args {
			args[i] = Dynamic
		}
	}
	if len(args) != len(tp.Params) {
		return nil, &diagnostics.ArityError{Template: tp.Name, Want: len(tp.Params), Got: len(args)}
	}
	for i, a := range args {
		if a == nil {
			return nil, fmt.Errorf("template '%s': type argument %d is nil", tp.Name, i)
		}
	}
	key := argsKey(args)

	tp.mu.Lock()
	if t, ok := tp.cache[key]; ok {
		tp.mu.Unlock()
		return t, nil
	}
	t := &Type{
		Name:     tp.Name,
		Template: tp,
		Args:     append([]*Type(nil), args...),
		key:      tp.Name + "#" + strconv.FormatUint(tp.id, 10) + "<" + key + ">",
	}
	// Inserted before the builder runs so self-references resolve to t.
	tp.cache[key] = t
	tp.mu.Unlock()

	if tp.build != nil {
		if err := tp.build(t, t.Args); err != nil {
			tp.mu.Lock()
			delete(tp.cache, key)
			tp.mu.Unlock()
			return nil, fmt.Errorf("instantiating %s: %w", t, err)
		}
	}
	t.sealed = true
	return t, nil
}

// MustInstantiate is Instantiate for generated call sites, which treat a
// malformed tuple as a programmer error.
func MustInstantiate(tp *Template, args ...*Type) *Type {
	t, err := Instantiate(tp, args...)
	if err != nil {
		panic(err)
	}
	return t
}

// Instances returns the number of cached instantiations.
func (tp *Template) Instances() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.cache)
}
