package typesystem

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/funvibe/dynrt/internal/config"
	"github.com/funvibe/dynrt/internal/diagnostics"
)

// Resolver maps a foreign value to its descriptor. It returns nil for values
// it does not recognize.
type Resolver func(v any) *Type

// Registry owns the process-wide named types and generic templates.
// It is populated at module load and read-only after Freeze.
type Registry struct {
	mu        sync.RWMutex
	named     map[string]*Type
	templates map[string]*Template
	hostTypes map[reflect.Type]*Type
	resolvers []Resolver
	frozen    bool

	List   *Template
	Map    *Template
	Future *Template
	Stream *Template
	Iter   *Template
}

// NewRegistry creates a registry pre-populated with the built-in types and
// the core generic templates (List, Map, Future, Stream, Iterable).
func NewRegistry() *Registry {
	r := &Registry{
		named:     make(map[string]*Type),
		templates: make(map[string]*Template),
		hostTypes: make(map[reflect.Type]*Type),
	}
	for _, t := range []*Type{Dynamic, Object, Null, Never, Num, Int, Double, Bool, String, Function} {
		r.named[t.Name] = t
	}
	objectSuper := func(self *Type, _ []*Type) error {
		self.SetSupers(Object)
		return nil
	}
	r.Iter = r.mustDefine(config.IterableTypeName, []string{"E"}, objectSuper)
	r.List = r.mustDefine(config.ListTypeName, []string{"E"}, func(self *Type, args []*Type) error {
		iter, err := Instantiate(r.Iter, args...)
		if err != nil {
			return err
		}
		self.SetSupers(iter)
		return nil
	})
	r.Map = r.mustDefine(config.MapTypeName, []string{"K", "V"}, objectSuper)
	r.Future = r.mustDefine(config.FutureTypeName, []string{"T"}, objectSuper)
	r.Stream = r.mustDefine(config.StreamTypeName, []string{"T"}, objectSuper)
	return r
}

func (r *Registry) mustDefine(name string, params []string, build Builder) *Template {
	tp, err := r.Define(name, params, build)
	if err != nil {
		panic(err)
	}
	return tp
}

// Define registers a generic template under name.
func (r *Registry) Define(name string, params []string, build Builder) (*Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil, diagnostics.NewStateError("type registry is frozen; cannot define template '%s'", name)
	}
	if _, ok := r.templates[name]; ok {
		return nil, fmt.Errorf("template '%s' already defined", name)
	}
	tp := NewTemplate(name, params, build)
	r.templates[name] = tp
	return tp, nil
}

// Template looks up a template by name.
func (r *Registry) Template(name string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tp, ok := r.templates[name]
	return tp, ok
}

// Named returns the canonical non-generic type called name, creating it with
// the given supertypes on first use. Later calls ignore supers.
func (r *Registry) Named(name string, supers ...*Type) (*Type, error) {
	r.mu.RLock()
	t, ok := r.named[name]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.named[name]; ok {
		return t, nil
	}
	if r.frozen {
		return nil, diagnostics.NewStateError("type registry is frozen; cannot create type '%s'", name)
	}
	if len(supers) == 0 {
		supers = []*Type{Object}
	}
	t = &Type{Name: name, key: name, supers: supers}
	r.named[name] = t
	return t, nil
}

// Seal finishes construction of a named type created by Named.
func (r *Registry) Seal(t *Type) { t.sealed = true }

// Lookup returns a named type without creating it.
func (r *Registry) Lookup(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.named[name]
	return t, ok
}

// RegisterHostType maps a Go type to a descriptor for TypeOf.
func (r *Registry) RegisterHostType(rt reflect.Type, t *Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return diagnostics.NewStateError("type registry is frozen; cannot map host type %s", rt)
	}
	r.hostTypes[rt] = t
	return nil
}

// AddResolver installs a resolver consulted by TypeOf for foreign values.
func (r *Registry) AddResolver(res Resolver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return diagnostics.NewStateError("type registry is frozen; cannot add resolver")
	}
	r.resolvers = append(r.resolvers, res)
	return nil
}

// Freeze ends the population phase.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// TypeOf returns the runtime type of v.
func (r *Registry) TypeOf(v any) *Type {
	switch val := v.(type) {
	case nil:
		return Null
	case Typed:
		return val.RuntimeType()
	case bool:
		return Bool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Int
	case float32, float64:
		return Double
	case string:
		return String
	case []any:
		return MustInstantiate(r.List)
	case map[string]any:
		return MustInstantiate(r.Map, String, Dynamic)
	case map[any]any:
		return MustInstantiate(r.Map)
	}

	rt := reflect.TypeOf(v)
	r.mu.RLock()
	t, ok := r.hostTypes[rt]
	resolvers := r.resolvers
	r.mu.RUnlock()
	if ok {
		return t
	}
	for _, res := range resolvers {
		if t := res(v); t != nil {
			return t
		}
	}
	switch rt.Kind() {
	case reflect.Func:
		return Function
	case reflect.Slice, reflect.Array:
		return MustInstantiate(r.List)
	case reflect.Map:
		return MustInstantiate(r.Map)
	}
	return Object
}
