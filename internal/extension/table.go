// Package extension attaches members to foreign (Go native) types without
// touching those types: an out-of-band table keyed by the receiver's runtime
// kind and the member name.
//
// Instances of language classes never go through this table; their members
// resolve through ordinary class lookup.
package extension

import (
	"reflect"
	"sort"
	"sync"

	"github.com/funvibe/dynrt/internal/config"
	"github.com/funvibe/dynrt/internal/diagnostics"
	"github.com/funvibe/dynrt/internal/object"
)

// Kind is the runtime kind of a foreign receiver.
type Kind string

const (
	KindObject   Kind = config.ObjectTypeName
	KindNum      Kind = config.NumTypeName
	KindInt      Kind = config.IntTypeName
	KindDouble   Kind = config.DoubleTypeName
	KindBool     Kind = config.BoolTypeName
	KindString   Kind = config.StringTypeName
	KindList     Kind = config.ListTypeName
	KindMap      Kind = config.MapTypeName
	KindFunction Kind = config.FunctionTypeName
)

// Invoker lets extension bodies call back into dynamic dispatch, for
// example to apply a closure argument.
type Invoker interface {
	Call(fn any, args object.Args) (any, error)
}

// Call is the activation of an extension body.
type Call struct {
	Recv    any
	Name    string
	Args    []any
	Invoker Invoker
}

// Arg returns the i-th bound argument.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// Impl is a registered extension member.
type Impl struct {
	Kind   Kind
	Name   string
	Member object.MemberKind
	Sig    object.Signature
	Fn     func(c *Call) (any, error)
}

// Classifier maps a foreign value to a kind. It reports false for values it
// does not recognize.
type Classifier func(v any) (Kind, bool)

type key struct {
	kind   Kind
	member object.MemberKind
	name   string
}

// Table is the extension dispatch table. It is populated at module load,
// then frozen and read without contention.
type Table struct {
	mu          sync.RWMutex
	impls       map[key]*Impl
	parents     map[Kind]Kind
	classifiers []Classifier
	frozen      bool
}

// NewTable creates a table that knows the built-in kind hierarchy.
func NewTable() *Table {
	return &Table{
		impls: make(map[key]*Impl),
		parents: map[Kind]Kind{
			KindNum:      KindObject,
			KindInt:      KindNum,
			KindDouble:   KindNum,
			KindBool:     KindObject,
			KindString:   KindObject,
			KindList:     KindObject,
			KindMap:      KindObject,
			KindFunction: KindObject,
		},
	}
}

// DefineKind introduces a foreign kind with a parent kind used as fallback
// during resolution. The classifier recognizes values of the kind.
func (t *Table) DefineKind(kind, parent Kind, classify Classifier) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return diagnostics.NewStateError("extension table is frozen; cannot define kind '%s'", kind)
	}
	if parent == "" {
		parent = KindObject
	}
	t.parents[kind] = parent
	if classify != nil {
		t.classifiers = append(t.classifiers, classify)
	}
	return nil
}

// Register adds an extension member. Registering the same (kind, member)
// pair twice keeps the last registration.
func (t *Table) Register(impl *Impl) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return diagnostics.NewStateError("extension table is frozen; cannot register %s.%s", impl.Kind, impl.Name)
	}
	t.impls[key{impl.Kind, impl.Member, impl.Name}] = impl
	return nil
}

// Method registers an extension method.
func (t *Table) Method(kind Kind, name string, sig object.Signature, fn func(c *Call) (any, error)) error {
	return t.Register(&Impl{Kind: kind, Name: name, Member: object.MethodMember, Sig: sig, Fn: fn})
}

// Getter registers an extension getter.
func (t *Table) Getter(kind Kind, name string, fn func(c *Call) (any, error)) error {
	return t.Register(&Impl{Kind: kind, Name: name, Member: object.GetterMember, Fn: fn})
}

// Setter registers an extension setter; the value is Arg(0).
func (t *Table) Setter(kind Kind, name string, fn func(c *Call) (any, error)) error {
	return t.Register(&Impl{Kind: kind, Name: name, Member: object.SetterMember, Sig: object.Params("value"), Fn: fn})
}

// Freeze ends the population phase.
func (t *Table) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// Classify returns the kind of a foreign value.
func (t *Table) Classify(v any) Kind {
	t.mu.RLock()
	classifiers := t.classifiers
	t.mu.RUnlock()
	for _, c := range classifiers {
		if k, ok := c(v); ok {
			return k
		}
	}
	switch v.(type) {
	case bool:
		return KindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt
	case float32, float64:
		return KindDouble
	case string:
		return KindString
	case []any:
		return KindList
	case map[string]any, map[any]any:
		return KindMap
	case object.Callable:
		return KindFunction
	}
	if v != nil && reflect.TypeOf(v).Kind() == reflect.Func {
		return KindFunction
	}
	return KindObject
}

// Resolve finds an extension method for v.
func (t *Table) Resolve(v any, name string) (*Impl, error) {
	return t.ResolveMember(v, name, object.MethodMember)
}

// ResolveMember finds an extension member of the given kind for v, walking
// from v's kind up to Object. A miss is a NoSuchMethodError, never a nil
// impl.
func (t *Table) ResolveMember(v any, name string, member object.MemberKind) (*Impl, error) {
	if impl, ok := t.Lookup(v, name, member); ok {
		return impl, nil
	}
	return nil, diagnostics.NewNoSuchMethod(v, memberLabel(name, member))
}

// Lookup is ResolveMember without the error.
func (t *Table) Lookup(v any, name string, member object.MemberKind) (*Impl, bool) {
	if v == nil {
		return nil, false
	}
	kind := t.Classify(v)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for k := kind; k != ""; k = t.parents[k] {
		if impl, ok := t.impls[key{k, member, name}]; ok {
			return impl, true
		}
		if k == KindObject {
			break
		}
	}
	return nil, false
}

// Members lists the member names registered directly on kind, sorted.
func (t *Table) Members(kind Kind) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var names []string
	for k := range t.impls {
		if k.kind == kind {
			names = append(names, memberLabel(k.name, k.member))
		}
	}
	sort.Strings(names)
	return names
}

func memberLabel(name string, member object.MemberKind) string {
	if member == object.SetterMember {
		return name + "="
	}
	return name
}
