package typesystem

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/funvibe/dynrt/internal/config"
)

// Type is a canonical runtime type descriptor. Two descriptors with the same
// template and the same argument sequence are the same pointer, so identity
// comparison is a valid type equality test.
//
// A descriptor is mutable only while its template builder runs; after that
// it is sealed.
type Type struct {
	Name     string
	Template *Template
	Args     []*Type

	supers []*Type
	class  any
	inner  *Type // non-nil for nullable types
	key    string
	sealed bool
}

// Built-in descriptors. They are shared by every Registry.
var (
	Dynamic  = builtin(config.DynamicTypeName)
	Object   = builtin(config.ObjectTypeName)
	Null     = builtin(config.NullTypeName)
	Never    = builtin(config.NeverTypeName)
	Num      = builtin(config.NumTypeName, Object)
	Int      = builtin(config.IntTypeName, Num)
	Double   = builtin(config.DoubleTypeName, Num)
	Bool     = builtin(config.BoolTypeName, Object)
	String   = builtin(config.StringTypeName, Object)
	Function = builtin(config.FunctionTypeName, Object)
)

func builtin(name string, supers ...*Type) *Type {
	return &Type{Name: name, key: name, supers: supers, sealed: true}
}

// Key returns the structural identity of t. Equal keys mean equal types.
func (t *Type) Key() string { return t.key }

// Supers returns the direct supertypes of t.
func (t *Type) Supers() []*Type { return t.supers }

// Class returns the class descriptor linked to t, if any.
func (t *Type) Class() any { return t.class }

// Sealed reports whether construction of t has finished.
func (t *Type) Sealed() bool { return t.sealed }

// IsNullable reports whether t admits null.
func (t *Type) IsNullable() bool {
	return t.inner != nil || t == Null || t == Dynamic
}

// NonNull strips a nullable wrapper.
func (t *Type) NonNull() *Type {
	if t.inner != nil {
		return t.inner
	}
	return t
}

// SetSupers records the direct supertypes. Only valid during construction.
func (t *Type) SetSupers(supers ...*Type) {
	t.mustBeOpen("SetSupers")
	t.supers = append([]*Type(nil), supers...)
}

// SetClass links a class descriptor. Only valid during construction.
func (t *Type) SetClass(class any) {
	t.mustBeOpen("SetClass")
	t.class = class
}

func (t *Type) mustBeOpen(op string) {
	if t.sealed {
		panic("typesystem: " + op + " on sealed type " + t.String())
	}
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.inner != nil {
		return t.inner.String() + "?"
	}
	if len(t.Args) == 0 {
		return t.Name
	}
	parts := make([]string, len(t.Args))
	for i, a := range t.Args {
		parts[i] = a.String()
	}
	return t.Name + "<" + strings.Join(parts, ", ") + ">"
}

// ClassName implements diagnostics.Named.
func (t *Type) ClassName() string { return "Type" }

// Typed is implemented by values that carry their own runtime type, such as
// instances of language classes.
type Typed interface {
	RuntimeType() *Type
}

var nullables sync.Map // key -> *Type

// Nullable returns the canonical nullable form of t.
func Nullable(t *Type) *Type {
	if t.IsNullable() {
		return t
	}
	key := t.key + "?"
	if v, ok := nullables.Load(key); ok {
		return v.(*Type)
	}
	n := &Type{Name: t.Name, Args: t.Args, Template: t.Template, inner: t, key: key, sealed: true}
	v, _ := nullables.LoadOrStore(key, n)
	return v.(*Type)
}

func argsKey(args []*Type) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.key
	}
	return strings.Join(parts, ",")
}

var namedIDs atomic.Uint64

// NewNamed creates a fresh, sealed, non-generic descriptor that is not
// registered anywhere. Each call returns a distinct type. Used for classes
// that are never looked up by name, such as mixin applications.
func NewNamed(name string, class any, supers ...*Type) *Type {
	if len(supers) == 0 {
		supers = []*Type{Object}
	}
	return &Type{
		Name:   name,
		key:    name + "#" + strconv.FormatUint(namedIDs.Add(1), 10),
		supers: append([]*Type(nil), supers...),
		class:  class,
		sealed: true,
	}
}
