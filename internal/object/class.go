package object

import (
	"fmt"
	"sort"

	"github.com/funvibe/dynrt/internal/config"
	"github.com/funvibe/dynrt/internal/typesystem"
)

// MemberKind distinguishes methods from accessors.
type MemberKind int

const (
	MethodMember MemberKind = iota
	GetterMember
	SetterMember
)

func (k MemberKind) String() string {
	switch k {
	case GetterMember:
		return "getter"
	case SetterMember:
		return "setter"
	}
	return "method"
}

// Body is the implementation of a method, accessor, constructor or function.
type Body func(f *Frame) (any, error)

// Member is a method or accessor declared by a class.
type Member struct {
	Name string
	Kind MemberKind
	Sig  Signature
	Body Body
}

// Field is an instance field with an optional initializer. Initializers run
// during construction, superclass fields first.
type Field struct {
	Name  string
	Type  *typesystem.Type
	Final bool
	Init  func(self *Instance) (any, error)
}

// Constructor builds a new instance after all field initializers ran.
type Constructor struct {
	Name string
	Sig  Signature
	Body Body
}

// Class is the runtime class descriptor: member tables, field layout,
// constructors and the link to the type descriptor used for type tests.
type Class struct {
	Name  string
	Type  *typesystem.Type
	Super *Class

	// Mixin is set on a mixin application: the class whose members were
	// copied into this one.
	Mixin *Class
	// Mixins lists the mixins applied directly by Compose, in supplied order.
	Mixins []*Class

	Abstract bool

	fields  []*Field
	methods map[string]*Member
	getters map[string]*Member
	setters map[string]*Member
	ctors   map[string]*Constructor
}

// ObjectClass is the root of every class hierarchy. It declares the
// defaults every instance answers to.
var ObjectClass *Class

func init() {
	ObjectClass = newObjectClass()
}

func newObjectClass() *Class {
	c := &Class{Name: config.ObjectTypeName, Type: typesystem.Object}
	c.init()
	c.AddMethod(config.ToStringName, Signature{}, func(f *Frame) (any, error) {
		return "Instance of '" + ClassOf(f.Self).Name + "'", nil
	})
	c.AddMethod(config.EqualsName, Params("other"), func(f *Frame) (any, error) {
		return f.Self == f.Arg(0), nil
	})
	c.AddGetter(config.HashCodeName, func(f *Frame) (any, error) {
		if inst, ok := f.Self.(*Instance); ok {
			return int(inst.id), nil
		}
		return 0, nil
	})
	c.AddGetter(config.RuntimeTypeName, func(f *Frame) (any, error) {
		return ClassOf(f.Self).Type, nil
	})
	return c
}

func (c *Class) init() {
	c.methods = make(map[string]*Member)
	c.getters = make(map[string]*Member)
	c.setters = make(map[string]*Member)
	c.ctors = make(map[string]*Constructor)
}

// NewClass creates a class with its own, unregistered type descriptor.
// A nil super means Object. Interfaces add supertypes for type tests.
func NewClass(name string, super *Class, interfaces ...*typesystem.Type) *Class {
	if super == nil {
		super = ObjectClass
	}
	c := &Class{Name: name, Super: super}
	c.init()
	supers := append([]*typesystem.Type{super.Type}, interfaces...)
	c.Type = typesystem.NewNamed(name, c, supers...)
	return c
}

// NewClassFor creates the class behind a type descriptor that is still
// under construction, typically inside a template builder or right after
// Registry.Named. The descriptor's supertypes and class link are set here.
func NewClassFor(t *typesystem.Type, super *Class, interfaces ...*typesystem.Type) *Class {
	if super == nil {
		super = ObjectClass
	}
	c := &Class{Name: t.String(), Type: t, Super: super}
	c.init()
	t.SetSupers(append([]*typesystem.Type{super.Type}, interfaces...)...)
	t.SetClass(c)
	return c
}

func (c *Class) String() string { return c.Name }

// AddField appends an instance field in declaration order.
func (c *Class) AddField(f *Field) *Class {
	c.fields = append(c.fields, f)
	return c
}

// AddMethod declares a method.
func (c *Class) AddMethod(name string, sig Signature, body Body) *Class {
	c.methods[name] = &Member{Name: name, Kind: MethodMember, Sig: sig, Body: body}
	return c
}

// AddGetter declares a getter.
func (c *Class) AddGetter(name string, body Body) *Class {
	c.getters[name] = &Member{Name: name, Kind: GetterMember, Body: body}
	return c
}

// AddSetter declares a setter. The body receives the value as Arg(0).
func (c *Class) AddSetter(name string, body Body) *Class {
	c.setters[name] = &Member{Name: name, Kind: SetterMember, Sig: Params("value"), Body: body}
	return c
}

// AddConstructor declares a constructor. The unnamed constructor is "".
func (c *Class) AddConstructor(name string, sig Signature, body Body) *Class {
	c.ctors[name] = &Constructor{Name: name, Sig: sig, Body: body}
	return c
}

// Fields returns the fields declared by c itself.
func (c *Class) Fields() []*Field { return c.fields }

// OwnMembers returns the members declared by c itself, sorted by kind and
// name.
func (c *Class) OwnMembers() []*Member {
	out := make([]*Member, 0, len(c.methods)+len(c.getters)+len(c.setters))
	for _, tbl := range []map[string]*Member{c.methods, c.getters, c.setters} {
		names := make([]string, 0, len(tbl))
		for n := range tbl {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, tbl[n])
		}
	}
	return out
}

// AddMember copies a member declaration into c.
func (c *Class) AddMember(m *Member) {
	switch m.Kind {
	case GetterMember:
		c.getters[m.Name] = m
	case SetterMember:
		c.setters[m.Name] = m
	default:
		c.methods[m.Name] = m
	}
}

// Constructor returns the constructor called name.
func (c *Class) Constructor(name string) (*Constructor, bool) {
	ctor, ok := c.ctors[name]
	return ctor, ok
}

func (c *Class) table(kind MemberKind) map[string]*Member {
	switch kind {
	case GetterMember:
		return c.getters
	case SetterMember:
		return c.setters
	}
	return c.methods
}

// Lookup finds a member of the given kind along the superclass chain,
// starting at c. The second result is the class that holds the member,
// which is where super calls made from it continue.
func (c *Class) Lookup(name string, kind MemberKind) (*Member, *Class) {
	for k := c; k != nil; k = k.Super {
		if m, ok := k.table(kind)[name]; ok {
			return m, k
		}
	}
	return nil, nil
}

// Own returns the member of the given kind declared by c itself.
func (c *Class) Own(name string, kind MemberKind) (*Member, bool) {
	m, ok := c.table(kind)[name]
	return m, ok
}

// OwnField returns the field called name declared by c itself.
func (c *Class) OwnField(name string) (*Field, bool) {
	for _, f := range c.fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// LookupField finds a field declaration along the superclass chain.
func (c *Class) LookupField(name string) (*Field, *Class) {
	for k := c; k != nil; k = k.Super {
		for _, f := range k.fields {
			if f.Name == name {
				return f, k
			}
		}
	}
	return nil, nil
}

// Linearization returns c followed by its superclasses, up to Object.
func (c *Class) Linearization() []*Class {
	var out []*Class
	for k := c; k != nil; k = k.Super {
		out = append(out, k)
	}
	return out
}

// IsSubclassOf reports whether other appears in c's linearization.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
	}
	return false
}

// HasNoSuchMethod reports whether c overrides the noSuchMethod hook.
func (c *Class) HasNoSuchMethod() bool {
	m, holder := c.Lookup(config.NoSuchMethodName, MethodMember)
	return m != nil && holder != ObjectClass
}

// ClassOf returns the class of a language value, or ObjectClass for
// foreign values.
func ClassOf(v any) *Class {
	if inst, ok := v.(*Instance); ok {
		return inst.Class
	}
	return ObjectClass
}

// Describe renders a class and its chain, e.g. "C -> A&M1 -> A -> Object".
func (c *Class) Describe() string {
	s := ""
	for i, k := range c.Linearization() {
		if i > 0 {
			s += " -> "
		}
		s += k.Name
	}
	return s
}

// GoString helps test failure output.
func (c *Class) GoString() string { return fmt.Sprintf("Class(%s)", c.Describe()) }
