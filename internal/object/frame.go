package object

import (
	"fmt"

	"github.com/funvibe/dynrt/internal/diagnostics"
	"github.com/funvibe/dynrt/internal/typesystem"
)

// Frame is the activation of a Body: the receiver, the class holding the
// running member, and the arguments bound in declaration order.
type Frame struct {
	Self   any
	Holder *Class
	Name   string
	Sig    Signature
	Args   []any

	check Checker
}

// Arg returns the i-th bound argument.
func (f *Frame) Arg(i int) any {
	if i < 0 || i >= len(f.Args) {
		return nil
	}
	return f.Args[i]
}

// Named returns the bound value of the parameter called name.
func (f *Frame) Named(name string) any {
	return f.Arg(f.Sig.Index(name))
}

// This returns the receiver as an instance.
func (f *Frame) This() *Instance {
	inst, _ := f.Self.(*Instance)
	return inst
}

// Super invokes the method called name on the class that follows the
// holder of the running member. Inside a mixin application this is the
// next class of the linearization, not the mixin's declared superclass.
func (f *Frame) Super(name string, args Args) (any, error) {
	if f.Holder == nil || f.Holder.Super == nil {
		return nil, diagnostics.NewNoSuchMethod(f.Self, "super."+name)
	}
	m, holder := f.Holder.Super.Lookup(name, MethodMember)
	if m == nil {
		return nil, &diagnostics.NoSuchMethodError{
			Receiver:   f.Self,
			Member:     "super." + name,
			Positional: args.Positional,
			Named:      args.Named,
		}
	}
	return InvokeMember(f.Self, holder, m, args, f.check)
}

// SuperGet invokes the getter called name on the next class after the
// holder.
func (f *Frame) SuperGet(name string) (any, error) {
	if f.Holder == nil || f.Holder.Super == nil {
		return nil, diagnostics.NewNoSuchMethod(f.Self, "super."+name)
	}
	m, holder := f.Holder.Super.Lookup(name, GetterMember)
	if m == nil {
		return nil, diagnostics.NewNoSuchMethod(f.Self, "super."+name)
	}
	return InvokeMember(f.Self, holder, m, Args{}, f.check)
}

// Checker returns the argument checker in effect for this frame.
func (f *Frame) Checker() Checker { return f.check }

// InvokeMember binds args to m's signature and runs its body with self as
// receiver and holder as the class super calls continue from.
func InvokeMember(self any, holder *Class, m *Member, args Args, check Checker) (any, error) {
	bound, err := m.Sig.Bind(args, check)
	if err != nil {
		return nil, bindFailure(self, m.Name, args, err)
	}
	return Activate(self, holder, m, bound, check)
}

// Activate runs m's body with arguments that were already bound to its
// signature.
func Activate(self any, holder *Class, m *Member, bound []any, check Checker) (any, error) {
	f := &Frame{Self: self, Holder: holder, Name: m.Name, Sig: m.Sig, Args: bound, check: check}
	return m.Body(f)
}

// Callable is implemented by values that can be invoked directly.
type Callable interface {
	Invoke(args Args, check Checker) (any, error)
}

// Function is a first-class function value with a declared signature.
type Function struct {
	Name string
	Sig  Signature
	Body Body
	Type *typesystem.Type
}

// NewFunction creates a function value.
func NewFunction(name string, sig Signature, body Body) *Function {
	return &Function{Name: name, Sig: sig, Body: body}
}

// Invoke implements Callable.
func (fn *Function) Invoke(args Args, check Checker) (any, error) {
	bound, err := fn.Sig.Bind(args, check)
	if err != nil {
		return nil, bindFailure(fn, fn.Name, args, err)
	}
	return fn.Body(&Frame{Name: fn.Name, Sig: fn.Sig, Args: bound, check: check})
}

// RuntimeType implements typesystem.Typed.
func (fn *Function) RuntimeType() *typesystem.Type {
	if fn.Type != nil {
		return fn.Type
	}
	return typesystem.Function
}

// ClassName implements diagnostics.Named.
func (fn *Function) ClassName() string { return "Function '" + fn.Name + "'" }

func (fn *Function) String() string { return fmt.Sprintf("Closure '%s'", fn.Name) }

// BoundMethod is a method torn off an instance.
type BoundMethod struct {
	Receiver any
	Holder   *Class
	Member   *Member
}

// Invoke implements Callable.
func (b *BoundMethod) Invoke(args Args, check Checker) (any, error) {
	return InvokeMember(b.Receiver, b.Holder, b.Member, args, check)
}

// RuntimeType implements typesystem.Typed.
func (b *BoundMethod) RuntimeType() *typesystem.Type { return typesystem.Function }

// ClassName implements diagnostics.Named.
func (b *BoundMethod) ClassName() string { return "Function '" + b.Member.Name + "'" }

func (b *BoundMethod) String() string {
	return fmt.Sprintf("Closure '%s.%s'", ClassOf(b.Receiver).Name, b.Member.Name)
}
