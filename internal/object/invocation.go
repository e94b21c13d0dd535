package object

import (
	"github.com/funvibe/dynrt/internal/diagnostics"
)

// Invocation describes a member access that found no member. It is the
// single argument passed to a class's noSuchMethod hook.
type Invocation struct {
	Kind       MemberKind
	Member     string
	Positional []any
	Named      map[string]any
}

// IsMethod reports whether the failed access was a method call.
func (inv *Invocation) IsMethod() bool { return inv.Kind == MethodMember }

// IsGetter reports whether the failed access was a property read.
func (inv *Invocation) IsGetter() bool { return inv.Kind == GetterMember }

// IsSetter reports whether the failed access was a property write.
func (inv *Invocation) IsSetter() bool { return inv.Kind == SetterMember }

// MemberName returns the member name as written at the call site; setters
// carry a trailing "=".
func (inv *Invocation) MemberName() string {
	if inv.Kind == SetterMember {
		return inv.Member + "="
	}
	return inv.Member
}

// Args returns the invocation's arguments.
func (inv *Invocation) Args() Args {
	return Args{Positional: inv.Positional, Named: inv.Named}
}

// Error converts the invocation into the error raised when nobody handles
// it.
func (inv *Invocation) Error(recv any) error {
	return &diagnostics.NoSuchMethodError{
		Receiver:   recv,
		Member:     inv.MemberName(),
		Positional: inv.Positional,
		Named:      inv.Named,
	}
}

// ClassName implements diagnostics.Named.
func (inv *Invocation) ClassName() string { return "Invocation" }

func (inv *Invocation) String() string {
	return "Invocation." + inv.Kind.String() + " " + inv.MemberName() +
		diagnostics.FormatArgs(inv.Positional, inv.Named)
}
