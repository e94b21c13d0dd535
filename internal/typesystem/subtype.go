package typesystem

import "github.com/funvibe/dynrt/internal/diagnostics"

// IsSubtype reports whether a is assignable to b. Generic arguments are
// covariant; dynamic is the top type and Never the bottom.
func IsSubtype(a, b *Type) bool {
	return isSubtype(a, b, make(map[[2]*Type]bool))
}

func isSubtype(a, b *Type, seen map[[2]*Type]bool) bool {
	if a == b || b == Dynamic || a == Never {
		return true
	}
	if a == Null {
		return b.IsNullable()
	}
	if a.inner != nil {
		return b.inner != nil && isSubtype(a.inner, b.inner, seen)
	}
	if b.inner != nil {
		b = b.inner
	}
	if a == b || b == Object {
		return true
	}
	if a == Dynamic {
		return false
	}
	pair := [2]*Type{a, b}
	if seen[pair] {
		return false
	}
	seen[pair] = true

	if a.Template != nil && a.Template == b.Template {
		for i := range a.Args {
			if !isSubtype(a.Args[i], b.Args[i], seen) {
				return false
			}
		}
		return true
	}
	for _, s := range a.supers {
		if isSubtype(s, b, seen) {
			return true
		}
	}
	return false
}

// Is reports whether v is an instance of t.
func (r *Registry) Is(v any, t *Type) bool {
	return IsSubtype(r.TypeOf(v), t)
}

// Cast returns v unchanged when it is an instance of t, and a CastError
// carrying the actual and expected descriptors otherwise.
func (r *Registry) Cast(v any, t *Type) (any, error) {
	actual := r.TypeOf(v)
	if IsSubtype(actual, t) {
		return v, nil
	}
	return nil, &diagnostics.CastError{Value: v, Actual: actual.String(), Expected: t.String()}
}
