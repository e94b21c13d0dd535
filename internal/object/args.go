package object

import (
	"fmt"
	"sort"

	"github.com/funvibe/dynrt/internal/typesystem"
)

// Args is the calling convention for dynamic operations: positional
// arguments plus a separate named-argument record.
type Args struct {
	Positional []any
	Named      map[string]any
}

// Pos builds an Args with positional arguments only.
func Pos(values ...any) Args {
	return Args{Positional: values}
}

// With returns a copy of a with the named argument set.
func (a Args) With(name string, v any) Args {
	named := make(map[string]any, len(a.Named)+1)
	for k, val := range a.Named {
		named[k] = val
	}
	named[name] = v
	return Args{Positional: a.Positional, Named: named}
}

// Param describes one declared parameter.
type Param struct {
	Name string
	Type *typesystem.Type // nil means dynamic

	// Default is used when an optional parameter is omitted. DefaultFn,
	// when set, takes precedence and is evaluated at bind time.
	Default   any
	DefaultFn func() (any, error)

	// Required marks a required named parameter.
	Required bool
}

// Signature is the parameter shape of a method, constructor or function:
// Required leading positional parameters, then optional positional ones,
// then named ones. Positional and named optionals are mutually exclusive,
// as in the source language.
type Signature struct {
	Positional []Param
	Required   int
	Named      []Param
}

// Params is a convenience for a signature of required positional
// parameters only.
func Params(names ...string) Signature {
	ps := make([]Param, len(names))
	for i, n := range names {
		ps[i] = Param{Name: n}
	}
	return Signature{Positional: ps, Required: len(ps)}
}

// Arity is the number of bound values Bind produces.
func (s Signature) Arity() int { return len(s.Positional) + len(s.Named) }

// Index returns the bound position of the parameter called name.
func (s Signature) Index(name string) int {
	for i, p := range s.Positional {
		if p.Name == name {
			return i
		}
	}
	for i, p := range s.Named {
		if p.Name == name {
			return len(s.Positional) + i
		}
	}
	return -1
}

// Checker validates an argument against a declared parameter type.
type Checker func(v any, t *typesystem.Type) error

// BindError explains why an argument list does not fit a signature.
type BindError struct {
	Reason string
}

func (e *BindError) Error() string { return e.Reason }

// Bind adapts a call-site argument list to the signature. The result holds
// one value per declared parameter, positional parameters first, named
// parameters after them, both in declaration order. Defaults for omitted
// parameters are substituted in that same order.
func (s Signature) Bind(args Args, check Checker) ([]any, error) {
	if len(args.Positional) < s.Required {
		return nil, &BindError{Reason: fmt.Sprintf("expected %d positional argument(s), got %d", s.Required, len(args.Positional))}
	}
	if len(args.Positional) > len(s.Positional) {
		return nil, &BindError{Reason: fmt.Sprintf("expected at most %d positional argument(s), got %d", len(s.Positional), len(args.Positional))}
	}
	if len(args.Named) > 0 {
		var unknown []string
		for name := range args.Named {
			if s.namedIndex(name) < 0 {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return nil, &BindError{Reason: fmt.Sprintf("no named parameter(s) %v", unknown)}
		}
	}

	bound := make([]any, 0, s.Arity())
	for i, p := range s.Positional {
		var v any
		if i < len(args.Positional) {
			v = args.Positional[i]
		} else {
			d, err := p.defaultValue()
			if err != nil {
				return nil, err
			}
			v = d
		}
		if err := checkParam(p, v, check); err != nil {
			return nil, err
		}
		bound = append(bound, v)
	}
	for _, p := range s.Named {
		v, ok := args.Named[p.Name]
		if !ok {
			if p.Required {
				return nil, &BindError{Reason: fmt.Sprintf("missing required named argument '%s'", p.Name)}
			}
			d, err := p.defaultValue()
			if err != nil {
				return nil, err
			}
			v = d
		}
		if err := checkParam(p, v, check); err != nil {
			return nil, err
		}
		bound = append(bound, v)
	}
	return bound, nil
}

func (s Signature) namedIndex(name string) int {
	for i, p := range s.Named {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (p Param) defaultValue() (any, error) {
	if p.DefaultFn != nil {
		return p.DefaultFn()
	}
	return p.Default, nil
}

func checkParam(p Param, v any, check Checker) error {
	if p.Type == nil || check == nil {
		return nil
	}
	if err := check(v, p.Type); err != nil {
		return fmt.Errorf("argument '%s': %w", p.Name, err)
	}
	return nil
}
