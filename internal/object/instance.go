package object

import (
	"fmt"
	"sync/atomic"

	"github.com/funvibe/dynrt/internal/diagnostics"
	"github.com/funvibe/dynrt/internal/typesystem"
)

var instanceIDs atomic.Uint64

// Instance is an object of a language class.
type Instance struct {
	Class  *Class
	id     uint64
	fields map[string]any
}

// RuntimeType implements typesystem.Typed.
func (i *Instance) RuntimeType() *typesystem.Type { return i.Class.Type }

// ClassName implements diagnostics.Named.
func (i *Instance) ClassName() string { return i.Class.Name }

func (i *Instance) String() string {
	return fmt.Sprintf("Instance of '%s'", i.Class.Name)
}

// Field reads a field slot directly.
func (i *Instance) Field(name string) (any, bool) {
	v, ok := i.fields[name]
	return v, ok
}

// SetField writes a field slot directly, bypassing setters and finality.
func (i *Instance) SetField(name string, v any) {
	i.fields[name] = v
}

// Allocate creates an instance with every declared field present and null.
// No initializer runs.
func Allocate(c *Class) *Instance {
	inst := &Instance{Class: c, id: instanceIDs.Add(1), fields: make(map[string]any)}
	for _, k := range c.Linearization() {
		for _, f := range k.fields {
			if _, ok := inst.fields[f.Name]; !ok {
				inst.fields[f.Name] = nil
			}
		}
	}
	return inst
}

// Construct allocates an instance, runs field initializers from the root
// class down to c, then runs the named constructor. Classes without
// constructors accept an empty argument list.
func Construct(c *Class, ctorName string, args Args, check Checker) (*Instance, error) {
	if c.Abstract {
		return nil, diagnostics.NewStateError("cannot instantiate abstract class '%s'", c.Name)
	}
	ctor, ok := c.Constructor(ctorName)
	if !ok && (ctorName != "" || len(c.ctors) > 0) {
		return nil, &diagnostics.NoSuchMethodError{
			Receiver:   c.Type,
			Member:     constructorName(c, ctorName),
			Positional: args.Positional,
			Named:      args.Named,
		}
	}

	var bound []any
	if ok {
		var err error
		bound, err = ctor.Sig.Bind(args, check)
		if err != nil {
			return nil, bindFailure(c.Type, constructorName(c, ctorName), args, err)
		}
	} else if len(args.Positional) > 0 || len(args.Named) > 0 {
		return nil, bindFailure(c.Type, constructorName(c, ctorName), args,
			&BindError{Reason: "default constructor takes no arguments"})
	}

	inst := Allocate(c)
	if err := initFields(inst, c, check); err != nil {
		return nil, err
	}
	if ok && ctor.Body != nil {
		f := &Frame{Self: inst, Holder: c, Name: ctor.Name, Sig: ctor.Sig, Args: bound, check: check}
		if _, err := ctor.Body(f); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// initFields runs field initializers superclass first. A run of mixin
// applications runs in linearization order, so with C over Base, M1, M2 the
// order is Base, M1, M2, C. A field declared by several classes keeps the
// value of the one that comes first in the linearization.
func initFields(inst *Instance, c *Class, check Checker) error {
	chain := c.Linearization()
	owner := make(map[string]int)
	for _, i := range initOrder(chain) {
		for _, f := range chain[i].fields {
			if f.Init == nil {
				continue
			}
			v, err := f.Init(inst)
			if err != nil {
				return fmt.Errorf("initializing %s.%s: %w", chain[i].Name, f.Name, err)
			}
			if f.Type != nil && check != nil {
				if err := check(v, f.Type); err != nil {
					return fmt.Errorf("initializing %s.%s: %w", chain[i].Name, f.Name, err)
				}
			}
			if prev, ok := owner[f.Name]; ok && prev < i {
				continue
			}
			owner[f.Name] = i
			inst.fields[f.Name] = v
		}
	}
	return nil
}

// initOrder returns chain indexes root first, with each run of adjacent
// mixin applications kept in chain order.
func initOrder(chain []*Class) []int {
	order := make([]int, 0, len(chain))
	for i := len(chain) - 1; i >= 0; {
		if chain[i].Mixin == nil {
			order = append(order, i)
			i--
			continue
		}
		j := i
		for j > 0 && chain[j-1].Mixin != nil {
			j--
		}
		for k := j; k <= i; k++ {
			order = append(order, k)
		}
		i = j - 1
	}
	return order
}

func constructorName(c *Class, name string) string {
	if name == "" {
		return c.Name
	}
	return c.Name + "." + name
}

func bindFailure(recv any, member string, args Args, err error) error {
	be, ok := err.(*BindError)
	if !ok {
		return err
	}
	return &diagnostics.NoSuchMethodError{
		Receiver:   recv,
		Member:     member,
		Positional: args.Positional,
		Named:      args.Named,
		Reason:     be.Reason,
	}
}
