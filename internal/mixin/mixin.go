// Package mixin linearizes mixin classes onto a base class chain.
//
// Compose(name, Base, M1, M2) builds
//
//	name -> Base&M2&M1 -> Base&M2 -> Base
//
// so name's own members win, then M1, then M2, then Base. Each mixin
// application is a fresh class holding copies of the mixin's members, which
// makes super calls inside M1 reach M2 and super calls inside M2 reach Base.
package mixin

import (
	"fmt"

	"github.com/funvibe/dynrt/internal/object"
	"github.com/funvibe/dynrt/internal/typesystem"
)

// Compose creates a class called name over base with mixins applied. The
// first listed mixin shadows later ones. A nil base means Object.
func Compose(name string, base *object.Class, mixins ...*object.Class) (*object.Class, error) {
	top, err := Apply(base, mixins...)
	if err != nil {
		return nil, err
	}
	c := object.NewClass(name, top, mixinTypes(mixins)...)
	c.Mixins = append([]*object.Class(nil), mixins...)
	return c, nil
}

// ComposeFor is Compose for a type descriptor under construction, such as
// a generic instantiation or a registry-named type.
func ComposeFor(t *typesystem.Type, base *object.Class, mixins ...*object.Class) (*object.Class, error) {
	top, err := Apply(base, mixins...)
	if err != nil {
		return nil, err
	}
	c := object.NewClassFor(t, top, mixinTypes(mixins)...)
	c.Mixins = append([]*object.Class(nil), mixins...)
	return c, nil
}

// Apply stacks mixin applications on base and returns the outermost one.
// With no mixins it returns base.
func Apply(base *object.Class, mixins ...*object.Class) (*object.Class, error) {
	if base == nil {
		base = object.ObjectClass
	}
	applied := make(map[*object.Class]bool)
	for _, k := range base.Linearization() {
		applied[k] = true
		if k.Mixin != nil {
			applied[k.Mixin] = true
		}
	}

	cur := base
	for i := len(mixins) - 1; i >= 0; i-- {
		m := mixins[i]
		if m == nil {
			return nil, fmt.Errorf("mixin %d of %s is nil", i, base.Name)
		}
		for _, unit := range units(m) {
			if applied[unit] {
				continue
			}
			cur = applyOne(cur, unit)
			applied[unit] = true
		}
	}
	return cur, nil
}

// units returns the classes a mixin contributes, innermost first. A plain
// mixin contributes itself; a composed class contributes its own mixin
// applications followed by itself, so chained compositions stay linear.
func units(m *object.Class) []*object.Class {
	if len(m.Mixins) == 0 && m.Mixin == nil {
		return []*object.Class{m}
	}
	var chain []*object.Class
	for k := m; k != nil; k = k.Super {
		if k != m && k.Mixin == nil {
			break
		}
		if k.Mixin != nil {
			chain = append(chain, k.Mixin)
		} else {
			chain = append(chain, k)
		}
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func applyOne(super, m *object.Class) *object.Class {
	app := object.NewClass(super.Name+"&"+m.Name, super, m.Type)
	app.Mixin = m
	for _, f := range m.Fields() {
		app.AddField(f)
	}
	for _, mem := range m.OwnMembers() {
		app.AddMember(mem)
	}
	return app
}

func mixinTypes(mixins []*object.Class) []*typesystem.Type {
	out := make([]*typesystem.Type, 0, len(mixins))
	for _, m := range mixins {
		if m != nil {
			out = append(out, m.Type)
		}
	}
	return out
}
