package mixin

import (
	"strings"
	"testing"

	"github.com/funvibe/dynrt/internal/object"
	"github.com/funvibe/dynrt/internal/typesystem"
)

// tagged builds a class whose "who" method returns tag, followed by the
// result of super.who() when chain is set.
func tagged(name, tag string, chain bool) *object.Class {
	c := object.NewClass(name, nil)
	c.AddMethod("who", object.Signature{}, func(f *object.Frame) (any, error) {
		if !chain {
			return tag, nil
		}
		rest, err := f.Super("who", object.Args{})
		if err != nil {
			return nil, err
		}
		return tag + ">" + rest.(string), nil
	})
	return c
}

func call(t *testing.T, c *object.Class, name string) any {
	t.Helper()
	inst, err := object.Construct(c, "", object.Args{}, nil)
	if err != nil {
		t.Fatalf("construct %s: %v", c.Name, err)
	}
	m, holder := c.Lookup(name, object.MethodMember)
	if m == nil {
		t.Fatalf("%s has no %s", c.Name, name)
	}
	v, err := object.InvokeMember(inst, holder, m, object.Args{}, nil)
	if err != nil {
		t.Fatalf("%s.%s: %v", c.Name, name, err)
	}
	return v
}

func TestComposeResolutionOrder(t *testing.T) {
	base := tagged("Base", "base", false)
	m1 := tagged("M1", "m1", true)
	m2 := tagged("M2", "m2", true)

	c, err := Compose("C", base, m1, m2)
	if err != nil {
		t.Fatal(err)
	}
	if got := call(t, c, "who"); got != "m1>m2>base" {
		t.Errorf("who = %v, want m1>m2>base", got)
	}
	if got := c.Describe(); got != "C -> Base&M2&M1 -> Base&M2 -> Base -> Object" {
		t.Errorf("linearization = %s", got)
	}
}

func TestComposeOwnMembersShadowMixins(t *testing.T) {
	m1 := tagged("M1", "m1", false)
	c, _ := Compose("C", nil, m1)
	c.AddMethod("who", object.Signature{}, func(f *object.Frame) (any, error) {
		rest, err := f.Super("who", object.Args{})
		if err != nil {
			return nil, err
		}
		return "c>" + rest.(string), nil
	})
	if got := call(t, c, "who"); got != "c>m1" {
		t.Errorf("who = %v, want c>m1", got)
	}
}

func TestComposeSuperDoesNotUseMixinDeclaredBase(t *testing.T) {
	// M's own superclass says "declared", but applied on Base its super
	// call must reach Base.
	declared := tagged("Declared", "declared", false)
	m := object.NewClass("M", declared)
	m.AddMethod("who", object.Signature{}, func(f *object.Frame) (any, error) {
		rest, _ := f.Super("who", object.Args{})
		return "m>" + rest.(string), nil
	})
	base := tagged("Base", "base", false)
	c, _ := Compose("C", base, m)
	if got := call(t, c, "who"); got != "m>base" {
		t.Errorf("who = %v, want m>base", got)
	}
}

func TestComposeFieldInitializerOrder(t *testing.T) {
	var log []string
	withField := func(c *object.Class, name string) *object.Class {
		return c.AddField(&object.Field{Name: name, Init: func(*object.Instance) (any, error) {
			log = append(log, name)
			return len(log), nil
		}})
	}
	base := withField(object.NewClass("Base", nil), "base")
	m1 := withField(object.NewClass("M1", nil), "m1")
	m2 := withField(object.NewClass("M2", nil), "m2")
	c, _ := Compose("C", base, m1, m2)
	withField(c, "own")

	inst, err := object.Construct(c, "", object.Args{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(log, ","); got != "base,m1,m2,own" {
		t.Errorf("initializer order = %s", got)
	}
	if v, ok := inst.Field("m1"); !ok || v != 2 {
		t.Errorf("m1 = %v", v)
	}
}

func TestComposeSharedFieldFollowsShadowing(t *testing.T) {
	withShared := func(name string) *object.Class {
		c := object.NewClass(name, nil)
		return c.AddField(&object.Field{Name: "shared", Init: func(*object.Instance) (any, error) { return name, nil }})
	}
	c, _ := Compose("C", withShared("Base"), withShared("M1"), withShared("M2"))
	inst, err := object.Construct(c, "", object.Args{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := inst.Field("shared"); v != "M1" {
		t.Errorf("shared = %v, want M1", v)
	}
}

func TestComposeChainedAndDiamond(t *testing.T) {
	base := tagged("Base", "base", false)
	x := tagged("X", "x", true)
	y := tagged("Y", "y", true)

	// XY is itself a composition used as a mixin.
	xy, _ := Compose("XY", nil, x, y)
	xy.AddMethod("who", object.Signature{}, func(f *object.Frame) (any, error) {
		rest, _ := f.Super("who", object.Args{})
		return "xy>" + rest.(string), nil
	})

	c, err := Compose("C", base, xy, y)
	if err != nil {
		t.Fatal(err)
	}
	// Y is listed twice (inside XY and directly); it is applied once.
	if got := call(t, c, "who"); got != "xy>x>y>base" {
		t.Errorf("who = %v, want xy>x>y>base", got)
	}
	seen := map[string]int{}
	for _, k := range c.Linearization() {
		seen[k.Name]++
	}
	for name, n := range seen {
		if n > 1 {
			t.Errorf("%s appears %d times in linearization", name, n)
		}
	}
}

func TestComposeTypes(t *testing.T) {
	base := object.NewClass("Base", nil)
	m := object.NewClass("M", nil)
	c, _ := Compose("C", base, m)
	for _, want := range []*typesystem.Type{base.Type, m.Type, typesystem.Object} {
		if !typesystem.IsSubtype(c.Type, want) {
			t.Errorf("C should be a subtype of %s", want)
		}
	}

	reg := typesystem.NewRegistry()
	named, _ := reg.Named("D")
	d, err := ComposeFor(named, base, m)
	if err != nil {
		t.Fatal(err)
	}
	reg.Seal(named)
	if named.Class() != d {
		t.Error("ComposeFor should link the descriptor to the class")
	}
	if !typesystem.IsSubtype(named, m.Type) {
		t.Error("D should be a subtype of M")
	}
}
