package typesystem

import (
	"errors"
	"reflect"
	"testing"

	"github.com/funvibe/dynrt/internal/diagnostics"
)

func TestInstantiateCanonical(t *testing.T) {
	r := NewRegistry()
	pair, err := r.Define("Pair", []string{"A", "B"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	a := MustInstantiate(pair, Int, String)
	b := MustInstantiate(pair, Int, String)
	if a != b {
		t.Fatal("structurally equal tuples must return the identical descriptor")
	}
	if c := MustInstantiate(pair, String, Int); c == a {
		t.Fatal("different tuples must return different descriptors")
	}

	// Nested arguments are compared structurally too.
	l1 := MustInstantiate(r.List, Int)
	l2 := MustInstantiate(r.List, Int)
	if MustInstantiate(pair, l1, Bool) != MustInstantiate(pair, l2, Bool) {
		t.Error("nested generic arguments should hit the cache")
	}
	if got := a.String(); got != "Pair<int, String>" {
		t.Errorf("String() = %q", got)
	}
	if pair.Instances() != 3 {
		t.Errorf("instances = %d, want 3", pair.Instances())
	}
}

func TestInstantiateRawEqualsDynamic(t *testing.T) {
	r := NewRegistry()
	raw, err := r.List.Raw()
	if err != nil {
		t.Fatal(err)
	}
	if raw != MustInstantiate(r.List, Dynamic) {
		t.Error("raw instantiation must equal the all-dynamic instantiation")
	}
}

func TestInstantiateArity(t *testing.T) {
	r := NewRegistry()
	_, err := Instantiate(r.Map, Int)
	var ae *diagnostics.ArityError
	if !errors.As(err, &ae) {
		t.Fatalf("expected ArityError, got %v", err)
	}
	if ae.Want != 2 || ae.Got != 1 {
		t.Errorf("arity error = %+v", ae)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustInstantiate should panic on wrong arity")
		}
	}()
	MustInstantiate(r.Map, Int, Int, Int)
}

func TestInstantiateSelfReferential(t *testing.T) {
	r := NewRegistry()
	var inner *Type
	calls := 0
	var node *Template
	node, _ = r.Define("Node", []string{"T"}, func(self *Type, args []*Type) error {
		calls++
		// The body refers to its own instantiation before it is finished.
		next, err := Instantiate(node, args...)
		if err != nil {
			return err
		}
		inner = next
		self.SetSupers(Object)
		return nil
	})

	n := MustInstantiate(node, Int)
	if inner != n {
		t.Error("self reference should resolve to the in-progress descriptor")
	}
	if calls != 1 {
		t.Errorf("builder ran %d times, want 1", calls)
	}
	if !n.Sealed() {
		t.Error("descriptor should be sealed after construction")
	}
}

func TestInstantiateBuilderFailure(t *testing.T) {
	r := NewRegistry()
	fail := true
	tp, _ := r.Define("Flaky", []string{"T"}, func(self *Type, args []*Type) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	})
	if _, err := Instantiate(tp, Int); err == nil {
		t.Fatal("expected builder error")
	}
	if tp.Instances() != 0 {
		t.Error("failed instantiation must not stay cached")
	}
	fail = false
	if _, err := Instantiate(tp, Int); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestIsSubtype(t *testing.T) {
	r := NewRegistry()
	animal, _ := r.Named("Animal")
	dog, _ := r.Named("Dog", animal)
	listDog := MustInstantiate(r.List, dog)
	listAnimal := MustInstantiate(r.List, animal)
	iterAnimal := MustInstantiate(r.Iter, animal)

	tests := []struct {
		name string
		a, b *Type
		want bool
	}{
		{"int <: num", Int, Num, true},
		{"num !<: int", Num, Int, false},
		{"anything <: dynamic", dog, Dynamic, true},
		{"dog <: Object", dog, Object, true},
		{"null !<: Object", Null, Object, false},
		{"null <: Dog?", Null, Nullable(dog), true},
		{"Dog <: Animal?", dog, Nullable(animal), true},
		{"Never <: int", Never, Int, true},
		{"covariant list", listDog, listAnimal, true},
		{"contravariant list", listAnimal, listDog, false},
		{"list <: iterable", listDog, iterAnimal, true},
		{"dynamic !<: int", Dynamic, Int, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSubtype(tt.a, tt.b); got != tt.want {
				t.Errorf("IsSubtype(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

type point struct{ X, Y int }

func TestTypeOfAndCast(t *testing.T) {
	r := NewRegistry()
	pt, _ := r.Named("Point")
	if err := r.RegisterHostType(reflect.TypeOf(point{}), pt); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		v    any
		want *Type
	}{
		{nil, Null},
		{3, Int},
		{int64(3), Int},
		{2.5, Double},
		{"s", String},
		{true, Bool},
		{[]any{1}, MustInstantiate(r.List)},
		{map[string]any{}, MustInstantiate(r.Map, String, Dynamic)},
		{func() {}, Function},
		{point{}, pt},
		{struct{}{}, Object},
	}
	for _, tt := range tests {
		if got := r.TypeOf(tt.v); got != tt.want {
			t.Errorf("TypeOf(%#v) = %s, want %s", tt.v, got, tt.want)
		}
	}

	if _, err := r.Cast(3, Num); err != nil {
		t.Errorf("Cast(3, num) failed: %v", err)
	}
	_, err := r.Cast("x", Int)
	var ce *diagnostics.CastError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CastError, got %v", err)
	}
	if ce.Actual != "String" || ce.Expected != "int" {
		t.Errorf("cast error = %+v", ce)
	}
}

func TestFrozenRegistry(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	if _, err := r.Define("Late", nil, nil); err == nil {
		t.Error("Define after Freeze should fail")
	}
	if _, err := r.Named("Late"); err == nil {
		t.Error("Named after Freeze should fail for new names")
	}
	if _, err := r.Named("int"); err != nil {
		t.Errorf("existing names stay readable: %v", err)
	}
	// Templates still instantiate after freeze: the cache is not the registry.
	if _, err := Instantiate(r.List, String); err != nil {
		t.Errorf("instantiate after freeze: %v", err)
	}
}
