package object

import (
	"errors"
	"strings"
	"testing"

	"github.com/funvibe/dynrt/internal/diagnostics"
	"github.com/funvibe/dynrt/internal/typesystem"
)

func TestSignatureBind(t *testing.T) {
	var order []string
	def := func(name string, v any) func() (any, error) {
		return func() (any, error) {
			order = append(order, name)
			return v, nil
		}
	}
	sig := Signature{
		Positional: []Param{{Name: "a"}},
		Required:   1,
		Named: []Param{
			{Name: "x", DefaultFn: def("x", 10)},
			{Name: "y", DefaultFn: def("y", 20)},
			{Name: "z", Default: "zz"},
		},
	}

	// Call-site order of named arguments does not matter; defaults are
	// evaluated in declaration order.
	bound, err := sig.Bind(Args{Positional: []any{1}, Named: map[string]any{"z": "given"}}, nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	want := []any{1, 10, 20, "given"}
	for i := range want {
		if bound[i] != want[i] {
			t.Errorf("bound[%d] = %v, want %v", i, bound[i], want[i])
		}
	}
	if strings.Join(order, ",") != "x,y" {
		t.Errorf("defaults evaluated in order %v, want x,y", order)
	}
}

func TestSignatureBindErrors(t *testing.T) {
	sig := Signature{
		Positional: []Param{{Name: "a"}, {Name: "b", Default: 2}},
		Required:   1,
	}
	named := Signature{Named: []Param{{Name: "n", Required: true}}}
	typed := Signature{Positional: []Param{{Name: "s", Type: typesystem.String}}, Required: 1}
	reg := typesystem.NewRegistry()
	check := func(v any, t *typesystem.Type) error {
		_, err := reg.Cast(v, t)
		return err
	}

	tests := []struct {
		name string
		sig  Signature
		args Args
		want string
	}{
		{"too few", sig, Args{}, "expected 1 positional"},
		{"too many", sig, Pos(1, 2, 3), "at most 2"},
		{"unknown named", sig, Args{Positional: []any{1}, Named: map[string]any{"q": 1}}, "no named parameter(s) [q]"},
		{"required named", named, Args{}, "missing required named argument 'n'"},
		{"type check", typed, Pos(3), "not a subtype"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.sig.Bind(tt.args, check)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Bind error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestConstructFieldOrder(t *testing.T) {
	var log []string
	field := func(name string) *Field {
		return &Field{Name: name, Init: func(*Instance) (any, error) {
			log = append(log, name)
			return name, nil
		}}
	}
	base := NewClass("Base", nil).AddField(field("base"))
	derived := NewClass("Derived", base).AddField(field("derived"))
	derived.AddConstructor("", Params("v"), func(f *Frame) (any, error) {
		log = append(log, "ctor")
		f.This().SetField("v", f.Arg(0))
		return nil, nil
	})

	inst, err := Construct(derived, "", Pos(7), nil)
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if got := strings.Join(log, ","); got != "base,derived,ctor" {
		t.Errorf("initialization order = %s", got)
	}
	if v, _ := inst.Field("v"); v != 7 {
		t.Errorf("v = %v", v)
	}
	if !typesystem.IsSubtype(inst.RuntimeType(), base.Type) {
		t.Error("Derived should be a subtype of Base")
	}
}

func TestConstructErrors(t *testing.T) {
	c := NewClass("C", nil)
	_, err := Construct(c, "named", Args{}, nil)
	var nsm *diagnostics.NoSuchMethodError
	if !errors.As(err, &nsm) || nsm.Member != "C.named" {
		t.Errorf("missing constructor error = %v", err)
	}
	if _, err := Construct(c, "", Pos(1), nil); !errors.As(err, &nsm) {
		t.Errorf("default constructor with args should fail, got %v", err)
	}
	abstract := NewClass("A", nil)
	abstract.Abstract = true
	var se *diagnostics.StateError
	if _, err := Construct(abstract, "", Args{}, nil); !errors.As(err, &se) {
		t.Errorf("abstract class error = %v", err)
	}
}

func TestSuperCallAndObjectDefaults(t *testing.T) {
	base := NewClass("Base", nil)
	base.AddMethod("greet", Params("name"), func(f *Frame) (any, error) {
		return "hello " + f.Arg(0).(string), nil
	})
	child := NewClass("Child", base)
	child.AddMethod("greet", Params("name"), func(f *Frame) (any, error) {
		r, err := f.Super("greet", Pos(f.Arg(0)))
		if err != nil {
			return nil, err
		}
		return r.(string) + "!", nil
	})

	inst, _ := Construct(child, "", Args{}, nil)
	m, holder := child.Lookup("greet", MethodMember)
	got, err := InvokeMember(inst, holder, m, Pos("bob"), nil)
	if err != nil || got != "hello bob!" {
		t.Fatalf("greet = %v, %v", got, err)
	}

	ts, holder := child.Lookup("toString", MethodMember)
	if holder != ObjectClass {
		t.Fatal("toString should come from Object")
	}
	s, _ := InvokeMember(inst, holder, ts, Args{}, nil)
	if s != "Instance of 'Child'" {
		t.Errorf("toString = %v", s)
	}
	if child.Describe() != "Child -> Base -> Object" {
		t.Errorf("Describe = %s", child.Describe())
	}
}

func TestFunctionAndBoundMethod(t *testing.T) {
	fn := NewFunction("add", Signature{
		Positional: []Param{{Name: "a"}},
		Required:   1,
		Named:      []Param{{Name: "b", Default: 1}},
	}, func(f *Frame) (any, error) {
		return f.Arg(0).(int) + f.Named("b").(int), nil
	})
	if v, _ := fn.Invoke(Pos(2), nil); v != 3 {
		t.Errorf("add(2) = %v", v)
	}
	if v, _ := fn.Invoke(Pos(2).With("b", 5), nil); v != 7 {
		t.Errorf("add(2, b: 5) = %v", v)
	}

	c := NewClass("Counter", nil).AddField(&Field{Name: "n", Init: func(*Instance) (any, error) { return 0, nil }})
	c.AddMethod("inc", Signature{}, func(f *Frame) (any, error) {
		n, _ := f.This().Field("n")
		f.This().SetField("n", n.(int)+1)
		return n.(int) + 1, nil
	})
	inst, _ := Construct(c, "", Args{}, nil)
	m, holder := c.Lookup("inc", MethodMember)
	var bm Callable = &BoundMethod{Receiver: inst, Holder: holder, Member: m}
	bm.Invoke(Args{}, nil)
	if v, _ := bm.Invoke(Args{}, nil); v != 2 {
		t.Errorf("second inc = %v", v)
	}
}

func TestObjectClassDefaults(t *testing.T) {
	if ObjectClass == nil || ObjectClass.Type != typesystem.Object {
		t.Fatalf("ObjectClass = %v", ObjectClass)
	}
	if ClassOf("foreign") != ObjectClass {
		t.Error("foreign values should report Object")
	}
	inst, err := Construct(NewClass("Plain", nil), "", Args{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rt, holder := ObjectClass.Lookup("runtimeType", GetterMember)
	if rt == nil || holder != ObjectClass {
		t.Fatal("runtimeType getter missing on Object")
	}
	if v, err := InvokeMember(inst, holder, rt, Args{}, nil); err != nil || v != inst.Class.Type {
		t.Errorf("runtimeType = %v, %v", v, err)
	}
}
