package modules

import (
	"errors"
	"reflect"
	"testing"

	"github.com/funvibe/dynrt/internal/diagnostics"
	"github.com/funvibe/dynrt/internal/lazy"
)

// value builds a factory that records its call and returns name.
func value(name string, calls *[]string) Factory {
	return func(ctx *Context) (any, error) {
		*calls = append(*calls, name)
		return name, nil
	}
}

func mustRegister(t *testing.T, r *Registry, m Module) {
	t.Helper()
	if err := r.Register(m); err != nil {
		t.Fatalf("Register(%s): %v", m.Name, err)
	}
}

func expectModuleError(t *testing.T, err error, module string) *diagnostics.ModuleError {
	t.Helper()
	var me *diagnostics.ModuleError
	if !errors.As(err, &me) {
		t.Fatalf("expected ModuleError, got %v", err)
	}
	if me.Module != module {
		t.Errorf("module = %q, want %q", me.Module, module)
	}
	return me
}

func TestEagerDependenciesLoadFirst(t *testing.T) {
	r := NewRegistry(nil)
	var calls []string
	mustRegister(t, r, Module{Name: "core", Factory: value("core", &calls)})
	mustRegister(t, r, Module{Name: "util", Eager: []string{"core"}, Factory: value("util", &calls)})
	mustRegister(t, r, Module{
		Name:  "app",
		Eager: []string{"util", "core"},
		Factory: func(ctx *Context) (any, error) {
			calls = append(calls, "app")
			if !reflect.DeepEqual(ctx.Eager, []any{"util", "core"}) {
				t.Errorf("eager = %v", ctx.Eager)
			}
			if v, ok := ctx.Require("core"); !ok || v != "core" {
				t.Errorf("Require(core) = %v, %v", v, ok)
			}
			return "app", nil
		},
	})

	v, err := r.Load("app")
	if err != nil || v != "app" {
		t.Fatalf("Load(app) = %v, %v", v, err)
	}
	if want := []string{"core", "util", "app"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("factory order = %v, want %v", calls, want)
	}

	if _, err := r.Load("app"); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 3 {
		t.Errorf("factories ran %d times, want 3", len(calls))
	}
	if l, ok := r.Lookup("util"); !ok || l.Value != "util" || l.ID.String() == "" {
		t.Errorf("Lookup(util) = %+v, %v", l, ok)
	}
}

func TestCycleNamesPath(t *testing.T) {
	r := NewRegistry(nil)
	var calls []string
	mustRegister(t, r, Module{Name: "a", Eager: []string{"b"}, Factory: value("a", &calls)})
	mustRegister(t, r, Module{Name: "b", Eager: []string{"c"}, Factory: value("b", &calls)})
	mustRegister(t, r, Module{Name: "c", Eager: []string{"a"}, Factory: value("c", &calls)})

	_, err := r.Load("a")
	me := expectModuleError(t, err, "a")
	if want := []string{"a", "b", "c", "a"}; !reflect.DeepEqual(me.Path, want) {
		t.Errorf("path = %v, want %v", me.Path, want)
	}
	if len(calls) != 0 {
		t.Errorf("no factory may run on a cycle, ran %v", calls)
	}
	if code, _ := diagnostics.CodeOf(err); code != diagnostics.ErrR007 {
		t.Errorf("code = %s", code)
	}
}

func TestMissingDependency(t *testing.T) {
	r := NewRegistry(nil)
	var calls []string
	mustRegister(t, r, Module{Name: "app", Eager: []string{"ghost"}, Factory: value("app", &calls)})

	_, err := r.Load("app")
	me := expectModuleError(t, err, "ghost")
	if want := []string{"app", "ghost"}; !reflect.DeepEqual(me.Path, want) {
		t.Errorf("path = %v, want %v", me.Path, want)
	}

	_, err = r.Load("nowhere")
	if me := expectModuleError(t, err, "nowhere"); me.Path != nil {
		t.Errorf("top-level miss has path %v", me.Path)
	}
}

func TestLazyDependencyLoadsOnFirstUse(t *testing.T) {
	r := NewRegistry(nil)
	var calls []string
	mustRegister(t, r, Module{Name: "heavy", Factory: value("heavy", &calls)})

	var handle *LazyModule
	mustRegister(t, r, Module{
		Name: "app",
		Lazy: []string{"heavy"},
		Factory: func(ctx *Context) (any, error) {
			handle, _ = ctx.Deferred("heavy")
			return "app", nil
		},
	})
	if _, err := r.Load("app"); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 0 || handle.Loaded() {
		t.Fatalf("lazy dependency loaded early: %v", calls)
	}

	for range 2 {
		v, err := handle.Get()
		if err != nil || v != "heavy" {
			t.Fatalf("Get = %v, %v", v, err)
		}
	}
	if !reflect.DeepEqual(calls, []string{"heavy"}) {
		t.Errorf("calls = %v", calls)
	}
}

func TestLazyCycleIsAllowed(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, Module{
		Name: "a",
		Lazy: []string{"b"},
		Factory: func(ctx *Context) (any, error) {
			b := ctx.Lazy[0]
			return func() (any, error) { return b.Get() }, nil
		},
	})
	mustRegister(t, r, Module{
		Name:    "b",
		Eager:   []string{"a"},
		Factory: func(*Context) (any, error) { return "b", nil },
	})

	v, err := r.Load("a")
	if err != nil {
		t.Fatal(err)
	}
	got, err := v.(func() (any, error))()
	if err != nil || got != "b" {
		t.Errorf("deferred b = %v, %v", got, err)
	}
}

func TestFactoryFailureIsCached(t *testing.T) {
	r := NewRegistry(nil)
	boom := errors.New("boom")
	runs := 0
	mustRegister(t, r, Module{Name: "bad", Factory: func(*Context) (any, error) {
		runs++
		return nil, boom
	}})
	mustRegister(t, r, Module{Name: "panics", Factory: func(*Context) (any, error) {
		panic("kaboom")
	}})

	for range 2 {
		_, err := r.Load("bad")
		expectModuleError(t, err, "bad")
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped boom", err)
		}
	}
	if runs != 1 {
		t.Errorf("factory ran %d times", runs)
	}
	if _, ok := r.Lookup("bad"); ok {
		t.Error("failed module must not be listed as loaded")
	}

	_, err := r.Load("panics")
	expectModuleError(t, err, "panics")
}

func TestModuleGlobals(t *testing.T) {
	r := NewRegistry(nil)
	inits := 0
	mustRegister(t, r, Module{Name: "config", Factory: func(ctx *Context) (any, error) {
		lazy.Define(ctx.Globals, "port", func() (any, error) {
			inits++
			return 8080, nil
		})
		return ctx.Globals, nil
	}})

	if _, err := r.Load("config"); err != nil {
		t.Fatal(err)
	}
	l, _ := r.Lookup("config")
	if inits != 0 {
		t.Fatal("global initialized at module load")
	}
	for range 2 {
		if v, err := l.Globals.Get("port"); err != nil || v != 8080 {
			t.Errorf("port = %v, %v", v, err)
		}
	}
	if inits != 1 {
		t.Errorf("initializer ran %d times", inits)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil)
	f := func(*Context) (any, error) { return nil, nil }
	tests := []struct {
		name string
		m    Module
	}{
		{"empty name", Module{Factory: f}},
		{"no factory", Module{Name: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.m); err == nil {
				t.Error("expected error")
			}
		})
	}

	mustRegister(t, r, Module{Name: "once", Factory: f})
	if err := r.Register(Module{Name: "once", Factory: f}); err == nil {
		t.Error("duplicate registration: expected error")
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"once"}) {
		t.Errorf("Names = %v", got)
	}
}
