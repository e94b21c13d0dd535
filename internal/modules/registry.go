// Package modules implements the registration protocol of compiled units.
//
// A unit registers its name, the modules it requires eagerly, the modules it
// requires lazily and a factory. Load resolves eager requirements depth
// first before running the factory; lazy requirements are handed to the
// factory as handles that load on first use.
package modules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/funvibe/dynrt/internal/diagnostics"
	"github.com/funvibe/dynrt/internal/lazy"
)

// Factory builds a module's value from its resolved dependencies.
type Factory func(ctx *Context) (any, error)

// Module is a registered unit.
type Module struct {
	Name    string
	Eager   []string
	Lazy    []string
	Factory Factory
}

// Context is passed to a factory. Eager holds the values of the eager
// requirements and Lazy the handles of the lazy ones, both in declaration
// order. Globals holds the module's lazily initialized bindings.
type Context struct {
	Name    string
	Eager   []any
	Lazy    []*LazyModule
	Globals *lazy.Container

	module *Module
}

// Require returns the value of the eager requirement called name.
func (c *Context) Require(name string) (any, bool) {
	for i, dep := range c.module.Eager {
		if dep == name {
			return c.Eager[i], true
		}
	}
	return nil, false
}

// Deferred returns the handle of the lazy requirement called name.
func (c *Context) Deferred(name string) (*LazyModule, bool) {
	for _, h := range c.Lazy {
		if h.Name == name {
			return h, true
		}
	}
	return nil, false
}

// LazyModule is a handle on a lazily required module.
type LazyModule struct {
	Name string
	slot *lazy.Slot
}

// Get loads the module on first call and returns its value.
func (l *LazyModule) Get() (any, error) { return l.slot.Get() }

// Loaded reports whether Get has completed successfully.
func (l *LazyModule) Loaded() bool { return l.slot.State() == lazy.Initialized }

// Loaded describes a module whose factory has run.
type Loaded struct {
	ID      uuid.UUID
	Name    string
	Value   any
	Globals *lazy.Container
	err     error
}

// Registry holds registered modules and caches their values. Registration
// is safe from any goroutine; loading is meant for one goroutine at a time.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
	loaded  map[string]*Loaded
	lazies  map[string]*LazyModule

	processing []string // eager chain being loaded
	logger     *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		modules: make(map[string]*Module),
		loaded:  make(map[string]*Loaded),
		lazies:  make(map[string]*LazyModule),
		logger:  logger,
	}
}

// Register adds a module. A name can be registered once.
func (r *Registry) Register(m Module) error {
	if m.Name == "" {
		return &diagnostics.ModuleError{Message: "module name is empty"}
	}
	if m.Factory == nil {
		return &diagnostics.ModuleError{Module: m.Name, Message: "module has no factory"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[m.Name]; ok {
		return &diagnostics.ModuleError{Module: m.Name, Message: "module already registered"}
	}
	r.modules[m.Name] = &m
	return nil
}

// MustRegister is Register for package init functions.
func (r *Registry) MustRegister(m Module) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Names lists registered modules, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the load record of a module whose factory has run.
func (r *Registry) Lookup(name string) (*Loaded, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaded[name]
	if !ok || l.err != nil {
		return nil, false
	}
	return l, true
}

// Load returns the value of the named module, loading it and its eager
// requirements first. A factory runs at most once; its failure is cached.
func (r *Registry) Load(name string) (any, error) {
	l, err := r.load(name)
	if err != nil {
		return nil, err
	}
	return l.Value, nil
}

func (r *Registry) load(name string) (*Loaded, error) {
	r.mu.RLock()
	l, done := r.loaded[name]
	m, ok := r.modules[name]
	r.mu.RUnlock()
	if done {
		return l, l.err
	}
	if !ok {
		return nil, &diagnostics.ModuleError{
			Module:  name,
			Path:    r.chain(name),
			Message: "module not registered",
		}
	}

	for i, p := range r.processing {
		if p == name {
			path := append(append([]string{}, r.processing[i:]...), name)
			return nil, &diagnostics.ModuleError{
				Module:  name,
				Path:    path,
				Message: "circular eager dependency",
			}
		}
	}
	r.processing = append(r.processing, name)
	defer func() { r.processing = r.processing[:len(r.processing)-1] }()

	ctx := &Context{
		Name:    name,
		Eager:   make([]any, len(m.Eager)),
		Lazy:    make([]*LazyModule, len(m.Lazy)),
		Globals: lazy.NewContainer(name),
		module:  m,
	}
	for i, dep := range m.Eager {
		v, err := r.load(dep)
		if err != nil {
			return nil, err
		}
		ctx.Eager[i] = v.Value
	}
	for i, dep := range m.Lazy {
		ctx.Lazy[i] = r.lazyHandle(dep)
	}

	value, err := runFactory(m.Factory, ctx)
	l = &Loaded{ID: uuid.New(), Name: name, Value: value, Globals: ctx.Globals}
	if err != nil {
		l.Value = nil
		l.err = &diagnostics.ModuleError{Module: name, Message: "factory failed", Err: err}
		r.logger.Debug("module failed", "module", name, "error", err)
	} else {
		r.logger.Debug("module loaded", "module", name, "id", l.ID)
	}

	r.mu.Lock()
	r.loaded[name] = l
	r.mu.Unlock()
	return l, l.err
}

// chain returns the eager chain that requested name.
func (r *Registry) chain(name string) []string {
	if len(r.processing) == 0 {
		return nil
	}
	return append(append([]string{}, r.processing...), name)
}

func (r *Registry) lazyHandle(name string) *LazyModule {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.lazies[name]; ok {
		return h
	}
	h := &LazyModule{Name: name}
	h.slot = lazy.NewSlot(name, func() (any, error) { return r.Load(name) })
	r.lazies[name] = h
	return h
}

func runFactory(f Factory, ctx *Context) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("panic in module factory: %v", rec)
			}
		}
	}()
	return f(ctx)
}
