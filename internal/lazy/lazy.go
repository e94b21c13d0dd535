// Package lazy implements module-level bindings computed on first read.
//
// A slot moves Uninitialized -> Initializing -> Initialized | Failed exactly
// once. Reading a slot while it is Initializing, whether from inside its own
// initializer or from another goroutine, fails immediately with a
// CircularInitError. A Failed slot re-raises the original error forever.
package lazy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/funvibe/dynrt/internal/diagnostics"
)

// State is the lifecycle state of a Slot.
type State int

const (
	Uninitialized State = iota
	Initializing
	Initialized
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Initializer computes a slot's value.
type Initializer func() (any, error)

// Slot is a single lazily initialized binding.
type Slot struct {
	Name     string
	Writable bool

	mu    sync.Mutex
	state State
	init  Initializer
	value any
	err   error
}

// NewSlot creates an uninitialized slot.
func NewSlot(name string, init Initializer) *Slot {
	return &Slot{Name: name, init: init}
}

// State returns the slot's current state.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Get returns the slot's value, running the initializer on first read.
func (s *Slot) Get() (any, error) {
	s.mu.Lock()
	switch s.state {
	case Initialized:
		v := s.value
		s.mu.Unlock()
		return v, nil
	case Failed:
		err := s.err
		s.mu.Unlock()
		return nil, err
	case Initializing:
		s.mu.Unlock()
		return nil, &diagnostics.CircularInitError{Name: s.Name}
	}
	s.state = Initializing
	init := s.init
	s.mu.Unlock()

	// The lock is released while the initializer runs so that a reentrant
	// read observes Initializing instead of deadlocking.
	v, err := runInit(init)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Initializing {
		// A setter ran during initialization; its value wins.
		if s.state == Failed {
			return nil, s.err
		}
		return s.value, nil
	}
	s.init = nil
	if err != nil {
		s.state = Failed
		s.err = err
		return nil, err
	}
	s.state = Initialized
	s.value = v
	return v, nil
}

func runInit(init Initializer) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("panic in lazy initializer: %v", r)
			}
		}
	}()
	if init == nil {
		return nil, nil
	}
	return init()
}

// Set stores v and marks the slot Initialized, skipping any pending lazy
// computation. Only writable slots accept Set.
func (s *Slot) Set(v any) error {
	if !s.Writable {
		return diagnostics.NewStateError("lazy binding '%s' is final", s.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Initialized
	s.value = v
	s.err = nil
	s.init = nil
	return nil
}

// Container is a named set of lazy slots, such as the deferred globals of
// one module.
type Container struct {
	Name string

	mu    sync.RWMutex
	slots map[string]*Slot
}

// NewContainer creates an empty container.
func NewContainer(name string) *Container {
	return &Container{Name: name, slots: make(map[string]*Slot)}
}

// Define installs a read-only lazy binding. Redefining a name replaces it.
func Define(c *Container, name string, init Initializer) *Slot {
	return c.define(name, init, false)
}

// DefineWritable installs a lazy binding that also accepts Set.
func DefineWritable(c *Container, name string, init Initializer) *Slot {
	return c.define(name, init, true)
}

func (c *Container) define(name string, init Initializer, writable bool) *Slot {
	slot := NewSlot(c.qualify(name), init)
	slot.Writable = writable
	c.mu.Lock()
	c.slots[name] = slot
	c.mu.Unlock()
	return slot
}

func (c *Container) qualify(name string) string {
	if c.Name == "" {
		return name
	}
	return c.Name + "." + name
}

// Slot returns the slot called name.
func (c *Container) Slot(name string) (*Slot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[name]
	return s, ok
}

// Get reads the binding called name.
func (c *Container) Get(name string) (any, error) {
	s, ok := c.Slot(name)
	if !ok {
		return nil, diagnostics.NewNoSuchMethod(c, name)
	}
	return s.Get()
}

// Set writes the binding called name.
func (c *Container) Set(name string, v any) error {
	s, ok := c.Slot(name)
	if !ok {
		return diagnostics.NewNoSuchMethod(c, name+"=")
	}
	return s.Set(v)
}

// Names lists the defined bindings, sorted.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.slots))
	for n := range c.slots {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ClassName implements diagnostics.Named.
func (c *Container) ClassName() string { return "module '" + c.Name + "'" }
