// Package dispatch performs member access and invocation on values whose
// static type is unknown. Instances resolve through their class chain,
// foreign values through the extension table and then the host bridges.
// A miss on an instance whose class declares noSuchMethod is delivered to
// that hook; any other miss is a NoSuchMethodError.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/funvibe/dynrt/internal/config"
	"github.com/funvibe/dynrt/internal/diagnostics"
	"github.com/funvibe/dynrt/internal/extension"
	"github.com/funvibe/dynrt/internal/host"
	"github.com/funvibe/dynrt/internal/object"
	"github.com/funvibe/dynrt/internal/typesystem"
)

// Bridge gives dynamic access to foreign values the extension table does
// not cover. The boolean reports whether the bridge handled the access.
type Bridge interface {
	Load(recv any, name string) (any, bool, error)
	Store(recv any, name string, v any) (bool, error)
}

// Dispatcher is the dynamic operation entry point.
type Dispatcher struct {
	reg     *typesystem.Registry
	table   *extension.Table
	bridges []Bridge
	m       *host.Marshaller
	logger  *slog.Logger
	trace   bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for dispatch tracing.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTrace logs every dispatch at debug level.
func WithTrace(on bool) Option {
	return func(d *Dispatcher) { d.trace = on }
}

// WithBridge appends a foreign-value bridge. Bridges are consulted in the
// order they were added.
func WithBridge(b Bridge) Option {
	return func(d *Dispatcher) { d.bridges = append(d.bridges, b) }
}

// New creates a dispatcher over a type registry and an extension table.
func New(reg *typesystem.Registry, table *extension.Table, opts ...Option) *Dispatcher {
	d := &Dispatcher{reg: reg, table: table, logger: slog.New(slog.DiscardHandler)}
	d.m = host.NewMarshaller(d.Call)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Marshaller returns the Go value converter used for host calls.
func (d *Dispatcher) Marshaller() *host.Marshaller { return d.m }

// Registry returns the type registry used for argument checks.
func (d *Dispatcher) Registry() *typesystem.Registry { return d.reg }

// Check verifies that v is an instance of t. It is the argument checker
// passed to every signature binding.
func (d *Dispatcher) Check(v any, t *typesystem.Type) error {
	_, err := d.reg.Cast(v, t)
	return err
}

func (d *Dispatcher) tracef(op string, recv any, name string, args object.Args) {
	if !d.trace {
		return
	}
	d.logger.Debug("dispatch",
		"op", op,
		"receiver", d.reg.TypeOf(recv).String(),
		"member", name,
		"positional", len(args.Positional),
		"named", len(args.Named))
}

func nullReceiver(name string, args object.Args) error {
	return &diagnostics.NoSuchMethodError{Member: name, Positional: args.Positional, Named: args.Named}
}

// Send invokes the method called name on recv.
func (d *Dispatcher) Send(recv any, name string, args object.Args) (any, error) {
	d.tracef("send", recv, name, args)
	if recv == nil {
		return nil, nullReceiver(name, args)
	}
	if inst, ok := recv.(*object.Instance); ok {
		return d.sendInstance(inst, name, args)
	}
	return d.sendForeign(recv, name, args)
}

func (d *Dispatcher) sendInstance(inst *object.Instance, name string, args object.Args) (any, error) {
	cls := inst.Class
	if m, holder := cls.Lookup(name, object.MethodMember); m != nil {
		return d.invokeMember(inst, holder, m, args)
	}
	// A getter or field holding a function is called with the arguments.
	if g, _ := cls.Lookup(name, object.GetterMember); g != nil {
		return d.callLoaded(inst, name, args)
	}
	if f, _ := cls.LookupField(name); f != nil {
		return d.callLoaded(inst, name, args)
	}
	return d.noSuchMethod(inst, &object.Invocation{
		Kind: object.MethodMember, Member: name, Positional: args.Positional, Named: args.Named,
	})
}

func (d *Dispatcher) callLoaded(recv any, name string, args object.Args) (any, error) {
	fn, err := d.Load(recv, name)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, nullReceiver(config.CallMethodName, args)
	}
	return d.Call(fn, args)
}

// invokeMember binds args before running the body so that a signature
// mismatch can still be routed to the noSuchMethod hook.
func (d *Dispatcher) invokeMember(inst *object.Instance, holder *object.Class, m *object.Member, args object.Args) (any, error) {
	bound, err := m.Sig.Bind(args, d.Check)
	if err != nil {
		var be *object.BindError
		if !errors.As(err, &be) {
			return nil, err
		}
		if inst.Class.HasNoSuchMethod() {
			return d.noSuchMethod(inst, &object.Invocation{
				Kind: m.Kind, Member: m.Name, Positional: args.Positional, Named: args.Named,
			})
		}
		return nil, &diagnostics.NoSuchMethodError{
			Receiver: inst, Member: m.Name, Positional: args.Positional, Named: args.Named, Reason: be.Reason,
		}
	}
	res, err := object.Activate(inst, holder, m, bound, d.Check)
	if err != nil {
		return nil, diagnostics.WithFrame(err, holder.Name+"."+m.Name, "")
	}
	return res, nil
}

func (d *Dispatcher) noSuchMethod(inst *object.Instance, inv *object.Invocation) (any, error) {
	if !inst.Class.HasNoSuchMethod() {
		return nil, inv.Error(inst)
	}
	m, holder := inst.Class.Lookup(config.NoSuchMethodName, object.MethodMember)
	d.logger.Debug("noSuchMethod", "class", inst.Class.Name, "member", inv.MemberName())
	return object.InvokeMember(inst, holder, m, object.Pos(inv), d.Check)
}

func (d *Dispatcher) sendForeign(recv any, name string, args object.Args) (any, error) {
	if name == config.CallMethodName && isInvokable(recv) {
		return d.Call(recv, args)
	}
	if impl, ok := d.table.Lookup(recv, name, object.MethodMember); ok {
		return d.runImpl(recv, impl, args)
	}
	if impl, ok := d.table.Lookup(recv, name, object.GetterMember); ok {
		fn, err := d.runImpl(recv, impl, object.Args{})
		if err != nil {
			return nil, err
		}
		return d.Call(fn, args)
	}
	for _, b := range d.bridges {
		v, ok, err := b.Load(recv, name)
		if err != nil {
			return nil, err
		}
		if ok {
			return d.Call(v, args)
		}
	}
	return nil, &diagnostics.NoSuchMethodError{
		Receiver: recv, Member: name, Positional: args.Positional, Named: args.Named,
	}
}

func (d *Dispatcher) runImpl(recv any, impl *extension.Impl, args object.Args) (any, error) {
	bound, err := impl.Sig.Bind(args, d.Check)
	if err != nil {
		var be *object.BindError
		if errors.As(err, &be) {
			return nil, &diagnostics.NoSuchMethodError{
				Receiver: recv, Member: impl.Name, Positional: args.Positional, Named: args.Named, Reason: be.Reason,
			}
		}
		return nil, err
	}
	return impl.Fn(&extension.Call{Recv: recv, Name: impl.Name, Args: bound, Invoker: d})
}

// Load reads the property called name. On instances a field or getter is
// read, and a method is torn off as a bound closure.
func (d *Dispatcher) Load(recv any, name string) (any, error) {
	d.tracef("load", recv, name, object.Args{})
	if recv == nil {
		return nil, nullReceiver(name, object.Args{})
	}
	if inst, ok := recv.(*object.Instance); ok {
		return d.loadInstance(inst, name)
	}
	return d.loadForeign(recv, name)
}

func (d *Dispatcher) loadInstance(inst *object.Instance, name string) (any, error) {
	for k := inst.Class; k != nil; k = k.Super {
		if g, ok := k.Own(name, object.GetterMember); ok {
			return d.invokeMember(inst, k, g, object.Args{})
		}
		if _, ok := k.OwnField(name); ok {
			v, _ := inst.Field(name)
			return v, nil
		}
		if m, ok := k.Own(name, object.MethodMember); ok {
			return &object.BoundMethod{Receiver: inst, Holder: k, Member: m}, nil
		}
	}
	return d.noSuchMethod(inst, &object.Invocation{Kind: object.GetterMember, Member: name})
}

func (d *Dispatcher) loadForeign(recv any, name string) (any, error) {
	if impl, ok := d.table.Lookup(recv, name, object.GetterMember); ok {
		return d.runImpl(recv, impl, object.Args{})
	}
	if name == config.RuntimeTypeName {
		return d.reg.TypeOf(recv), nil
	}
	if impl, ok := d.table.Lookup(recv, name, object.MethodMember); ok {
		return &extensionTearOff{d: d, recv: recv, impl: impl}, nil
	}
	for _, b := range d.bridges {
		v, ok, err := b.Load(recv, name)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}
	}
	return nil, diagnostics.NewNoSuchMethod(recv, name)
}

// Store writes the property called name. On instances a setter wins over a
// field; final fields have no implicit setter.
func (d *Dispatcher) Store(recv any, name string, v any) error {
	d.tracef("store", recv, name, object.Pos(v))
	if recv == nil {
		return nullReceiver(name+"=", object.Pos(v))
	}
	if inst, ok := recv.(*object.Instance); ok {
		return d.storeInstance(inst, name, v)
	}
	if impl, ok := d.table.Lookup(recv, name, object.SetterMember); ok {
		_, err := d.runImpl(recv, impl, object.Pos(v))
		return err
	}
	for _, b := range d.bridges {
		ok, err := b.Store(recv, name, v)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return &diagnostics.NoSuchMethodError{Receiver: recv, Member: name + "=", Positional: []any{v}}
}

func (d *Dispatcher) storeInstance(inst *object.Instance, name string, v any) error {
	for k := inst.Class; k != nil; k = k.Super {
		if s, ok := k.Own(name, object.SetterMember); ok {
			_, err := d.invokeMember(inst, k, s, object.Pos(v))
			return err
		}
		if f, ok := k.OwnField(name); ok {
			if f.Final {
				break
			}
			if f.Type != nil {
				if err := d.Check(v, f.Type); err != nil {
					return err
				}
			}
			inst.SetField(name, v)
			return nil
		}
	}
	_, err := d.noSuchMethod(inst, &object.Invocation{Kind: object.SetterMember, Member: name, Positional: []any{v}})
	return err
}

// Call invokes fn itself. Closures and torn-off methods run directly, Go
// funcs are called through reflection, and instances are sent "call".
// It implements extension.Invoker.
func (d *Dispatcher) Call(fn any, args object.Args) (any, error) {
	d.tracef("call", fn, config.CallMethodName, args)
	switch f := fn.(type) {
	case nil:
		return nil, nullReceiver(config.CallMethodName, args)
	case object.Callable:
		return f.Invoke(args, d.Check)
	case *object.Instance:
		return d.sendInstance(f, config.CallMethodName, args)
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() == reflect.Func {
		if len(args.Named) > 0 {
			return nil, &diagnostics.NoSuchMethodError{
				Receiver: fn, Member: config.CallMethodName, Positional: args.Positional, Named: args.Named,
				Reason: "Go functions take no named arguments",
			}
		}
		res, err := d.m.CallFunc(rv, args.Positional)
		if err != nil {
			return nil, diagnostics.WithFrame(err, fmt.Sprintf("%T", fn), "host")
		}
		return res, nil
	}
	if impl, ok := d.table.Lookup(fn, config.CallMethodName, object.MethodMember); ok {
		return d.runImpl(fn, impl, args)
	}
	return nil, &diagnostics.NoSuchMethodError{
		Receiver: fn, Member: config.CallMethodName, Positional: args.Positional, Named: args.Named,
	}
}

// Invoke is Send when name is non-empty and Call otherwise.
func (d *Dispatcher) Invoke(recv any, name string, args object.Args) (any, error) {
	if name == "" {
		return d.Call(recv, args)
	}
	return d.Send(recv, name, args)
}

func isInvokable(v any) bool {
	if _, ok := v.(object.Callable); ok {
		return true
	}
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
}

// extensionTearOff is an extension method torn off a foreign receiver.
type extensionTearOff struct {
	d    *Dispatcher
	recv any
	impl *extension.Impl
}

func (t *extensionTearOff) Invoke(args object.Args, _ object.Checker) (any, error) {
	return t.d.runImpl(t.recv, t.impl, args)
}

func (t *extensionTearOff) RuntimeType() *typesystem.Type { return typesystem.Function }

func (t *extensionTearOff) ClassName() string { return "Function '" + t.impl.Name + "'" }

func (t *extensionTearOff) String() string {
	return fmt.Sprintf("Closure '%s.%s'", t.impl.Kind, t.impl.Name)
}
