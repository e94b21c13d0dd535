// Package rt wires the runtime components into one embeddable Runtime.
//
// A Runtime owns the type registry, the extension table, the dispatcher,
// the module registry and the event loop. Construction populates the
// registries; Start loads the requested modules and then freezes them when
// the configuration asks for it.
package rt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/funvibe/dynrt/internal/async"
	"github.com/funvibe/dynrt/internal/config"
	"github.com/funvibe/dynrt/internal/dispatch"
	"github.com/funvibe/dynrt/internal/extension"
	"github.com/funvibe/dynrt/internal/host"
	"github.com/funvibe/dynrt/internal/lazy"
	"github.com/funvibe/dynrt/internal/modules"
	"github.com/funvibe/dynrt/internal/object"
	"github.com/funvibe/dynrt/internal/typesystem"
)

// Runtime is a fully wired runtime instance.
type Runtime struct {
	Config     *config.Config
	Logger     *slog.Logger
	Types      *typesystem.Registry
	Extensions *extension.Table
	Dispatcher *dispatch.Dispatcher
	Modules    *modules.Registry
	Loop       *async.Loop
	Protos     *host.ProtoRegistry

	globals      *lazy.Container
	protoSources []protoSource
}

type protoSource struct {
	sources map[string]string
	files   []string
}

// Option configures New.
type Option func(*Runtime)

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.Logger = l }
}

// WithProtoSources loads in-memory .proto sources in addition to the files
// named by the configuration.
func WithProtoSources(sources map[string]string, files ...string) Option {
	return func(r *Runtime) {
		r.protoSources = append(r.protoSources, protoSource{sources, files})
	}
}

// New builds a runtime from cfg. A nil cfg uses config.Default().
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Runtime{
		Config:  cfg,
		Types:   typesystem.NewRegistry(),
		Protos:  host.NewProtoRegistry(),
		globals: lazy.NewContainer("runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Logger == nil {
		r.Logger = slog.New(slog.DiscardHandler)
	}

	if len(cfg.Proto.Files) > 0 {
		if err := r.Protos.LoadFiles(cfg.Proto.ImportPaths, cfg.Proto.Files...); err != nil {
			return nil, err
		}
	}
	for _, src := range r.protoSources {
		if err := r.Protos.LoadSources(src.sources, src.files...); err != nil {
			return nil, err
		}
	}
	if err := r.Protos.Bind(r.Types); err != nil {
		return nil, err
	}

	r.Extensions = extension.NewTable()
	err := errors.Join(
		extension.RegisterCore(r.Extensions),
		r.Protos.Install(r.Extensions),
		host.InstallConn(r.Extensions),
		installAsync(r.Extensions),
		r.registerHostTypes(),
	)
	if err != nil {
		return nil, fmt.Errorf("populating runtime registries: %w", err)
	}

	r.Dispatcher = dispatch.New(r.Types, r.Extensions,
		dispatch.WithLogger(r.Logger),
		dispatch.WithTrace(cfg.Trace),
		dispatch.WithBridge(r.Protos),
	)
	dispatch.WithBridge(host.NewReflect(r.Dispatcher.Marshaller()))(r.Dispatcher)

	r.Modules = modules.NewRegistry(r.Logger)
	r.Loop = async.NewLoop(r.Logger)
	return r, nil
}

func (r *Runtime) registerHostTypes() error {
	future, err := typesystem.Instantiate(r.Types.Future)
	if err != nil {
		return err
	}
	stream, err := typesystem.Instantiate(r.Types.Stream)
	if err != nil {
		return err
	}
	iterable, err := typesystem.Instantiate(r.Types.Iter)
	if err != nil {
		return err
	}
	return errors.Join(
		r.Types.RegisterHostType(reflect.TypeOf((*async.Future)(nil)), future),
		r.Types.RegisterHostType(reflect.TypeOf((*async.Stream)(nil)), stream),
		r.Types.RegisterHostType(reflect.TypeOf((*async.Iterable)(nil)), iterable),
	)
}

// Start loads the named modules in order and freezes the registries when
// the configuration requests it.
func (r *Runtime) Start(names ...string) error {
	for _, name := range names {
		if _, err := r.Modules.Load(name); err != nil {
			return err
		}
	}
	if r.Config.ShouldFreeze() {
		r.Freeze()
	}
	r.Logger.Info("runtime started", "modules", len(names), "frozen", r.Types.Frozen())
	return nil
}

// Freeze ends the population phase of the type registry and the extension
// table.
func (r *Runtime) Freeze() {
	r.Types.Freeze()
	r.Extensions.Freeze()
}

// Register adds a module to the module registry.
func (r *Runtime) Register(m modules.Module) error {
	return r.Modules.Register(m)
}

// Bind makes a Go value available as a runtime global.
func (r *Runtime) Bind(name string, val any) {
	v := r.Dispatcher.Marshaller().ToValue(val)
	slot := lazy.DefineWritable(r.globals, name, nil)
	_ = slot.Set(v)
}

// BindLazy installs a global computed on first read.
func (r *Runtime) BindLazy(name string, init lazy.Initializer) {
	lazy.Define(r.globals, name, init)
}

// Get reads a runtime global.
func (r *Runtime) Get(name string) (any, error) {
	return r.globals.Get(name)
}

// Send dynamically invokes name on recv.
func (r *Runtime) Send(recv any, name string, args ...any) (any, error) {
	return r.Dispatcher.Send(recv, name, object.Pos(args...))
}

// Call invokes the global called name with positional arguments.
func (r *Runtime) Call(name string, args ...any) (any, error) {
	fn, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return r.Dispatcher.Call(fn, object.Pos(args...))
}

// Await drives the loop until f completes.
func (r *Runtime) Await(ctx context.Context, f *async.Future) (any, error) {
	return r.Loop.RunUntil(ctx, f)
}

// Run drives the loop until it is idle or ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	return r.Loop.Run(ctx)
}

// Dial opens a gRPC connection. An empty target uses the configured one.
func (r *Runtime) Dial(target string) (*host.Conn, error) {
	if target == "" {
		target = r.Config.Grpc.Target
	}
	if target == "" {
		return nil, errors.New("no gRPC target given and grpc.target is not configured")
	}
	conn, err := host.Dial(target, r.Protos, r.Loop)
	if err != nil {
		return nil, err
	}
	conn.Timeout = r.Config.Grpc.Timeout
	return conn, nil
}
