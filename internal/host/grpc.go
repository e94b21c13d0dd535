package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/funvibe/dynrt/internal/async"
	"github.com/funvibe/dynrt/internal/extension"
	"github.com/funvibe/dynrt/internal/object"
)

// KindConn is the extension kind of gRPC client connections.
const KindConn extension.Kind = "Conn"

// Conn is a gRPC client connection whose calls complete futures on a loop.
type Conn struct {
	Target  string
	Timeout time.Duration

	cc     *grpc.ClientConn
	protos *ProtoRegistry
	loop   *async.Loop
}

// Dial creates a client for target. Messages are resolved against protos
// and results are delivered on loop.
func Dial(target string, protos *ProtoRegistry, loop *async.Loop, opts ...grpc.DialOption) (*Conn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc connect %s: %w", target, err)
	}
	return &Conn{Target: target, cc: cc, protos: protos, loop: loop}, nil
}

// ClassName implements diagnostics.Named.
func (c *Conn) ClassName() string { return "Conn" }

// Close tears down the connection.
func (c *Conn) Close() error { return c.cc.Close() }

// InvokeSync performs a unary call on the calling goroutine. req is a
// message of the method's input type or a string-keyed map.
func (c *Conn) InvokeSync(ctx context.Context, method string, req any) (*dynamic.Message, error) {
	md, err := c.protos.Method(method)
	if err != nil {
		return nil, err
	}
	if md.IsClientStreaming() || md.IsServerStreaming() {
		return nil, fmt.Errorf("method %s is streaming; only unary calls are supported", md.GetFullyQualifiedName())
	}
	reqMsg, err := ToMessage(md.GetInputType(), req)
	if err != nil {
		return nil, err
	}
	respMsg := dynamic.NewMessage(md.GetOutputType())
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	if err := c.cc.Invoke(ctx, methodPath(md), reqMsg, respMsg); err != nil {
		return nil, err
	}
	return respMsg, nil
}

// Invoke starts a unary call and returns the future of its response. The
// loop stays busy until the call finishes.
func (c *Conn) Invoke(method string, req any) *async.Future {
	done := async.NewCompleter(c.loop)
	release := c.loop.Hold()
	go func() {
		resp, err := c.InvokeSync(context.Background(), method, req)
		c.loop.Post(func() {
			defer release()
			if err != nil {
				done.Fail(err)
				return
			}
			done.Complete(resp)
		})
	}()
	return done.Future
}

func methodPath(md *desc.MethodDescriptor) string {
	return "/" + md.GetService().GetFullyQualifiedName() + "/" + md.GetName()
}

// InstallConn registers the Conn extension kind.
func InstallConn(t *extension.Table) error {
	err := t.DefineKind(KindConn, extension.KindObject, func(v any) (extension.Kind, bool) {
		_, ok := v.(*Conn)
		return KindConn, ok
	})
	if err != nil {
		return err
	}
	connOf := func(c *extension.Call) *Conn { return c.Recv.(*Conn) }
	return errors.Join(
		t.Getter(KindConn, "target", func(c *extension.Call) (any, error) {
			return connOf(c).Target, nil
		}),
		t.Method(KindConn, "invoke", object.Params("method", "request"), func(c *extension.Call) (any, error) {
			method, ok := c.Arg(0).(string)
			if !ok {
				return nil, fmt.Errorf("invoke: method must be a String, got %T", c.Arg(0))
			}
			return connOf(c).Invoke(method, c.Arg(1)), nil
		}),
		t.Method(KindConn, "close", object.Signature{}, func(c *extension.Call) (any, error) {
			return nil, connOf(c).Close()
		}),
	)
}

// Sender performs a dynamic method send. Server handlers use it to reach
// service implementations.
type Sender func(recv any, name string, args object.Args) (any, error)

// Server serves unary gRPC methods backed by runtime receivers. Handlers
// run on the loop, which must be driven by Run while the server is up.
type Server struct {
	srv    *grpc.Server
	protos *ProtoRegistry
	loop   *async.Loop
	send   Sender
	logger *slog.Logger
}

// NewServer creates a server that dispatches each call with send on loop.
// Register services before Serve.
func NewServer(protos *ProtoRegistry, loop *async.Loop, send Sender, opts ...grpc.ServerOption) *Server {
	return &Server{
		srv:    grpc.NewServer(opts...),
		protos: protos,
		loop:   loop,
		send:   send,
		logger: loop.Logger(),
	}
}

type serviceHandler struct {
	s    *Server
	impl any
}

// Register exposes impl as the named service. Each unary RPC sends a
// message named after the method to impl with the request as its only
// argument. The result may be a message, a map or a future of either.
func (s *Server) Register(service string, impl any) error {
	sd, ok := s.protos.Service(service)
	if !ok {
		return fmt.Errorf("service %s not found in loaded protos", service)
	}
	gd := &grpc.ServiceDesc{
		ServiceName: service,
		HandlerType: (*any)(nil),
		Metadata:    sd.GetFile().GetName(),
	}
	for _, method := range sd.GetMethods() {
		if method.IsClientStreaming() || method.IsServerStreaming() {
			s.logger.Warn("skipping streaming method", "method", method.GetFullyQualifiedName())
			continue
		}
		md := method
		gd.Methods = append(gd.Methods, grpc.MethodDesc{
			MethodName: md.GetName(),
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				return srv.(*serviceHandler).unary(ctx, md, dec)
			},
		})
	}
	s.srv.RegisterService(gd, &serviceHandler{s: s, impl: impl})
	return nil
}

type reply struct {
	v   any
	err error
}

func (h *serviceHandler) unary(ctx context.Context, md *desc.MethodDescriptor, dec func(any) error) (any, error) {
	in := dynamic.NewMessage(md.GetInputType())
	if err := dec(in); err != nil {
		return nil, err
	}
	out := make(chan reply, 1)
	h.s.loop.Post(func() {
		v, err := h.s.send(h.impl, md.GetName(), object.Pos(in))
		if f, ok := v.(*async.Future); ok && err == nil {
			f.OnComplete(func(v any, err error) { out <- reply{v, err} })
			return
		}
		out <- reply{v, err}
	})
	select {
	case r := <-out:
		if r.err != nil {
			h.s.logger.Debug("rpc failed", "method", md.GetFullyQualifiedName(), "error", r.err)
			return nil, r.err
		}
		return ToMessage(md.GetOutputType(), r.v)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Serve accepts connections on lis until Stop. The loop is held while
// serving.
func (s *Server) Serve(lis net.Listener) error {
	release := s.loop.Hold()
	defer release()
	s.logger.Info("grpc server listening", "addr", lis.Addr().String())
	return s.srv.Serve(lis)
}

// ServeAsync holds the loop and serves lis on a new goroutine. Serve
// errors are logged.
func (s *Server) ServeAsync(lis net.Listener) {
	release := s.loop.Hold()
	go func() {
		defer release()
		s.logger.Info("grpc server listening", "addr", lis.Addr().String())
		if err := s.srv.Serve(lis); err != nil {
			s.logger.Error("grpc server stopped", "error", err)
		}
	}()
}

// Stop drains in-flight calls and stops serving.
func (s *Server) Stop() {
	s.srv.GracefulStop()
}
