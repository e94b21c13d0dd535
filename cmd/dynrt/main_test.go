package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/funvibe/dynrt/internal/host"
	"github.com/funvibe/dynrt/internal/object"
	"github.com/funvibe/dynrt/pkg/rt"
)

const echoProto = `syntax = "proto3";
package echo;

message EchoRequest {
  string name = 1;
  repeated string tags = 2;
}

message EchoReply {
  string message = 1;
}

service Echo {
  rpc Say(EchoRequest) returns (EchoReply);
}
`

// writeProject creates a directory holding dynrt.yaml and echo.proto and
// returns the config path.
func writeProject(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "echo.proto"), []byte(echoProto), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := "log_level: warn\nproto:\n  files: [echo.proto]\n" + extra
	path := filepath.Join(dir, "dynrt.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCheckConfig(t *testing.T) {
	path := writeProject(t, "")
	code, out, errOut := runCLI(t, "check-config", "-c", path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{"log_level:       warn", "message types:   2", "services:        1", "ok"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckConfigErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "dynrt.yaml")
	if err := os.WriteFile(bad, []byte("log_level: loud\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"invalid level", []string{"check-config", "-c", bad}, "unknown log_level"},
		{"missing file", []string{"check-config", "-c", filepath.Join(dir, "nope.yaml")}, "reading config"},
		{"bad flag level", []string{"check-config", "-c", writeProject(t, ""), "--log-level", "shout"}, "unknown log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, tt.args...)
			if code != 1 {
				t.Errorf("exit %d, want 1", code)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("stderr %q does not mention %q", errOut, tt.want)
			}
		})
	}
}

func TestProtos(t *testing.T) {
	path := writeProject(t, "")
	code, out, errOut := runCLI(t, "protos", "-c", path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{
		"service echo.Echo",
		"rpc Say(echo.EchoRequest) returns (echo.EchoReply)",
		"message echo.EchoReply",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	code, out, _ = runCLI(t, "protos", "-c", path, "echo.EchoRequest")
	if code != 0 || !strings.Contains(out, "1  string name") || !strings.Contains(out, "2  repeated string tags") {
		t.Errorf("fields (exit %d):\n%s", code, out)
	}

	if code, _, errOut := runCLI(t, "protos", "-c", path, "echo.Nope"); code != 1 || !strings.Contains(errOut, "not found") {
		t.Errorf("unknown message: exit %d, %s", code, errOut)
	}
}

// startEchoServer serves echo.Echo from a runtime class on a loopback port.
func startEchoServer(t *testing.T) string {
	t.Helper()
	r, err := rt.New(nil, rt.WithProtoSources(map[string]string{"echo.proto": echoProto}, "echo.proto"))
	if err != nil {
		t.Fatal(err)
	}
	c := object.NewClass("EchoService", nil)
	c.AddMethod("Say", object.Params("request"), func(f *object.Frame) (any, error) {
		name, err := r.Dispatcher.Load(f.Arg(0), "name")
		if err != nil {
			return nil, err
		}
		tags, err := r.Dispatcher.Load(f.Arg(0), "tags")
		if err != nil {
			return nil, err
		}
		return map[string]any{"message": fmt.Sprintf("Hello, %v %v", name, tags)}, nil
	})
	impl, err := object.Construct(c, "", object.Args{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	srv := host.NewServer(r.Protos, r.Loop, r.Dispatcher.Send)
	if err := srv.Register("echo.Echo", impl); err != nil {
		t.Fatal(err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback listener unavailable: %v", err)
	}
	srv.ServeAsync(lis)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	t.Cleanup(func() {
		srv.Stop()
		<-done
	})
	return lis.Addr().String()
}

func TestCall(t *testing.T) {
	addr := startEchoServer(t)
	path := writeProject(t, "")

	code, out, errOut := runCLI(t, "call", "-c", path, "-t", addr, "echo.Echo/Say", `{name: Bob, tags: [a, b]}`)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if want := "message: Hello, Bob [a b]"; !strings.Contains(out, want) {
		t.Errorf("output %q does not contain %q", out, want)
	}

	code, _, errOut = runCLI(t, "call", "-c", path, "-t", addr, "echo.Echo/Shout")
	if code != 1 || !strings.Contains(errOut, "not found") {
		t.Errorf("unknown method: exit %d, %s", code, errOut)
	}

	code, _, errOut = runCLI(t, "call", "-c", path, "echo.Echo/Say")
	if code != 1 || !strings.Contains(errOut, "grpc.target") {
		t.Errorf("missing target: exit %d, %s", code, errOut)
	}
}
