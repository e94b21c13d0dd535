package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/funvibe/dynrt/internal/async"
	"github.com/funvibe/dynrt/internal/object"
)

func newCheckConfigCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate dynrt.yaml and load the protobuf files it names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, path, err := g.newRuntime(cmd)
			if err != nil {
				return err
			}
			cfg := r.Config
			out := cmd.OutOrStdout()
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintf(out, "config:          %s\n", path)
			fmt.Fprintf(out, "log_level:       %s\n", cfg.LogLevel)
			fmt.Fprintf(out, "trace:           %t\n", cfg.Trace)
			fmt.Fprintf(out, "freeze_on_start: %t\n", cfg.ShouldFreeze())
			fmt.Fprintf(out, "import_paths:    %s\n", strings.Join(cfg.Proto.ImportPaths, ", "))
			fmt.Fprintf(out, "proto files:     %d\n", len(cfg.Proto.Files))
			fmt.Fprintf(out, "message types:   %d\n", len(r.Protos.MessageNames()))
			fmt.Fprintf(out, "services:        %d\n", len(r.Protos.ServiceNames()))
			if cfg.Grpc.Target != "" {
				fmt.Fprintf(out, "grpc target:     %s (timeout %s)\n", cfg.Grpc.Target, cfg.Grpc.Timeout)
			}
			fmt.Fprintln(out, "ok")
			return nil
		},
	}
}

func newProtosCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "protos [message]",
		Short: "List loaded services and message types, or the fields of one message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, _, err := g.newRuntime(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				md, err := r.Protos.Message(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "message %s\n", md.GetFullyQualifiedName())
				for _, fd := range md.GetFields() {
					typ := strings.ToLower(strings.TrimPrefix(fd.GetType().String(), "TYPE_"))
					switch {
					case fd.GetMessageType() != nil && !fd.IsMap():
						typ = fd.GetMessageType().GetFullyQualifiedName()
					case fd.GetEnumType() != nil:
						typ = fd.GetEnumType().GetFullyQualifiedName()
					}
					label := ""
					switch {
					case fd.IsMap():
						label = "map "
						typ = fmt.Sprintf("<%s, %s>",
							strings.ToLower(strings.TrimPrefix(fd.GetMapKeyType().GetType().String(), "TYPE_")),
							strings.ToLower(strings.TrimPrefix(fd.GetMapValueType().GetType().String(), "TYPE_")))
					case fd.IsRepeated():
						label = "repeated "
					}
					fmt.Fprintf(out, "  %d  %s%s %s\n", fd.GetNumber(), label, typ, fd.GetName())
				}
				return nil
			}

			for _, name := range r.Protos.ServiceNames() {
				sd, _ := r.Protos.Service(name)
				fmt.Fprintf(out, "service %s\n", name)
				for _, m := range sd.GetMethods() {
					fmt.Fprintf(out, "  rpc %s(%s) returns (%s)\n", m.GetName(),
						m.GetInputType().GetFullyQualifiedName(), m.GetOutputType().GetFullyQualifiedName())
				}
			}
			for _, name := range r.Protos.MessageNames() {
				fmt.Fprintf(out, "message %s\n", name)
			}
			return nil
		},
	}
}

func newCallCmd(g *globalFlags) *cobra.Command {
	var (
		target  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call <package.Service/Method> [request]",
		Short: "Perform a unary gRPC call; the request is YAML or JSON",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{}
			if len(args) == 2 {
				if err := yaml.Unmarshal([]byte(args[1]), &req); err != nil {
					return fmt.Errorf("parsing request: %w", err)
				}
			}

			r, _, err := g.newRuntime(cmd)
			if err != nil {
				return err
			}
			if err := r.Start(); err != nil {
				return err
			}
			conn, err := r.Dial(target)
			if err != nil {
				return err
			}
			defer conn.Close()
			if timeout > 0 {
				conn.Timeout = timeout
			}

			pending, err := r.Dispatcher.Send(conn, "invoke", object.Pos(args[0], req))
			if err != nil {
				return err
			}
			resp, err := r.Await(cmd.Context(), pending.(*async.Future))
			if err != nil {
				return err
			}
			fields, err := r.Dispatcher.Send(resp, "toMap", object.Args{})
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(fields)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "server address (default: grpc.target from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "call timeout (default: grpc.timeout from config)")
	return cmd
}
