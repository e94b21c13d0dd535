// Command dynrt inspects runtime configuration and protobuf schemas and
// performs dynamic gRPC calls through the runtime's dispatcher.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/funvibe/dynrt/internal/config"
	"github.com/funvibe/dynrt/internal/diagnostics"
	"github.com/funvibe/dynrt/pkg/rt"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, diagnostics.Format(err, useColor(stderr)))
		return 1
	}
	return 0
}

// useColor reports whether w is a terminal that accepts ANSI escapes.
func useColor(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type globalFlags struct {
	configPath string
	trace      bool
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "dynrt",
		Short:         "Dynamic runtime tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to dynrt.yaml (default: search upward from the working directory)")
	root.PersistentFlags().BoolVar(&g.trace, "trace", false, "log every dynamic dispatch")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	root.AddCommand(
		newCheckConfigCmd(g),
		newProtosCmd(g),
		newCallCmd(g),
	)
	return root
}

// loadConfig resolves the configuration named by the flags.
func (g *globalFlags) loadConfig() (*config.Config, string, error) {
	path := g.configPath
	if path == "" {
		found, err := config.FindConfig(".")
		if err != nil {
			return nil, "", err
		}
		path = found
	}
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, "", err
		}
	}
	if g.trace {
		cfg.Trace = true
	}
	if g.logLevel != "" {
		override, err := config.ParseConfig([]byte("log_level: "+g.logLevel), "--log-level")
		if err != nil {
			return nil, "", err
		}
		cfg.LogLevel = override.LogLevel
	}
	return cfg, path, nil
}

// newRuntime builds a runtime whose logger writes text to stderr at the
// configured level.
func (g *globalFlags) newRuntime(cmd *cobra.Command) (*rt.Runtime, string, error) {
	cfg, path, err := g.loadConfig()
	if err != nil {
		return nil, "", err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()}))
	r, err := rt.New(cfg, rt.WithLogger(logger))
	if err != nil {
		return nil, "", err
	}
	return r, path, nil
}
