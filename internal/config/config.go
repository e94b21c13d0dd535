// Package config holds runtime constants and the dynrt.yaml configuration.
//
// A configuration file is optional. When present it controls dispatch
// tracing, log level, registry freezing, and the protobuf/gRPC host bridge:
//
//	trace: true
//	log_level: debug
//	proto:
//	  import_paths: ["."]
//	  files: ["api/echo.proto"]
//	grpc:
//	  target: localhost:50051
//	  timeout: 5s
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level dynrt.yaml configuration.
type Config struct {
	// Trace logs every dynamic dispatch at debug level.
	Trace bool `yaml:"trace,omitempty"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level,omitempty"`

	// FreezeOnStart freezes the type registry and extension table once the
	// modules named on the command line have been loaded.
	// A nil value means true.
	FreezeOnStart *bool `yaml:"freeze_on_start,omitempty"`

	// Proto lists .proto sources exposed as foreign message types.
	Proto ProtoConfig `yaml:"proto,omitempty"`

	// Grpc configures the default gRPC connection.
	Grpc GrpcConfig `yaml:"grpc,omitempty"`
}

// ProtoConfig describes where protobuf definitions come from.
type ProtoConfig struct {
	// ImportPaths are directories searched for imports. Relative paths are
	// resolved against the config file's directory. Defaults to ["."].
	ImportPaths []string `yaml:"import_paths,omitempty"`

	// Files are the .proto files to load, relative to an import path.
	Files []string `yaml:"files,omitempty"`
}

// GrpcConfig describes the default gRPC target.
type GrpcConfig struct {
	Target  string        `yaml:"target,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults(".")
	return cfg
}

// LoadConfig reads and parses a dynrt.yaml file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses dynrt.yaml content from bytes.
// The path argument is used for error messages and to resolve relative
// import paths.
func ParseConfig(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	cfg.setDefaults(filepath.Dir(path))
	return &cfg, nil
}

// FindConfig searches for dynrt.yaml starting from dir and walking up
// to parent directories.
// Returns the path to the config file, or empty string if not found.
func FindConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	for {
		for _, name := range ConfigFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// validate checks the configuration for semantic errors.
func (c *Config) validate(path string) error {
	if c.LogLevel != "" {
		if _, err := parseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	seen := make(map[string]bool)
	for i, f := range c.Proto.Files {
		if f == "" {
			return fmt.Errorf("%s: proto.files[%d]: empty file name", path, i)
		}
		if !strings.HasSuffix(f, ".proto") {
			return fmt.Errorf("%s: proto.files[%d]: %q is not a .proto file", path, i, f)
		}
		if seen[f] {
			return fmt.Errorf("%s: proto.files[%d]: duplicate file %q", path, i, f)
		}
		seen[f] = true
	}
	if c.Grpc.Timeout < 0 {
		return fmt.Errorf("%s: grpc.timeout must not be negative", path)
	}
	return nil
}

func (c *Config) setDefaults(baseDir string) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.FreezeOnStart == nil {
		freeze := true
		c.FreezeOnStart = &freeze
	}
	if len(c.Proto.ImportPaths) == 0 {
		c.Proto.ImportPaths = []string{"."}
	}
	for i, p := range c.Proto.ImportPaths {
		if !filepath.IsAbs(p) {
			c.Proto.ImportPaths[i] = filepath.Join(baseDir, p)
		}
	}
	if c.Grpc.Timeout == 0 {
		c.Grpc.Timeout = 5 * time.Second
	}
}

// ShouldFreeze reports whether registries are frozen after startup.
func (c *Config) ShouldFreeze() bool {
	return c.FreezeOnStart == nil || *c.FreezeOnStart
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log_level %q", s)
}
