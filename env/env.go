// Package env makes a Python runtime matching a serialized object available.
//
// Pickled objects only load under the library versions they were written
// with, so the runtime is chosen (or created) before deserialization.
package env

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrUnknownEnv is returned when a named environment does not exist.
var ErrUnknownEnv = errors.New("unknown environment")

// Spec selects a runtime. The first non-empty field wins, in field order.
type Spec struct {
	// Descriptor is a conda environment file (environment.yml). The
	// environment it names is created when missing.
	Descriptor string

	// Name is an existing conda environment.
	Name string

	// Path is the prefix of a virtualenv or conda environment.
	Path string
}

// Runtime is a provisioned interpreter.
type Runtime struct {
	Python string
	Prefix string
}

// Provisioner prepares runtimes.
type Provisioner interface {
	Provision(ctx context.Context, spec Spec) (Runtime, error)
}

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %v: %w: %s", name, args, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

// Conda provisions runtimes through the conda CLI.
type Conda struct {
	// Conda is the conda executable. Defaults to "conda".
	Conda string

	// DefaultPython is used when the Spec is empty. Defaults to "python3".
	DefaultPython string

	Runner Runner
	Logger *zap.Logger
}

var _ Provisioner = (*Conda)(nil)

// Descriptor is the part of a conda environment file we read.
type Descriptor struct {
	Name         string   `yaml:"name"`
	Channels     []string `yaml:"channels"`
	Dependencies []any    `yaml:"dependencies"`
}

// ReadDescriptor parses a conda environment file.
func ReadDescriptor(path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("env: read descriptor: %w", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("env: parse descriptor %s: %w", path, err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("env: descriptor %s has no name", path)
	}
	return &d, nil
}

func (c *Conda) Provision(ctx context.Context, spec Spec) (Runtime, error) {
	switch {
	case spec.Descriptor != "":
		return c.fromDescriptor(ctx, spec.Descriptor)
	case spec.Name != "":
		prefix, err := c.lookup(ctx, spec.Name)
		if err != nil {
			return Runtime{}, err
		}
		if prefix == "" {
			return Runtime{}, fmt.Errorf("env: %w: %q", ErrUnknownEnv, spec.Name)
		}
		return fromPrefix(prefix)
	case spec.Path != "":
		return fromPrefix(spec.Path)
	default:
		return Runtime{Python: orDefault(c.DefaultPython, "python3")}, nil
	}
}

func (c *Conda) fromDescriptor(ctx context.Context, path string) (Runtime, error) {
	d, err := ReadDescriptor(path)
	if err != nil {
		return Runtime{}, err
	}
	prefix, err := c.lookup(ctx, d.Name)
	if err != nil {
		return Runtime{}, err
	}
	if prefix != "" {
		c.logger().Debug("reusing conda environment", zap.String("name", d.Name), zap.String("prefix", prefix))
		return fromPrefix(prefix)
	}

	c.logger().Info("creating conda environment", zap.String("name", d.Name), zap.String("descriptor", path))
	if _, err := c.runner().Run(ctx, c.conda(), "env", "create", "--file", path, "--quiet"); err != nil {
		return Runtime{}, fmt.Errorf("env: create %q: %w", d.Name, err)
	}
	prefix, err = c.lookup(ctx, d.Name)
	if err != nil {
		return Runtime{}, err
	}
	if prefix == "" {
		return Runtime{}, fmt.Errorf("env: %w: %q missing after create", ErrUnknownEnv, d.Name)
	}
	return fromPrefix(prefix)
}

// lookup returns the prefix of the named conda environment, or "" when
// there is none.
func (c *Conda) lookup(ctx context.Context, name string) (string, error) {
	out, err := c.runner().Run(ctx, c.conda(), "env", "list", "--json")
	if err != nil {
		return "", fmt.Errorf("env: list: %w", err)
	}
	var list struct {
		Envs []string `json:"envs"`
	}
	if err := json.Unmarshal(out, &list); err != nil {
		return "", fmt.Errorf("env: parse env list: %w", err)
	}
	for _, prefix := range list.Envs {
		if filepath.Base(prefix) == name {
			return prefix, nil
		}
	}
	return "", nil
}

func fromPrefix(prefix string) (Runtime, error) {
	python := filepath.Join(prefix, "bin", "python")
	if runtime.GOOS == "windows" {
		python = filepath.Join(prefix, "python.exe")
	}
	if _, err := os.Stat(python); err != nil {
		return Runtime{}, fmt.Errorf("env: no interpreter in %s: %w", prefix, err)
	}
	return Runtime{Python: python, Prefix: prefix}, nil
}

func (c *Conda) conda() string { return orDefault(c.Conda, "conda") }

func (c *Conda) runner() Runner {
	if c.Runner == nil {
		return ExecRunner{}
	}
	return c.Runner
}

func (c *Conda) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
