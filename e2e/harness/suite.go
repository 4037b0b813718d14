//go:build e2e

package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/b6psync/internal/testutil"
)

const (
	defaultTimeout = 5 * time.Minute
	defaultPackage = "./cmd/b6psync"
)

// Suite builds the b6psync binary once and runs it against a fake document
// store inside a throwaway workspace.
type Suite struct {
	// immutable config
	Name          string
	Package       string
	Timeout       time.Duration
	KeepWorkspace bool

	// runtime state
	Binary    string
	Workspace string
	Config    string
	Store     *testutil.FakeStore

	// extra environment for every command
	Env map[string]string

	// optional logger hook
	Logf func(format string, args ...any)

	// test reference
	t *testing.T
}

// SuiteOption configures a Suite
type SuiteOption func(*Suite)

// WithPackage sets the package path that is built into the binary
func WithPackage(pkg string) SuiteOption {
	return func(s *Suite) { s.Package = pkg }
}

// WithTimeout sets a custom suite timeout
func WithTimeout(d time.Duration) SuiteOption {
	return func(s *Suite) { s.Timeout = d }
}

// WithKeepWorkspace keeps the workspace around when a test fails
func WithKeepWorkspace(v bool) SuiteOption {
	return func(s *Suite) { s.KeepWorkspace = v }
}

// WithLogf sets a custom logger
func WithLogf(logf func(string, ...any)) SuiteOption {
	return func(s *Suite) { s.Logf = logf }
}

// NewSuite creates a new E2E test suite
func NewSuite(name string, t *testing.T, opts ...SuiteOption) *Suite {
	s := &Suite{
		Name:          name,
		Package:       defaultPackage,
		Timeout:       defaultTimeout,
		KeepWorkspace: os.Getenv("E2E_KEEP_WORKSPACE") == "1",
		Env:           make(map[string]string),
		t:             t,
		Logf:          t.Logf,
	}

	for _, opt := range opts {
		opt(s)
	}

	if timeout := os.Getenv("E2E_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			s.Timeout = d
		}
	}

	return s
}

// BuildBinary compiles the CLI into a temporary directory
func (s *Suite) BuildBinary(ctx context.Context) error {
	if bin := os.Getenv("E2E_BINARY"); bin != "" {
		s.Logf("Using prebuilt binary %s", bin)
		s.Binary = bin
		return nil
	}

	projectRoot, err := filepath.Abs("..")
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	s.Binary = filepath.Join(s.t.TempDir(), "b6psync")
	s.Logf("Building %s from %s", s.Binary, s.Package)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", s.Binary, s.Package)
	cmd.Dir = projectRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		s.Logf("build stdout: %s", stdout.String())
		s.Logf("build stderr: %s", stderr.String())
		return fmt.Errorf("go build: %w", err)
	}

	s.Logf("Binary %s built successfully", s.Binary)
	return nil
}

// Provision starts the fake store and writes a workspace and config
// pointing at it.
func (s *Suite) Provision() error {
	s.Store = testutil.NewFakeStore(s.t)

	if s.KeepWorkspace {
		dir, err := os.MkdirTemp("", "b6psync-e2e-")
		if err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
		s.Workspace = dir
	} else {
		s.Workspace = s.t.TempDir()
	}

	s.Config = filepath.Join(s.Workspace, "config.yaml")
	config := fmt.Sprintf("remote:\n  origin: %q\nsync:\n  concurrency: 2\nlog:\n  file: %q\n",
		s.Store.URL(), filepath.Join(s.Workspace, "logs", "b6psync.log"))
	if err := os.WriteFile(s.Config, []byte(config), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	s.Logf("Workspace %s, store %s", s.Workspace, s.Store.URL())
	return nil
}

// Cleanup reports a kept workspace
func (s *Suite) Cleanup() {
	if s.KeepWorkspace && s.t.Failed() {
		s.Logf("Test failed and E2E_KEEP_WORKSPACE=1, keeping workspace %s", s.Workspace)
		return
	}
	if s.KeepWorkspace {
		_ = os.RemoveAll(s.Workspace)
	}
}

// ScriptDir returns the root of a script in the workspace
func (s *Suite) ScriptDir(org, name string) string {
	return filepath.Join(s.Workspace, "work", org, name)
}

// WriteScript creates a script tree in the workspace
func (s *Suite) WriteScript(org, name string, files map[string]string) string {
	dir := s.ScriptDir(org, name)
	testutil.WriteTree(s.t, dir, files)
	return dir
}

// ExecResult represents the result of a command execution
type ExecResult struct {
	Cmd      []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Run executes the binary with the suite config
func (s *Suite) Run(ctx context.Context, args ...string) (ExecResult, error) {
	if s.Binary == "" {
		return ExecResult{}, fmt.Errorf("binary not built")
	}

	full := append([]string{}, args...)
	full = append(full, "--config", s.Config, "--env-file", filepath.Join(s.Workspace, ".env"))

	cmd := exec.CommandContext(ctx, s.Binary, full...)
	cmd.Dir = s.Workspace
	cmd.Env = os.Environ()
	for k, v := range s.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ExecResult{}, fmt.Errorf("exec failed: %w", err)
		}
	}

	return ExecResult{
		Cmd:      args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// MustRun executes the binary and fails on non-zero exit
func (s *Suite) MustRun(ctx context.Context, args ...string) (ExecResult, error) {
	res, err := s.Run(ctx, args...)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, fmt.Errorf("command failed with exit %d: %s\nstdout: %s\nstderr: %s",
			res.ExitCode, strings.Join(args, " "), res.Stdout, res.Stderr)
	}
	return res, nil
}

// ReadFile reads a file relative to the workspace
func (s *Suite) ReadFile(rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.Workspace, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
