package build

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefaultCompiler is the command ShellCompiler runs when none is configured
const DefaultCompiler = "tsc"

// Options tells the compiler where sources live and where output goes
type Options struct {
	RootDir string
	OutDir  string
}

// Diagnostic is one message reported by the compiler
type Diagnostic struct {
	File     string
	Line     int
	Column   int
	Severity string
	Code     string
	Message  string
}

func (d Diagnostic) String() string {
	if d.File == "" {
		return fmt.Sprintf("%s %s: %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s(%d,%d): %s %s: %s", d.File, d.Line, d.Column, d.Severity, d.Code, d.Message)
}

// Output is what a compile run produced. Emitted holds absolute paths.
type Output struct {
	Diagnostics []Diagnostic
	Emitted     []string
}

// Compiler turns source files into build output
type Compiler interface {
	Compile(ctx context.Context, files []string, opts Options) (*Output, error)
}

// ShellCompiler runs an external compiler that understands tsc's
// --rootDir/--outDir/--listEmittedFiles flags.
type ShellCompiler struct {
	Command string
	Args    []string
}

// NewShellCompiler creates a compiler running command with extra args
func NewShellCompiler(command string, args []string) *ShellCompiler {
	if command == "" {
		command = DefaultCompiler
	}
	return &ShellCompiler{Command: command, Args: args}
}

// Compile runs the compiler once for all files. A non-zero exit is only an
// error when the compiler reported nothing we could parse; tsc exits
// non-zero whenever there are diagnostics but still emits output.
func (c *ShellCompiler) Compile(ctx context.Context, files []string, opts Options) (*Output, error) {
	if _, err := exec.LookPath(c.Command); err != nil {
		return nil, fmt.Errorf("compiler %q not found: %w", c.Command, err)
	}

	args := append([]string{}, c.Args...)
	args = append(args,
		"--rootDir", opts.RootDir,
		"--outDir", opts.OutDir,
		"--listEmittedFiles",
	)
	args = append(args, files...)

	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Dir = opts.RootDir
	output, err := cmd.CombinedOutput()

	out := ParseOutput(output, opts.RootDir)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && (len(out.Diagnostics) > 0 || len(out.Emitted) > 0) {
			return out, nil
		}
		return nil, fmt.Errorf("%s failed: %w: %s", c.Command, err, strings.TrimSpace(string(output)))
	}
	return out, nil
}

var diagnosticPattern = regexp.MustCompile(`^(.+)\((\d+),(\d+)\): (error|warning|message) (TS\d+): (.*)$`)

const emittedPrefix = "TSFILE: "

// ParseOutput extracts emitted files and diagnostics from compiler output.
// Relative emitted paths are resolved against dir.
func ParseOutput(data []byte, dir string) *Output {
	out := &Output{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if rest, ok := strings.CutPrefix(line, emittedPrefix); ok {
			p := strings.TrimSpace(rest)
			if !filepath.IsAbs(p) {
				p = filepath.Join(dir, p)
			}
			out.Emitted = append(out.Emitted, filepath.Clean(p))
			continue
		}

		if m := diagnosticPattern.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			out.Diagnostics = append(out.Diagnostics, Diagnostic{
				File:     m[1],
				Line:     ln,
				Column:   col,
				Severity: m[4],
				Code:     m[5],
				Message:  m[6],
			})
		}
	}

	return out
}
