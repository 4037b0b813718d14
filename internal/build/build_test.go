package build

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/b6psync/internal/ledger"
	"github.com/schaermu/b6psync/internal/location"
	"github.com/schaermu/b6psync/internal/script"
	"github.com/schaermu/b6psync/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCompiler writes <name>.js next to each source in the out dir
type fakeCompiler struct {
	calls [][]string
	// stray is written to the out dir without being reported as emitted
	stray string
	err   error
}

func (c *fakeCompiler) Compile(_ context.Context, files []string, opts Options) (*Output, error) {
	c.calls = append(c.calls, files)
	if c.err != nil {
		return nil, c.err
	}

	out := &Output{}
	for _, f := range files {
		rel, err := filepath.Rel(opts.RootDir, f)
		if err != nil {
			return nil, err
		}
		src, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}

		dst := filepath.Join(opts.OutDir, strings.TrimSuffix(strings.TrimSuffix(rel, ".tsx"), ".ts")+".js")
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, append([]byte("// compiled\n"), src...), 0644); err != nil {
			return nil, err
		}
		out.Emitted = append(out.Emitted, dst)
	}

	if c.stray != "" {
		dst := filepath.Join(opts.OutDir, filepath.FromSlash(c.stray))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, []byte("stray"), 0644); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func newRoot(t *testing.T, files map[string]string) *script.Root {
	t.Helper()
	dir := testutil.NewScript(t, files)
	return script.NewRoot(location.MustParse(dir), "files.example.com", testLogger())
}

func buildTree(t *testing.T, root *script.Root) map[string]string {
	t.Helper()
	return testutil.ReadTree(t, filepath.Join(root.DraftPath(), script.BuildDirName))
}

func TestReconcile_IsDeterministic(t *testing.T) {
	root := newRoot(t, testutil.Merge(testutil.ValidDraft, map[string]string{
		"draft/scripts/lib/util.ts":  "export const u = 1;\n",
		"draft/scripts/view.tsx":     "export const v = <div/>;\n",
		"draft/scripts/data.json":    `{"k":1}`,
		"draft/scripts/types.d.ts":   "declare const t: number;\n",
		"draft/scripts/readme.txt":   "hello",
		"draft/tsconfig.json":        "{}",
		"draft/tsconfig.build.json":  "{}",
		"draft/scripts/nested/a.css": "a{}",
	}))
	compiler := &fakeCompiler{}
	r := NewReconciler(compiler, testLogger())

	first, err := r.Reconcile(context.Background(), root)
	require.NoError(t, err)
	firstTree := buildTree(t, root)

	second, err := r.Reconcile(context.Background(), root)
	require.NoError(t, err)
	secondTree := buildTree(t, root)

	if diff := cmp.Diff(firstTree, secondTree); diff != "" {
		t.Errorf("build tree changed between runs (-first +second):\n%s", diff)
	}
	assert.Equal(t, first.Emitted, second.Emitted)
	assert.Equal(t, first.Copied, second.Copied)

	assert.Equal(t, []string{
		"scripts/data.json",
		"scripts/lib/util.js",
		"scripts/main.js",
		"scripts/nested/a.css",
		"scripts/readme.txt",
		"scripts/types.d.ts",
		"scripts/view.js",
	}, testutil.SortedKeys(firstTree))

	assert.Equal(t, []string{"scripts/lib/util.ts", "scripts/main.ts", "scripts/view.tsx"}, first.Compiled)
	require.Len(t, compiler.calls, 2)
	assert.Equal(t, compiler.calls[0], compiler.calls[1])
}

func TestReconcile_SkipsIgnoredAndReservedFolders(t *testing.T) {
	root := newRoot(t, testutil.Merge(testutil.ValidDraft, map[string]string{
		".gitignore":                 "*.secret\nprivate/\n",
		"draft/scripts/key.secret":   "s3cr3t",
		"draft/scripts/private/p.ts": "export {}",
		"draft/scripts/keep.json":    "{}",
	}))
	compiler := &fakeCompiler{}

	summary, err := NewReconciler(compiler, testLogger()).Reconcile(context.Background(), root)
	require.NoError(t, err)

	tree := buildTree(t, root)
	assert.Contains(t, tree, "scripts/keep.json")
	assert.Contains(t, tree, "scripts/main.js")
	assert.NotContains(t, tree, "scripts/key.secret")
	assert.NotContains(t, tree, "scripts/private/p.js")
	for rel := range tree {
		assert.False(t, strings.HasPrefix(rel, "info/") || strings.HasPrefix(rel, "objects/"), rel)
	}
	assert.Equal(t, []string{"scripts/main.ts"}, summary.Compiled)
}

func TestReconcile_RemovesUnaccountedOutput(t *testing.T) {
	root := newRoot(t, testutil.ValidDraft)
	compiler := &fakeCompiler{stray: "cache/deep/state.tsbuildinfo"}

	summary, err := NewReconciler(compiler, testLogger()).Reconcile(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"cache/deep/state.tsbuildinfo"}, summary.Removed)
	_, err = os.Stat(filepath.Join(root.DraftPath(), script.BuildDirName, "cache"))
	assert.True(t, os.IsNotExist(err), "empty directories should be removed")
	assert.Contains(t, buildTree(t, root), "scripts/main.js")
}

func TestReconcile_WipesPreviousBuild(t *testing.T) {
	root := newRoot(t, testutil.Merge(testutil.ValidDraft, map[string]string{
		"draft/.build/scripts/deleted.js": "old output",
	}))

	_, err := NewReconciler(&fakeCompiler{}, testLogger()).Reconcile(context.Background(), root)
	require.NoError(t, err)
	assert.NotContains(t, buildTree(t, root), "scripts/deleted.js")
}

func TestReconcile_PrunesDeletedDraftRecords(t *testing.T) {
	root := newRoot(t, testutil.ValidDraft)
	store := root.Ledger()
	require.NoError(t, store.Touch("draft/scripts/main.ts", ledger.Push, "a"))
	require.NoError(t, store.Touch("draft/scripts/gone.ts", ledger.Push, "b"))
	require.NoError(t, store.Touch("declarations/missing.d.ts", ledger.Pull, "c"))

	summary, err := NewReconciler(&fakeCompiler{}, testLogger()).Reconcile(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"draft/scripts/gone.ts"}, summary.Pruned)

	l, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"declarations/missing.d.ts", "draft/scripts/main.ts"}, l.Paths())
}

func TestReconcile_NoSourcesSkipsCompiler(t *testing.T) {
	root := newRoot(t, map[string]string{"draft/scripts/data.json": "{}"})
	compiler := &fakeCompiler{}

	summary, err := NewReconciler(compiler, testLogger()).Reconcile(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, compiler.calls)
	assert.Equal(t, []string{"scripts/data.json"}, summary.Copied)
	assert.NotEmpty(t, summary.Problems)
}

func TestReconcile_CompilerFailure(t *testing.T) {
	root := newRoot(t, testutil.ValidDraft)
	boom := errors.New("boom")

	_, err := NewReconciler(&fakeCompiler{err: boom}, testLogger()).Reconcile(context.Background(), root)
	assert.ErrorIs(t, err, boom)
}

func TestParseOutput(t *testing.T) {
	out := ParseOutput([]byte(strings.Join([]string{
		"TSFILE: /work/draft/.build/scripts/main.js",
		"TSFILE: scripts/rel.js",
		"scripts/main.ts(3,14): error TS2322: Type 'string' is not assignable to type 'number'.",
		"scripts/b.ts(1,1): warning TS6133: 'x' is declared but its value is never read.",
		"Found 1 error.",
		"",
	}, "\r\n")), "/work/draft/.build")

	assert.Equal(t, []string{
		filepath.Clean("/work/draft/.build/scripts/main.js"),
		filepath.Join("/work/draft/.build", "scripts", "rel.js"),
	}, out.Emitted)

	require.Len(t, out.Diagnostics, 2)
	assert.Equal(t, Diagnostic{
		File:     "scripts/main.ts",
		Line:     3,
		Column:   14,
		Severity: "error",
		Code:     "TS2322",
		Message:  "Type 'string' is not assignable to type 'number'.",
	}, out.Diagnostics[0])
	assert.Equal(t, "warning", out.Diagnostics[1].Severity)

	s := &Summary{Diagnostics: out.Diagnostics}
	assert.True(t, s.HasErrors())
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "compiler.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0755))
	return p
}

func TestShellCompiler(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	t.Run("diagnostics with non-zero exit", func(t *testing.T) {
		c := NewShellCompiler(writeScript(t, `
echo "TSFILE: $PWD/out/a.js"
echo "a.ts(1,2): error TS1005: ';' expected."
exit 2
`), nil)
		dir := t.TempDir()

		out, err := c.Compile(context.Background(), []string{filepath.Join(dir, "a.ts")}, Options{RootDir: dir, OutDir: filepath.Join(dir, "out")})
		require.NoError(t, err)
		require.Len(t, out.Emitted, 1)
		assert.Equal(t, "a.js", filepath.Base(out.Emitted[0]))
		require.Len(t, out.Diagnostics, 1)
		assert.Equal(t, "TS1005", out.Diagnostics[0].Code)
	})

	t.Run("crash without output", func(t *testing.T) {
		c := NewShellCompiler(writeScript(t, "echo segfault >&2\nexit 139\n"), nil)
		dir := t.TempDir()

		_, err := c.Compile(context.Background(), nil, Options{RootDir: dir, OutDir: dir})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "segfault")
	})

	t.Run("passes flags", func(t *testing.T) {
		c := NewShellCompiler(writeScript(t, `echo "$@" > "$PWD/args.txt"`), []string{"--strict"})
		dir := t.TempDir()

		_, err := c.Compile(context.Background(), []string{"x.ts"}, Options{RootDir: dir, OutDir: "/out"})
		require.NoError(t, err)

		args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
		require.NoError(t, err)
		assert.Equal(t, "--strict --rootDir "+dir+" --outDir /out --listEmittedFiles x.ts\n", string(args))
	})

	t.Run("missing binary", func(t *testing.T) {
		c := NewShellCompiler("b6psync-no-such-compiler", nil)
		_, err := c.Compile(context.Background(), nil, Options{RootDir: t.TempDir()})
		assert.Error(t, err)
	})
}

func TestNewShellCompiler_Default(t *testing.T) {
	assert.Equal(t, DefaultCompiler, NewShellCompiler("", nil).Command)
}
