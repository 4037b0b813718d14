// Package build compiles a script's draft sources into draft/.build and
// removes build output that no longer has a source.
package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/schaermu/b6psync/internal/location"
	"github.com/schaermu/b6psync/internal/script"
)

// Summary describes one reconcile run. Paths are relative to the build
// directory unless noted.
type Summary struct {
	Compiled    []string // draft-relative sources handed to the compiler
	Emitted     []string
	Copied      []string
	Removed     []string
	Pruned      []string // ledger paths
	Diagnostics []Diagnostic
	Problems    []script.Problem
}

// HasErrors reports whether the compiler reported any error diagnostics
func (s *Summary) HasErrors() bool {
	for _, d := range s.Diagnostics {
		if d.Severity == "error" {
			return true
		}
	}
	return false
}

// Reconciler rebuilds a root's build tree
type Reconciler struct {
	compiler Compiler
	logger   *slog.Logger
}

// NewReconciler creates a reconciler using compiler
func NewReconciler(compiler Compiler, logger *slog.Logger) *Reconciler {
	return &Reconciler{compiler: compiler, logger: logger}
}

// Reconcile wipes draft/.build, compiles sources, copies assets, removes
// anything in the build tree that was neither emitted nor copied and prunes
// ledger records of deleted draft files. Reconcile is not crash safe between
// the wipe and the re-emit; running it again recovers.
func (r *Reconciler) Reconcile(ctx context.Context, root *script.Root) (*Summary, error) {
	summary := &Summary{}
	draftDir := root.DraftPath()
	buildDir := filepath.Join(draftDir, script.BuildDirName)

	problems, err := root.CheckStructure()
	if err != nil {
		return nil, fmt.Errorf("failed to check structure: %w", err)
	}
	for _, p := range problems {
		r.logger.Warn("draft structure deviation", "path", p.Path, "problem", p.Message)
	}
	summary.Problems = problems

	if err := os.RemoveAll(buildDir); err != nil {
		return nil, fmt.Errorf("failed to remove build directory: %w", err)
	}

	sources, assets, err := r.collect(root)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool)

	if len(sources) > 0 {
		files := make([]string, 0, len(sources))
		for _, loc := range sources {
			files = append(files, loc.Path())
			summary.Compiled = append(summary.Compiled, loc.RelativePath)
		}

		r.logger.Info("compiling sources", "count", len(files), "out", buildDir)
		out, err := r.compiler.Compile(ctx, files, Options{RootDir: draftDir, OutDir: buildDir})
		if err != nil {
			return nil, fmt.Errorf("failed to compile: %w", err)
		}

		for _, d := range out.Diagnostics {
			r.logger.Warn("compiler diagnostic", "diagnostic", d.String())
		}
		summary.Diagnostics = out.Diagnostics

		for _, p := range out.Emitted {
			rel, err := filepath.Rel(buildDir, p)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				r.logger.Warn("compiler emitted outside the build directory", "path", p)
				continue
			}
			rel = filepath.ToSlash(rel)
			keep[rel] = true
			summary.Emitted = append(summary.Emitted, rel)
		}
	}

	for _, loc := range assets {
		if err := copyFile(loc.Path(), filepath.Join(buildDir, filepath.FromSlash(loc.RelativePath))); err != nil {
			return nil, err
		}
		keep[loc.RelativePath] = true
		summary.Copied = append(summary.Copied, loc.RelativePath)
	}

	removed, err := r.collectGarbage(buildDir, keep)
	if err != nil {
		return nil, err
	}
	summary.Removed = removed

	pruned, err := root.Ledger().Prune(func(p string) bool {
		if !strings.HasPrefix(p, location.ZoneDraft.String()+"/") {
			return true
		}
		_, err := os.Stat(filepath.Join(root.Path(), filepath.FromSlash(p)))
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prune ledger: %w", err)
	}
	summary.Pruned = pruned

	sort.Strings(summary.Emitted)
	sort.Strings(summary.Copied)

	r.logger.Info("build complete",
		"compiled", len(summary.Compiled),
		"emitted", len(summary.Emitted),
		"copied", len(summary.Copied),
		"removed", len(summary.Removed),
		"pruned", len(summary.Pruned),
		"diagnostics", len(summary.Diagnostics))

	return summary, nil
}

// collect splits the draft files into compiler sources and verbatim assets
func (r *Reconciler) collect(root *script.Root) (sources, assets []location.Location, err error) {
	ignored := root.Ignore()
	draftPrefix := location.ZoneDraft.String() + "/"

	locs, err := root.DiscoverFiles(location.ZoneDraft, func(rel string) bool {
		return script.DraftSkip(rel) || ignored.Matches(draftPrefix+rel)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover draft files: %w", err)
	}

	for _, loc := range locs {
		if ignored.Matches(loc.Rel()) {
			continue
		}
		switch {
		case isSource(loc.Name()):
			sources = append(sources, loc)
		case isCompilerConfig(loc.Name()):
			r.logger.Debug("skipping compiler config", "path", loc.Rel())
		default:
			assets = append(assets, loc)
		}
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].RelativePath < sources[j].RelativePath })
	sort.Slice(assets, func(i, j int) bool { return assets[i].RelativePath < assets[j].RelativePath })
	return sources, assets, nil
}

// collectGarbage deletes build files not in keep, then empty directories
func (r *Reconciler) collectGarbage(buildDir string, keep map[string]bool) ([]string, error) {
	var removed []string
	var dirs []string

	err := filepath.WalkDir(buildDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == buildDir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if p != buildDir {
				dirs = append(dirs, p)
			}
			return nil
		}

		rel, err := filepath.Rel(buildDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if keep[rel] {
			return nil
		}

		r.logger.Debug("removing unaccounted build file", "path", rel)
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
		removed = append(removed, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect build garbage: %w", err)
	}

	// deepest first so parents empty out before they are checked
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		if len(entries) == 0 {
			if err := os.Remove(dir); err != nil {
				return nil, fmt.Errorf("failed to remove empty directory %s: %w", dir, err)
			}
		}
	}

	sort.Strings(removed)
	return removed, nil
}

func isSource(name string) bool {
	if strings.HasSuffix(name, ".d.ts") {
		return false
	}
	ext := path.Ext(name)
	return ext == ".ts" || ext == ".tsx"
}

func isCompilerConfig(name string) bool {
	ok, _ := path.Match("tsconfig*.json", name)
	return ok
}

func copyFile(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}
	if err := atomic.WriteFile(dst, f); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}
