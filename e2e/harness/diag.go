//go:build e2e

package harness

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schaermu/b6psync/internal/location"
)

// Diagnostics represents collected diagnostic information
type Diagnostics struct {
	CollectedAt time.Time
	Items       []DiagItem
}

// DiagItem is one named block of diagnostic output
type DiagItem struct {
	Name   string
	Output string
}

// CollectDiagnostics gathers the workspace layout, every ledger, the log
// file and the requests the store has seen.
func (s *Suite) CollectDiagnostics(_ context.Context) (*Diagnostics, error) {
	diag := &Diagnostics{
		CollectedAt: time.Now(),
		Items:       []DiagItem{},
	}

	var tree, ledgers strings.Builder
	err := filepath.WalkDir(s.Workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(s.Workspace, path)
		if d.IsDir() {
			fmt.Fprintf(&tree, "%s/\n", rel)
			return nil
		}
		fmt.Fprintf(&tree, "%s\n", rel)
		if d.Name() == location.MetadataFileName {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(&ledgers, "# %s\n%s\n", rel, data)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk workspace: %w", err)
	}
	diag.Items = append(diag.Items, DiagItem{Name: "workspace-tree", Output: tree.String()})
	diag.Items = append(diag.Items, DiagItem{Name: "ledgers", Output: ledgers.String()})

	logs, _ := s.ReadFile("logs/b6psync.log")
	diag.Items = append(diag.Items, DiagItem{Name: "log-file", Output: logs})

	if s.Store != nil {
		diag.Items = append(diag.Items,
			DiagItem{Name: "store-documents", Output: strings.Join(s.Store.Paths(), "\n")},
			DiagItem{Name: "store-requests", Output: strings.Join(s.Store.Requests(), "\n")},
		)
	}

	return diag, nil
}

// DumpDiagnostics collects and logs diagnostic information
func (s *Suite) DumpDiagnostics(ctx context.Context) {
	s.Logf("=== Collecting diagnostics ===")

	diag, err := s.CollectDiagnostics(ctx)
	if err != nil {
		s.Logf("Failed to collect diagnostics: %v", err)
		return
	}

	for _, item := range diag.Items {
		s.Logf("--- %s ---", item.Name)
		if item.Output != "" {
			s.Logf("%s", item.Output)
		} else {
			s.Logf("(no output)")
		}
	}

	s.Logf("=== End diagnostics ===")
}

// RunScenario runs a test scenario and collects diagnostics on failure
func (s *Suite) RunScenario(ctx context.Context, name string, fn func(context.Context) error) error {
	s.Logf("Running scenario: %s", name)
	err := fn(ctx)
	if err != nil {
		s.Logf("Scenario %s failed: %v", name, err)
		s.DumpDiagnostics(ctx)
	} else {
		s.Logf("Scenario %s passed", name)
	}
	return err
}
