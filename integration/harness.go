//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/schaermu/b6psync/internal/remote"
	"github.com/schaermu/b6psync/internal/script"
	"github.com/schaermu/b6psync/internal/sync"
	"github.com/schaermu/b6psync/internal/testutil"
)

// Harness wires a fake document store, a root registry and a sync engine
// around a temporary workspace.
type Harness struct {
	t         *testing.T
	Store     *testutil.FakeStore
	Registry  *script.Registry
	Engine    *sync.Engine
	Logger    *slog.Logger
	Workspace string
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if os.Getenv("INTEGRATION_VERBOSE") == "1" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	store := testutil.NewFakeStore(t)
	registry, err := script.NewRegistry(store.URL(), logger, 0)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	return &Harness{
		t:         t,
		Store:     store,
		Registry:  registry,
		Engine:    sync.NewEngine(remote.NewClient(http.DefaultClient), logger, 4, false),
		Logger:    logger,
		Workspace: filepath.Join(t.TempDir(), "work"),
	}
}

// Script creates <workspace>/<org>/<name> with files, links it to webdavID
// and returns its root.
func (h *Harness) Script(org, name, webdavID string, files map[string]string) *script.Root {
	h.t.Helper()

	dir := filepath.Join(h.Workspace, org, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		h.t.Fatalf("failed to create script dir: %v", err)
	}
	testutil.WriteTree(h.t, dir, files)

	n, err := h.Registry.Resolve(dir)
	if err != nil {
		h.t.Fatalf("failed to resolve %s: %v", dir, err)
	}
	root := n.Root()
	if webdavID != "" {
		if err := root.Ledger().SetWebdavID(webdavID); err != nil {
			h.t.Fatalf("failed to link script: %v", err)
		}
	}
	return root
}

// Node resolves a path below root
func (h *Harness) Node(root *script.Root, rel string) script.Node {
	h.t.Helper()
	n, err := h.Registry.Resolve(filepath.Join(root.Path(), filepath.FromSlash(rel)))
	if err != nil {
		h.t.Fatalf("failed to resolve %s: %v", rel, err)
	}
	return n
}

// PushAll pushes every draft file of root
func (h *Harness) PushAll(ctx context.Context, root *script.Root) *sync.Report {
	h.t.Helper()
	nodes, err := sync.DraftNodes(root)
	if err != nil {
		h.t.Fatalf("failed to list draft files: %v", err)
	}
	return h.Engine.Push(ctx, nodes)
}

// PullAll pulls every file the ledger of root has a record for
func (h *Harness) PullAll(ctx context.Context, root *script.Root, opts sync.DownloadOptions) *sync.Report {
	h.t.Helper()
	nodes, err := h.Engine.RecordedNodes(root)
	if err != nil {
		h.t.Fatalf("failed to list recorded files: %v", err)
	}
	return h.Engine.Pull(ctx, nodes, opts)
}

// ReadFile reads a file below root
func (h *Harness) ReadFile(root *script.Root, rel string) string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(root.Path(), filepath.FromSlash(rel)))
	if err != nil {
		h.t.Fatalf("failed to read %s: %v", rel, err)
	}
	return string(data)
}

// WriteFile writes a file below root
func (h *Harness) WriteFile(root *script.Root, rel, content string) {
	h.t.Helper()
	testutil.WriteTree(h.t, root.Path(), map[string]string{rel: content})
}
