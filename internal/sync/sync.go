package sync

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/schaermu/b6psync/internal/integrity"
	"github.com/schaermu/b6psync/internal/ledger"
	"github.com/schaermu/b6psync/internal/location"
	"github.com/schaermu/b6psync/internal/remote"
	"github.com/schaermu/b6psync/internal/script"
)

// DefaultConcurrency bounds parallel transfers in a batch
const DefaultConcurrency = 4

// Engine decides which files to transfer and moves them between the local
// tree and the remote store
type Engine struct {
	client      *remote.Client
	logger      *slog.Logger
	concurrency int
	dryRun      bool
}

// NewEngine creates a new sync engine
func NewEngine(client *remote.Client, logger *slog.Logger, concurrency int, dryRun bool) *Engine {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Engine{
		client:      client,
		logger:      logger,
		concurrency: concurrency,
		dryRun:      dryRun,
	}
}

// DownloadOptions tunes a download
type DownloadOptions struct {
	// IfModified sends If-Modified-Since based on the last recorded pull
	IfModified bool
}

// Upload pushes n to overrideURL, or to its canonical remote URL when
// overrideURL is empty. Files the decision chain rejects are reported as
// skipped; folders are not applicable.
func (e *Engine) Upload(ctx context.Context, n script.Node, overrideURL string) (Result, error) {
	loc := n.Location()
	res := Result{Path: loc.Rel()}

	if n.IsFolder() {
		res.Status = StatusNotApplicable
		res.Reason = ReasonFolder
		return res, nil
	}

	reason, err := e.ReasonToNotPush(ctx, n, overrideURL)
	if err != nil {
		return failed(res, err)
	}
	if reason != "" {
		e.logger.Debug("not pushing file", "path", res.Path, "reason", reason)
		res.Status = StatusSkipped
		res.Reason = reason
		return res, nil
	}

	url, err := resolveURL(n, overrideURL)
	if err != nil {
		return failed(res, err)
	}
	res.URL = url

	data, err := readFile(n)
	if err != nil {
		return failed(res, err)
	}
	res.Hash = integrity.LocalHash(data)

	if e.dryRun {
		e.logger.Info("[dry-run] would push", "path", res.Path, "url", url)
		res.Status = StatusSkipped
		res.Reason = "dry run"
		return res, nil
	}

	e.logger.Info("pushing file", "path", res.Path, "url", url, "bytes", len(data))
	if _, err := e.client.Put(ctx, url, data); err != nil {
		return failed(res, err)
	}

	if err := n.Root().Ledger().Touch(res.Path, ledger.Push, res.Hash); err != nil {
		return failed(res, err)
	}

	res.Status = StatusTransferred
	return res, nil
}

// Download pulls n from its remote URL, verifies the written content
// against the response ETag and records the pull. Excluded files have their
// record dropped instead.
func (e *Engine) Download(ctx context.Context, n script.Node, opts DownloadOptions) (Result, error) {
	loc := n.Location()
	root := n.Root()
	res := Result{Path: loc.Rel()}

	if n.IsFolder() {
		res.Status = StatusNotApplicable
		res.Reason = ReasonFolder
		return res, nil
	}

	if root.IsIgnored(loc) {
		if _, err := root.Ledger().Forget(res.Path); err != nil {
			return failed(res, err)
		}
		res.Status = StatusNotApplicable
		res.Reason = ReasonIgnored
		return res, nil
	}

	url, err := n.RemoteURL()
	if err != nil {
		return failed(res, err)
	}
	res.URL = url

	var since time.Time
	if opts.IfModified {
		l, err := root.Ledger().Load()
		if err != nil {
			return failed(res, err)
		}
		if rec, ok := l.Record(res.Path); ok && rec.LastPulled != nil {
			if exists, _ := n.Exists(); exists {
				since = *rec.LastPulled
			}
		}
	}

	if e.dryRun {
		e.logger.Info("[dry-run] would pull", "path", res.Path, "url", url)
		res.Status = StatusSkipped
		res.Reason = "dry run"
		return res, nil
	}

	e.logger.Info("pulling file", "path", res.Path, "url", url)
	resp, err := e.client.Get(ctx, url, since)
	if err != nil {
		return failed(res, err)
	}
	if resp.StatusCode == http.StatusNotModified {
		res.Status = StatusNotModified
		return res, nil
	}

	if err := writeFile(n.Path(), resp.Body); err != nil {
		return failed(res, err)
	}

	written, err := readFile(n)
	if err != nil {
		return failed(res, err)
	}
	res.Hash = integrity.LocalHash(written)

	remoteHash, err := parseETag(resp.ETag)
	if err != nil {
		return failed(res, fmt.Errorf("failed to verify %s: %w", res.Path, err))
	}
	if err := integrity.Verify(res.Hash, remoteHash); err != nil {
		if mismatch, ok := err.(*integrity.MismatchError); ok {
			mismatch.Path = res.Path
		}
		return failed(res, err)
	}

	if err := root.Ledger().Touch(res.Path, ledger.Pull, res.Hash); err != nil {
		return failed(res, err)
	}

	res.Status = StatusTransferred
	return res, nil
}

// Push uploads every node concurrently. A failing node never stops the
// others; every outcome is in the report.
func (e *Engine) Push(ctx context.Context, nodes []script.Node) *Report {
	return e.batch(ctx, "push", nodes, func(ctx context.Context, n script.Node) (Result, error) {
		return e.Upload(ctx, n, "")
	})
}

// Pull downloads every node concurrently, with the same failure isolation
// as Push.
func (e *Engine) Pull(ctx context.Context, nodes []script.Node, opts DownloadOptions) *Report {
	return e.batch(ctx, "pull", nodes, func(ctx context.Context, n script.Node) (Result, error) {
		return e.Download(ctx, n, opts)
	})
}

func (e *Engine) batch(ctx context.Context, op string, nodes []script.Node, transfer func(context.Context, script.Node) (Result, error)) *Report {
	start := time.Now()
	e.logger.Info("starting "+op, "files", len(nodes), "concurrency", e.concurrency, "dry_run", e.dryRun)

	results := make([]Result, len(nodes))
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i, n := range nodes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Path: n.Location().Rel(), Status: StatusFailed, Err: err}
				return nil
			}

			res, err := transfer(ctx, n)
			if err != nil {
				e.logger.Error(op+" failed", "path", res.Path, "error", err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{}
	for _, res := range results {
		report.Add(res)
	}
	report.Duration = time.Since(start)

	e.logger.Info(op+" complete",
		"transferred", report.Transferred,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.Duration)
	return report
}

// DraftNodes lists every file in the root's draft zone except build output
func DraftNodes(root *script.Root) ([]script.Node, error) {
	locs, err := root.DiscoverFiles(location.ZoneDraft, func(rel string) bool {
		return rel == script.BuildDirName
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover draft files: %w", err)
	}

	nodes := make([]script.Node, 0, len(locs))
	for _, loc := range locs {
		nodes = append(nodes, script.NewFile(loc, root))
	}
	return nodes, nil
}

// RecordedNodes lists every file the root's ledger has a record for. Records
// that do not parse or point outside the root are logged and skipped so one
// bad entry does not block the rest of the pull.
func (e *Engine) RecordedNodes(root *script.Root) ([]script.Node, error) {
	l, err := root.Ledger().Load()
	if err != nil {
		return nil, err
	}

	nodes := make([]script.Node, 0, len(l.Records))
	for _, p := range l.Paths() {
		loc, err := location.Parse(filepath.Join(root.Path(), filepath.FromSlash(p)))
		if err != nil {
			e.logger.Warn("skipping unparsable ledger record", "path", p, "error", err)
			continue
		}
		if !loc.SameRoot(root.Location()) || loc.IsRoot() {
			e.logger.Warn("skipping ledger record outside the script root", "path", p)
			continue
		}
		nodes = append(nodes, script.NewFile(loc, root))
	}
	return nodes, nil
}

func failed(res Result, err error) (Result, error) {
	res.Status = StatusFailed
	res.Err = err
	return res, err
}

func readFile(n script.Node) ([]byte, error) {
	data, err := os.ReadFile(n.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", n.Path(), err)
	}
	return data, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
