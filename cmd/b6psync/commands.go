package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/schaermu/b6psync/internal/build"
	"github.com/schaermu/b6psync/internal/config"
	"github.com/schaermu/b6psync/internal/location"
	"github.com/schaermu/b6psync/internal/remote"
	"github.com/schaermu/b6psync/internal/script"
	"github.com/schaermu/b6psync/internal/sync"
	"github.com/schaermu/b6psync/internal/watch"
)

// app bundles what every command needs
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *script.Registry
	out      io.Writer
	closeLog func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	logger := setupLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	w, closeLog := logOutput(cmd.ErrOrStderr(), cfg)
	logger = setupLogger(w)

	registry, err := script.NewRegistry(cfg.OriginURL(), logger, 0)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		out:      cmd.OutOrStdout(),
		closeLog: closeLog,
	}, nil
}

func (a *app) Close() {
	_ = a.closeLog()
}

func (a *app) engine() (*sync.Engine, error) {
	if err := a.cfg.RequireRemote(); err != nil {
		return nil, err
	}
	httpClient, err := remote.NewHTTPClient(a.cfg.Remote.TokenFile, a.cfg.Remote.Timeout)
	if err != nil {
		return nil, err
	}
	return sync.NewEngine(remote.NewClient(httpClient), a.logger, a.cfg.Sync.Concurrency, dryRun), nil
}

// resolve turns arguments (default: the working directory) into nodes
func (a *app) resolve(args []string) ([]script.Node, error) {
	if len(args) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		args = []string{cwd}
	}

	nodes := make([]script.Node, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", arg, err)
		}
		n, err := a.registry.Resolve(abs)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// resolveRoot resolves a single optional path argument to its root
func (a *app) resolveRoot(args []string) (*script.Root, error) {
	if len(args) > 1 {
		return nil, fmt.Errorf("expected at most one path, got %d", len(args))
	}
	nodes, err := a.resolve(args)
	if err != nil {
		return nil, err
	}
	return nodes[0].Root(), nil
}

// expand replaces folders by the files below them that list returns
func expand(nodes []script.Node, list func(*script.Root) ([]script.Node, error)) ([]script.Node, error) {
	seen := make(map[string]bool)
	var out []script.Node

	add := func(n script.Node) {
		if !seen[n.Path()] {
			seen[n.Path()] = true
			out = append(out, n)
		}
	}

	for _, n := range nodes {
		if !n.IsFolder() {
			add(n)
			continue
		}
		all, err := list(n.Root())
		if err != nil {
			return nil, err
		}
		for _, child := range all {
			if within(n.Location(), child.Location()) {
				add(child)
			}
		}
	}
	return out, nil
}

func within(folder, loc location.Location) bool {
	if folder.IsRoot() {
		return true
	}
	if folder.Zone != loc.Zone {
		return false
	}
	return loc.HasPrefix(folder.RelativePath)
}

func printReport(out io.Writer, report *sync.Report) error {
	for _, res := range report.Results {
		line := fmt.Sprintf("%-14s %s", res.Status, res.Path)
		switch {
		case res.Err != nil:
			line += ": " + res.Err.Error()
		case res.Reason != "":
			line += " (" + res.Reason + ")"
		}
		_, _ = fmt.Fprintln(out, line)
	}
	_, _ = fmt.Fprintf(out, "%d transferred, %d skipped, %d failed in %s\n",
		report.Transferred, report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", report.Failed, len(report.Results))
	}
	return nil
}

func runPush(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.engine()
	if err != nil {
		return err
	}

	nodes, err := a.resolve(args)
	if err != nil {
		return err
	}

	if overrideTo != "" {
		if len(nodes) != 1 || nodes[0].IsFolder() {
			return fmt.Errorf("--url needs exactly one file")
		}
		res, err := engine.Upload(ctx, nodes[0], overrideTo)
		return printReport(a.out, singleReport(res, err))
	}

	nodes, err = expand(nodes, sync.DraftNodes)
	if err != nil {
		return err
	}
	return printReport(a.out, engine.Push(ctx, nodes))
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.engine()
	if err != nil {
		return err
	}

	nodes, err := a.resolve(args)
	if err != nil {
		return err
	}
	nodes, err = expand(nodes, engine.RecordedNodes)
	if err != nil {
		return err
	}

	return printReport(a.out, engine.Pull(ctx, nodes, sync.DownloadOptions{IfModified: ifModified}))
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	root, err := a.resolveRoot(args)
	if err != nil {
		return err
	}

	compiler := build.NewShellCompiler(a.cfg.Build.Compiler, a.cfg.Build.CompilerArgs)
	summary, err := build.NewReconciler(compiler, a.logger).Reconcile(ctx, root)
	if err != nil {
		return err
	}

	for _, d := range summary.Diagnostics {
		_, _ = fmt.Fprintln(a.out, d.String())
	}
	_, _ = fmt.Fprintf(a.out, "%d compiled, %d emitted, %d copied, %d removed, %d records pruned\n",
		len(summary.Compiled), len(summary.Emitted), len(summary.Copied), len(summary.Removed), len(summary.Pruned))

	if summary.HasErrors() {
		return fmt.Errorf("compiler reported errors")
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	root, err := a.resolveRoot(args)
	if err != nil {
		return err
	}

	problems, err := root.CheckStructure()
	if err != nil {
		return err
	}
	for _, p := range problems {
		_, _ = fmt.Fprintln(a.out, p.String())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d structure problems", len(problems))
	}
	_, _ = fmt.Fprintln(a.out, "structure ok")
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	root, err := a.resolveRoot(args[:1])
	if err != nil {
		return err
	}
	if err := root.Ledger().SetWebdavID(args[1]); err != nil {
		return fmt.Errorf("failed to link script: %w", err)
	}

	_, _ = fmt.Fprintf(a.out, "linked %s to %s\n", root.Path(), args[1])
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.engine()
	if err != nil {
		return err
	}
	root, err := a.resolveRoot(args)
	if err != nil {
		return err
	}

	w := watch.New(root, func(ctx context.Context) error {
		nodes, err := sync.DraftNodes(root)
		if err != nil {
			return err
		}
		return engine.Push(ctx, nodes).Err()
	}, a.cfg.Watch.Debounce, a.logger)

	return w.Run(ctx)
}

func singleReport(res sync.Result, err error) *sync.Report {
	report := &sync.Report{}
	if err != nil && res.Err == nil {
		res.Err = err
		res.Status = sync.StatusFailed
	}
	report.Add(res)
	return report
}
