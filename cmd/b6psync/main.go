package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/schaermu/b6psync/internal/config"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string

	// Command flags
	dryRun     bool
	overrideTo string
	ifModified bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "b6psync",
	Short: "Synchronize script sources with a remote document store",
	Long: `b6psync keeps a local script working tree in sync with a remote document
store. Scripts live below <org>/<script name>/ where <org> is an organization
id such as U1001.

Pushes only send files whose content differs from what the store reports,
pulls verify downloaded content against the store's integrity header, and
every transfer is recorded in the script's .b6p_metadata.json ledger.`,
	SilenceUsage: true,
}

var pushCmd = &cobra.Command{
	Use:   "push [path...]",
	Short: "Upload changed draft files",
	Long: `Push walks the draft tree of each given script (or uploads the given files)
and sends every file that is not excluded and whose content differs from the
remote copy. Defaults to the current directory.`,
	RunE: runPush,
}

var pullCmd = &cobra.Command{
	Use:   "pull [path...]",
	Short: "Download files recorded in the ledger",
	Long: `Pull downloads the given files, or every file the script's ledger has a
record for when a script root or folder is given, and verifies each download
against the remote integrity header.`,
	RunE: runPull,
}

var buildCmd = &cobra.Command{
	Use:   "build [path]",
	Short: "Compile draft sources into draft/.build",
	RunE:  runBuild,
}

var checkCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Check the draft info/ and objects/ folders",
	RunE:  runCheck,
}

var linkCmd = &cobra.Command{
	Use:   "link <path> <webdav-id>",
	Short: "Record the remote identifier of a script",
	Args:  cobra.ExactArgs(2),
	RunE:  runLink,
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Push whenever the draft tree changes",
	RunE:  runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "b6psync %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/b6psync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	pushCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be pushed without uploading")
	pushCmd.Flags().StringVar(&overrideTo, "url", "", "upload a single file to this URL instead of its canonical one")
	pullCmd.Flags().BoolVar(&ifModified, "if-modified", false, "skip files the remote reports unchanged since the last pull")

	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogger(out io.Writer) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

// logOutput tees log output into a rotating file when one is configured
func logOutput(stdout io.Writer, cfg *config.Config) (io.Writer, func() error) {
	if cfg.Log.File == "" {
		return stdout, func() error { return nil }
	}

	file := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
	return io.MultiWriter(stdout, file), file.Close
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	configPath := cfgFile
	explicit := configPath != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "b6psync", "config.yaml")
	}

	if !explicit {
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no configuration file, using defaults", "path", configPath)
			return config.Default(), nil
		}
	}

	logger.Debug("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"origin", cfg.Remote.Origin,
		"concurrency", cfg.Sync.Concurrency,
		"compiler", cfg.Build.Compiler)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
