package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied to zero-value fields
const (
	DefaultConcurrency = 4
	DefaultCompiler    = "tsc"
	DefaultDebounce    = 2 * time.Second
	DefaultTimeout     = 30 * time.Second
	DefaultMaxSizeMB   = 10
	DefaultMaxBackups  = 3
	DefaultMaxAgeDays  = 28
)

// Config represents the complete b6psync configuration
type Config struct {
	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`
	Build  BuildConfig  `yaml:"build"`
	Watch  WatchConfig  `yaml:"watch"`
	Log    LogConfig    `yaml:"log"`
}

// RemoteConfig configures the document store
type RemoteConfig struct {
	Origin    string        `yaml:"origin"`
	TokenFile string        `yaml:"token_file"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SyncConfig configures push/pull batches
type SyncConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// BuildConfig configures the compiler
type BuildConfig struct {
	Compiler     string   `yaml:"compiler"`
	CompilerArgs []string `yaml:"compiler_args"`
}

// WatchConfig configures the draft watcher
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// LogConfig configures the optional rotating log file
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a configuration with only defaults set
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment so they can be referenced from the config. Variables already
// set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Remote.Origin = os.ExpandEnv(c.Remote.Origin)
	c.Remote.TokenFile = os.ExpandEnv(c.Remote.TokenFile)
	c.Build.Compiler = os.ExpandEnv(c.Build.Compiler)
	for i, arg := range c.Build.CompilerArgs {
		c.Build.CompilerArgs[i] = os.ExpandEnv(arg)
	}
	c.Log.File = os.ExpandEnv(c.Log.File)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = DefaultTimeout
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = DefaultConcurrency
	}
	if c.Build.Compiler == "" {
		c.Build.Compiler = DefaultCompiler
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = DefaultDebounce
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultMaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = DefaultMaxAgeDays
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Remote.Origin != "" {
		if err := validateOrigin(c.Remote.Origin); err != nil {
			return err
		}
	}
	if c.Remote.TokenFile != "" && !filepath.IsAbs(c.Remote.TokenFile) {
		return fmt.Errorf("remote.token_file must be an absolute path: %s", c.Remote.TokenFile)
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative")
	}

	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}

	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}

	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings must not be negative")
	}

	return nil
}

// RequireRemote reports an error when no remote origin is configured
func (c *Config) RequireRemote() error {
	if c.Remote.Origin == "" {
		return fmt.Errorf("remote.origin is required for this command")
	}
	return nil
}

// OriginURL returns the origin with a scheme, defaulting to https
func (c *Config) OriginURL() string {
	origin := strings.TrimSuffix(c.Remote.Origin, "/")
	if origin != "" && !strings.Contains(origin, "://") {
		origin = "https://" + origin
	}
	return origin
}

func validateOrigin(origin string) error {
	raw := origin
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid remote.origin %q: %w", origin, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("remote.origin must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("remote.origin %q has no host", origin)
	}
	return nil
}
