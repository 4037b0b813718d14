package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/schaermu/b6psync/internal/location"
)

const (
	// ConfigFileName is the script configuration inside draft/info
	ConfigFileName = "config.json"

	configPattern = "**/" + InfoDir + "/" + ConfigFileName
)

// ConfigLookupError reports zero or several candidates for a config file
// that must exist exactly once.
type ConfigLookupError struct {
	Root    string
	Pattern string
	Matches []string
}

func (e *ConfigLookupError) Error() string {
	if len(e.Matches) == 0 {
		return fmt.Sprintf("no %s found under %s", e.Pattern, e.Root)
	}
	return fmt.Sprintf("expected one %s under %s, found %d: %s", e.Pattern, e.Root, len(e.Matches), strings.Join(e.Matches, ", "))
}

// Config is the subset of draft/info/config.json the sync engine reads
type Config struct {
	Models []Model `json:"models"`
}

// Model is an externally managed data model
type Model struct {
	Name string `json:"name"`
}

// ConfigPath locates the script's config.json beneath the draft zone,
// ignoring the build output.
func (r *Root) ConfigPath() (string, error) {
	draft := r.DraftPath()

	var found []string
	err := fs.WalkDir(os.DirFS(draft), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == "." {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if p == BuildDirName {
				return fs.SkipDir
			}
			return nil
		}
		if ok, _ := doublestar.Match(configPattern, p); ok {
			found = append(found, p)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to search for %s: %w", ConfigFileName, err)
	}

	if len(found) != 1 {
		return "", &ConfigLookupError{Root: draft, Pattern: configPattern, Matches: found}
	}
	return filepath.Join(draft, filepath.FromSlash(found[0])), nil
}

// LoadConfig looks up and reads the script's config.json
func (r *Root) LoadConfig() (*Config, error) {
	p, err := r.ConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, _, err := readConfig(p)
	return cfg, err
}

// cachedConfig is the last config.json read together with the file state
// it was read from
type cachedConfig struct {
	path    string
	modTime time.Time
	size    int64
	cfg     *Config
}

// config returns the parsed config.json. The draft tree is only searched
// again when the file found last time changed or disappeared.
func (r *Root) config() (*Config, error) {
	r.configMu.Lock()
	defer r.configMu.Unlock()

	if c := r.configCache; c != nil {
		if info, err := os.Stat(c.path); err == nil && info.ModTime().Equal(c.modTime) && info.Size() == c.size {
			return c.cfg, nil
		}
		r.configCache = nil
	}

	p, err := r.ConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, info, err := readConfig(p)
	if err != nil {
		return nil, err
	}
	r.configCache = &cachedConfig{path: p, modTime: info.ModTime(), size: info.Size(), cfg: cfg}
	return cfg, nil
}

func readConfig(p string) (*Config, fs.FileInfo, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", p, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", p, err)
	}
	return &cfg, info, nil
}

// IsExternalModel reports whether loc's file name, with or without its
// extension, is listed as a model in config.json.
func (r *Root) IsExternalModel(loc location.Location) (bool, error) {
	cfg, err := r.config()
	if err != nil {
		return false, err
	}

	name := loc.Name()
	stem := strings.TrimSuffix(name, path.Ext(name))
	for _, m := range cfg.Models {
		if m.Name == "" {
			continue
		}
		if m.Name == name || m.Name == stem {
			return true, nil
		}
	}
	return false, nil
}
