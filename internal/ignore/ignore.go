// Package ignore evaluates a script's .gitignore patterns against paths
// relative to the script root.
package ignore

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/natefinch/atomic"
)

// DefaultPatterns is used when a script has no .gitignore
var DefaultPatterns = []string{"**/.DS_Store"}

// List is an ordered set of glob patterns
type List struct {
	Patterns []string

	compiled []string
}

// New builds a list from raw patterns, dropping invalid ones
func New(patterns []string) *List {
	l := &List{Patterns: slices.Clone(patterns)}
	l.compile(nil)
	return l
}

// Parse reads gitignore-formatted content. Blank lines and comments are
// skipped.
func Parse(data []byte) []string {
	var patterns []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// Matches reports whether rel (slash separated, relative to the script
// root) or one of its parent directories matches any pattern.
func (l *List) Matches(rel string) bool {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return false
	}

	for candidate := rel; candidate != "." && candidate != ""; candidate = path.Dir(candidate) {
		for _, pattern := range l.compiled {
			if ok, _ := doublestar.Match(pattern, candidate); ok {
				return true
			}
		}
	}
	return false
}

func (l *List) compile(logger *slog.Logger) {
	l.compiled = l.compiled[:0]
	for _, raw := range l.Patterns {
		pattern := normalize(raw)
		if pattern == "" || !doublestar.ValidatePattern(pattern) {
			if logger != nil {
				logger.Warn("dropping invalid ignore pattern", "pattern", raw)
			}
			continue
		}
		l.compiled = append(l.compiled, pattern)
	}
}

// normalize rewrites a gitignore pattern into a doublestar glob relative to
// the script root.
func normalize(raw string) string {
	p := strings.TrimSpace(raw)
	if strings.HasPrefix(p, "!") {
		// negations are not supported
		return ""
	}

	dirOnly := strings.HasSuffix(p, "/")
	p = strings.TrimSuffix(p, "/")

	if strings.HasPrefix(p, "/") {
		p = strings.TrimPrefix(p, "/")
	} else if !strings.Contains(p, "/") {
		p = "**/" + p
	}
	if p == "" || p == "**/" {
		return ""
	}
	if dirOnly {
		p += "/**"
	}
	return p
}

// Store loads and persists a script's .gitignore
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a store for the ignore file at path
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Load returns the exclusion list. A missing or unreadable file yields the
// defaults.
func (s *Store) Load() *List {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read ignore file, using defaults", "path", s.path, "error", err)
		}
		return s.list(DefaultPatterns)
	}
	return s.list(Parse(data))
}

// Modify applies fn to the current patterns and writes them back if they
// changed. It reports whether the file was written.
func (s *Store) Modify(fn func(patterns []string) []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Load().Patterns
	next := fn(slices.Clone(current))
	if slices.Equal(current, next) {
		return false, nil
	}

	var buf bytes.Buffer
	for _, p := range next {
		buf.WriteString(p)
		buf.WriteByte('\n')
	}
	if err := atomic.WriteFile(s.path, &buf); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) list(patterns []string) *List {
	l := &List{Patterns: slices.Clone(patterns)}
	l.compile(s.logger)
	return l
}
