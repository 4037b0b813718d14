package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/natefinch/atomic"
)

const (
	maxReadAttempts     = 3
	maxCommitAttempts   = 3
	defaultRetryDelay   = time.Second
	ledgerFileMode      = 0644
	ledgerDirectoryMode = 0755
)

// ErrConcurrentModification is returned by Modify when another writer kept
// bumping the ledger revision underneath it.
var ErrConcurrentModification = errors.New("ledger was modified concurrently")

// TransientIOError reports a ledger read that kept failing after retries
type TransientIOError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("failed to read ledger %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

// Store loads and persists one ledger file. All Modify calls on a Store are
// serialised; writers in other processes are detected through the revision
// counter.
type Store struct {
	path     string
	defaults Ledger
	logger   *slog.Logger

	mu sync.Mutex

	now        func() time.Time
	retryDelay time.Duration
	readFile   func(string) ([]byte, error)
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithRetryDelay overrides the delay between read attempts
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

// NewStore creates a store for the ledger at path. defaults seeds the
// identifying fields of a fresh ledger.
func NewStore(path string, defaults Ledger, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		path:       path,
		defaults:   Ledger{ScriptName: defaults.ScriptName, OrganizationRef: defaults.OrganizationRef, WebdavID: defaults.WebdavID},
		logger:     logger,
		now:        time.Now,
		retryDelay: defaultRetryDelay,
		readFile:   os.ReadFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the ledger file path
func (s *Store) Path() string {
	return s.path
}

// Load reads the ledger. A missing, empty or malformed file yields a fresh
// ledger; only repeated I/O failures are returned as errors.
func (s *Store) Load() (*Ledger, error) {
	return s.load()
}

// Modify applies fn to a copy of the current ledger and persists the result
// if it differs. fn may run more than once when a concurrent writer is
// detected. It reports whether the ledger was written.
func (s *Store) Modify(fn func(*Ledger) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		current, err := s.load()
		if err != nil {
			return false, err
		}

		next := current.clone()
		if err := fn(next); err != nil {
			return false, err
		}

		if cmp.Equal(current, next, cmpopts.EquateEmpty()) {
			return false, nil
		}

		committed, err := s.commit(current.Revision, next)
		if err != nil {
			return false, err
		}
		if committed {
			return true, nil
		}

		s.logger.Warn("ledger changed on disk during update, retrying",
			"path", s.path,
			"attempt", attempt)
	}

	return false, ErrConcurrentModification
}

// Touch records a successful transfer of path
func (s *Store) Touch(path string, kind Kind, hash string) error {
	_, err := s.Modify(func(l *Ledger) error {
		l.Touch(path, kind, hash, s.now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record %s of %s: %w", kind, path, err)
	}
	return nil
}

// Forget drops the record for path
func (s *Store) Forget(path string) (bool, error) {
	var removed bool
	_, err := s.Modify(func(l *Ledger) error {
		removed = l.Forget(path)
		return nil
	})
	return removed, err
}

// Prune drops every record keep rejects and returns the removed paths
func (s *Store) Prune(keep func(path string) bool) ([]string, error) {
	var removed []string
	_, err := s.Modify(func(l *Ledger) error {
		removed = l.Prune(keep)
		return nil
	})
	return removed, err
}

// SetWebdavID stores the remote identifier of the script
func (s *Store) SetWebdavID(id string) error {
	_, err := s.Modify(func(l *Ledger) error {
		l.WebdavID = id
		return nil
	})
	return err
}

func (s *Store) fresh() *Ledger {
	l := s.defaults
	l.Records = []Record{}
	return &l
}

func (s *Store) load() (*Ledger, error) {
	var lastErr error
	for attempt := 1; attempt <= maxReadAttempts; attempt++ {
		data, err := s.readFile(s.path)
		if err == nil {
			return s.decode(data), nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return s.fresh(), nil
		}

		lastErr = err
		s.logger.Warn("failed to read ledger",
			"path", s.path,
			"attempt", attempt,
			"error", err)
		if attempt < maxReadAttempts {
			time.Sleep(s.retryDelay)
		}
	}

	return nil, &TransientIOError{Path: s.path, Attempts: maxReadAttempts, Err: lastErr}
}

func (s *Store) decode(data []byte) *Ledger {
	if len(bytes.TrimSpace(data)) == 0 {
		s.logger.Warn("ledger file is empty, starting fresh", "path", s.path)
		return s.fresh()
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		s.logger.Warn("ledger file is corrupt, starting fresh", "path", s.path, "error", err)
		return s.fresh()
	}

	if l.ScriptName == "" {
		l.ScriptName = s.defaults.ScriptName
	}
	if l.OrganizationRef == "" {
		l.OrganizationRef = s.defaults.OrganizationRef
	}
	if l.WebdavID == "" {
		l.WebdavID = s.defaults.WebdavID
	}
	if l.Records == nil {
		l.Records = []Record{}
	}
	return &l
}

// commit writes next if the revision on disk still equals expected
func (s *Store) commit(expected int64, next *Ledger) (bool, error) {
	onDisk, err := s.diskRevision()
	if err != nil {
		return false, err
	}
	if onDisk != expected {
		return false, nil
	}

	next.Revision = expected + 1
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to encode ledger: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), ledgerDirectoryMode); err != nil {
		return false, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return false, fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Chmod(s.path, ledgerFileMode); err != nil {
		return false, fmt.Errorf("failed to set ledger permissions: %w", err)
	}

	s.logger.Debug("ledger saved", "path", s.path, "revision", next.Revision, "records", len(next.Records))
	return true, nil
}

func (s *Store) diskRevision() (int64, error) {
	data, err := s.readFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to re-read ledger: %w", err)
	}

	// a file load() treated as corrupt counts as revision 0
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return 0, nil
	}
	return l.Revision, nil
}
