// Package script models a script root on disk: its zones, its ledger and
// exclusion list, and the file and folder nodes beneath it.
package script

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/schaermu/b6psync/internal/ignore"
	"github.com/schaermu/b6psync/internal/ledger"
	"github.com/schaermu/b6psync/internal/location"
)

// Well-known folders inside the draft zone
const (
	InfoDir    = "info"
	ObjectsDir = "objects"
	ScriptsDir = "scripts"

	// BuildDirName holds compiled output inside the draft zone
	BuildDirName = ".build"
)

var (
	// ErrNoWebdavID is returned when the ledger does not know the script's
	// remote identifier yet
	ErrNoWebdavID = errors.New("script has no webdav id (link it first)")
	// ErrNoRemoteMapping is returned for zones that have no remote
	// counterpart
	ErrNoRemoteMapping = errors.New("zone has no remote mapping")
)

// Root is one script root. It owns the script's ledger and exclusion list.
type Root struct {
	loc    location.Location
	origin string
	logger *slog.Logger

	ledger *ledger.Store

	ignoreOnce  sync.Once
	ignoreStore *ignore.Store

	configMu    sync.Mutex
	configCache *cachedConfig
}

// NewRoot creates the root that loc belongs to. origin is the remote host,
// optionally with a scheme (https is assumed otherwise).
func NewRoot(loc location.Location, origin string, logger *slog.Logger, opts ...ledger.Option) *Root {
	rootLoc := loc.Root()
	defaults := ledger.Ledger{
		ScriptName:      rootLoc.ScriptName,
		OrganizationRef: rootLoc.OrganizationID,
	}
	return &Root{
		loc:    rootLoc,
		origin: origin,
		logger: logger.With("script", rootLoc.ScriptName, "org", rootLoc.OrganizationID),
		ledger: ledger.NewStore(filepath.Join(rootLoc.Path(), location.MetadataFileName), defaults, logger, opts...),
	}
}

// Location returns the root's own location
func (r *Root) Location() location.Location {
	return r.loc
}

// Path returns the root directory
func (r *Root) Path() string {
	return r.loc.Path()
}

// Zone returns the location of a zone directory
func (r *Root) Zone(zone location.Zone) location.Location {
	return r.loc.WithZone(zone, "")
}

// DraftPath returns the draft directory
func (r *Root) DraftPath() string {
	return r.Zone(location.ZoneDraft).Path()
}

// Ledger returns the root's ledger store
func (r *Root) Ledger() *ledger.Store {
	return r.ledger
}

// Ignore returns the root's exclusion list, read fresh from disk
func (r *Root) Ignore() *ignore.List {
	return r.IgnoreStore().Load()
}

// IgnoreStore returns the store backing the root's .gitignore
func (r *Root) IgnoreStore() *ignore.Store {
	r.ignoreOnce.Do(func() {
		r.ignoreStore = ignore.NewStore(filepath.Join(r.Path(), location.IgnoreFileName), r.logger)
	})
	return r.ignoreStore
}

// IsIgnored reports whether loc matches the root's exclusion list
func (r *Root) IsIgnored(loc location.Location) bool {
	return r.Ignore().Matches(loc.Rel())
}

// WebdavID returns the script's remote identifier from the ledger
func (r *Root) WebdavID() (string, error) {
	l, err := r.ledger.Load()
	if err != nil {
		return "", err
	}
	if l.WebdavID == "" {
		return "", ErrNoWebdavID
	}
	return l.WebdavID, nil
}

// BaseURL returns https://<origin>/files/<webdavId>/
func (r *Root) BaseURL() (string, error) {
	id, err := r.WebdavID()
	if err != nil {
		return "", err
	}

	origin := strings.TrimSuffix(r.origin, "/")
	if !strings.Contains(origin, "://") {
		origin = "https://" + origin
	}
	return origin + "/files/" + url.PathEscape(id) + "/", nil
}

// RemoteURL maps the zone and relative path of loc onto this root's remote.
// Draft files live at the base URL, declarations under "declarations/". loc
// may come from another script, which is how a file is pushed to a root it
// was not parsed from.
func (r *Root) RemoteURL(loc location.Location) (string, error) {
	var prefix string
	switch loc.Zone {
	case location.ZoneDraft:
		prefix = ""
	case location.ZoneDeclarations:
		prefix = "declarations/"
	case location.ZoneRoot, location.ZoneSnapshot, location.ZoneMetadataFile, location.ZoneIgnoreFile:
		return "", fmt.Errorf("%s (%s): %w", loc.Rel(), zoneName(loc.Zone), ErrNoRemoteMapping)
	default:
		return "", fmt.Errorf("%s: %w", loc.Rel(), ErrNoRemoteMapping)
	}

	base, err := r.BaseURL()
	if err != nil {
		return "", err
	}
	return base + prefix + escapePath(loc.RelativePath), nil
}

// Equal reports whether both roots address the same script and remote
func (r *Root) Equal(other *Root) bool {
	if other == nil {
		return false
	}
	if !r.loc.SameRoot(other.loc) {
		return false
	}
	a, errA := r.BaseURL()
	b, errB := other.BaseURL()
	if errA != nil || errB != nil {
		return errA != nil && errB != nil && r.origin == other.origin
	}
	return a == b
}

func escapePath(rel string) string {
	if rel == "" {
		return ""
	}
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func zoneName(z location.Zone) string {
	if z == location.ZoneRoot {
		return "root"
	}
	return z.String()
}
