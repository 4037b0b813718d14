package script

import (
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/schaermu/b6psync/internal/ledger"
	"github.com/schaermu/b6psync/internal/location"
)

// DefaultRegistrySize bounds the number of cached roots
const DefaultRegistrySize = 64

// Registry hands out one Root per script so that all nodes of a script
// share its ledger store.
type Registry struct {
	origin     string
	logger     *slog.Logger
	ledgerOpts []ledger.Option

	mu    sync.Mutex
	roots *lru.Cache[string, *Root]
}

// NewRegistry creates a registry holding up to size roots
func NewRegistry(origin string, logger *slog.Logger, size int, opts ...ledger.Option) (*Registry, error) {
	if size <= 0 {
		size = DefaultRegistrySize
	}
	cache, err := lru.New[string, *Root](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create root cache: %w", err)
	}
	return &Registry{
		origin:     origin,
		logger:     logger,
		ledgerOpts: opts,
		roots:      cache,
	}, nil
}

// Root returns the shared root for loc
func (g *Registry) Root(loc location.Location) *Root {
	key := rootKey(loc)

	g.mu.Lock()
	defer g.mu.Unlock()

	if root, ok := g.roots.Get(key); ok {
		return root
	}
	root := NewRoot(loc, g.origin, g.logger, g.ledgerOpts...)
	g.roots.Add(key, root)
	return root
}

// Resolve parses path and returns its node together with the shared root
func (g *Registry) Resolve(path string) (Node, error) {
	loc, err := location.Parse(path)
	if err != nil {
		return nil, err
	}
	return g.Root(loc).Node(loc)
}

// rootKey combines the shaved name with the organization, which the shaved
// name leaves out.
func rootKey(loc location.Location) string {
	return loc.OrganizationID + "|" + loc.ShavedName()
}
