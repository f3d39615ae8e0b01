package firewall

import (
	"context"
	"errors"
	"fmt"

	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/metrics"
)

// ErrUnsupportedSet is returned for set ids outside the provisioned catalogue.
var ErrUnsupportedSet = errors.New("set is not supported for checking")

// SetLister lists the members of a kernel set by name.
type SetLister interface {
	ListSetMembers(ctx context.Context, name string) ([]string, error)
}

// Snapshot is the member list of one set as read during a pass.
type Snapshot struct {
	Members []string
	// Unavailable is set when the listing failed. Members is then empty and
	// says nothing about the kernel state.
	Unavailable bool

	index map[string]struct{}
}

func newSnapshot(members []string, unavailable bool) *Snapshot {
	s := &Snapshot{
		Members:     members,
		Unavailable: unavailable,
		index:       make(map[string]struct{}, len(members)),
	}
	for _, m := range members {
		s.index[m] = struct{}{}
	}
	return s
}

// Contains reports whether member appears verbatim in the snapshot.
func (s *Snapshot) Contains(member string) bool {
	_, ok := s.index[member]
	return ok
}

// SetCache holds the set snapshots of one reconciliation pass. Each set is
// listed at most once until Reset. A SetCache is not safe for concurrent use;
// it belongs to the pass that created it.
type SetCache struct {
	lister  SetLister
	logger  *logging.Logger
	metrics *metrics.Registry
	entries map[SetID]*Snapshot
	queries int
}

// NewSetCache creates an empty cache reading through lister.
// A nil logger or registry falls back to the process defaults.
func NewSetCache(lister SetLister, logger *logging.Logger, m *metrics.Registry) *SetCache {
	if logger == nil {
		logger = logging.WithComponent("setcache")
	}
	if m == nil {
		m = metrics.Get()
	}
	return &SetCache{
		lister:  lister,
		logger:  logger,
		metrics: m,
		entries: make(map[SetID]*Snapshot),
	}
}

// Read returns the snapshot of the set, listing it on first use.
//
// Ids outside the catalogue fail with ErrUnsupportedSet and are not cached.
// A failed listing is logged and cached as an unavailable snapshot for the
// rest of the pass.
func (c *SetCache) Read(ctx context.Context, id SetID) (*Snapshot, error) {
	if !id.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSet, id.String())
	}
	if snap, ok := c.entries[id]; ok {
		return snap, nil
	}

	name := id.String()
	c.queries++
	members, err := c.lister.ListSetMembers(ctx, name)
	c.metrics.RecordSetQuery(name, len(members), err)

	var snap *Snapshot
	if err != nil {
		c.logger.Error("failed to read entries from set", "set", name, "error", err)
		snap = newSnapshot(nil, true)
	} else {
		snap = newSnapshot(members, false)
	}
	c.entries[id] = snap
	return snap, nil
}

// Reset forgets every snapshot.
func (c *SetCache) Reset() {
	clear(c.entries)
}

// Queries returns how many listings this cache has issued.
func (c *SetCache) Queries() int {
	return c.queries
}
