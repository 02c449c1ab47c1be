// Package cache keeps recently served transaction snapshots in memory so that
// repeated full-list reads for the same owner skip the database.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"budgettracker/internal/models"
)

// DefaultTTL bounds how long an entry survives without an invalidation.
const DefaultTTL = 5 * time.Minute

// SnapshotCache stores full per-owner snapshots keyed by owner and version.
// Invalidate bumps the owner's version, so a snapshot loaded before a write
// can never be served after it. A nil *SnapshotCache is a valid, disabled cache.
type SnapshotCache struct {
	store *ristretto.Cache
	ttl   time.Duration

	mu       sync.Mutex
	versions map[string]uint64
}

// New creates a snapshot cache. Cost is measured in transactions.
func New(ttl time.Duration) (*SnapshotCache, error) {
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100000, // number of keys to track frequency of
		MaxCost:     1 << 20,
		BufferItems: 64, // number of keys per Get buffer
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot cache: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotCache{store: store, ttl: ttl, versions: make(map[string]uint64)}, nil
}

// Version returns the owner's current version. Pass it back to Set after loading.
func (c *SnapshotCache) Version(ownerID string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[ownerID]
}

// Get returns a copy of the cached snapshot for ownerID.
func (c *SnapshotCache) Get(ownerID string) ([]models.Transaction, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.store.Get(c.key(ownerID, c.Version(ownerID)))
	if !ok {
		return nil, false
	}
	items, ok := v.([]models.Transaction)
	if !ok {
		return nil, false
	}
	return clone(items), true
}

// Set stores items as the snapshot for ownerID at the given version.
func (c *SnapshotCache) Set(ownerID string, version uint64, items []models.Transaction) {
	if c == nil {
		return
	}
	c.store.SetWithTTL(c.key(ownerID, version), clone(items), int64(len(items))+1, c.ttl)
}

// Invalidate discards the owner's snapshot.
func (c *SnapshotCache) Invalidate(ownerID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	old := c.versions[ownerID]
	c.versions[ownerID] = old + 1
	c.mu.Unlock()
	c.store.Del(c.key(ownerID, old))
}

// Wait blocks until pending writes are applied.
func (c *SnapshotCache) Wait() {
	if c == nil {
		return
	}
	c.store.Wait()
}

// Close stops the cache's background goroutines.
func (c *SnapshotCache) Close() {
	if c == nil {
		return
	}
	c.store.Close()
}

func (c *SnapshotCache) key(ownerID string, version uint64) string {
	return fmt.Sprintf("transactions:%s:%d", ownerID, version)
}

func clone(items []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, len(items))
	copy(out, items)
	return out
}
