package services

import (
	"context"
	"sort"
	"strikefeed/interfaces"
	"strings"
	"sync"
)

// NewSnapshotKey normalizes a symbol and expiration into a cache key
func NewSnapshotKey(symbol, expiration string) interfaces.SnapshotKey {
	return interfaces.SnapshotKey{
		Symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		Expiration: strings.TrimSpace(expiration),
	}
}

// MemorySnapshotCache keeps the last good chain per (symbol, expiration) for
// the lifetime of the process. No eviction and no TTL.
type MemorySnapshotCache struct {
	snapshots map[interfaces.SnapshotKey]*interfaces.Snapshot
	mu        sync.RWMutex
}

// NewMemorySnapshotCache creates an empty in-process snapshot cache
func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{
		snapshots: make(map[interfaces.SnapshotKey]*interfaces.Snapshot),
	}
}

// Put overwrites the entry for the snapshot's key with a private copy
func (c *MemorySnapshotCache) Put(_ context.Context, snapshot *interfaces.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	stored := &interfaces.Snapshot{
		Key:       snapshot.Key,
		Chain:     snapshot.Chain.Clone(),
		FetchedAt: snapshot.FetchedAt,
	}

	c.mu.Lock()
	c.snapshots[snapshot.Key] = stored
	c.mu.Unlock()
	return nil
}

// Get returns a copy of the cached snapshot for key
func (c *MemorySnapshotCache) Get(_ context.Context, key interfaces.SnapshotKey) (*interfaces.Snapshot, bool, error) {
	c.mu.RLock()
	stored, ok := c.snapshots[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	return &interfaces.Snapshot{
		Key:       stored.Key,
		Chain:     stored.Chain.Clone(),
		FetchedAt: stored.FetchedAt,
	}, true, nil
}

// Keys lists cached keys sorted by symbol then expiration
func (c *MemorySnapshotCache) Keys(_ context.Context) ([]interfaces.SnapshotKey, error) {
	c.mu.RLock()
	keys := make([]interfaces.SnapshotKey, 0, len(c.snapshots))
	for k := range c.snapshots {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sortKeys(keys)
	return keys, nil
}

func sortKeys(keys []interfaces.SnapshotKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Expiration < keys[j].Expiration
	})
}
