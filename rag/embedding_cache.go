package rag

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// embeddingCache memoizes document embeddings per corpus version.
// Concurrent requests for the same document share a single embed call.
type embeddingCache struct {
	mu      sync.RWMutex
	version string
	vectors map[string][]float64

	group  singleflight.Group
	hits   atomic.Uint64
	misses atomic.Uint64
}

func newEmbeddingCache() *embeddingCache {
	return &embeddingCache{vectors: make(map[string][]float64)}
}

// SetVersion switches the cache to a new corpus version. Entries from a
// different version are discarded; the same version keeps them.
func (c *embeddingCache) SetVersion(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != version {
		c.version = version
		c.vectors = make(map[string][]float64)
	}
}

// GetOrCompute returns the cached embedding for docID, computing and
// caching it on a miss. Errors are not cached so transient embedder
// failures can be retried on the next call.
func (c *embeddingCache) GetOrCompute(ctx context.Context, docID string, compute func() ([]float64, error)) ([]float64, error) {
	c.mu.RLock()
	vec, ok := c.vectors[docID]
	version := c.version
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return vec, nil
	}

	v, err, _ := c.group.Do(version+"\x00"+docID, func() (any, error) {
		c.mu.RLock()
		vec, ok := c.vectors[docID]
		c.mu.RUnlock()
		if ok {
			return vec, nil
		}

		vec, err := compute()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		// A concurrent SetVersion may have rotated the corpus; only cache
		// results computed for the current version.
		if c.version == version {
			c.vectors[docID] = vec
		}
		c.mu.Unlock()
		return vec, nil
	})
	if err != nil {
		c.misses.Add(1)
		return nil, err
	}
	c.misses.Add(1)
	return v.([]float64), nil
}

// Stats returns cumulative hit and miss counts.
func (c *embeddingCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
