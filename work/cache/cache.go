package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// defaultMaxManifests bounds the number of manifest documents kept in memory.
const defaultMaxManifests = 256

// ManifestCache keeps recently fetched manifest documents keyed by URL. Entries expire a
// fixed time after they were written, so a live manifest is never served stale for
// longer than the configured TTL.
type ManifestCache struct {
	cache *otter.Cache[string, []byte]
	ttl   time.Duration
}

// NewManifestCache creates a cache whose entries live for ttl. A non-positive ttl
// disables caching: Get always misses and Set is a no-op.
func NewManifestCache(ttl time.Duration) *ManifestCache {
	mc := &ManifestCache{ttl: ttl}
	if ttl <= 0 {
		return mc
	}

	mc.cache = otter.Must(&otter.Options[string, []byte]{
		MaximumSize:      defaultMaxManifests,
		ExpiryCalculator: otter.ExpiryWriting[string, []byte](ttl),
	})
	return mc
}

// Get returns the cached document for url if it has not expired.
func (mc *ManifestCache) Get(url string) ([]byte, bool) {
	if mc == nil || mc.cache == nil {
		return nil, false
	}
	return mc.cache.GetIfPresent(url)
}

// Set stores a manifest document for url.
func (mc *ManifestCache) Set(url string, data []byte) {
	if mc == nil || mc.cache == nil {
		return
	}
	mc.cache.Set(url, data)
}

// Invalidate drops the entry for url so the next load goes to the network.
func (mc *ManifestCache) Invalidate(url string) {
	if mc == nil || mc.cache == nil {
		return
	}
	mc.cache.Invalidate(url)
}

// Clear drops every cached document.
func (mc *ManifestCache) Clear() {
	if mc == nil || mc.cache == nil {
		return
	}
	mc.cache.InvalidateAll()
}

// TTL reports the configured entry lifetime.
func (mc *ManifestCache) TTL() time.Duration {
	if mc == nil {
		return 0
	}
	return mc.ttl
}
