package embedding

import (
	"crypto/sha256"
	"sync"
)

// DefaultCacheEntries caps a VectorCache created without an explicit size.
const DefaultCacheEntries = 50_000

type cachedVector struct {
	hash   [sha256.Size]byte
	vector []float32
}

// VectorCache holds document vectors keyed by document ID. An entry is only
// returned while the document text still hashes to the stored value, so an
// edited listing is re-embedded on its next lookup.
type VectorCache struct {
	mu         sync.RWMutex
	entries    map[string]cachedVector
	maxEntries int
}

// NewVectorCache creates a cache holding at most maxEntries vectors.
// maxEntries <= 0 uses DefaultCacheEntries.
func NewVectorCache(maxEntries int) *VectorCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &VectorCache{entries: make(map[string]cachedVector), maxEntries: maxEntries}
}

// Get returns the vector stored for doc, if its text is unchanged.
func (c *VectorCache) Get(doc Document) ([]float32, bool) {
	c.mu.RLock()
	e, ok := c.entries[doc.ID]
	c.mu.RUnlock()
	if !ok || e.hash != sha256.Sum256([]byte(doc.Text)) {
		return nil, false
	}
	return e.vector, true
}

// Put stores vec for doc. When the cache is full an arbitrary entry is
// evicted first.
func (c *VectorCache) Put(doc Document, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[doc.ID]; !ok && len(c.entries) >= c.maxEntries {
		for id := range c.entries {
			delete(c.entries, id)
			break
		}
	}
	c.entries[doc.ID] = cachedVector{hash: sha256.Sum256([]byte(doc.Text)), vector: vec}
}

// Delete drops the vector for id.
func (c *VectorCache) Delete(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Len returns the number of cached vectors.
func (c *VectorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
