package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultRefCacheSize bounds how many targets keep refs across reconnects.
const DefaultRefCacheSize = 50

// RefCache keeps the latest refs per (endpoint, target) so a fresh
// connection can still resolve refs from an earlier snapshot. Eviction is
// insertion-ordered: replacing a key's refs does not move it to the back.
type RefCache struct {
	mu      sync.Mutex
	limit   int
	order   []string
	entries map[string]RefEntry
}

func NewRefCache(limit int) *RefCache {
	if limit <= 0 {
		limit = DefaultRefCacheSize
	}
	return &RefCache{limit: limit, entries: make(map[string]RefEntry)}
}

// RefCacheKey joins a normalized endpoint and target id.
func RefCacheKey(cdpURL, targetID string) string {
	return strings.TrimRight(cdpURL, "/") + "::" + targetID
}

func (c *RefCache) Put(key string, entry RefEntry) {
	entry = entry.clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = entry
		return
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
	for len(c.order) > c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *RefCache) Get(key string) (RefEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return RefEntry{}, false
	}
	return e.clone(), true
}

func (c *RefCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

type storedRef struct {
	Key   string   `json:"key"`
	Entry RefEntry `json:"entry"`
}

// Save writes the cache to path in insertion order, so a later process can
// resolve refs from a snapshot it did not take.
func (c *RefCache) Save(path string) error {
	c.mu.Lock()
	stored := make([]storedRef, 0, len(c.order))
	for _, k := range c.order {
		stored = append(stored, storedRef{Key: k, Entry: c.entries[k]})
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load replaces the cache contents with the entries saved at path. A missing
// file leaves the cache empty.
func (c *RefCache) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var stored []storedRef
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode ref store %s: %w", path, err)
	}

	c.mu.Lock()
	c.order = nil
	c.entries = make(map[string]RefEntry, len(stored))
	c.mu.Unlock()
	for _, s := range stored {
		c.Put(s.Key, s.Entry)
	}
	return nil
}
