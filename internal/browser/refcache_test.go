package browser

import (
	"fmt"
	"path/filepath"
	"testing"

	"cdpilot/internal/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(role string) RefEntry {
	return RefEntry{Refs: snapshot.Refs{"e1": {Role: role}}, Mode: snapshot.ModeRole}
}

func TestRefCacheEvictsOldestInsert(t *testing.T) {
	c := NewRefCache(3)
	c.Put("a", entry("button"))
	c.Put("b", entry("button"))
	c.Put("c", entry("button"))
	// Replacing "a" keeps its original slot, so it is still evicted first.
	c.Put("a", entry("link"))
	c.Put("d", entry("button"))

	_, ok := c.Get("a")
	assert.False(t, ok)
	for _, k := range []string{"b", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, 3, c.Len())
}

func TestRefCacheUpdateInPlace(t *testing.T) {
	c := NewRefCache(2)
	c.Put("a", entry("button"))
	c.Put("a", entry("link"))
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "link", got.Refs["e1"].Role)
	assert.Equal(t, 1, c.Len())
}

func TestRefCacheDefaultCapacity(t *testing.T) {
	c := NewRefCache(0)
	for i := 0; i < DefaultRefCacheSize+5; i++ {
		c.Put(fmt.Sprintf("k%d", i), entry("button"))
	}
	assert.Equal(t, DefaultRefCacheSize, c.Len())
	_, ok := c.Get("k4")
	assert.False(t, ok)
	_, ok = c.Get("k5")
	assert.True(t, ok)
}

func TestRefCacheCopiesRefs(t *testing.T) {
	c := NewRefCache(2)
	e := entry("button")
	c.Put("a", e)
	e.Refs["e1"] = snapshot.RoleRef{Role: "link"}

	got, _ := c.Get("a")
	got.Refs["e2"] = snapshot.RoleRef{Role: "textbox"}

	again, _ := c.Get("a")
	assert.Equal(t, "button", again.Refs["e1"].Role)
	assert.Len(t, again.Refs, 1)
}

func TestRefCacheKey(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9222::T1", RefCacheKey("http://127.0.0.1:9222/", "T1"))
}

func TestRefCacheSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "refs.json")
	c := NewRefCache(2)
	c.Put("a", entry("button"))
	depth := 3
	c.Put("b", RefEntry{Refs: snapshot.Refs{"e1": {Role: "link", Name: "Home"}}, Mode: snapshot.ModeRole, Selector: "#nav", MaxDepth: &depth})
	require.NoError(t, c.Save(path))

	loaded := NewRefCache(2)
	require.NoError(t, loaded.Load(path))
	got, ok := loaded.Get("b")
	require.True(t, ok)
	assert.Equal(t, "#nav", got.Selector)
	assert.Equal(t, "Home", got.Refs["e1"].Name)
	require.NotNil(t, got.MaxDepth)
	assert.Equal(t, 3, *got.MaxDepth)

	// Insertion order survives, so "a" is still evicted first.
	loaded.Put("c", entry("button"))
	_, ok = loaded.Get("a")
	assert.False(t, ok)
}

func TestRefCacheLoadMissingFile(t *testing.T) {
	c := NewRefCache(2)
	require.NoError(t, c.Load(filepath.Join(t.TempDir(), "none.json")))
	assert.Zero(t, c.Len())
}
