package tilar

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeArchive(t *testing.T, path string) {
	t.Helper()
	a, err := Create(path, 1, 1, CreateFailIfExists, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.tilar")
	p2 := filepath.Join(dir, "b.tilar")
	p3 := filepath.Join(dir, "c.tilar")
	makeArchive(t, p1)
	makeArchive(t, p2)
	makeArchive(t, p3)

	c := NewCache(2, nil)
	_, err := c.Open(p1, OpenReadOnly)
	require.NoError(t, err)
	_, err = c.Open(p2, OpenReadOnly)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	// touch p1 so it's more recently used than p2
	_, err = c.Open(p1, OpenReadOnly)
	require.NoError(t, err)

	_, err = c.Open(p3, OpenReadOnly)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len(), "opening a third archive should evict the least-recently-used one")

	_, ok := c.entries[p2]
	assert.False(t, ok, "p2 should have been evicted, not p1")
	_, ok = c.entries[p1]
	assert.True(t, ok)
}

func TestCacheCloseAll(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.tilar")
	makeArchive(t, p1)

	c := NewCache(4, nil)
	_, err := c.Open(p1, OpenReadOnly)
	require.NoError(t, err)
	require.NoError(t, c.CloseAll())
	assert.Equal(t, 0, c.Len())
}

func TestCacheOpenOrCreate(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "fresh.tilar")

	c := NewCache(4, nil)
	created := false
	a, err := c.OpenOrCreate(p1, func(path string) (*Archive, error) {
		created = true
		return Create(path, 2, 2, CreateFailIfExists, nil)
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, uint8(2), a.Header().BinaryOrder)

	created = false
	again, err := c.OpenOrCreate(p1, func(path string) (*Archive, error) {
		created = true
		return Create(path, 2, 2, CreateFailIfExists, nil)
	})
	require.NoError(t, err)
	assert.False(t, created, "second call should hit the in-process cache, not re-create")
	assert.Same(t, a, again)
}
