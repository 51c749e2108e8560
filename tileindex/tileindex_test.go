package tileindex

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidLevinsky/vts-libs-sub000/mask"
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

func TestGetSetOutOfRange(t *testing.T) {
	idx := New(tileid.LodRange{Min: 2, Max: 4})

	id := tileid.ID{Lod: 3, X: 1, Y: 1}
	assert.True(t, idx.Set(id, byte(FlagMesh)))
	assert.Equal(t, byte(FlagMesh), idx.Get(id))

	outOfRange := tileid.ID{Lod: 10, X: 0, Y: 0}
	assert.False(t, idx.Set(outOfRange, byte(FlagMesh)))
	assert.Equal(t, byte(0), idx.Get(outOfRange))
}

func TestRealContract(t *testing.T) {
	assert.True(t, Real(byte(FlagMesh)))
	assert.True(t, Real(byte(FlagAtlas)))
	assert.False(t, Real(byte(FlagNavtile)))
	assert.False(t, Real(0))
}

func TestFillAndRanges(t *testing.T) {
	idx := New(tileid.LodRange{Min: 0, Max: 3})
	r := tileid.Range{LL: struct{ X, Y uint32 }{1, 1}, UR: struct{ X, Y uint32 }{2, 2}}
	require.True(t, idx.Fill(2, r, byte(FlagMesh)))

	lr, tr, ok := idx.Ranges(byte(FlagMesh))
	require.True(t, ok)
	assert.Equal(t, tileid.LodRange{Min: 2, Max: 2}, lr)
	assert.Equal(t, uint32(1), tr.LL.X)
	assert.Equal(t, uint32(2), tr.UR.X)
}

func TestRangesEmpty(t *testing.T) {
	idx := New(tileid.LodRange{Min: 0, Max: 2})
	_, _, ok := idx.Ranges(byte(FlagMesh))
	assert.False(t, ok)
}

func TestIntersectSubtractUnion(t *testing.T) {
	a := New(tileid.LodRange{Min: 1, Max: 2})
	a.Set(tileid.ID{Lod: 1, X: 0, Y: 0}, byte(FlagMesh))
	a.Set(tileid.ID{Lod: 1, X: 1, Y: 0}, byte(FlagAtlas))

	b := New(tileid.LodRange{Min: 1, Max: 2})
	b.Set(tileid.ID{Lod: 1, X: 0, Y: 0}, byte(FlagMesh)|byte(FlagAtlas))

	u := a.Union(b)
	assert.Equal(t, byte(FlagMesh)|byte(FlagAtlas), u.Get(tileid.ID{Lod: 1, X: 0, Y: 0}))

	i := a.Intersect(b)
	assert.Equal(t, byte(FlagMesh), i.Get(tileid.ID{Lod: 1, X: 0, Y: 0}))
	assert.Equal(t, byte(0), i.Get(tileid.ID{Lod: 1, X: 1, Y: 0}))

	s := a.Subtract(b)
	assert.Equal(t, byte(0), s.Get(tileid.ID{Lod: 1, X: 0, Y: 0}))
	assert.Equal(t, byte(FlagAtlas), s.Get(tileid.ID{Lod: 1, X: 1, Y: 0}))
}

func TestRound(t *testing.T) {
	idx := New(tileid.LodRange{Min: 2, Max: 2})
	idx.Set(tileid.ID{Lod: 2, X: 0, Y: 0}, byte(FlagWatertight))

	rounded := idx.Round(FlagWatertight)
	assert.Equal(t, byte(FlagWatertight), rounded.Get(tileid.ID{Lod: 2, X: 1, Y: 0}))
	assert.Equal(t, byte(FlagWatertight), rounded.Get(tileid.ID{Lod: 2, X: 0, Y: 1}))
	assert.Equal(t, byte(FlagWatertight), rounded.Get(tileid.ID{Lod: 2, X: 1, Y: 1}))
}

func TestCompleteAndCompleteDown(t *testing.T) {
	idx := New(tileid.LodRange{Min: 0, Max: 3})
	idx.Set(tileid.ID{Lod: 3, X: 5, Y: 5}, byte(FlagMesh))

	up := idx.Complete(FlagMesh)
	assert.NotEqual(t, byte(0), up.Get(tileid.ID{Lod: 2, X: 2, Y: 2}))
	assert.NotEqual(t, byte(0), up.Get(tileid.ID{Lod: 1, X: 1, Y: 1}))
	assert.NotEqual(t, byte(0), up.Get(tileid.ID{Lod: 0, X: 0, Y: 0}))

	idxDown := New(tileid.LodRange{Min: 0, Max: 2})
	idxDown.Set(tileid.ID{Lod: 0, X: 0, Y: 0}, byte(FlagMesh))
	down := idxDown.CompleteDown(FlagMesh)
	assert.NotEqual(t, byte(0), down.Get(tileid.ID{Lod: 2, X: 3, Y: 3}))
	assert.NotEqual(t, byte(0), down.Get(tileid.ID{Lod: 2, X: 0, Y: 0}))
}

func TestGrowSphereOfInfluence(t *testing.T) {
	idx := New(tileid.LodRange{Min: 0, Max: 4})
	r := tileid.Range{LL: struct{ X, Y uint32 }{2, 2}, UR: struct{ X, Y uint32 }{2, 2}}
	grown := idx.Grow(2, r, FlagWatertight)

	assert.NotEqual(t, byte(0), grown.Get(tileid.ID{Lod: 1, X: 1, Y: 1}), "coarser ancestor must be in the sphere of influence")
	assert.NotEqual(t, byte(0), grown.Get(tileid.ID{Lod: 4, X: 8, Y: 8}), "finer descendant must be in the sphere of influence")
}

func TestSetMask(t *testing.T) {
	idx := New(tileid.LodRange{Min: 0, Max: 2})
	m := mask.NewMask(1) // 2x2 sub-raster
	m.Set(0, 0, true)
	m.Set(1, 1, true)

	ok := idx.SetMask(tileid.ID{Lod: 0, X: 0, Y: 0}, m, byte(FlagWatertight))
	require.True(t, ok)

	assert.Equal(t, byte(FlagWatertight), idx.Get(tileid.ID{Lod: 1, X: 0, Y: 0}))
	assert.Equal(t, byte(0), idx.Get(tileid.ID{Lod: 1, X: 1, Y: 0}))
	assert.Equal(t, byte(FlagWatertight), idx.Get(tileid.ID{Lod: 1, X: 1, Y: 1}))
}

func TestWireRoundTrip(t *testing.T) {
	idx := New(tileid.LodRange{Min: 1, Max: 3})
	idx.Set(tileid.ID{Lod: 1, X: 0, Y: 0}, byte(FlagMesh))
	idx.Set(tileid.ID{Lod: 3, X: 7, Y: 7}, byte(FlagAtlas)|byte(FlagWatertight))

	var buf bytes.Buffer
	require.NoError(t, idx.Write(&buf))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, idx.LodRange, got.LodRange)
	assert.Equal(t, byte(FlagMesh), got.Get(tileid.ID{Lod: 1, X: 0, Y: 0}))
	assert.Equal(t, byte(FlagAtlas)|byte(FlagWatertight), got.Get(tileid.ID{Lod: 3, X: 7, Y: 7}))
}

func TestInvert(t *testing.T) {
	idx := New(tileid.LodRange{Min: 0, Max: 0})
	idx.Set(tileid.ID{Lod: 0, X: 0, Y: 0}, byte(FlagMesh))
	inv := idx.Invert()
	assert.Equal(t, ^byte(FlagMesh), inv.Get(tileid.ID{Lod: 0, X: 0, Y: 0}))
}
