package tileid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildrenAndParent(t *testing.T) {
	root := ID{Lod: 3, X: 4, Y: 5}
	children := root.Children()
	assert.Equal(t, ID{Lod: 4, X: 8, Y: 10}, children[ULChild])
	assert.Equal(t, ID{Lod: 4, X: 9, Y: 10}, children[URChild])
	assert.Equal(t, ID{Lod: 4, X: 8, Y: 11}, children[LLChild])
	assert.Equal(t, ID{Lod: 4, X: 9, Y: 11}, children[LRChild])

	for c := ULChild; c <= LRChild; c++ {
		child := root.Child(c)
		parent, ok := child.Parent(1)
		require.True(t, ok)
		assert.Equal(t, root, parent)
		assert.Equal(t, c, child.ChildIndexOf())
	}
}

func TestParentOutOfRange(t *testing.T) {
	id := ID{Lod: 2, X: 1, Y: 1}
	_, ok := id.Parent(3)
	assert.False(t, ok)
}

func TestLocal(t *testing.T) {
	id := ID{Lod: 5, X: 0b10110, Y: 0b00011}
	local, ok := Local(3, id)
	require.True(t, ok)
	assert.Equal(t, ID{Lod: 2, X: 0b10, Y: 0b11}, local)

	_, ok = Local(6, id)
	assert.False(t, ok)
}

func TestRangeUnion(t *testing.T) {
	inv := Invalid()
	assert.False(t, inv.Valid())

	a := Range{LL: struct{ X, Y uint32 }{0, 0}, UR: struct{ X, Y uint32 }{2, 2}}
	b := Range{LL: struct{ X, Y uint32 }{3, 1}, UR: struct{ X, Y uint32 }{5, 1}}
	u := a.Union(b)
	assert.Equal(t, uint32(0), u.LL.X)
	assert.Equal(t, uint32(5), u.UR.X)
	assert.Equal(t, uint32(0), u.LL.Y)
	assert.Equal(t, uint32(2), u.UR.Y)

	assert.Equal(t, a, a.Union(inv))
	assert.Equal(t, a, inv.Union(a))
}

func TestLodRangeEmpty(t *testing.T) {
	assert.True(t, LodRange{Min: 5, Max: 3}.Empty())
	r := LodRange{Min: 2, Max: 8}
	assert.False(t, r.Empty())
	assert.True(t, r.Contains(2))
	assert.True(t, r.Contains(8))
	assert.False(t, r.Contains(9))
}

func TestFilenameRoundTrip(t *testing.T) {
	id := ID{Lod: 12, X: 345, Y: 678}
	for kind := FileMesh; kind <= FileCredits; kind++ {
		name, err := Filename(id, kind, 0)
		require.NoError(t, err)

		gotID, gotKind, gotRev, err := ParseFilename(name)
		require.NoError(t, err)
		assert.Equal(t, id, gotID)
		assert.Equal(t, kind, gotKind)
		assert.Equal(t, 0, gotRev)
	}

	name, err := Filename(id, FileMesh, 7)
	require.NoError(t, err)
	assert.Equal(t, "12-345-678.bin.r7", name)

	gotID, gotKind, gotRev, err := ParseFilename(name)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, FileMesh, gotKind)
	assert.Equal(t, 7, gotRev)
}

func TestParseFilenameRejectsGarbage(t *testing.T) {
	cases := []string{
		"not-a-tile-name",
		"1-2-3",
		"1-2-3.unknownext",
		"1-2.bin",
		"a-b-c.bin",
	}
	for _, c := range cases {
		_, _, _, err := ParseFilename(c)
		assert.ErrorIs(t, err, ErrBadFilename, c)
	}
}
