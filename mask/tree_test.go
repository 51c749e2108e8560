package mask

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndRecompress(t *testing.T) {
	tr := New[bool](2) // 4x4
	assert.True(t, tr.IsEmpty())

	tr.Set(0, 0, true)
	tr.Set(0, 1, true)
	tr.Set(1, 0, true)
	tr.Set(1, 1, true)
	assert.Equal(t, KindMixed, tr.Root(), "one full quadrant among empty siblings stays mixed")

	for x := uint32(0); x < 4; x++ {
		for y := uint32(0); y < 4; y++ {
			tr.Set(x, y, true)
		}
	}
	assert.True(t, tr.IsFull())
	assert.Equal(t, uint64(16), tr.Count(FilterBlack))
}

func TestForEachCoversWholeGrid(t *testing.T) {
	tr := New[bool](3) // 8x8
	tr.Set(3, 5, true)
	tr.Set(4, 5, true)

	seen := map[[2]uint32]bool{}
	tr.ForEach(FilterAny, func(x, y, size uint32, v bool) {
		for dy := uint32(0); dy < size; dy++ {
			for dx := uint32(0); dx < size; dx++ {
				seen[[2]uint32{x + dx, y + dy}] = v
			}
		}
	})
	assert.Len(t, seen, 64)
	assert.True(t, seen[[2]uint32{3, 5}])
	assert.True(t, seen[[2]uint32{4, 5}])
	assert.False(t, seen[[2]uint32{0, 0}])
}

func TestCloneIsIndependent(t *testing.T) {
	a := New[bool](2)
	a.Set(1, 1, true)
	b := a.Clone()
	b.Set(2, 2, true)

	assert.True(t, a.Get(1, 1))
	assert.False(t, a.Get(2, 2))
	assert.True(t, b.Get(2, 2))
}

func TestUniteIntersectSubtractInvert(t *testing.T) {
	a := NewMask(2)
	a.Set(0, 0, true)
	a.Set(1, 1, true)

	b := NewMask(2)
	b.Set(1, 1, true)
	b.Set(2, 2, true)

	u := Unite(a, b)
	assert.True(t, u.Get(0, 0))
	assert.True(t, u.Get(1, 1))
	assert.True(t, u.Get(2, 2))
	assert.False(t, u.Get(3, 3))

	i := Intersect(a, b)
	assert.False(t, i.Get(0, 0))
	assert.True(t, i.Get(1, 1))
	assert.False(t, i.Get(2, 2))

	s := Subtract(a, b)
	assert.True(t, s.Get(0, 0))
	assert.False(t, s.Get(1, 1))

	inv := Invert(a)
	assert.False(t, inv.Get(0, 0))
	assert.True(t, inv.Get(3, 3))
}

func TestIntersects(t *testing.T) {
	a := NewMask(2)
	a.Set(0, 0, true)
	b := NewMask(2)
	assert.False(t, Intersects(a, b))
	b.Set(0, 0, true)
	assert.True(t, Intersects(a, b))
}

func TestGrowUpAndMakeComplete(t *testing.T) {
	m := NewMask(3) // 8x8
	m.Set(5, 5, true)

	grown := GrowUp(m)
	assert.True(t, grown.Get(5, 5))
	assert.True(t, grown.Get(4, 4), "growUp should also set the rest of the 2x2 parent block")

	complete := MakeComplete(m)
	assert.True(t, complete.Get(5, 5))
	assert.Equal(t, KindFull, complete.Root(), "closing under growUp to the root must reach a single full block")
}

func TestBoolWireRoundTrip(t *testing.T) {
	tr := NewMask(3)
	tr.Set(1, 1, true)
	tr.Set(6, 6, true)
	tr.Set(6, 7, true)
	tr.Set(7, 6, true)
	tr.Set(7, 7, true)

	var buf bytes.Buffer
	require.NoError(t, WriteBool(&buf, tr))

	got, err := ReadBool(&buf, tr.Order)
	require.NoError(t, err)
	assert.Equal(t, tr.Order, got.Order)
	for x := uint32(0); x < tr.Dims(); x++ {
		for y := uint32(0); y < tr.Dims(); y++ {
			assert.Equal(t, tr.Get(x, y), got.Get(x, y))
		}
	}
}

func TestFlagsWireRoundTrip(t *testing.T) {
	tr := New[byte](2)
	tr.Set(0, 0, 7)
	tr.Set(3, 3, 9)

	var buf bytes.Buffer
	require.NoError(t, WriteFlags(&buf, tr))

	got, err := ReadFlags(&buf)
	require.NoError(t, err)
	assert.Equal(t, byte(7), got.Get(0, 0))
	assert.Equal(t, byte(9), got.Get(3, 3))
	assert.Equal(t, byte(0), got.Get(1, 1))
}

func TestReadRejectsBadVersion(t *testing.T) {
	_, err := Read[bool](bytes.NewReader([]byte{99, 0, tagEmpty}), func(io.Reader) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
}
