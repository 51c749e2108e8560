package metatile

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

func TestMetaNodeRealAndChildFlags(t *testing.T) {
	var n MetaNode
	assert.False(t, n.Real())

	n.Flags |= FlagGeometry
	n.InternalTextureCount = 2
	assert.True(t, n.Real())
	assert.Equal(t, uint8(0), n.Reference())

	n.SetReference(3)
	assert.False(t, n.Geometry())
	assert.Equal(t, uint8(3), n.Reference())
	assert.True(t, n.Real())

	assert.False(t, n.ChildExists(tileid.ULChild))
	n.SetChildExists(tileid.ULChild, true)
	assert.True(t, n.ChildExists(tileid.ULChild))
	assert.True(t, n.HasAnyChild())
	n.SetChildExists(tileid.ULChild, false)
	assert.False(t, n.HasAnyChild())
}

func TestMetaNodeMergeChildWidensExtents(t *testing.T) {
	parent := MetaNode{GeomExtents: emptyExtents()}
	child := MetaNode{GeomExtents: NewExtents(0.1, 0.2, 0.3, 0.4, 0.0, 0.5)}
	parent.MergeChild(tileid.ULChild, &child)

	assert.True(t, parent.ChildExists(tileid.ULChild))
	assert.InDelta(t, 0.1, parent.GeomExtents.LLX(), 1e-9)
	assert.InDelta(t, 0.5, parent.GeomExtents.URZ(), 1e-9)
}

func TestMetaTileSetGetValidRect(t *testing.T) {
	origin := tileid.ID{Lod: 5, X: 32, Y: 32}
	mt := New(origin, 3) // order 3 => 8x8 block

	id := tileid.ID{Lod: 5, X: 35, Y: 34}
	node := MetaNode{Flags: FlagGeometry, TexelSize: 1.5, DisplaySize: 256}
	mt.Set(id, node)

	got, ok := mt.Get(id)
	require.True(t, ok)
	assert.Equal(t, node.Flags, got.Flags)
	assert.True(t, mt.Dirty())

	llX, llY, w, h := mt.ValidRect()
	assert.Equal(t, uint16(3), llX)
	assert.Equal(t, uint16(2), llY)
	assert.Equal(t, uint16(1), w)
	assert.Equal(t, uint16(1), h)
}

func TestTileOrigin(t *testing.T) {
	id := tileid.ID{Lod: 5, X: 37, Y: 41}
	origin := TileOrigin(id, 3)
	assert.Equal(t, tileid.ID{Lod: 5, X: 32, Y: 40}, origin)
}

func TestHalfFloatRoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1, 0.5, 100, 1000, 65000, 12345.25} {
		h := encodeHalf(v)
		got := decodeHalf(h)
		rel := float64((got - v)) / float64(v+1e-9)
		if rel < 0 {
			rel = -rel
		}
		assert.Lessf(t, rel, 0.001, "value %v round-tripped to %v", v, got)
	}
	assert.Equal(t, float32(0), decodeHalf(encodeHalf(0)))
}

func TestGeomExtentsQuantizeRoundTrip(t *testing.T) {
	bits := geomExtentsBits(10) // 12 bits
	e := NewExtents(0.1, 0.9, 0.2, 0.8, 0.0, 1.0)
	packed := encodeGeomExtents(e, bits)
	assert.Equal(t, geomExtentsByteLen(bits), len(packed))

	got, n := decodeGeomExtents(packed, bits)
	assert.Equal(t, len(packed), n)
	// ll* floors, ur* ceils, so the decoded box must contain the original.
	assert.LessOrEqual(t, got.LLX(), e.LLX()+1e-6)
	assert.GreaterOrEqual(t, got.URX(), e.URX()-1e-6)
}

func TestEncodeDecodeMetaTileRoundTrip(t *testing.T) {
	origin := tileid.ID{Lod: 8, X: 64, Y: 96}
	mt := New(origin, 5) // order 5 => 32x32 block, binaryOrder typical value

	credits := roaring.New()
	credits.Add(42)
	credits.Add(7)

	id1 := tileid.ID{Lod: 8, X: 67, Y: 98}
	n1 := MetaNode{
		Flags:                FlagGeometry | FlagULChild,
		GeomExtents:          NewExtents(0.1, 0.4, 0.2, 0.5, 0.0, 0.3),
		InternalTextureCount: 1,
		TexelSize:            2.5,
		DisplaySize:          512,
		HeightRange:          [2]int16{-10, 100},
		Credits:              credits,
	}
	mt.Set(id1, n1)

	id2 := tileid.ID{Lod: 8, X: 70, Y: 99}
	n2 := MetaNode{Flags: 0}
	n2.SetReference(2)
	n2.HeightRange = [2]int16{0, 0}
	mt.Set(id2, n2)

	buf, err := Encode(mt)
	require.NoError(t, err)

	back, err := Decode(buf, mt.Order)
	require.NoError(t, err)
	assert.Equal(t, mt.Origin, back.Origin)

	got1, ok := back.Get(id1)
	require.True(t, ok)
	assert.Equal(t, n1.Flags, got1.Flags)
	assert.Equal(t, n1.InternalTextureCount, got1.InternalTextureCount)
	assert.InDelta(t, float64(n1.TexelSize), float64(got1.TexelSize), 0.01)
	assert.Equal(t, n1.DisplaySize, got1.DisplaySize)
	assert.Equal(t, n1.HeightRange, got1.HeightRange)
	require.NotNil(t, got1.Credits)
	assert.True(t, got1.Credits.Contains(42))
	assert.True(t, got1.Credits.Contains(7))

	got2, ok := back.Get(id2)
	require.True(t, ok)
	assert.Equal(t, uint8(2), got2.Reference())
	assert.False(t, got2.Geometry())
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("not a metatile payload at all, way too short"), 5)
	assert.Error(t, err)
}
