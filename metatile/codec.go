package metatile

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
	"github.com/DavidLevinsky/vts-libs-sub000/vtserror"
)

const (
	magicMT        = "MT"
	wireVersion    = 1
	fixedHeaderLen = 2 + 2 + 1 + 4 + 4 + 2 + 2 + 2 + 2 + 1 + 1 + 2
)

// nodeByteLen returns the fixed on-disk size of one node record for a
// metatile at the given lod (spec §4.E): flags, the six packed
// geomExtents components, the texture-count/reference byte, half-float
// texelSize, displaySize, and the heightMin/heightMax pair.
func nodeByteLen(lod uint8) int {
	return 1 + geomExtentsByteLen(geomExtentsBits(lod)) + 1 + 2 + 2 + 2 + 2
}

// Encode serializes mt per the metatile wire format (spec §4.E).
func Encode(mt *MetaTile) ([]byte, error) {
	llX, llY, w, h := mt.ValidRect()
	bits := geomExtentsBits(mt.Origin.Lod)
	nodeSize := nodeByteLen(mt.Origin.Lod)

	credits := collectCredits(mt, llX, llY, w, h)
	creditBitfieldLen := (int(w)*int(h) + 7) / 8

	creditBlock := make([]byte, 0, len(credits)*(2+creditBitfieldLen))
	for _, id := range sortedCreditIDs(credits) {
		creditBlock = binary.BigEndian.AppendUint16(creditBlock, id)
		creditBlock = append(creditBlock, packBits(credits[id])...)
	}
	if len(credits) > 0xff {
		return nil, fmt.Errorf("%w: metatile credit count %d exceeds u8", vtserror.ErrInconsistentInput, len(credits))
	}

	out := make([]byte, 0, fixedHeaderLen+len(creditBlock)+int(w)*int(h)*nodeSize)
	out = append(out, magicMT...)
	out = binary.BigEndian.AppendUint16(out, wireVersion)
	out = append(out, mt.Origin.Lod)
	out = binary.BigEndian.AppendUint32(out, mt.Origin.X)
	out = binary.BigEndian.AppendUint32(out, mt.Origin.Y)
	out = binary.BigEndian.AppendUint16(out, llX)
	out = binary.BigEndian.AppendUint16(out, llY)
	out = binary.BigEndian.AppendUint16(out, w)
	out = binary.BigEndian.AppendUint16(out, h)
	out = append(out, byte(nodeSize))
	out = append(out, byte(len(credits)))
	out = binary.BigEndian.AppendUint16(out, uint16(len(creditBlock)))
	out = append(out, creditBlock...)

	for row := uint16(0); row < h; row++ {
		for col := uint16(0); col < w; col++ {
			id := tileid.ID{Lod: mt.Origin.Lod, X: mt.Origin.X + uint32(llX+col), Y: mt.Origin.Y + uint32(llY+row)}
			node, _ := mt.Get(id)
			out = append(out, encodeNode(node, bits)...)
		}
	}
	return out, nil
}

// Decode parses a metatile payload previously produced by Encode into a
// block of the given order (the tileset's configured binaryOrder, which
// is not itself carried on the wire — every metatile in one tileset
// shares it).
func Decode(buf []byte, order uint8) (*MetaTile, error) {
	if len(buf) < fixedHeaderLen {
		return nil, fmt.Errorf("%w: metatile payload too short", vtserror.ErrBadFileFormat)
	}
	if string(buf[0:2]) != magicMT {
		return nil, fmt.Errorf("%w: bad metatile magic", vtserror.ErrBadFileFormat)
	}
	version := binary.BigEndian.Uint16(buf[2:4])
	if version != wireVersion {
		return nil, fmt.Errorf("%w: metatile version %d", vtserror.ErrVersion, version)
	}

	off := 4
	lod := buf[off]
	off++
	originX := binary.BigEndian.Uint32(buf[off:])
	off += 4
	originY := binary.BigEndian.Uint32(buf[off:])
	off += 4
	llX := binary.BigEndian.Uint16(buf[off:])
	off += 2
	llY := binary.BigEndian.Uint16(buf[off:])
	off += 2
	w := binary.BigEndian.Uint16(buf[off:])
	off += 2
	h := binary.BigEndian.Uint16(buf[off:])
	off += 2
	nodeSize := int(buf[off])
	off++
	creditCount := int(buf[off])
	off++
	creditBlockBytes := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2

	if uint32(w)*uint32(h) > uint32(1)<<(2*order) {
		return nil, fmt.Errorf("%w: metatile valid rect exceeds block of order %d", vtserror.ErrBadFileFormat, order)
	}
	if off+creditBlockBytes > len(buf) {
		return nil, fmt.Errorf("%w: metatile credit block truncated", vtserror.ErrBadFileFormat)
	}

	wantNodeSize := nodeByteLen(lod)
	if nodeSize != wantNodeSize {
		return nil, fmt.Errorf("%w: metatile node size mismatch (got %d want %d)", vtserror.ErrBadFileFormat, nodeSize, wantNodeSize)
	}

	creditCells := int(w) * int(h)
	creditBitfieldLen := (creditCells + 7) / 8
	creditsByCell := make([]*roaring.Bitmap, creditCells)

	cb := buf[off : off+creditBlockBytes]
	for i := 0; i < creditCount; i++ {
		if len(cb) < 2+creditBitfieldLen {
			return nil, fmt.Errorf("%w: metatile credit record truncated", vtserror.ErrBadFileFormat)
		}
		id := binary.BigEndian.Uint16(cb)
		bitfield := cb[2 : 2+creditBitfieldLen]
		for cell := 0; cell < creditCells; cell++ {
			if bitfield[cell/8]&(1<<uint(7-cell%8)) != 0 {
				if creditsByCell[cell] == nil {
					creditsByCell[cell] = roaring.New()
				}
				creditsByCell[cell].Add(uint32(id))
			}
		}
		cb = cb[2+creditBitfieldLen:]
	}
	off += creditBlockBytes

	origin := tileid.ID{Lod: lod, X: originX, Y: originY}
	mt := New(origin, order)
	bitsPerValue := geomExtentsBits(lod)

	cell := 0
	for row := uint16(0); row < h; row++ {
		for col := uint16(0); col < w; col++ {
			if off+nodeSize > len(buf) {
				return nil, fmt.Errorf("%w: metatile node data truncated", vtserror.ErrBadFileFormat)
			}
			node, err := decodeNode(buf[off:off+nodeSize], bitsPerValue)
			if err != nil {
				return nil, err
			}
			if node.HeightRange[0] > node.HeightRange[1] {
				return nil, fmt.Errorf("%w: metatile heightRange inverted", vtserror.ErrBadFileFormat)
			}
			node.Credits = creditsByCell[cell]
			id := tileid.ID{Lod: lod, X: originX + uint32(llX+col), Y: originY + uint32(llY+row)}
			mt.Set(id, node)
			off += nodeSize
			cell++
		}
	}
	mt.ClearDirty()
	return mt, nil
}

func encodeNode(n MetaNode, bits uint) []byte {
	out := make([]byte, 0, 1+geomExtentsByteLen(bits)+1+2+2+2+2)
	out = append(out, byte(n.Flags))
	out = append(out, encodeGeomExtents(n.GeomExtents, bits)...)
	out = append(out, n.InternalTextureCount)
	out = binary.BigEndian.AppendUint16(out, encodeHalf(n.TexelSize))
	out = binary.BigEndian.AppendUint16(out, n.DisplaySize)
	out = binary.BigEndian.AppendUint16(out, uint16(n.HeightRange[0]))
	out = binary.BigEndian.AppendUint16(out, uint16(n.HeightRange[1]))
	return out
}

func decodeNode(buf []byte, bits uint) (MetaNode, error) {
	var n MetaNode
	off := 0
	n.Flags = Flags(buf[off])
	off++
	extentLen := geomExtentsByteLen(bits)
	n.GeomExtents, _ = decodeGeomExtents(buf[off:off+extentLen], bits)
	off += extentLen
	n.InternalTextureCount = buf[off]
	off++
	n.TexelSize = decodeHalf(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	n.DisplaySize = binary.BigEndian.Uint16(buf[off:])
	off += 2
	n.HeightRange[0] = int16(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	n.HeightRange[1] = int16(binary.BigEndian.Uint16(buf[off:]))
	return n, nil
}

func collectCredits(mt *MetaTile, llX, llY, w, h uint16) map[uint16][]bool {
	out := make(map[uint16][]bool)
	cell := 0
	for row := uint16(0); row < h; row++ {
		for col := uint16(0); col < w; col++ {
			id := tileid.ID{Lod: mt.Origin.Lod, X: mt.Origin.X + uint32(llX+col), Y: mt.Origin.Y + uint32(llY+row)}
			node, present := mt.Get(id)
			if present && node.Credits != nil {
				it := node.Credits.Iterator()
				for it.HasNext() {
					cid := uint16(it.Next())
					bf, ok := out[cid]
					if !ok {
						bf = make([]bool, int(w)*int(h))
						out[cid] = bf
					}
					bf[cell] = true
				}
			}
			cell++
		}
	}
	return out
}

func sortedCreditIDs(m map[uint16][]bool) []uint16 {
	ids := make([]uint16, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}
