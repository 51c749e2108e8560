package metatile

import (
	"fmt"

	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

// MetaTile is a 2^Order x 2^Order block of MetaNode records anchored at
// Origin, whose (X,Y) must be multiples of 2^Order (spec §3.3). It is
// created lazily on first write into any contained tile, dirty-flagged
// on change, and persisted whole on tileset flush.
type MetaTile struct {
	Origin tileid.ID
	Order  uint8

	nodes   []MetaNode
	present []bool
	dirty   bool
}

// New returns an empty metatile of the given order anchored at origin.
// origin.X and origin.Y must already be multiples of 2^order; New
// panics otherwise since that invariant is established by the caller
// (tileset.flush), not recoverable here.
func New(origin tileid.ID, order uint8) *MetaTile {
	side := uint32(1) << order
	if origin.X%side != 0 || origin.Y%side != 0 {
		panic(fmt.Sprintf("metatile: origin %s is not aligned to order %d", origin, order))
	}
	n := int(side) * int(side)
	return &MetaTile{
		Origin:  origin,
		Order:   order,
		nodes:   make([]MetaNode, n),
		present: make([]bool, n),
	}
}

// Side returns 2^Order, the block's edge length in tiles.
func (mt *MetaTile) Side() uint32 { return uint32(1) << mt.Order }

// Dirty reports whether mt has unflushed writes.
func (mt *MetaTile) Dirty() bool { return mt.dirty }

// ClearDirty resets the dirty flag after a successful flush.
func (mt *MetaTile) ClearDirty() { mt.dirty = false }

// localOf returns the (col,row) of id within this block, and whether id
// actually falls inside it.
func (mt *MetaTile) localOf(id tileid.ID) (int, int, bool) {
	if id.Lod != mt.Origin.Lod {
		return 0, 0, false
	}
	side := mt.Side()
	if id.X < mt.Origin.X || id.Y < mt.Origin.Y {
		return 0, 0, false
	}
	col := id.X - mt.Origin.X
	row := id.Y - mt.Origin.Y
	if col >= side || row >= side {
		return 0, 0, false
	}
	return int(col), int(row), true
}

func (mt *MetaTile) cellIndex(col, row int) int {
	return row*int(mt.Side()) + col
}

// Get returns the node stored for id, and whether it has ever been
// written (an unwritten cell inside the block's footprint still reads
// back as the zero MetaNode, but ok is false).
func (mt *MetaTile) Get(id tileid.ID) (MetaNode, bool) {
	col, row, ok := mt.localOf(id)
	if !ok {
		return MetaNode{}, false
	}
	idx := mt.cellIndex(col, row)
	return mt.nodes[idx], mt.present[idx]
}

// Set writes node at id, which must fall within this block. Set panics
// if id is outside the block's footprint; callers are expected to have
// selected the right metatile via TileOrigin first.
func (mt *MetaTile) Set(id tileid.ID, node MetaNode) {
	col, row, ok := mt.localOf(id)
	if !ok {
		panic(fmt.Sprintf("metatile: %s is outside block at %s order %d", id, mt.Origin, mt.Order))
	}
	node.Clamp()
	idx := mt.cellIndex(col, row)
	mt.nodes[idx] = node
	mt.present[idx] = true
	mt.dirty = true
}

// ValidRect returns the smallest local (col,row,w,h) rectangle
// containing every cell ever written. w == 0 means the block has no
// content at all.
func (mt *MetaTile) ValidRect() (llX, llY, w, h uint16) {
	side := int(mt.Side())
	minC, minR, maxC, maxR := side, side, -1, -1
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			if !mt.present[mt.cellIndex(col, row)] {
				continue
			}
			if col < minC {
				minC = col
			}
			if row < minR {
				minR = row
			}
			if col > maxC {
				maxC = col
			}
			if row > maxR {
				maxR = row
			}
		}
	}
	if maxC < 0 {
		return 0, 0, 0, 0
	}
	return uint16(minC), uint16(minR), uint16(maxC - minC + 1), uint16(maxR - minR + 1)
}

// TileOrigin returns the aligned origin of the block containing id for
// metatiles of the given order.
func TileOrigin(id tileid.ID, order uint8) tileid.ID {
	side := uint32(1) << order
	return tileid.ID{Lod: id.Lod, X: (id.X / side) * side, Y: (id.Y / side) * side}
}
