// Package metatile implements the MetaNode/MetaTile in-memory model and
// its binary wire codec: a square block of per-tile metadata records
// persisted as one archive payload per tileset flush.
package metatile

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

// Flags is the per-node bitset. Geometry/navtile/texel/display-override
// occupy the low four bits; the four child-existence bits occupy the
// high nibble, one per tileid.ChildIndex. "alien" (borrowed-from-a-
// parent-surface marking) lives in the tileindex flag word instead of
// here: a MetaNode.Flags byte has no bits left once geometry,
// navtile, applyTexelSize, applyDisplaySize and the four child bits are
// assigned, so it is not duplicated in both places.
type Flags uint8

const (
	FlagGeometry Flags = 1 << iota
	FlagNavtile
	FlagApplyTexelSize
	FlagApplyDisplaySize
	FlagULChild
	FlagURChild
	FlagLLChild
	FlagLRChild
)

const childFlagMask = FlagULChild | FlagURChild | FlagLLChild | FlagLRChild

// ChildFlag returns the bit marking the existence of child c.
func ChildFlag(c tileid.ChildIndex) Flags {
	return FlagULChild << uint(c)
}

// Has reports whether all bits of mask are set in f.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// MetaNode carries everything the tileset index must know about one
// tile beyond its existence (spec §3.2).
type MetaNode struct {
	Flags Flags

	// GeomExtents is the normalized unit-cube bounding box of the
	// tile's geometry (empty/zero for non-geometry nodes).
	GeomExtents Extents

	// InternalTextureCount is the count of internally-textured
	// submeshes when Flags.Geometry is set; otherwise this field is
	// reinterpreted as Reference, a 1-based index into the owning
	// surface stack for a node that borrows its geometry from a
	// lower-priority tileset (spec §3.2, "reference tile").
	InternalTextureCount uint8

	TexelSize   float32 // projected texture resolution, clamped <= 65000 before encoding
	DisplaySize uint16  // LOD hint

	HeightRange [2]int16 // [min, max] elevation; both zero if the node has no geometry

	// Credits holds the set of credit ids attached to this tile. A nil
	// Credits is equivalent to an empty set.
	Credits *roaring.Bitmap
}

// Geometry reports whether this node carries its own geometry.
func (n *MetaNode) Geometry() bool { return n.Flags.Has(FlagGeometry) }

// Reference returns the 1-based surface-stack index for a reference
// tile, or 0 if this node has its own geometry.
func (n *MetaNode) Reference() uint8 {
	if n.Geometry() {
		return 0
	}
	return n.InternalTextureCount
}

// SetReference marks n as a reference tile into surface stack position
// idx (1-based), clearing the geometry flag.
func (n *MetaNode) SetReference(idx uint8) {
	n.Flags &^= FlagGeometry
	n.InternalTextureCount = idx
}

// Real reports whether the node represents actual content: either its
// own geometry or a borrowed reference. Matches tileindex.Real's
// mesh-or-atlas contract at the MetaNode level (spec invariant 1 of
// §4.F's test plan: exists(t) <=> getMetaNode(t).real()).
func (n *MetaNode) Real() bool {
	return n.Geometry() || n.Reference() > 0
}

// ChildExists reports whether child c of this node exists, per the
// high-nibble child bits.
func (n *MetaNode) ChildExists(c tileid.ChildIndex) bool {
	return n.Flags.Has(ChildFlag(c))
}

// SetChildExists sets or clears the existence bit for child c.
func (n *MetaNode) SetChildExists(c tileid.ChildIndex, exists bool) {
	if exists {
		n.Flags |= ChildFlag(c)
	} else {
		n.Flags &^= ChildFlag(c)
	}
}

// HasAnyChild reports whether any of the four child bits is set.
func (n *MetaNode) HasAnyChild() bool {
	return n.Flags&childFlagMask != 0
}

// MergeChild widens n (a parent placeholder node) to account for an
// existing child: marks the child's existence bit and widens
// GeomExtents to contain the child's extents. This is the per-step
// body of the tileset "metadata-up" ascent (spec §4.F).
func (n *MetaNode) MergeChild(c tileid.ChildIndex, child *MetaNode) {
	n.SetChildExists(c, true)
	n.GeomExtents = n.GeomExtents.Union(child.GeomExtents)
}

// Clamp enforces the invariants checked at decode time and before
// encode: heightRange ordering and the texel-size ceiling.
func (n *MetaNode) Clamp() {
	if n.HeightRange[0] > n.HeightRange[1] {
		n.HeightRange[0], n.HeightRange[1] = n.HeightRange[1], n.HeightRange[0]
	}
	if n.TexelSize > maxTexelSize {
		n.TexelSize = maxTexelSize
	}
}
