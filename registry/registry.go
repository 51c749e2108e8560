// Package registry is the minimal stand-in for the reference-frame/SRS
// registry named as an external collaborator (spec.md §1): a read-only
// dictionary of projection definitions and quad-tree division that the
// rest of this module treats as an injected dependency rather than
// something it computes itself.
package registry

import "github.com/DavidLevinsky/vts-libs-sub000/tileid"

// Srs is a spatial reference system definition, kept opaque: this
// module never interprets Definition, only passes it through to
// config output and to the caller-supplied projection math behind
// NodeExtents.
type Srs struct {
	ID         string
	Definition string // e.g. a PROJ/WKT string; opaque to this module
}

// BoundLayer describes an externally-textured bound layer (imagery
// served independently of a tileset's own atlas). TileArea estimates
// the nominal world-space area one tile of this layer covers at a
// given lod; real area computation depends on the layer's own
// resolution and is supplied by the caller (external collaborator),
// not derived here.
type BoundLayer struct {
	ID          string
	Credits     []uint16
	areaAtLod0  float64
	quadrupling bool // true: area quarters every lod (standard quad-tree division)
}

// NewBoundLayer constructs a bound layer whose nominal per-tile area at
// lod 0 is areaAtLod0, quartering at each subsequent lod -- the normal
// shape for a reference frame whose division is a quad-tree.
func NewBoundLayer(id string, areaAtLod0 float64, credits ...uint16) BoundLayer {
	return BoundLayer{ID: id, Credits: credits, areaAtLod0: areaAtLod0, quadrupling: true}
}

// TileArea returns the nominal world-space area of one tile of this
// bound layer at id's lod.
func (b BoundLayer) TileArea(id tileid.ID) float64 {
	area := b.areaAtLod0
	if b.quadrupling {
		for i := uint8(0); i < id.Lod; i++ {
			area /= 4
		}
	}
	return area
}

// NodeExtents is the world-space spatial division extents of one node
// of the reference frame's root quad-tree: the (X,Y) footprint plus the
// elevation range used to normalize mesh geometry into the tileset's
// unit cube (spec §4.F's normalizedExtents(physicalExtents(mesh))).
type NodeExtents struct {
	LLX, LLY, URX, URY float64
	MinZ, MaxZ         float64
}

// Normalize maps a world-space point into this node's [0,1]^3 unit
// cube.
func (e NodeExtents) Normalize(x, y, z float64) (nx, ny, nz float64) {
	nx = safeDiv(x-e.LLX, e.URX-e.LLX)
	ny = safeDiv(y-e.LLY, e.URY-e.LLY)
	nz = safeDiv(z-e.MinZ, e.MaxZ-e.MinZ)
	return
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// ReferenceFrame is a planet-scale tiling scheme: a root quad-tree plus
// the SRSs and bound layers it references. Node division follows the
// conventional quad-tree halving of X/Y extents per lod; the vertical
// (Z) range is reference-frame-wide and does not shrink with lod, since
// elevation is not partitioned by the tiling scheme.
type ReferenceFrame struct {
	ID   string
	Root NodeExtents
	Srs  map[string]Srs
}

// NodeExtentsFor returns the world-space extents of tile id under this
// reference frame's quad-tree division.
func (rf ReferenceFrame) NodeExtentsFor(id tileid.ID) NodeExtents {
	side := float64(uint64(1) << id.Lod)
	width := (rf.Root.URX - rf.Root.LLX) / side
	height := (rf.Root.URY - rf.Root.LLY) / side
	llx := rf.Root.LLX + float64(id.X)*width
	lly := rf.Root.LLY + float64(id.Y)*height
	return NodeExtents{
		LLX: llx, URX: llx + width,
		LLY: lly, URY: lly + height,
		MinZ: rf.Root.MinZ, MaxZ: rf.Root.MaxZ,
	}
}
