// Package aggregated implements the read-only union driver over a
// storage's selected tilesets and their glues (spec §4.I).
package aggregated

import (
	"fmt"

	"github.com/DavidLevinsky/vts-libs-sub000/metatile"
	"github.com/DavidLevinsky/vts-libs-sub000/registry"
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
	"github.com/DavidLevinsky/vts-libs-sub000/tileindex"
	"github.com/DavidLevinsky/vts-libs-sub000/tileset"
	"github.com/DavidLevinsky/vts-libs-sub000/vtserror"
)

// Member is one tileset or glue contributing to the aggregated view,
// in ascending stack priority (later members win ties).
type Member struct {
	ID  string
	Dir string
}

// Driver is a read-only virtual tileset presenting the union of its
// members (spec §4.I). Reads transparently forward to the owning
// member's own driver; writes are unsupported.
type Driver struct {
	members []Member
	opened  []*tileset.TileSet

	// ownership[lod] maps a packed (x,y) key to the index into members
	// that owns that tile, the topmost one with a real tile there.
	ownership []map[uint64]int
	lodRange  tileid.LodRange
}

func packXY(x, y uint32) uint64 { return uint64(x)<<32 | uint64(y) }

// Open loads every member's tileset read-only (highest stack priority
// last) and computes per-tile ownership.
func Open(members []Member, rf registry.ReferenceFrame, boundLayers map[string]registry.BoundLayer) (*Driver, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: aggregated driver needs at least one member", vtserror.ErrInconsistentInput)
	}
	d := &Driver{members: members}
	for _, m := range members {
		ts, err := tileset.Open(m.Dir, rf, boundLayers, true)
		if err != nil {
			return nil, fmt.Errorf("aggregated: open member %q: %w", m.ID, err)
		}
		d.opened = append(d.opened, ts)
	}

	lo, hi := d.opened[0].Properties.LodRange.Min, d.opened[0].Properties.LodRange.Max
	for _, ts := range d.opened[1:] {
		if ts.Properties.LodRange.Min < lo {
			lo = ts.Properties.LodRange.Min
		}
		if ts.Properties.LodRange.Max > hi {
			hi = ts.Properties.LodRange.Max
		}
	}
	d.lodRange = tileid.LodRange{Min: lo, Max: hi}
	d.ownership = make([]map[uint64]int, int(hi-lo)+1)
	for i := range d.ownership {
		d.ownership[i] = make(map[uint64]int)
	}

	for memberIdx, ts := range d.opened {
		for lod := ts.Properties.LodRange.Min; lod <= ts.Properties.LodRange.Max; lod++ {
			own := d.ownership[lod-lo]
			// Topmost (highest memberIdx, since members are listed
			// ascending stack priority) wins ties at the same tile.
			scanLod(ts, lod, func(id tileid.ID) {
				own[packXY(id.X, id.Y)] = memberIdx
			})
		}
	}
	return d, nil
}

// scanLod is a thin adapter over tileset's own real-tile enumeration.
// It is factored out so ownership computation reads as "for every real
// tile this member has at this lod" without this package reaching into
// tileindex internals directly.
func scanLod(ts *tileset.TileSet, lod uint8, op func(id tileid.ID)) {
	ts.ForEachRealTile(lod, op)
}

// Owner returns which member (if any) serves id.
func (d *Driver) Owner(id tileid.ID) (Member, bool) {
	if !d.lodRange.Contains(id.Lod) {
		return Member{}, false
	}
	own := d.ownership[id.Lod-d.lodRange.Min]
	idx, ok := own[packXY(id.X, id.Y)]
	if !ok {
		return Member{}, false
	}
	return d.members[idx], true
}

// Exists reports whether any member owns id.
func (d *Driver) Exists(id tileid.ID) bool {
	_, ok := d.Owner(id)
	return ok
}

// GetTile forwards the read to the owning member's driver.
func (d *Driver) GetTile(id tileid.ID) (tileset.TileContent, error) {
	idx, ok := d.ownerIndex(id)
	if !ok {
		return tileset.TileContent{}, fmt.Errorf("%w: %s", vtserror.ErrNoSuchTile, id)
	}
	return d.opened[idx].GetTile(id)
}

// GetMetaNode forwards to the owning member, falling back to whatever
// ancestor-synthesized node the topmost member that covers id's
// subtree provides, so virtual ancestor nodes still resolve even when
// no single member owns a real tile exactly at id.
func (d *Driver) GetMetaNode(id tileid.ID) (metatile.MetaNode, error) {
	if idx, ok := d.ownerIndex(id); ok {
		return d.opened[idx].GetMetaNode(id)
	}
	for i := len(d.opened) - 1; i >= 0; i-- {
		if node, err := d.opened[i].GetMetaNode(id); err == nil {
			return node, nil
		}
	}
	return metatile.MetaNode{}, fmt.Errorf("%w: %s", vtserror.ErrNoSuchTile, id)
}

func (d *Driver) ownerIndex(id tileid.ID) (int, bool) {
	if !d.lodRange.Contains(id.Lod) {
		return 0, false
	}
	own := d.ownership[id.Lod-d.lodRange.Min]
	idx, ok := own[packXY(id.X, id.Y)]
	return idx, ok
}

// SetTile always fails: the aggregated driver is read-only (spec
// §4.I: "writes are unsupported").
func (d *Driver) SetTile(tileid.ID, tileset.Tile) error {
	return vtserror.ErrReadOnly
}

// Close closes every underlying member tileset.
func (d *Driver) Close() error {
	var firstErr error
	for _, ts := range d.opened {
		if err := ts.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CombinedTileIndex builds a single tileindex.Index covering the
// union of every member's real tiles, with each tile's flags taken
// from its owning member (spec §4.I "synthesizes a combined tile-set
// index").
func (d *Driver) CombinedTileIndex() *tileindex.Index {
	out := tileindex.New(d.lodRange)
	for lod := d.lodRange.Min; lod <= d.lodRange.Max; lod++ {
		own := d.ownership[lod-d.lodRange.Min]
		for key, memberIdx := range own {
			x, y := uint32(key>>32), uint32(key&0xffffffff)
			id := tileid.ID{Lod: lod, X: x, Y: y}
			flags := d.opened[memberIdx].Flags(id)
			out.Set(id, flags)
		}
	}
	return out
}
