// Package tileindex implements the two parallel per-lod coverage
// structures a tileset keeps over its tile space: the flag index
// (spec §4.D) recording per-tile content flags, and the reference
// index recording which tiles are reference tiles of a merged
// surface. Both are built on mask.Tree[byte].
package tileindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/DavidLevinsky/vts-libs-sub000/mask"
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

// Flag is one bit of the flagIndex byte, per spec §3.4.
type Flag byte

const (
	FlagMesh Flag = 1 << iota
	FlagAtlas
	FlagNavtile
	FlagWatertight
	FlagReference
	FlagAlien
	FlagNonmeta
)

// Real reports whether flags describe an actual rendered tile: the
// spec's contract "real(tile) ⇔ (mesh OR atlas)".
func Real(flags byte) bool {
	return flags&byte(FlagMesh) != 0 || flags&byte(FlagAtlas) != 0
}

// Index is a list of raster-mask quad-trees, one per lod in
// [LodRange.Min, LodRange.Max]. A tile id's own (x,y) already fits a
// mask.Tree of Order==id.Lod, so no per-lod offset bookkeeping is
// needed: trees[lod-Min] has Order lod.
type Index struct {
	LodRange tileid.LodRange
	trees    []*mask.Flags
}

// New returns an index covering lodRange with every tile cleared.
// lodRange must not be empty.
func New(lodRange tileid.LodRange) *Index {
	if lodRange.Empty() {
		panic("tileindex: empty lod range")
	}
	idx := &Index{LodRange: lodRange}
	for lod := lodRange.Min; ; lod++ {
		idx.trees = append(idx.trees, mask.NewFlags(lod))
		if lod == lodRange.Max {
			break
		}
	}
	return idx
}

func (idx *Index) treeFor(lod uint8) (*mask.Flags, bool) {
	if !idx.LodRange.Contains(lod) {
		return nil, false
	}
	return idx.trees[lod-idx.LodRange.Min], true
}

// Get returns the flag byte at id, or 0 if id's lod is out of range
// (per the Open Question decision: reject rather than return a
// mutable pointer — see DESIGN.md).
func (idx *Index) Get(id tileid.ID) byte {
	t, ok := idx.treeFor(id.Lod)
	if !ok {
		return 0
	}
	return t.Get(id.X, id.Y)
}

// Set assigns v at id, reporting false if id's lod is out of range.
func (idx *Index) Set(id tileid.ID, v byte) bool {
	t, ok := idx.treeFor(id.Lod)
	if !ok {
		return false
	}
	t.Set(id.X, id.Y, v)
	return true
}

// SetMask applies value onto every tile at lod that m marks, where m
// is a boolean mask anchored at id's subtree (i.e. m.Order ==
// targetLod-id.Lod and cell (dx,dy) of m corresponds to tile
// (id.X*side+dx, id.Y*side+dy) at targetLod). Every marked cell has
// value OR'd into its existing flags.
func (idx *Index) SetMask(id tileid.ID, m *mask.Mask, value byte) bool {
	targetLod := id.Lod + m.Order
	t, ok := idx.treeFor(targetLod)
	if !ok {
		return false
	}
	side := m.Dims()
	baseX, baseY := id.X*side, id.Y*side
	m.ForEach(mask.FilterBlack, func(x, y, size uint32, _ bool) {
		for dy := uint32(0); dy < size; dy++ {
			for dx := uint32(0); dx < size; dx++ {
				px, py := baseX+x+dx, baseY+y+dy
				t.Set(px, py, t.Get(px, py)|value)
			}
		}
	})
	return true
}

// Fill sets value (OR'd in) across every tile in r at lod.
func (idx *Index) Fill(lod uint8, r tileid.Range, value byte) bool {
	t, ok := idx.treeFor(lod)
	if !ok || !r.Valid() {
		return false
	}
	for y := r.LL.Y; y <= r.UR.Y; y++ {
		for x := r.LL.X; x <= r.UR.X; x++ {
			t.Set(x, y, t.Get(x, y)|value)
		}
	}
	return true
}

func (idx *Index) perLod(other *Index, op func(a, b *mask.Flags) *mask.Flags) *Index {
	lo, hi := idx.LodRange.Min, idx.LodRange.Max
	if other.LodRange.Min > lo {
		lo = other.LodRange.Min
	}
	if other.LodRange.Max < hi {
		hi = other.LodRange.Max
	}
	out := New(tileid.LodRange{Min: lo, Max: hi})
	for lod := lo; lod <= hi; lod++ {
		a, _ := idx.treeFor(lod)
		b, _ := other.treeFor(lod)
		out.trees[lod-lo] = op(a, b)
	}
	return out
}

// Intersect returns the bitwise AND of idx and other over their
// overlapping lod range.
func (idx *Index) Intersect(other *Index) *Index {
	return idx.perLod(other, mask.AndFlags)
}

// Subtract returns idx with other's bits cleared, over their
// overlapping lod range.
func (idx *Index) Subtract(other *Index) *Index {
	return idx.perLod(other, mask.AndNotFlags)
}

// Union returns the bitwise OR of idx and other over their overlapping
// lod range.
func (idx *Index) Union(other *Index) *Index {
	return idx.perLod(other, mask.OrFlags)
}

// Invert returns a copy of idx with every tile's flag byte bitwise
// complemented.
func (idx *Index) Invert() *Index {
	out := &Index{LodRange: idx.LodRange, trees: make([]*mask.Flags, len(idx.trees))}
	for i, t := range idx.trees {
		out.trees[i] = mask.XorInvertFlags(t)
	}
	return out
}

// Round propagates bit within each lod independently: per spec §4.D,
// "if any of four siblings is set, all four become set."
func (idx *Index) Round(bit Flag) *Index {
	out := &Index{LodRange: idx.LodRange, trees: make([]*mask.Flags, len(idx.trees))}
	for i, t := range idx.trees {
		out.trees[i] = mask.DilateSiblings(t, byte(bit))
	}
	return out
}

// Complete closes bit under parent-marking: whenever a tile at lod has
// bit set, its parent at lod-1 gets bit set too, repeated down to the
// index's minimum lod.
func (idx *Index) Complete(bit Flag) *Index {
	out := idx.Clone()
	for lod := idx.LodRange.Max; lod > idx.LodRange.Min; lod-- {
		child := out.trees[lod-idx.LodRange.Min]
		parent := out.trees[lod-1-idx.LodRange.Min]
		child.ForEach(mask.FilterAny, func(x, y, size uint32, v byte) {
			if v&byte(bit) == 0 {
				return
			}
			for dy := uint32(0); dy < size; dy++ {
				for dx := uint32(0); dx < size; dx++ {
					px, py := (x+dx)>>1, (y+dy)>>1
					parent.Set(px, py, parent.Get(px, py)|byte(bit))
				}
			}
		})
	}
	return out
}

// CompleteDown is Complete's inverse: whenever a tile at lod has bit
// set, all four of its children at lod+1 get bit set too, repeated up
// to the index's maximum lod.
func (idx *Index) CompleteDown(bit Flag) *Index {
	out := idx.Clone()
	for lod := idx.LodRange.Min; lod < idx.LodRange.Max; lod++ {
		parent := out.trees[lod-idx.LodRange.Min]
		child := out.trees[lod+1-idx.LodRange.Min]
		parent.ForEach(mask.FilterAny, func(x, y, size uint32, v byte) {
			if v&byte(bit) == 0 {
				return
			}
			for dy := uint32(0); dy < size; dy++ {
				for dx := uint32(0); dx < size; dx++ {
					px, py := x+dx, y+dy
					for _, c := range [4][2]uint32{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
						cx, cy := 2*px+c[0], 2*py+c[1]
						child.Set(cx, cy, child.Get(cx, cy)|byte(bit))
					}
				}
			}
		})
	}
	return out
}

// Grow computes the sphere of influence of the tiles in r at lod for
// content of the given type: the set of all tiles, at every lod, whose
// content transitively depends on one of those tiles through either
// downsampling (ancestors recomputed from children) or upsampling
// (descendants refined from an ancestor).
func (idx *Index) Grow(lod uint8, r tileid.Range, bit Flag) *Index {
	seed := New(idx.LodRange)
	seed.Fill(lod, r, byte(bit))
	return seed.Complete(bit).CompleteDown(bit)
}

// Ranges reports the lod range and, at its minimum lod, the tile range
// of every tile whose flags intersect flagMask. ok is false if no tile
// matches anywhere in the index.
func (idx *Index) Ranges(flagMask byte) (lodRange tileid.LodRange, tiles tileid.Range, ok bool) {
	lodRange = tileid.LodRange{Min: 255, Max: 0}
	tiles = tileid.Invalid()
	found := false
	for i, t := range idx.trees {
		lod := idx.LodRange.Min + uint8(i)
		t.ForEach(mask.FilterAny, func(x, y, size uint32, v byte) {
			if v&flagMask == 0 {
				return
			}
			found = true
			if lod < lodRange.Min {
				lodRange.Min = lod
			}
			if lod > lodRange.Max {
				lodRange.Max = lod
			}
		})
	}
	if !found {
		return tileid.LodRange{Min: 1, Max: 0}, tileid.Invalid(), false
	}
	minTree, _ := idx.treeFor(lodRange.Min)
	minTree.ForEach(mask.FilterAny, func(x, y, size uint32, v byte) {
		if v&flagMask == 0 {
			return
		}
		r := tileid.Range{
			LL: struct{ X, Y uint32 }{x, y},
			UR: struct{ X, Y uint32 }{x + size - 1, y + size - 1},
		}
		tiles = tiles.Union(r)
	})
	return lodRange, tiles, true
}

// ForEachSet calls op once for every (id, flags) pair at lod whose
// flags intersect mask (flags&mask != 0). Used by callers that need to
// enumerate actual tiles rather than whole compressed runs, e.g.
// tileset.Paste copying real tiles one at a time.
func (idx *Index) ForEachSet(lod uint8, flagMask byte, op func(id tileid.ID, flags byte)) {
	t, ok := idx.treeFor(lod)
	if !ok {
		return
	}
	t.ForEach(mask.FilterAny, func(x, y, size uint32, v byte) {
		if v&flagMask == 0 {
			return
		}
		for dy := uint32(0); dy < size; dy++ {
			for dx := uint32(0); dx < size; dx++ {
				op(tileid.ID{Lod: lod, X: x + dx, Y: y + dy}, v)
			}
		}
	})
}

// Clone returns a deep, independent copy of idx.
func (idx *Index) Clone() *Index {
	out := &Index{LodRange: idx.LodRange, trees: make([]*mask.Flags, len(idx.trees))}
	for i, t := range idx.trees {
		out.trees[i] = t.Clone()
	}
	return out
}

// wireMagic distinguishes a serialized Index stream.
const wireMagic = "TIDX"

// Write serializes idx: magic, lod range, then one mask.WriteFlags
// block per lod in order.
func (idx *Index) Write(w io.Writer) error {
	if _, err := io.WriteString(w, wireMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, idx.LodRange); err != nil {
		return err
	}
	for _, t := range idx.trees {
		if err := mask.WriteFlags(w, t); err != nil {
			return err
		}
	}
	return nil
}

// Read deserializes an Index previously produced by Write.
func Read(r io.Reader) (*Index, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("tileindex: read magic: %w", err)
	}
	if !bytes.Equal(magic[:], []byte(wireMagic)) {
		return nil, fmt.Errorf("tileindex: bad magic %q", magic)
	}
	var lodRange tileid.LodRange
	if err := binary.Read(r, binary.LittleEndian, &lodRange); err != nil {
		return nil, fmt.Errorf("tileindex: read lod range: %w", err)
	}
	if lodRange.Empty() {
		return nil, fmt.Errorf("tileindex: empty lod range on read")
	}
	idx := &Index{LodRange: lodRange}
	for lod := lodRange.Min; ; lod++ {
		t, err := mask.ReadFlags(r)
		if err != nil {
			return nil, fmt.Errorf("tileindex: read lod %d: %w", lod, err)
		}
		idx.trees = append(idx.trees, t)
		if lod == lodRange.Max {
			break
		}
	}
	return idx, nil
}
