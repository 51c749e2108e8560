// Package tileid implements pure tile-addressing arithmetic over a
// quad-tree: tile identifiers, parent/child/local conversions, and
// range types. No I/O, no registry lookups.
package tileid

import "fmt"

// ID identifies one node of the quad-tree: a level-of-detail and an
// (x,y) position within that level. Ordering is lexicographic on
// (Lod, X, Y), per spec.
type ID struct {
	Lod uint8
	X   uint32
	Y   uint32
}

// Less reports whether id sorts before other under the canonical
// lexicographic (Lod,X,Y) order.
func (id ID) Less(other ID) bool {
	if id.Lod != other.Lod {
		return id.Lod < other.Lod
	}
	if id.X != other.X {
		return id.X < other.X
	}
	return id.Y < other.Y
}

func (id ID) String() string {
	return fmt.Sprintf("%d-%d-%d", id.Lod, id.X, id.Y)
}

// ChildIndex identifies one of the four children of a tile: 0=UL,
// 1=UR, 2=LL, 3=LR, matching i + 2j for i,j in {0,1}.
type ChildIndex uint8

const (
	ULChild ChildIndex = 0
	URChild ChildIndex = 1
	LLChild ChildIndex = 2
	LRChild ChildIndex = 3
)

// Child returns the identified child of id at lod+1.
func (id ID) Child(c ChildIndex) ID {
	i := uint32(c) & 1
	j := (uint32(c) >> 1) & 1
	return ID{Lod: id.Lod + 1, X: 2*id.X + i, Y: 2*id.Y + j}
}

// Children returns all four children of id at lod+1, in ChildIndex order.
func (id ID) Children() [4]ID {
	return [4]ID{id.Child(ULChild), id.Child(URChild), id.Child(LLChild), id.Child(LRChild)}
}

// ChildIndexOf returns which child slot id occupies relative to its
// direct parent: i.e. the index c such that id.Parent(1).Child(c) == id.
func (id ID) ChildIndexOf() ChildIndex {
	return ChildIndex((id.X & 1) + 2*(id.Y&1))
}

// Parent returns the ancestor delta levels up. Delta must be <= id.Lod;
// ok is false otherwise.
func (id ID) Parent(delta uint8) (ID, bool) {
	if delta > id.Lod {
		return ID{}, false
	}
	return ID{Lod: id.Lod - delta, X: id.X >> delta, Y: id.Y >> delta}, true
}

// MustParent panics if delta is out of range; for call sites that have
// already checked Lod.
func (id ID) MustParent(delta uint8) ID {
	p, ok := id.Parent(delta)
	if !ok {
		panic(fmt.Sprintf("tileid: parent(%s, %d) out of range", id, delta))
	}
	return p
}

// Local expresses id relative to a rootLod ancestor: the (x,y) low bits
// below rootLod, at id's own lod. ok is false if id.Lod < rootLod.
func Local(rootLod uint8, id ID) (ID, bool) {
	if id.Lod < rootLod {
		return ID{}, false
	}
	delta := id.Lod - rootLod
	if delta >= 32 {
		return ID{Lod: delta}, true
	}
	mask := uint32(1)<<delta - 1
	return ID{Lod: delta, X: id.X & mask, Y: id.Y & mask}, true
}

// Range is an inclusive rectangle of (x,y) positions at one lod. An
// invalid (empty) range is represented by UR < LL in either axis; use
// Invalid() to construct one and Valid() to test.
type Range struct {
	LL, UR struct{ X, Y uint32 }
}

// Invalid returns the distinguished invalid tile range.
func Invalid() Range {
	return Range{UR: struct{ X, Y uint32 }{0, 0}, LL: struct{ X, Y uint32 }{1, 1}}
}

// Valid reports whether r is a non-empty, well-formed range.
func (r Range) Valid() bool {
	return r.LL.X <= r.UR.X && r.LL.Y <= r.UR.Y
}

// Contains reports whether (x,y) falls within r.
func (r Range) Contains(x, y uint32) bool {
	return r.Valid() && x >= r.LL.X && x <= r.UR.X && y >= r.LL.Y && y <= r.UR.Y
}

// Union returns the smallest range containing both r and o. Either may
// be invalid, in which case the other is returned unchanged.
func (r Range) Union(o Range) Range {
	if !r.Valid() {
		return o
	}
	if !o.Valid() {
		return r
	}
	out := r
	if o.LL.X < out.LL.X {
		out.LL.X = o.LL.X
	}
	if o.LL.Y < out.LL.Y {
		out.LL.Y = o.LL.Y
	}
	if o.UR.X > out.UR.X {
		out.UR.X = o.UR.X
	}
	if o.UR.Y > out.UR.Y {
		out.UR.Y = o.UR.Y
	}
	return out
}

// LodRange is an inclusive [Min,Max] range of lods. Max < Min denotes
// the empty range.
type LodRange struct {
	Min, Max uint8
}

// Empty reports whether the lod range contains no lod.
func (r LodRange) Empty() bool {
	return r.Max < r.Min
}

// Contains reports whether lod falls within r.
func (r LodRange) Contains(lod uint8) bool {
	return !r.Empty() && lod >= r.Min && lod <= r.Max
}
