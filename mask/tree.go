// Package mask implements a compressed quad-tree raster: a square grid
// of side 2^order whose cells are stored as a tree of FULL/EMPTY/MIXED
// nodes instead of one entry per cell, the boolean variant used for
// tile coverage masks and the byte-flag variant used for per-tile flag
// rasters (tileindex.TileIndex's flagIndex/referenceIndex).
package mask

import (
	"fmt"
)

// Kind is the node classification of one quad-tree node.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindFull
	KindMixed
)

// ChildSlot orders a MIXED node's four children as (ul,ur,ll,lr), the
// same convention tileid.ChildIndex uses.
type ChildSlot uint8

const (
	UL ChildSlot = 0
	UR ChildSlot = 1
	LL ChildSlot = 2
	LR ChildSlot = 3
)

// node is one tree node. A nil children pointer means the node is
// uniform (EMPTY if value is the zero value, FULL otherwise); a
// non-nil children pointer means MIXED and value is unused.
type node[T comparable] struct {
	value    T
	children *[4]*node[T]
}

func newLeaf[T comparable](v T) *node[T] {
	return &node[T]{value: v}
}

func (n *node[T]) kind() Kind {
	var zero T
	if n.children != nil {
		return KindMixed
	}
	if n.value == zero {
		return KindEmpty
	}
	return KindFull
}

// Tree is a square compressed quad-tree raster of side 2^Order with
// cells of type T. The zero value of T is treated as "unset".
type Tree[T comparable] struct {
	Order uint8 // side = 1 << Order
	root  *node[T]
}

// New returns an all-empty tree of side 2^order.
func New[T comparable](order uint8) *Tree[T] {
	var zero T
	return &Tree[T]{Order: order, root: newLeaf(zero)}
}

// Full returns an all-full tree of side 2^order with every cell set to v.
func Full[T comparable](order uint8, v T) *Tree[T] {
	return &Tree[T]{Order: order, root: newLeaf(v)}
}

// Dims returns the side length of the raster.
func (t *Tree[T]) Dims() uint32 {
	return uint32(1) << t.Order
}

// Root returns the classification of the whole tree.
func (t *Tree[T]) Root() Kind {
	return t.root.kind()
}

func (t *Tree[T]) inBounds(x, y uint32) bool {
	d := t.Dims()
	return x < d && y < d
}

// Get returns the cell value at (x,y).
func (t *Tree[T]) Get(x, y uint32) T {
	var zero T
	if !t.inBounds(x, y) {
		return zero
	}
	n := t.root
	size := t.Dims()
	for n.kind() == KindMixed {
		size /= 2
		slot := quadrant(x, y, size)
		x %= size
		y %= size
		n = n.children[slot]
	}
	return n.value
}

func quadrant(x, y, halfSize uint32) ChildSlot {
	bx := x / halfSize
	by := y / halfSize
	return ChildSlot(bx + 2*by)
}

// Set assigns v to the cell at (x,y), subdividing and recompressing
// nodes as needed.
func (t *Tree[T]) Set(x, y uint32, v T) {
	if !t.inBounds(x, y) {
		return
	}
	t.root = setRec(t.root, t.Dims(), x, y, v)
}

func setRec[T comparable](n *node[T], size, x, y uint32, v T) *node[T] {
	if size == 1 {
		return newLeaf(v)
	}
	half := size / 2
	var children [4]*node[T]
	if n.kind() == KindMixed {
		children = *n.children
	} else {
		for i := range children {
			children[i] = newLeaf(n.value)
		}
	}
	slot := quadrant(x, y, half)
	children[slot] = setRec(children[slot], half, x%half, y%half, v)

	// recompress if all four children are now identical uniform leaves
	first := children[0]
	if first.kind() != KindMixed {
		uniform := true
		for _, c := range children[1:] {
			if c.kind() == KindMixed || c.value != first.value {
				uniform = false
				break
			}
		}
		if uniform {
			return newLeaf(first.value)
		}
	}
	return &node[T]{children: &children}
}

// Filter selects which leaves ForEach visits.
type Filter int

const (
	FilterAny Filter = iota
	FilterWhite        // zero-value (EMPTY-equivalent) leaves
	FilterBlack        // non-zero-value (FULL-equivalent) leaves
)

// ForEach visits every leaf cell matching filter, calling op with the
// cell's (x,y) origin, the run's square size, and its value.
func (t *Tree[T]) ForEach(filter Filter, op func(x, y, size uint32, v T)) {
	forEachRec(t.root, 0, 0, t.Dims(), filter, op)
}

func forEachRec[T comparable](n *node[T], x, y, size uint32, filter Filter, op func(x, y, size uint32, v T)) {
	var zero T
	if n.kind() == KindMixed {
		half := size / 2
		for slot, child := range n.children {
			cx := x + (uint32(slot)%2)*half
			cy := y + (uint32(slot)/2)*half
			forEachRec(child, cx, cy, half, filter, op)
		}
		return
	}
	switch filter {
	case FilterWhite:
		if n.value != zero {
			return
		}
	case FilterBlack:
		if n.value == zero {
			return
		}
	}
	op(x, y, size, n.value)
}

// Count returns the number of individual cells matching filter.
func (t *Tree[T]) Count(filter Filter) uint64 {
	var count uint64
	t.ForEach(filter, func(_, _, size uint32, _ T) {
		count += uint64(size) * uint64(size)
	})
	return count
}

// IsEmpty reports whether every cell is the zero value.
func (t *Tree[T]) IsEmpty() bool {
	return t.root.kind() == KindEmpty
}

// IsFull reports whether every cell is equal and non-zero.
func (t *Tree[T]) IsFull() bool {
	return t.root.kind() == KindFull
}

// Clone returns a deep, independent copy of t.
func (t *Tree[T]) Clone() *Tree[T] {
	return &Tree[T]{Order: t.Order, root: cloneRec(t.root)}
}

func cloneRec[T comparable](n *node[T]) *node[T] {
	if n.kind() != KindMixed {
		return newLeaf(n.value)
	}
	var children [4]*node[T]
	for i, c := range n.children {
		children[i] = cloneRec(c)
	}
	return &node[T]{children: &children}
}

// zipMerge walks a and b in lockstep, applying op at the finest
// partition either side presents, and recompressing the result —
// used by the boolean set operations in mask.go so that a MIXED
// region on one side never gets flattened to a single value sampled
// from only its top-left cell.
func zipMerge[T comparable](a, b *node[T], op func(x, y T) T) *node[T] {
	ak, bk := a.kind(), b.kind()
	if ak != KindMixed && bk != KindMixed {
		return newLeaf(op(a.value, b.value))
	}
	var achildren, bchildren [4]*node[T]
	if ak == KindMixed {
		achildren = *a.children
	} else {
		for i := range achildren {
			achildren[i] = newLeaf(a.value)
		}
	}
	if bk == KindMixed {
		bchildren = *b.children
	} else {
		for i := range bchildren {
			bchildren[i] = newLeaf(b.value)
		}
	}
	var children [4]*node[T]
	for i := range children {
		children[i] = zipMerge(achildren[i], bchildren[i], op)
	}
	first := children[0]
	if first.kind() != KindMixed {
		uniform := true
		for _, c := range children[1:] {
			if c.kind() == KindMixed || c.value != first.value {
				uniform = false
				break
			}
		}
		if uniform {
			return newLeaf(first.value)
		}
	}
	return &node[T]{children: &children}
}

func (t *Tree[T]) String() string {
	return fmt.Sprintf("Tree[order=%d dims=%d root=%v]", t.Order, t.Dims(), t.Root())
}
