package mask

// Mask is the boolean specialization of Tree used for tile coverage
// (the "full/partial/empty quad-tree bitmap" of spec §4.B).
type Mask = Tree[bool]

// NewMask returns an all-empty boolean mask of side 2^order.
func NewMask(order uint8) *Mask {
	return New[bool](order)
}

// FullMask returns an all-full boolean mask of side 2^order.
func FullMask(order uint8) *Mask {
	return Full[bool](order, true)
}

// Unite returns a new mask set wherever a or b is set.
func Unite(a, b *Mask) *Mask {
	return combine(a, b, func(x, y bool) bool { return x || y })
}

// Intersect returns a new mask set only where both a and b are set.
func Intersect(a, b *Mask) *Mask {
	return combine(a, b, func(x, y bool) bool { return x && y })
}

// Subtract returns a new mask set wherever a is set and b is not.
func Subtract(a, b *Mask) *Mask {
	return combine(a, b, func(x, y bool) bool { return x && !y })
}

// Invert returns a new mask with every cell's value flipped.
func Invert(a *Mask) *Mask {
	return &Mask{Order: a.Order, root: mapNode(a.root, func(v bool) bool { return !v })}
}

func mapNode[T comparable](n *node[T], op func(T) T) *node[T] {
	if n.kind() != KindMixed {
		return newLeaf(op(n.value))
	}
	var children [4]*node[T]
	for i, c := range n.children {
		children[i] = mapNode(c, op)
	}
	return &node[T]{children: &children}
}

func combine(a, b *Mask, op func(x, y bool) bool) *Mask {
	if a.Order != b.Order {
		panic("mask: combine requires equal order")
	}
	return &Mask{Order: a.Order, root: zipMerge(a.root, b.root, op)}
}

// Intersects reports whether a and b share any set cell.
func Intersects(a, b *Mask) bool {
	hit := false
	a.ForEach(FilterBlack, func(x, y, size uint32, _ bool) {
		if hit {
			return
		}
		for dy := uint32(0); dy < size && !hit; dy++ {
			for dx := uint32(0); dx < size && !hit; dx++ {
				if b.Get(x+dx, y+dy) {
					hit = true
				}
			}
		}
	})
	return hit
}

// GrowUp returns a new mask where every 2x2 block containing at least
// one set cell is fully set, one compression level coarser than the
// finest set cells (spec §4.B: "every marked tile also marks its
// parent").
func GrowUp(m *Mask) *Mask {
	if m.Order == 0 {
		return m.Clone()
	}
	out := NewMask(m.Order)
	dims := out.Dims()
	m.ForEach(FilterBlack, func(x, y, size uint32, _ bool) {
		// a run of this size occupies one quadrant of its enclosing
		// parent node, whose side is twice as large and aligned to a
		// multiple of that larger side.
		block := size * 2
		x0 := (x / block) * block
		y0 := (y / block) * block
		x1, y1 := x0+block, y0+block
		if x1 > dims {
			x1 = dims
		}
		if y1 > dims {
			y1 = dims
		}
		for yy := y0; yy < y1; yy++ {
			for xx := x0; xx < x1; xx++ {
				out.Set(xx, yy, true)
			}
		}
	})
	return Unite(m, out)
}

// GrowDown returns a new mask where every set cell also has all of its
// descendants (down to the leaf grid) set. Within a single Tree a set
// cell already implies every finer cell inside it is set, so this is
// the identity; the cross-lod variant of "mark all four children" (one
// tile marking its four child tiles at the next lod) lives in
// tileindex, which owns the per-lod stack of Trees.
func GrowDown(m *Mask) *Mask {
	return m.Clone()
}

// MakeComplete repeatedly applies GrowUp until the mask no longer
// changes (closes coverage up to the root), per spec §4.B.
func MakeComplete(m *Mask) *Mask {
	cur := m
	for {
		next := GrowUp(cur)
		if equalMasks(cur, next) {
			return next
		}
		cur = next
	}
}

func equalMasks(a, b *Mask) bool {
	if a.Order != b.Order {
		return false
	}
	eq := true
	a.ForEach(FilterAny, func(x, y, size uint32, v bool) {
		if !eq {
			return
		}
		for dy := uint32(0); dy < size; dy++ {
			for dx := uint32(0); dx < size; dx++ {
				if b.Get(x+dx, y+dy) != v {
					eq = false
					return
				}
			}
		}
	})
	return eq
}
