package mask

// Flags is the byte-flag specialization of Tree, used by tileindex for
// its flagIndex/referenceIndex layers (spec §4.B/§4.D: "flag-variant
// carries one byte per leaf instead of a bit, preserving node
// structure").
type Flags = Tree[byte]

// NewFlags returns an all-zero flag raster of side 2^order.
func NewFlags(order uint8) *Flags {
	return New[byte](order)
}

// OrFlags returns a new raster where every cell is a.Get|b.Get,
// computed at the finest partition either side presents.
func OrFlags(a, b *Flags) *Flags {
	return &Flags{Order: a.Order, root: zipMerge(a.root, b.root, func(x, y byte) byte { return x | y })}
}

// AndFlags returns a new raster where every cell is a.Get&b.Get.
func AndFlags(a, b *Flags) *Flags {
	return &Flags{Order: a.Order, root: zipMerge(a.root, b.root, func(x, y byte) byte { return x & y })}
}

// AndNotFlags returns a new raster where every cell is a.Get&^b.Get.
func AndNotFlags(a, b *Flags) *Flags {
	return &Flags{Order: a.Order, root: zipMerge(a.root, b.root, func(x, y byte) byte { return x &^ y })}
}

// XorInvertFlags returns a new raster with every byte's bits flipped
// (^v), the byte-raster analogue of Invert.
func XorInvertFlags(a *Flags) *Flags {
	return &Flags{Order: a.Order, root: mapNode(a.root, func(v byte) byte { return ^v })}
}

// DilateSiblings returns a new raster where, for every node whose four
// children are its immediate siblings (the finest level present in the
// tree), if bit is set in the OR of the four then it is set in all
// four — one non-recursive propagation step across the grid's natural
// quad groupings. This backs tileindex's "round" operation (spec §4.D:
// "if any of four siblings is set, all four become set"), implemented
// by walking the compressed tree directly rather than materializing
// every leaf cell.
func DilateSiblings(t *Flags, bit byte) *Flags {
	return &Flags{Order: t.Order, root: dilateNode(t.root, bit)}
}

func dilateNode(n *node[byte], bit byte) *node[byte] {
	if n.kind() != KindMixed {
		return newLeaf(n.value)
	}
	children := *n.children
	allLeaves := true
	for _, c := range children {
		if c.kind() == KindMixed {
			allLeaves = false
			break
		}
	}
	if allLeaves {
		var union byte
		for _, c := range children {
			union |= c.value
		}
		if union&bit != 0 {
			var out [4]*node[byte]
			for i, c := range children {
				out[i] = newLeaf(c.value | bit)
			}
			return collapseIfUniform(out)
		}
		return n
	}
	var out [4]*node[byte]
	for i, c := range children {
		out[i] = dilateNode(c, bit)
	}
	return collapseIfUniform(out)
}

func collapseIfUniform(children [4]*node[byte]) *node[byte] {
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
	return &node[byte]{children: &children}
}

// PropagateUp returns a new raster where bit is OR'd into the four
// children of each node whenever it is set on any of them — one
// compression-level step toward the root, used by tileindex to climb
// from a finer grouping up to the parent's slot. This is distinct from
// DilateSiblings in that it also reports whether anything changed, so
// callers can iterate to a fixed point without re-diffing whole trees.
func PropagateUp(t *Flags, bit byte) (*Flags, bool) {
	out := DilateSiblings(t, bit)
	return out, !sameTree(t.root, out.root)
}

func sameTree(a, b *node[byte]) bool {
	ak, bk := a.kind(), b.kind()
	if ak != bk {
		return false
	}
	if ak != KindMixed {
		return a.value == b.value
	}
	for i := range a.children {
		if !sameTree(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}
