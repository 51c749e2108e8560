package metatile

import "github.com/paulmach/orb"

// Extents is the normalized unit-cube bounding box of a tile's
// geometry: an orb.Bound for the (X,Y) plane, widened the same way the
// teacher widens 2D coverage bounds in bitmap.go, plus an explicit
// [minZ,maxZ] pair since orb.Bound is two-dimensional.
type Extents struct {
	XY         orb.Bound
	MinZ, MaxZ float64
}

// emptyExtents is the distinguished empty value: an inverted bound that
// Union treats as absorbing.
func emptyExtents() Extents {
	return Extents{
		XY:   orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{0, 0}},
		MinZ: 1, MaxZ: 0,
	}
}

// Empty reports whether e carries no geometry.
func (e Extents) Empty() bool {
	return e.XY.Min[0] > e.XY.Max[0] || e.XY.Min[1] > e.XY.Max[1] || e.MinZ > e.MaxZ
}

// NewExtents builds an Extents from the six packed-wire values in the
// order the codec stores them: llX, urX, llY, urY, llZ, urZ.
func NewExtents(llX, urX, llY, urY, llZ, urZ float64) Extents {
	return Extents{
		XY:   orb.Bound{Min: orb.Point{llX, llY}, Max: orb.Point{urX, urY}},
		MinZ: llZ, MaxZ: urZ,
	}
}

// Union returns the smallest extents containing both e and o.
func (e Extents) Union(o Extents) Extents {
	if o.Empty() {
		return e
	}
	if e.Empty() {
		return o
	}
	return Extents{
		XY:   e.XY.Union(o.XY),
		MinZ: min(e.MinZ, o.MinZ),
		MaxZ: max(e.MaxZ, o.MaxZ),
	}
}

// LLX, URX, LLY, URY, LLZ, URZ return the six packed-wire values in
// codec order.
func (e Extents) LLX() float64 { return e.XY.Min[0] }
func (e Extents) URX() float64 { return e.XY.Max[0] }
func (e Extents) LLY() float64 { return e.XY.Min[1] }
func (e Extents) URY() float64 { return e.XY.Max[1] }
func (e Extents) LLZ() float64 { return e.MinZ }
func (e Extents) URZ() float64 { return e.MaxZ }
