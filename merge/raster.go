// Package merge implements the coverage-raster merge algorithm that
// builds one composite tile from a ranked stack of source tiles
// (spec §4.H). Triangle clipping, scanline rasterization of mesh
// faces, and resampling kernels are external collaborators threaded
// in through the MeshClipper/MeshRefiner/Resampler interfaces (spec.md
// §1 Non-goals); this package owns the raster, the contributor
// selection, and the ordering/credits bookkeeping around them.
package merge

import "github.com/DavidLevinsky/vts-libs-sub000/tileid"

// RasterSide is the fixed resolution of the coverage raster (spec
// §4.H step 2: "256x256 raster").
const RasterSide = 256

// NoSource marks an uncovered raster pixel.
const NoSource = -1

// Transform is the 4x4 linear map from subdivision (unit-square)
// coordinates to raster pixel coordinates, or from one tile's unit
// square to an ancestor's (the "parent-to-child transform" of spec
// §4.H step 3 and the `etcNCTrafo` reprojection of step 4). Only the
// 2D affine submatrix is meaningful for raster projection; the full
// 4x4 shape is kept to match the external mesh library's convention
// for homogeneous transforms.
type Transform [4][4]float64

// Identity2D returns the transform mapping a [0,1]x[0,1] unit square
// directly onto the raster without scaling.
func Identity2D() Transform {
	var t Transform
	for i := range t {
		t[i][i] = 1
	}
	return t
}

// ChildToParent returns the transform that scales a child tile's unit
// square by 2^-deltaLod. Only for deltaLod == 1 does it also add the
// child's quadrant offset within its parent; for deltaLod > 1 the
// offset is zero, since one child index cannot place a tile several
// levels down.
func ChildToParent(childIdx tileid.ChildIndex, deltaLod uint8) Transform {
	t := Identity2D()
	scale := 1.0
	for i := uint8(0); i < deltaLod; i++ {
		scale *= 0.5
	}
	t[0][0], t[1][1] = scale, scale
	// offset picked so repeatedly nesting deltaLod=1 transforms for each
	// ancestor level composes into the right absolute placement; for a
	// single level this is exactly the child index's quadrant offset.
	if deltaLod == 1 {
		t[0][3] = float64(childIdx&1) * 0.5
		t[1][3] = float64((childIdx>>1)&1) * 0.5
	}
	return t
}

// Apply maps (x,y) in [0,1]x[0,1] through t's 2D affine submatrix.
func (t Transform) Apply(x, y float64) (float64, float64) {
	return t[0][0]*x + t[0][1]*y + t[0][3], t[1][0]*x + t[1][1]*y + t[1][3]
}

// CoverageRaster records, for each pixel, the stack position of the
// last (top-most) source that covers it, or NoSource.
type CoverageRaster struct {
	pixels [RasterSide * RasterSide]int16
}

// NewCoverageRaster returns a raster with every pixel uncovered.
func NewCoverageRaster() *CoverageRaster {
	r := &CoverageRaster{}
	for i := range r.pixels {
		r.pixels[i] = NoSource
	}
	return r
}

func (r *CoverageRaster) At(x, y int) int16 { return r.pixels[y*RasterSide+x] }
func (r *CoverageRaster) set(x, y int, id int16) {
	if x < 0 || y < 0 || x >= RasterSide || y >= RasterSide {
		return
	}
	r.pixels[y*RasterSide+x] = id
}

// PaintMask projects m (a boolean coverage mask in the source tile's
// own subdivision space) through t into the raster, stamping id onto
// every covered pixel; later calls (higher stack positions) overwrite
// earlier ones, matching "last covered wins" (spec §4.H step 2).
func (r *CoverageRaster) PaintMask(id int16, m CoverageMask, t Transform) {
	side := float64(m.Dims())
	for py := 0; py < RasterSide; py++ {
		v := (float64(py) + 0.5) / RasterSide
		for px := 0; px < RasterSide; px++ {
			u := (float64(px) + 0.5) / RasterSide
			sx, sy := t.Apply(u, v)
			mx, my := int(sx*side), int(sy*side)
			if mx < 0 || my < 0 || mx >= int(side) || my >= int(side) {
				continue
			}
			if m.Get(uint32(mx), uint32(my)) {
				r.set(px, py, id)
			}
		}
	}
}

// PaintFull stamps id onto every pixel unconditionally, used for a
// watertight source (spec §4.H step 2: "full square, if watertight").
func (r *CoverageRaster) PaintFull(id int16) {
	for i := range r.pixels {
		r.pixels[i] = id
	}
}

// CoverageMask is the minimal contract PaintMask needs from a source's
// coverage mask; satisfied directly by *mask.Mask (its Dims/Get
// methods), without this package importing mask itself.
type CoverageMask interface {
	Dims() uint32
	Get(x, y uint32) bool
}

// SingleSource reports whether exactly one source id appears anywhere
// in the raster, returning it if so (spec §4.H step 3).
func (r *CoverageRaster) SingleSource() (int16, bool) {
	found := int16(NoSource)
	seenAny := false
	for _, v := range r.pixels {
		if v == NoSource {
			continue
		}
		if !seenAny {
			found, seenAny = v, true
			continue
		}
		if v != found {
			return 0, false
		}
	}
	return found, seenAny
}

// Contributors returns the set of distinct source ids actually painted
// anywhere on the raster, in ascending order.
func (r *CoverageRaster) Contributors() []int16 {
	seen := make(map[int16]bool)
	for _, v := range r.pixels {
		if v != NoSource {
			seen[v] = true
		}
	}
	out := make([]int16, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// FaceCoveredBy reports whether at least one raster pixel that the
// face's scan-converted footprint (given as a list of (x,y) pixel
// coordinates already in raster space, supplied by the external
// rasterizer) covers is equal to id (spec §4.H step 4: "kept iff at
// least one pixel it covers equals the source's id").
func (r *CoverageRaster) FaceCoveredBy(pixels [][2]int, id int16) bool {
	for _, p := range pixels {
		if r.At(p[0], p[1]) == id {
			return true
		}
	}
	return false
}

// CoverageUnion returns a RasterSide x RasterSide boolean mask of every
// raster pixel that is covered by any source (the output tile's own
// coverageMask, spec §4.H step 4).
func (r *CoverageRaster) CoverageUnion() [RasterSide][RasterSide]bool {
	var out [RasterSide][RasterSide]bool
	for y := 0; y < RasterSide; y++ {
		for x := 0; x < RasterSide; x++ {
			out[y][x] = r.At(x, y) != NoSource
		}
	}
	return out
}
