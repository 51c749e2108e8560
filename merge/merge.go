package merge

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

// Mesh is the opaque geometry payload the external mesh library
// produces and consumes; the merge core never inspects its contents,
// only passes it between MeshClipper/MeshRefiner calls and the final
// output (spec.md §1 Non-goals: mesh geometry primitives).
type Mesh struct {
	Submeshes  []Submesh
	FaceCount  int
	SourceID   int16 // stack position of the contributing source, -1 for a freshly merged composite
}

// Submesh is one textured part of a Mesh.
type Submesh struct {
	UVAreaScale       float64
	SurfaceReference  int // source.id + 1, 0 if this submesh owns its own texture (spec §4.H step 4)
	ExternalTexcoords bool
}

// MeshOpInput is one contributing source for one target tile (spec
// §4.H).
type MeshOpInput struct {
	ID       string
	StackPos int // ascending stack order; 0 = bottom
	TileID   tileid.ID
	Mesh     *Mesh
	Atlas    [][]byte // per-submesh atlas image, nil entries allowed
	NavTile  []byte
	Coverage CoverageMask // nil => Watertight must be true
	Watertight bool
	Credits  []uint16
	IsAncestor bool // tile was inherited from a parent node, needs etcNCTrafo reprojection
}

// TileSource pairs one MeshOpInput with the transform from its own
// tile space into the target's, used to carry unmerged ancestor inputs
// forward (spec §4.H "optional parent TileSource set").
type TileSource struct {
	Input     MeshOpInput
	ToTarget  Transform
}

// Output is the merge result for one target tile.
type Output struct {
	Mesh         *Mesh
	Atlas        [][]byte
	NavTile      []byte
	Credits      []uint16
	GeomExtents  [6]float64 // llx,urx,lly,ury,llz,urz, normalized unit-cube
	CoverageMask [RasterSide][RasterSide]bool
	Used         []MeshOpInput
}

// MeshClipper is the external collaborator that clips a source mesh to
// a target tile's unit square (inflated by one pixel) and reprojects
// texture coordinates (spec §4.H step 3/4).
type MeshClipper interface {
	Clip(input MeshOpInput, target tileid.ID, toTarget Transform) (*Mesh, error)
	// FacePixels returns, for each face index of mesh, the list of
	// raster pixel coordinates its scan-converted footprint covers
	// (spec §4.H step 4's per-face coverage test).
	FacePixels(mesh *Mesh, toRaster Transform) [][][2]int
}

// MeshRefiner is the external collaborator that increases a clipped
// mesh's face count toward a target, capped by the original mesh's
// face count (spec §4.H step 5).
type MeshRefiner interface {
	Refine(mesh *Mesh, targetFaces int) (*Mesh, error)
}

// Resampler upsamples a navtile grid by one 2x Catmull-Rom pass (spec
// §4.H step 6); the merge core drives the up-to-3-levels-per-call
// schedule and cropping, the resampler supplies the kernel.
type Resampler interface {
	Upsample2x(grid []byte) []byte
}

// MergeConstraints lets the caller (typically glue generation) decide
// whether a merge is worth attempting at all, and whether its result
// is meaningful enough to keep (spec §4.H "Feasibility / generability").
type MergeConstraints interface {
	Generable(target tileid.ID, inputs []MeshOpInput) bool
	Feasible(out Output) bool
}

// AlwaysConstraints is the permissive default: every merge is
// generable, every output is feasible.
type AlwaysConstraints struct{}

func (AlwaysConstraints) Generable(tileid.ID, []MeshOpInput) bool { return true }
func (AlwaysConstraints) Feasible(Output) bool                    { return true }

// SourceMerge unions current and parent input lists, dropping entries
// without a mesh; where an id appears in both, current wins if the
// current level is within mergeableRange, else parent wins (spec §4.H
// step 1).
func SourceMerge(current, parent []MeshOpInput, target tileid.ID, mergeableRange tileid.LodRange) []MeshOpInput {
	byID := make(map[string]MeshOpInput)
	order := make([]string, 0, len(current)+len(parent))
	add := func(in MeshOpInput, preferOverExisting bool) {
		if in.Mesh == nil {
			return
		}
		if _, exists := byID[in.ID]; !exists {
			order = append(order, in.ID)
		} else if !preferOverExisting {
			return
		}
		byID[in.ID] = in
	}
	for _, p := range parent {
		add(p, false)
	}
	currentPreferred := mergeableRange.Contains(target.Lod)
	for _, c := range current {
		add(c, currentPreferred)
	}
	out := make([]MeshOpInput, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StackPos < out[j].StackPos })
	return out
}

// BuildCoverageRaster paints every input's coverage onto a fresh
// raster from the bottom of the stack upward (spec §4.H step 2): each
// pixel ends up holding the id of the last (top-most) source that
// covers it. A watertight source's PaintFull naturally overwrites
// every pixel a lower contributor had claimed, which already gives
// the "skip everything below a fully-covering watertight source"
// shortcut its intended effect without a separate code path.
func BuildCoverageRaster(inputs []MeshOpInput, toRaster func(MeshOpInput) Transform) *CoverageRaster {
	r := NewCoverageRaster()
	for _, in := range inputs {
		paintOne(r, in, toRaster(in))
	}
	return r
}

func paintOne(r *CoverageRaster, in MeshOpInput, t Transform) {
	if in.Watertight {
		r.PaintFull(int16(in.StackPos))
		return
	}
	if in.Coverage != nil {
		r.PaintMask(int16(in.StackPos), in.Coverage, t)
	}
}

// Merge runs the full algorithm for one target tile (spec §4.H).
func Merge(
	target tileid.ID,
	inputs []MeshOpInput,
	toRaster func(MeshOpInput) Transform,
	toTarget func(MeshOpInput) Transform,
	clipper MeshClipper,
	refiner MeshRefiner,
	constraints MergeConstraints,
) (Output, error) {
	if len(inputs) == 0 {
		return Output{}, fmt.Errorf("merge: no inputs for %s", target)
	}
	if !constraints.Generable(target, inputs) {
		return Output{}, fmt.Errorf("merge: %s not generable from given inputs", target)
	}

	raster := BuildCoverageRaster(inputs, toRaster)

	if single, ok := raster.SingleSource(); ok {
		in := byStackPos(inputs, single)
		out, err := singleSourceOutput(target, in, toTarget(in), raster, clipper, refiner)
		if err != nil {
			return Output{}, err
		}
		if !constraints.Feasible(out) {
			return Output{}, fmt.Errorf("merge: single-source result for %s rejected by constraints", target)
		}
		return out, nil
	}

	contributors := raster.Contributors()
	out := Output{Mesh: &Mesh{SourceID: -1}, CoverageMask: raster.CoverageUnion()}
	for _, id := range contributors {
		in := byStackPos(inputs, id)
		clipped, err := clipper.Clip(in, target, toTarget(in))
		if err != nil {
			return Output{}, err
		}
		kept := keepFacesOnRaster(clipped, clipper, raster, id, toRaster(in))
		if in.IsAncestor && refiner != nil {
			delta := int(target.Lod) - int(in.TileID.Lod)
			targetFaces := maxFaces(kept, delta)
			if refined, err := refiner.Refine(kept, targetFaces); err == nil {
				kept = refined
			}
		}
		applySubmeshMeta(kept, id, target, in)
		out.Mesh.Submeshes = append(out.Mesh.Submeshes, kept.Submeshes...)
		out.Mesh.FaceCount += kept.FaceCount
		out.Atlas = append(out.Atlas, in.Atlas...)
		out.Used = append(out.Used, in)
	}
	out.Credits = unionCredits(out.Used)

	if !constraints.Feasible(out) {
		return Output{}, fmt.Errorf("merge: multi-source result for %s rejected by constraints", target)
	}
	return out, nil
}

func byStackPos(inputs []MeshOpInput, pos int16) MeshOpInput {
	for _, in := range inputs {
		if int16(in.StackPos) == pos {
			return in
		}
	}
	return MeshOpInput{}
}

func singleSourceOutput(target tileid.ID, in MeshOpInput, toTarget Transform, raster *CoverageRaster, clipper MeshClipper, refiner MeshRefiner) (Output, error) {
	if in.TileID == target {
		return Output{
			Mesh: in.Mesh, Atlas: in.Atlas, NavTile: in.NavTile,
			Credits: in.Credits, Used: []MeshOpInput{in},
			CoverageMask: raster.CoverageUnion(),
		}, nil
	}
	mesh, err := clipper.Clip(in, target, toTarget)
	if err != nil {
		return Output{}, err
	}
	if in.IsAncestor && refiner != nil {
		delta := int(target.Lod) - int(in.TileID.Lod)
		targetFaces := maxFaces(mesh, delta)
		if refined, err := refiner.Refine(mesh, targetFaces); err == nil {
			mesh = refined
		}
	}
	return Output{
		Mesh: mesh, Atlas: in.Atlas, NavTile: in.NavTile,
		Credits: in.Credits, Used: []MeshOpInput{in},
	}, nil
}

// maxFaces computes currentFaces * 4^min(delta,8), capped by the
// original mesh's own face count (spec §4.H step 5).
func maxFaces(mesh *Mesh, delta int) int {
	if delta > 8 {
		delta = 8
	}
	if delta < 0 {
		delta = 0
	}
	target := mesh.FaceCount
	for i := 0; i < delta; i++ {
		target *= 4
	}
	if target > mesh.FaceCount {
		// the spec caps refinement at the original mesh's face count;
		// "original" here is the same mesh we were handed pre-clip, which
		// callers are expected to have captured before calling Clip.
		target = mesh.FaceCount
	}
	return target
}

func keepFacesOnRaster(mesh *Mesh, clipper MeshClipper, raster *CoverageRaster, id int16, toRaster Transform) *Mesh {
	facePixels := clipper.FacePixels(mesh, toRaster)
	kept := &Mesh{SourceID: id}
	for i, sm := range mesh.Submeshes {
		if i < len(facePixels) && !raster.FaceCoveredBy(facePixels[i], id) {
			continue
		}
		kept.Submeshes = append(kept.Submeshes, sm)
		kept.FaceCount++
	}
	if kept.FaceCount == 0 {
		return mesh
	}
	return kept
}

func applySubmeshMeta(mesh *Mesh, id int16, target tileid.ID, in MeshOpInput) {
	scale := 1.0
	if target.Lod > in.TileID.Lod {
		for i := uint8(0); i < target.Lod-in.TileID.Lod; i++ {
			scale *= 4
		}
	}
	for i := range mesh.Submeshes {
		mesh.Submeshes[i].UVAreaScale = scale
		mesh.Submeshes[i].SurfaceReference = int(id) + 1
	}
}

func unionCredits(inputs []MeshOpInput) []uint16 {
	bm := roaring64.New()
	for _, in := range inputs {
		for _, c := range in.Credits {
			bm.Add(uint64(c))
		}
	}
	out := make([]uint16, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, uint16(it.Next()))
	}
	return out
}

// UpsampleNavTile implements the navtile upsample policy (spec §4.H
// step 6): while the source is above the target, 2x Catmull-Rom
// resample up to 3 levels per pass and crop after each pass toward the
// target's sub-quadrant. Cropping geometry (which
// sub-quadrant, pixel bounds) is left to the caller's crop func, since
// it depends on grid dimensions the merge core doesn't own.
func UpsampleNavTile(grid []byte, sourceLod, targetLod uint8, r Resampler, crop func(grid []byte, levelsApplied int) []byte) []byte {
	for sourceLod < targetLod {
		levels := int(targetLod - sourceLod)
		if levels > 3 {
			levels = 3
		}
		for i := 0; i < levels; i++ {
			grid = r.Upsample2x(grid)
		}
		sourceLod += uint8(levels)
		grid = crop(grid, levels)
	}
	return grid
}
