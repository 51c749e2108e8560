package storage

import (
	"fmt"
	"time"

	"github.com/DavidLevinsky/vts-libs-sub000/internal/metrics"
	"github.com/DavidLevinsky/vts-libs-sub000/internal/progressutil"
	"github.com/DavidLevinsky/vts-libs-sub000/merge"
	"github.com/DavidLevinsky/vts-libs-sub000/metatile"
	"github.com/DavidLevinsky/vts-libs-sub000/registry"
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
	"github.com/DavidLevinsky/vts-libs-sub000/tileindex"
	"github.com/DavidLevinsky/vts-libs-sub000/tileset"
)

// RawMeshEncoder turns a merge.Output's structural result back into the
// mesh/atlas/navtile byte streams a tileset stores. Producing that
// binary payload is an image/geometry codec concern external to this
// package (spec.md §1 Non-goals), so generate delegates it rather than
// inventing its own mesh format.
type RawMeshEncoder interface {
	Encode(out merge.Output) (mesh, atlas, navtile []byte, err error)
}

// RawMeshDecoder is RawMeshEncoder's inverse: it turns a tileset's
// stored mesh bytes into the structural *merge.Mesh the merge core
// clips, refines and reprojects. Parsing the actual mesh format is the
// same external geometry-codec concern RawMeshEncoder's doc comment
// names (spec.md §1 Non-goals), so a multi-owner glue tile's real
// stored geometry goes through this collaborator before merge.Merge
// ever sees it, rather than a fabricated stand-in.
type RawMeshDecoder interface {
	Decode(mesh []byte) (*merge.Mesh, error)
}

func creditsOf(node metatile.MetaNode) []uint16 {
	if node.Credits == nil {
		return nil
	}
	out := make([]uint16, 0, node.Credits.GetCardinality())
	it := node.Credits.Iterator()
	for it.HasNext() {
		out = append(out, uint16(it.Next()))
	}
	return out
}

// GenerateGlue builds exactly one glue tileset for g (spec §4.G). Every
// tile owned by exactly one member is copied verbatim through PutRaw,
// the same shortcut merge.Merge's own single-source path takes; every
// tile two or more members both have real content at is handed to
// merge.Merge with the caller-supplied clipper/refiner/constraints
// (spec §4.H), and the structural result is serialized back to bytes
// by encoder. The result is stored under storage/glues/<g...> and
// registered with the storage's glue catalog.
func (s *Storage) GenerateGlue(
	g GlueID,
	rf registry.ReferenceFrame,
	boundLayers map[string]registry.BoundLayer,
	clipper merge.MeshClipper,
	refiner merge.MeshRefiner,
	constraints merge.MergeConstraints,
	decoder RawMeshDecoder,
	encoder RawMeshEncoder,
	opts AddOptions,
) (Glue, error) {
	if len(g) < 2 {
		return Glue{}, fmt.Errorf("storage: glue id needs at least two members, got %v", g)
	}
	start := time.Now()
	ok := false
	defer func() { metrics.ObserveGlueBuild(time.Since(start).Seconds(), ok) }()

	if opts.Locker != nil {
		if err := opts.Locker.Lock(g.String()); err != nil {
			return Glue{}, err
		}
		defer opts.Locker.Unlock(g.String())
	}
	if constraints == nil {
		constraints = merge.AlwaysConstraints{}
	}

	members := make([]*tileset.TileSet, len(g))
	for i, id := range g {
		ts, err := tileset.Open(s.tilesetPath(id), rf, boundLayers, true)
		if err != nil {
			return Glue{}, fmt.Errorf("storage: open glue member %q: %w", id, err)
		}
		defer ts.Close()
		members[i] = ts
	}

	lo, hi := members[0].Properties.LodRange.Min, members[0].Properties.LodRange.Max
	for _, ts := range members[1:] {
		if ts.Properties.LodRange.Min < lo {
			lo = ts.Properties.LodRange.Min
		}
		if ts.Properties.LodRange.Max > hi {
			hi = ts.Properties.LodRange.Max
		}
	}

	top := members[len(members)-1]
	dir := s.glueDirFor(g)
	out, err := tileset.Create(dir, tileset.Properties{
		ID:             g.String(),
		ReferenceFrame: s.Properties.ReferenceFrame,
		Driver: tileset.DriverOptions{
			Kind:         tileset.DriverPlain,
			BinaryOrder:  top.Properties.Driver.BinaryOrder,
			FilesPerTile: top.Properties.Driver.FilesPerTile,
		},
		LodRange: tileid.LodRange{Min: lo, Max: hi},
	}, rf, boundLayers, tileset.CreateOverwrite)
	if err != nil {
		return Glue{}, fmt.Errorf("storage: create glue tileset: %w", err)
	}

	for lod := lo; lod <= hi; lod++ {
		owners := make(map[uint64][]int)
		for i, ts := range members {
			ts.ForEachRealTile(lod, func(id tileid.ID) {
				key := uint64(id.X)<<32 | uint64(id.Y)
				owners[key] = append(owners[key], i)
			})
		}
		for key, idxs := range owners {
			id := tileid.ID{Lod: lod, X: uint32(key >> 32), Y: uint32(key & 0xffffffff)}
			if err := s.generateGlueTile(out, members, g, id, idxs, clipper, refiner, constraints, decoder, encoder); err != nil {
				return Glue{}, err
			}
		}
	}

	if err := out.Close(); err != nil {
		return Glue{}, err
	}

	glue := Glue{ID: append(GlueID{}, g...), Path: dir}
	s.Properties.Glues[g.String()] = glue
	s.Properties.Revision++
	if err := s.writeConfig(); err != nil {
		return Glue{}, err
	}
	ok = true
	return glue, nil
}

func (s *Storage) generateGlueTile(
	out *tileset.TileSet,
	members []*tileset.TileSet,
	g GlueID,
	id tileid.ID,
	idxs []int,
	clipper merge.MeshClipper,
	refiner merge.MeshRefiner,
	constraints merge.MergeConstraints,
	decoder RawMeshDecoder,
	encoder RawMeshEncoder,
) error {
	if len(idxs) == 1 {
		ts := members[idxs[0]]
		content, err := ts.GetTile(id)
		if err != nil {
			return err
		}
		node, err := ts.GetMetaNode(id)
		if err != nil {
			return err
		}
		return out.PutRaw(id, content, node, ts.Flags(id))
	}

	inputs := make([]merge.MeshOpInput, 0, len(idxs))
	for _, mi := range idxs {
		ts := members[mi]
		node, err := ts.GetMetaNode(id)
		if err != nil {
			return err
		}
		content, err := ts.GetTile(id)
		if err != nil {
			return err
		}
		mesh, err := decoder.Decode(content.Mesh)
		if err != nil {
			return fmt.Errorf("storage: decode mesh for %s source %q: %w", id, g[mi], err)
		}
		mesh.SourceID = int16(mi)
		inputs = append(inputs, merge.MeshOpInput{
			ID:         g[mi],
			StackPos:   mi,
			TileID:     id,
			Mesh:       mesh,
			Atlas:      [][]byte{content.Atlas},
			NavTile:    content.NavTile,
			Watertight: ts.FullyCovered(id),
			Credits:    creditsOf(node),
		})
	}

	identity := func(merge.MeshOpInput) merge.Transform { return merge.Identity2D() }
	result, err := merge.Merge(id, inputs, identity, identity, clipper, refiner, constraints)
	if err != nil {
		return err
	}

	mesh, atlas, navtile, err := encoder.Encode(result)
	if err != nil {
		return fmt.Errorf("storage: encode merged tile %s: %w", id, err)
	}
	content := tileset.TileContent{Mesh: mesh, Atlas: atlas, NavTile: navtile}

	var extra byte
	if len(atlas) > 0 {
		extra |= byte(tileindex.FlagAtlas)
	}
	node := metatile.MetaNode{Flags: metatile.FlagGeometry}
	return out.PutRaw(id, content, node, extra)
}

// GenerateGlues runs GenerateGlue for every glue directory still absent
// for tilesetID ("" for every tileset in the whole storage), in
// CompareGlueOrder priority (spec §4.G). It uses the cheap
// directory-absence check pendingGluesInvolving already applies at add
// time; callers that want the stricter footprint-overlap test first
// should call PendingGlues themselves and pass its result's ids one at
// a time to GenerateGlue instead.
func (s *Storage) GenerateGlues(
	tilesetID string,
	rf registry.ReferenceFrame,
	boundLayers map[string]registry.BoundLayer,
	clipper merge.MeshClipper,
	refiner merge.MeshRefiner,
	constraints merge.MergeConstraints,
	decoder RawMeshDecoder,
	encoder RawMeshEncoder,
	opts AddOptions,
) ([]Glue, error) {
	pending := s.pendingGluesInvolving(tilesetID, opts.Rules)
	progress := progressutil.NewCountProgress(int64(len(pending)), "generating glues")
	defer progress.Close()

	out := make([]Glue, 0, len(pending))
	for _, g := range pending {
		glue, err := s.GenerateGlue(g, rf, boundLayers, clipper, refiner, constraints, decoder, encoder, opts)
		if err != nil {
			return out, fmt.Errorf("storage: generate glue %s: %w", g, err)
		}
		out = append(out, glue)
		progress.Add(1)
	}
	return out, nil
}
