// Package tileset implements one tileset: a tile archive-backed store
// of meshes, atlases, navtiles and their per-tile metadata over a
// reference-frame quad-tree (spec §4.F).
package tileset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring"

	"github.com/DavidLevinsky/vts-libs-sub000/metatile"
	"github.com/DavidLevinsky/vts-libs-sub000/registry"
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
	"github.com/DavidLevinsky/vts-libs-sub000/tileindex"
	"github.com/DavidLevinsky/vts-libs-sub000/vtserror"
)

const (
	propertiesFile  = "tileset.conf"
	flagIndexFile   = "tileindex.flags"
	refIndexFile    = "tileindex.refs"
	defaultSoftCap  = 16
)

// SubmeshTexture is the per-submesh texture-area contribution setTile
// needs to compute texelSize. Area computation for internally-textured
// submeshes (reading the atlas image) is the external collaborator's
// job (spec §1 excludes image codecs); this struct carries its result.
type SubmeshTexture struct {
	External     bool
	BoundLayerID string  // meaningful when External
	AtlasArea    float64 // meaningful when !External; already scaled by the submesh's internal-texture fraction
}

// MeshGeometry is the precomputed geometric summary of a mesh payload
// setTile needs: physical (world-space) extents and total area.
// Triangle-level geometry stays with the external mesh library.
type MeshGeometry struct {
	LLX, URX, LLY, URY, LLZ, URZ float64
	Area                         float64
	Submeshes                    []SubmeshTexture
}

// Tile is the input to setTile (spec §4.F).
type Tile struct {
	Mesh      []byte
	MeshInfo  MeshGeometry
	Atlas     []byte
	NavTile   []byte
	Credits   []uint16
	Alien     bool
	Watertight bool
}

// TileSet is one open tileset.
type TileSet struct {
	path       string
	Properties Properties

	rf          registry.ReferenceFrame
	boundLayers map[string]registry.BoundLayer

	driver    tileDriver
	flags     *tileindex.Index
	refs      *tileindex.Index
	metaCache *MetatileCache

	readOnly bool
}

// Create initializes a new tileset on disk at path.
func Create(path string, props Properties, rf registry.ReferenceFrame, boundLayers map[string]registry.BoundLayer, mode CreateMode) (*TileSet, error) {
	if mode == CreateFailIfExists {
		if _, err := os.Stat(filepath.Join(path, propertiesFile)); err == nil {
			return nil, fmt.Errorf("%w: tileset already exists at %s", vtserror.ErrStorageAlreadyExists, path)
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	if props.LodRange.Empty() {
		return nil, fmt.Errorf("%w: empty lod range", vtserror.ErrInconsistentInput)
	}

	ts := &TileSet{
		path:        path,
		Properties:  props,
		rf:          rf,
		boundLayers: boundLayers,
		driver:      NewDriver(filepath.Join(path, "data"), props.Driver.BinaryOrder, false, defaultSoftCap),
		flags:       tileindex.New(props.LodRange),
		refs:        tileindex.New(props.LodRange),
	}
	ts.metaCache = NewMetatileCache(CacheLRU, defaultSoftCap, ts.writeBackMetaTile)
	if err := ts.writeProperties(); err != nil {
		return nil, err
	}
	return ts, nil
}

// Open opens an existing tileset at path.
func Open(path string, rf registry.ReferenceFrame, boundLayers map[string]registry.BoundLayer, readOnly bool) (*TileSet, error) {
	props, err := readProperties(path)
	if err != nil {
		return nil, err
	}

	var driver tileDriver
	if props.Driver.Kind == DriverRemote {
		if !readOnly {
			return nil, fmt.Errorf("%w: remote tileset can only be opened read-only", vtserror.ErrInconsistentInput)
		}
		driver, err = NewRemoteDriver(context.Background(), props.Driver.RemoteURL, props.ID,
			filepath.Join(path, "remote-cache"), props.Driver.BinaryOrder, defaultSoftCap)
		if err != nil {
			return nil, err
		}
	} else {
		driver = NewDriver(filepath.Join(path, "data"), props.Driver.BinaryOrder, readOnly, defaultSoftCap)
	}

	ts := &TileSet{
		path:        path,
		Properties:  props,
		rf:          rf,
		boundLayers: boundLayers,
		driver:      driver,
		readOnly:    readOnly,
	}
	ts.metaCache = NewMetatileCache(CacheLRU, defaultSoftCap, ts.writeBackMetaTile)

	ts.flags, err = readIndex(filepath.Join(path, flagIndexFile), props.LodRange)
	if err != nil {
		return nil, err
	}
	ts.refs, err = readIndex(filepath.Join(path, refIndexFile), props.LodRange)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func flagsFromNode(n *metatile.MetaNode) byte {
	var f byte
	if n.Geometry() {
		f |= byte(tileindex.FlagMesh)
	}
	if n.Reference() > 0 {
		f |= byte(tileindex.FlagReference)
	}
	return f
}

// SetTile validates and stores a tile's mesh/atlas streams and derives
// its MetaNode per the formulas in spec §4.F, then runs the
// metadata-up ascent.
func (ts *TileSet) SetTile(id tileid.ID, t Tile) error {
	if ts.readOnly {
		return vtserror.ErrReadOnly
	}
	if len(t.Mesh) == 0 {
		return fmt.Errorf("%w: setTile requires a mesh payload", vtserror.ErrBadTile)
	}
	if len(t.Atlas) > 0 && len(t.MeshInfo.Submeshes) == 0 {
		return fmt.Errorf("%w: atlas given without submesh texture info", vtserror.ErrBadTile)
	}

	if err := ts.driver.Output(FileMesh, id, t.Mesh); err != nil {
		return err
	}
	if len(t.Atlas) > 0 {
		if err := ts.driver.Output(FileAtlas, id, t.Atlas); err != nil {
			return err
		}
	}
	if len(t.NavTile) > 0 {
		if err := ts.driver.Output(FileNavtile, id, t.NavTile); err != nil {
			return err
		}
	}

	ne := ts.rf.NodeExtentsFor(id)
	llx, lly, llz := ne.Normalize(t.MeshInfo.LLX, t.MeshInfo.LLY, t.MeshInfo.LLZ)
	urx, ury, urz := ne.Normalize(t.MeshInfo.URX, t.MeshInfo.URY, t.MeshInfo.URZ)

	var textureArea float64
	var internalCount uint8
	for _, sm := range t.MeshInfo.Submeshes {
		if sm.External {
			textureArea += ts.boundLayers[sm.BoundLayerID].TileArea(id)
		} else {
			textureArea += sm.AtlasArea
			internalCount++
		}
	}
	var texelSize float32
	if textureArea > 0 {
		texelSize = float32(math.Sqrt(t.MeshInfo.Area / textureArea))
	}

	node := metatile.MetaNode{
		Flags:                metatile.FlagGeometry,
		GeomExtents:          metatile.NewExtents(llx, urx, lly, ury, llz, urz),
		InternalTextureCount: internalCount,
		TexelSize:            texelSize,
		HeightRange:          [2]int16{clampInt16(t.MeshInfo.LLZ), clampInt16(t.MeshInfo.URZ)},
	}
	if len(t.Credits) > 0 {
		node.Credits = roaring.New()
		for _, c := range t.Credits {
			node.Credits.Add(uint32(c))
		}
	}

	var extra byte
	if len(t.Atlas) > 0 {
		extra |= byte(tileindex.FlagAtlas)
	}
	if t.Watertight {
		extra |= byte(tileindex.FlagWatertight)
	}
	if t.Alien {
		extra |= byte(tileindex.FlagAlien)
	}

	return ts.updateNode(id, node, extra)
}

// SetCacheMode switches ts's metatile cache policy. CacheScarce is only
// valid on a read-only tileset (spec §4.F); a writable tileset always
// uses CacheLRU. Anything already resident is kept;
// only the eviction policy going forward changes.
func (ts *TileSet) SetCacheMode(mode CacheMode) error {
	if mode == CacheScarce && !ts.readOnly {
		return fmt.Errorf("%w: CacheScarce requires a read-only tileset", vtserror.ErrInconsistentInput)
	}
	ts.metaCache.mode = mode
	return nil
}

// SetNavTile attaches a navtile to an already-existing tile.
func (ts *TileSet) SetNavTile(id tileid.ID, navtile []byte) error {
	if ts.readOnly {
		return vtserror.ErrReadOnly
	}
	if !tileindex.Real(ts.flags.Get(id)) {
		return fmt.Errorf("%w: setNavTile requires existing geometry at %s", vtserror.ErrNoSuchTile, id)
	}
	if err := ts.driver.Output(FileNavtile, id, navtile); err != nil {
		return err
	}
	mt, err := ts.loadOrCreateMetaTile(blockOrigin(id, ts.Properties.Driver.BinaryOrder))
	if err != nil {
		return err
	}
	node, _ := mt.Get(id)
	node.Flags |= metatile.FlagNavtile
	mt.Set(id, node)
	ts.flags.Set(id, ts.flags.Get(id)|byte(tileindex.FlagNavtile))
	return nil
}

// updateNode implements the metadata-up protocol (spec §4.F).
func (ts *TileSet) updateNode(id tileid.ID, node metatile.MetaNode, extraFlags byte) error {
	mt, err := ts.loadOrCreateMetaTile(blockOrigin(id, ts.Properties.Driver.BinaryOrder))
	if err != nil {
		return err
	}
	mt.Set(id, node)
	ts.flags.Set(id, flagsFromNode(&node)|extraFlags)
	if ref := node.Reference(); ref > 0 {
		ts.refs.Set(id, ref)
	}

	for id.Lod > 0 {
		parent, _ := id.Parent(1)
		parentMt, err := ts.loadOrCreateMetaTile(blockOrigin(parent, ts.Properties.Driver.BinaryOrder))
		if err != nil {
			return err
		}
		parentNode, _ := parentMt.Get(parent)
		parentNode.MergeChild(id.ChildIndexOf(), &node)
		parentMt.Set(parent, parentNode)

		node = parentNode
		id = parent
	}
	return nil
}

func (ts *TileSet) loadOrCreateMetaTile(origin tileid.ID) (*metatile.MetaTile, error) {
	if mt, ok := ts.metaCache.Get(origin); ok {
		return mt, nil
	}
	payload, err := ts.driver.Input(FileMeta, origin)
	var mt *metatile.MetaTile
	switch {
	case err == nil:
		mt, err = metatile.Decode(payload, ts.Properties.Driver.BinaryOrder)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, vtserror.ErrNoSuchTile):
		mt = metatile.New(origin, ts.Properties.Driver.BinaryOrder)
	default:
		return nil, err
	}
	if err := ts.metaCache.Put(origin, mt); err != nil {
		return nil, err
	}
	return mt, nil
}

func (ts *TileSet) writeBackMetaTile(origin tileid.ID, mt *metatile.MetaTile) error {
	buf, err := metatile.Encode(mt)
	if err != nil {
		return err
	}
	return ts.driver.Output(FileMeta, origin, buf)
}

// Exists reports whether id names a real tile (mesh or atlas present).
func (ts *TileSet) Exists(id tileid.ID) bool {
	return tileindex.Real(ts.flags.Get(id))
}

// Flags returns the raw flag-index byte at id.
func (ts *TileSet) Flags(id tileid.ID) byte {
	return ts.flags.Get(id)
}

// ForEachRealTile calls op for every real tile (mesh or atlas present)
// at lod, used by the aggregated driver to compute per-tile ownership
// (spec §4.I).
func (ts *TileSet) ForEachRealTile(lod uint8, op func(id tileid.ID)) {
	ts.flags.ForEachSet(lod, byte(tileindex.FlagMesh)|byte(tileindex.FlagAtlas), func(id tileid.ID, _ byte) {
		op(id)
	})
}

// FullyCovered reports whether id's coverage is watertight.
func (ts *TileSet) FullyCovered(id tileid.ID) bool {
	return ts.flags.Get(id)&byte(tileindex.FlagWatertight) != 0
}

// GetMetaNode returns the metanode at id, including virtual ancestor
// nodes created purely by ascent.
func (ts *TileSet) GetMetaNode(id tileid.ID) (metatile.MetaNode, error) {
	mt, err := ts.loadOrCreateMetaTile(blockOrigin(id, ts.Properties.Driver.BinaryOrder))
	if err != nil {
		return metatile.MetaNode{}, err
	}
	node, ok := mt.Get(id)
	if !ok {
		return metatile.MetaNode{}, fmt.Errorf("%w: no metanode at %s", vtserror.ErrNoSuchTile, id)
	}
	return node, nil
}

// GetMetaTile returns the whole metatile block containing id.
func (ts *TileSet) GetMetaTile(id tileid.ID) (*metatile.MetaTile, error) {
	return ts.loadOrCreateMetaTile(blockOrigin(id, ts.Properties.Driver.BinaryOrder))
}

// TileContent is the raw stream bundle returned by GetTile.
type TileContent struct {
	Mesh    []byte
	Atlas   []byte
	NavTile []byte
}

// GetTile returns id's raw streams. It fails with ErrNoSuchTile if the
// tile index says no real tile exists at id.
func (ts *TileSet) GetTile(id tileid.ID) (TileContent, error) {
	flags := ts.flags.Get(id)
	if !tileindex.Real(flags) {
		return TileContent{}, fmt.Errorf("%w: %s", vtserror.ErrNoSuchTile, id)
	}
	var out TileContent
	var err error
	if out.Mesh, err = ts.driver.Input(FileMesh, id); err != nil {
		return TileContent{}, err
	}
	if flags&byte(tileindex.FlagAtlas) != 0 {
		if out.Atlas, err = ts.driver.Input(FileAtlas, id); err != nil {
			return TileContent{}, err
		}
	}
	if flags&byte(tileindex.FlagNavtile) != 0 {
		if out.NavTile, err = ts.driver.Input(FileNavtile, id); err != nil {
			return TileContent{}, err
		}
	}
	return out, nil
}

// Flush persists all dirty metatiles, writes the tile index, and
// rewrites the properties file. Bumping Properties.Revision is the
// caller's responsibility (spec §3.6).
func (ts *TileSet) Flush() error {
	if ts.readOnly {
		return vtserror.ErrReadOnly
	}
	if err := ts.metaCache.FlushAll(); err != nil {
		return err
	}
	if err := ts.driver.Flush(); err != nil {
		return err
	}
	if err := writeIndex(filepath.Join(ts.path, flagIndexFile), ts.flags); err != nil {
		return err
	}
	if err := writeIndex(filepath.Join(ts.path, refIndexFile), ts.refs); err != nil {
		return err
	}
	return ts.writeProperties()
}

// PutRaw writes content's streams and node verbatim at id, without
// recoding geometry or recomputing derived metadata, then runs the
// same metadata-up ascent SetTile uses. extraFlags carries whatever
// flag-index bits the caller already knows (atlas/navtile/watertight/
// alien) that aren't derivable from node alone; FlagMesh/FlagReference
// are always re-derived from node. Used by Paste and by storage's glue
// builder, which both copy already-merged/already-stored tile content
// rather than deriving it from a MeshGeometry (spec §4.F/§4.G).
func (ts *TileSet) PutRaw(id tileid.ID, content TileContent, node metatile.MetaNode, extraFlags byte) error {
	if ts.readOnly {
		return vtserror.ErrReadOnly
	}
	if err := ts.driver.Output(FileMesh, id, content.Mesh); err != nil {
		return err
	}
	if content.Atlas != nil {
		if err := ts.driver.Output(FileAtlas, id, content.Atlas); err != nil {
			return err
		}
	}
	if content.NavTile != nil {
		if err := ts.driver.Output(FileNavtile, id, content.NavTile); err != nil {
			return err
		}
	}
	return ts.updateNode(id, node, extraFlags&^(byte(tileindex.FlagMesh)|byte(tileindex.FlagReference)))
}

// Paste copies raw tile streams and verbatim metanode values from src
// into ts, without recoding geometry or recomputing derived metadata
// (spec §4.F). If lodRange is the zero value, the whole of src's range
// is copied.
func (ts *TileSet) Paste(src *TileSet, lodRange tileid.LodRange) error {
	if ts.readOnly {
		return vtserror.ErrReadOnly
	}
	lo, hi := lodRange.Min, lodRange.Max
	if lodRange.Empty() {
		lo, hi = src.Properties.LodRange.Min, src.Properties.LodRange.Max
	}
	var firstErr error
	for lod := lo; lod <= hi; lod++ {
		src.flags.ForEachSet(lod, 0xff, func(id tileid.ID, flags byte) {
			if firstErr != nil || !tileindex.Real(flags) {
				return
			}
			content, err := src.GetTile(id)
			if err != nil {
				firstErr = err
				return
			}
			node, err := src.GetMetaNode(id)
			if err != nil {
				firstErr = err
				return
			}
			firstErr = ts.PutRaw(id, content, node, flags)
		})
		if firstErr != nil {
			return firstErr
		}
	}
	return nil
}

// CloneTileSet creates a new tileset at path that duplicates src,
// either by content (the default) or, with opts.SparseIndexOnly, by
// tile-index shape alone -- the flag/reference bits recording which
// ids are real, with no mesh/atlas/navtile bytes copied. opts.LodRange
// narrows the cloned range; the zero value clones all of src's range.
// Grounded on vts-libs/tools/vts0/tileset-paste.cpp's clone operation,
// which Paste above already covers for the full-content case; this
// adds the "new tileset on disk" half plus the sparse variant.
func CloneTileSet(path string, src *TileSet, mode CreateMode, opts CloneOptions) (*TileSet, error) {
	lodRange := opts.LodRange
	if lodRange.Empty() {
		lodRange = src.Properties.LodRange
	}

	props := src.Properties
	props.ID = filepath.Base(path)
	props.LodRange = lodRange
	props.Revision = 0

	dst, err := Create(path, props, src.rf, src.boundLayers, mode)
	if err != nil {
		return nil, err
	}

	if opts.SparseIndexOnly {
		cloneIndexOnly(dst, src, lodRange)
		return dst, nil
	}
	if err := dst.Paste(src, lodRange); err != nil {
		dst.Close()
		return nil, err
	}
	return dst, nil
}

// cloneIndexOnly copies just which ids are real and their flag/
// reference bits, skipping mesh/atlas/navtile content entirely
// (CloneOptions.SparseIndexOnly).
func cloneIndexOnly(dst, src *TileSet, lodRange tileid.LodRange) {
	for lod := lodRange.Min; lod <= lodRange.Max; lod++ {
		src.flags.ForEachSet(lod, 0xff, func(id tileid.ID, flags byte) {
			dst.flags.Set(id, flags)
		})
		src.refs.ForEachSet(lod, 0xff, func(id tileid.ID, flags byte) {
			dst.refs.Set(id, flags)
		})
	}
}

// Close flushes (if writable) and releases the tileset's archive
// handles.
func (ts *TileSet) Close() error {
	if !ts.readOnly {
		if err := ts.Flush(); err != nil {
			return err
		}
	}
	return ts.driver.Close()
}

func (ts *TileSet) writeProperties() error {
	f, err := os.Create(filepath.Join(ts.path, propertiesFile))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	return enc.Encode(wireProperties{Version: propertiesVersion, Properties: ts.Properties})
}

const propertiesVersion = 1024 // spec §4.?: tileset.conf.version = 1024

type wireProperties struct {
	Version    int
	Properties Properties
}

func readProperties(path string) (Properties, error) {
	f, err := os.Open(filepath.Join(path, propertiesFile))
	if err != nil {
		return Properties{}, fmt.Errorf("%w: %v", vtserror.ErrNoSuchTileSet, err)
	}
	defer f.Close()
	var wp wireProperties
	if err := json.NewDecoder(f).Decode(&wp); err != nil {
		return Properties{}, fmt.Errorf("%w: %v", vtserror.ErrBadFileFormat, err)
	}
	if wp.Version != propertiesVersion {
		return Properties{}, fmt.Errorf("%w: tileset.conf version %d", vtserror.ErrVersion, wp.Version)
	}
	return wp.Properties, nil
}

func writeIndex(path string, idx *tileindex.Index) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return idx.Write(f)
}

func readIndex(path string, lodRange tileid.LodRange) (*tileindex.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tileindex.New(lodRange), nil
		}
		return nil, err
	}
	defer f.Close()
	return tileindex.Read(f)
}
