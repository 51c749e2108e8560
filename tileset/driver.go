package tileset

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/DavidLevinsky/vts-libs-sub000/tilar"
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

// TileFile names one of the file kinds a tileset stores per tile or
// metatile (spec §4.A).
type TileFile uint8

const (
	FileMesh TileFile = iota
	FileAtlas
	FileNavtile
	FileMeta
)

// archiveGroup is a named pool of tilar archives sharing one
// binaryOrder/filesPerTile pair and a filename extension. Grounded on
// the teacher's own archive-per-format-family split plus the legacy
// driver's "tiles" (mesh+atlas, generalized here to +navtile) and
// "metatiles" (meta) groups (tilestorage/driver/tilardriver/cache.cpp).
type archiveGroup struct {
	extension    string
	filesPerTile uint8
}

var tileGroup = archiveGroup{extension: "tiles", filesPerTile: 3}     // mesh, atlas, navtile
var metaGroup = archiveGroup{extension: "meta", filesPerTile: 1}      // metanode block

func slotTypeFor(kind TileFile) uint8 {
	switch kind {
	case FileMesh:
		return 0
	case FileAtlas:
		return 1
	case FileNavtile:
		return 2
	default:
		return 0
	}
}

func groupFor(kind TileFile) archiveGroup {
	if kind == FileMeta {
		return metaGroup
	}
	return tileGroup
}

// Driver maps (TileFile kind, tile id) addressing onto a tree of tilar
// archives, one archive per binaryOrder-aligned block, fanned out
// across 256 hashed subdirectories the way the teacher's legacy driver
// does (dir() in tilardriver/cache.cpp) to keep any one directory from
// accumulating too many archive files.
type Driver struct {
	root        string
	binaryOrder uint8
	readOnly    bool
	cache       *tilar.Cache
}

// NewDriver returns a driver rooted at dir, using binaryOrder-aligned
// archive blocks, backed by a tilar.Cache with the given soft cap on
// concurrently open archives.
func NewDriver(dir string, binaryOrder uint8, readOnly bool, cacheSoftCap int) *Driver {
	return &Driver{
		root:        dir,
		binaryOrder: binaryOrder,
		readOnly:    readOnly,
		cache:       tilar.NewCache(cacheSoftCap, nil),
	}
}

func blockOrigin(id tileid.ID, order uint8) tileid.ID {
	side := uint32(1) << order
	return tileid.ID{Lod: id.Lod, X: (id.X / side) * side, Y: (id.Y / side) * side}
}

func (d *Driver) archivePath(kind TileFile, origin tileid.ID) string {
	g := groupFor(kind)
	name := fmt.Sprintf("%d-%07d-%07d.%s", origin.Lod, origin.X, origin.Y, g.extension)
	sum := crc32.ChecksumIEEE([]byte(name))
	subdir := fmt.Sprintf("%02x", (sum>>24)&0xff)
	return filepath.Join(d.root, subdir, name)
}

func (d *Driver) openBlock(kind TileFile, origin tileid.ID, forWrite bool) (*tilar.Archive, tilar.Slot, error) {
	path := d.archivePath(kind, origin)
	g := groupFor(kind)

	if forWrite {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, tilar.Slot{}, err
		}
		a, err := d.cache.OpenOrCreate(path, func(p string) (*tilar.Archive, error) {
			return tilar.Create(p, d.binaryOrder, g.filesPerTile, tilar.CreateFailIfExists, nil)
		})
		return a, tilar.Slot{}, err
	}

	mode := tilar.OpenReadOnly
	if !d.readOnly {
		mode = tilar.OpenReadWrite
	}
	a, err := d.cache.Open(path, mode)
	return a, tilar.Slot{}, err
}

func (d *Driver) slotFor(kind TileFile, id tileid.ID) tilar.Slot {
	origin := blockOrigin(id, d.binaryOrder)
	return tilar.Slot{Col: id.X - origin.X, Row: id.Y - origin.Y, Type: slotTypeFor(kind)}
}

// Output writes payload for (kind, id), creating the backing archive
// block lazily on first write.
func (d *Driver) Output(kind TileFile, id tileid.ID, payload []byte) error {
	origin := blockOrigin(id, d.binaryOrder)
	a, _, err := d.openBlock(kind, origin, true)
	if err != nil {
		return err
	}
	return a.Output(d.slotFor(kind, id), payload)
}

// Input reads the payload for (kind, id).
func (d *Driver) Input(kind TileFile, id tileid.ID) ([]byte, error) {
	origin := blockOrigin(id, d.binaryOrder)
	a, _, err := d.openBlock(kind, origin, false)
	if err != nil {
		return nil, err
	}
	return a.Input(d.slotFor(kind, id))
}

// Exists reports whether a payload is stored for (kind, id).
func (d *Driver) Exists(kind TileFile, id tileid.ID) bool {
	origin := blockOrigin(id, d.binaryOrder)
	a, _, err := d.openBlock(kind, origin, false)
	if err != nil {
		return false
	}
	return a.Exists(d.slotFor(kind, id))
}

// Remove deletes the payload for (kind, id), if present.
func (d *Driver) Remove(kind TileFile, id tileid.ID) error {
	origin := blockOrigin(id, d.binaryOrder)
	a, _, err := d.openBlock(kind, origin, false)
	if err != nil {
		return err
	}
	return a.Remove(d.slotFor(kind, id))
}

// Flush persists every open archive's in-memory slot table, keeping
// the archives open and cached.
func (d *Driver) Flush() error {
	return d.cache.FlushAll()
}

// Close flushes and closes every open archive.
func (d *Driver) Close() error {
	return d.cache.CloseAll()
}
