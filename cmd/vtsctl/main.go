// Command vtsctl is the operator CLI over storage, tileset and the
// aggregated ownership cache: create and populate tilesets, stack them
// into a storage, build glues, and inspect the result. Structured as a
// kong command tree, following the same "one Run method per verb"
// shape the rest of the pack's kong-based tools use; logging follows
// the teacher's dominant *log.Logger idiom (main.go, server.go).
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/DavidLevinsky/vts-libs-sub000/aggregated"
	"github.com/DavidLevinsky/vts-libs-sub000/internal/progressutil"
	"github.com/DavidLevinsky/vts-libs-sub000/merge"
	"github.com/DavidLevinsky/vts-libs-sub000/registry"
	"github.com/DavidLevinsky/vts-libs-sub000/storage"
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
	"github.com/DavidLevinsky/vts-libs-sub000/tileset"
)

var logger = log.New(os.Stderr, "vtsctl: ", log.Ldate|log.Ltime)

type cli struct {
	Quiet bool `help:"Suppress progress bars." default:"false"`

	CreateTileset  createTilesetCmd  `cmd:"" help:"Create an empty tileset."`
	CreateStorage  createStorageCmd  `cmd:"" help:"Create an empty storage."`
	Add            addCmd            `cmd:"" help:"Add a tileset to a storage."`
	Remove         removeCmd         `cmd:"" help:"Remove tilesets from a storage."`
	GenerateGlues  generateGluesCmd  `cmd:"" help:"Build every pending glue for a tileset."`
	Show           showCmd           `cmd:"" help:"Print a tileset's id, reference frame, revision, lod range and bound layers."`
	MapConfig      mapConfigCmd      `cmd:"" help:"Print a storage's combined map configuration."`
	OwnershipCache ownershipCacheCmd `cmd:"" help:"Build and persist an aggregated-driver ownership cache."`

	CreateVirtualSurface createVirtualSurfaceCmd `cmd:"" help:"Register a named aggregated view over member tilesets."`
	RemoveVirtualSurface removeVirtualSurfaceCmd `cmd:"" help:"Drop a previously registered virtual surface."`
}

func main() {
	var c cli
	parser := kong.Parse(&c, kong.Name("vtsctl"), kong.Description("Operate vts-libs-sub000 storages and tilesets."))
	progressutil.SetQuiet(c.Quiet)
	if err := parser.Run(); err != nil {
		logger.Fatalf("%v", err)
	}
}

func loadReferenceFrame(path string) (registry.ReferenceFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return registry.ReferenceFrame{}, err
	}
	defer f.Close()
	var rf registry.ReferenceFrame
	if err := json.NewDecoder(f).Decode(&rf); err != nil {
		return registry.ReferenceFrame{}, fmt.Errorf("vtsctl: decode reference frame %s: %w", path, err)
	}
	return rf, nil
}

type createTilesetCmd struct {
	Path           string `arg:"" help:"Tileset directory to create."`
	ReferenceFrame string `required:"" help:"Path to a reference-frame JSON file."`
	MinLod         uint8  `default:"0" help:"Minimum lod."`
	MaxLod         uint8  `required:"" help:"Maximum lod."`
	BinaryOrder    uint8  `default:"5" help:"Metatile binary order."`
	FilesPerTile   uint8  `default:"3" help:"Archive files per tile."`
}

func (c *createTilesetCmd) Run() error {
	rf, err := loadReferenceFrame(c.ReferenceFrame)
	if err != nil {
		return err
	}
	ts, err := tileset.Create(c.Path, tileset.Properties{
		ID:             c.Path,
		ReferenceFrame: rf.ID,
		Driver:         tileset.DriverOptions{Kind: tileset.DriverPlain, BinaryOrder: c.BinaryOrder, FilesPerTile: c.FilesPerTile},
		LodRange:       tileid.LodRange{Min: c.MinLod, Max: c.MaxLod},
	}, rf, nil, tileset.CreateFailIfExists)
	if err != nil {
		return err
	}
	logger.Printf("created tileset at %s", c.Path)
	return ts.Close()
}

type createStorageCmd struct {
	Path           string `arg:"" help:"Storage directory to create."`
	ReferenceFrame string `required:"" help:"Path to a reference-frame JSON file."`
}

func (c *createStorageCmd) Run() error {
	rf, err := loadReferenceFrame(c.ReferenceFrame)
	if err != nil {
		return err
	}
	if _, err := storage.Create(c.Path, rf); err != nil {
		return err
	}
	logger.Printf("created storage at %s", c.Path)
	return nil
}

type addCmd struct {
	Storage        string `arg:"" help:"Storage directory."`
	TilesetPath    string `arg:"" help:"Tileset directory to add."`
	TilesetID      string `arg:"" help:"Id to register the tileset under."`
	ReferenceFrame string `required:"" help:"Path to the storage's reference-frame JSON file."`
	Where          string `help:"Existing tileset id to place relative to; top/bottom if empty."`
	Above          bool   `help:"Place above Where, instead of below."`
	BumpVersion    bool   `help:"Allow re-adding an existing id under a bumped version."`
}

func (c *addCmd) Run() error {
	rf, err := loadReferenceFrame(c.ReferenceFrame)
	if err != nil {
		return err
	}
	s, err := storage.Open(c.Storage, rf)
	if err != nil {
		return err
	}
	dir := storage.Below
	if c.Above {
		dir = storage.Above
	}
	pending, err := s.Add(c.TilesetPath, storage.Location{Where: c.Where, Direction: dir}, c.TilesetID, storage.AddOptions{BumpVersion: c.BumpVersion})
	if err != nil {
		return err
	}
	logger.Printf("added %s; %d glue(s) now pending", c.TilesetID, len(pending))
	for _, g := range pending {
		fmt.Println(g.String())
	}
	return nil
}

type removeCmd struct {
	Storage string   `arg:"" help:"Storage directory."`
	Ids     []string `arg:"" help:"Tileset ids to remove."`
}

func (c *removeCmd) Run() error {
	s, err := storage.Open(c.Storage, registry.ReferenceFrame{})
	if err != nil {
		return err
	}
	if err := s.Remove(c.Ids, nil); err != nil {
		return err
	}
	logger.Printf("removed %d tileset(s)", len(c.Ids))
	return nil
}

// passthroughClipper is vtsctl's stand-in mesh collaborator: it never
// clips, so generate-glues can only resolve glues where the overlap
// reduces to a single owning member at every tile. Actual multi-source
// geometry clipping is an external mesh-processing concern (spec.md §1
// Non-goals) this CLI does not implement; wire a real MeshClipper in a
// program that imports storage.GenerateGlue directly for that case.
type passthroughClipper struct{}

func (passthroughClipper) Clip(in merge.MeshOpInput, target tileid.ID, toTarget merge.Transform) (*merge.Mesh, error) {
	return nil, fmt.Errorf("vtsctl: no mesh clipper configured, cannot clip overlapping tile %s", target)
}

func (passthroughClipper) FacePixels(mesh *merge.Mesh, toRaster merge.Transform) [][][2]int {
	return nil
}

type nullEncoder struct{}

func (nullEncoder) Encode(out merge.Output) (mesh, atlas, navtile []byte, err error) {
	return nil, nil, nil, fmt.Errorf("vtsctl: no raw mesh encoder configured")
}

// nullDecoder is RawMeshDecoder's stand-in, symmetric with nullEncoder:
// storage.GenerateGlue decodes every source mesh of a glue tile that
// needs more than one source before it reaches the clipper, so such a
// tile fails here with this decoder's error; single-source tiles never
// call it.
type nullDecoder struct{}

func (nullDecoder) Decode(mesh []byte) (*merge.Mesh, error) {
	return nil, fmt.Errorf("vtsctl: no raw mesh decoder configured")
}

type generateGluesCmd struct {
	Storage        string `arg:"" help:"Storage directory."`
	TilesetID      string `help:"Restrict to glues involving this tileset id; all pending glues if empty."`
	ReferenceFrame string `required:"" help:"Path to the storage's reference-frame JSON file."`
}

func (c *generateGluesCmd) Run() error {
	rf, err := loadReferenceFrame(c.ReferenceFrame)
	if err != nil {
		return err
	}
	s, err := storage.Open(c.Storage, rf)
	if err != nil {
		return err
	}
	glues, err := s.GenerateGlues(c.TilesetID, rf, nil, passthroughClipper{}, nil, merge.AlwaysConstraints{}, nullDecoder{}, nullEncoder{}, storage.AddOptions{})
	if err != nil {
		return err
	}
	logger.Printf("built %d glue(s)", len(glues))
	for _, g := range glues {
		fmt.Println(g.ID.String())
	}
	return nil
}

type showCmd struct {
	Path           string `arg:"" help:"Tileset directory."`
	ReferenceFrame string `required:"" help:"Path to a reference-frame JSON file."`
}

func (c *showCmd) Run() error {
	rf, err := loadReferenceFrame(c.ReferenceFrame)
	if err != nil {
		return err
	}
	ts, err := tileset.Open(c.Path, rf, nil, true)
	if err != nil {
		return err
	}
	defer ts.Close()
	cfg := ts.MapConfig()
	fmt.Printf("id:            %s\n", cfg.ID)
	fmt.Printf("reference frame: %s\n", cfg.ReferenceFrame)
	fmt.Printf("revision:      %d\n", cfg.Revision)
	fmt.Printf("lod range:     [%d, %d]\n", cfg.LodRange[0], cfg.LodRange[1])
	fmt.Printf("bound layers:  %v\n", cfg.BoundLayers)
	return nil
}

type mapConfigCmd struct {
	Storage        string `arg:"" help:"Storage directory."`
	ReferenceFrame string `required:"" help:"Path to the storage's reference-frame JSON file."`
}

func (c *mapConfigCmd) Run() error {
	rf, err := loadReferenceFrame(c.ReferenceFrame)
	if err != nil {
		return err
	}
	s, err := storage.Open(c.Storage, rf)
	if err != nil {
		return err
	}
	mc, err := s.MapConfig(rf, nil)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(mc); err != nil {
		return err
	}
	logger.Printf("%d surface(s), %d glue(s)", len(mc.Surfaces), len(mc.Glues))
	return nil
}

type createVirtualSurfaceCmd struct {
	Storage        string   `arg:"" help:"Storage directory."`
	ReferenceFrame string   `required:"" help:"Path to the storage's reference-frame JSON file."`
	Members        []string `arg:"" help:"Member tileset ids, ascending stack priority."`
}

func (c *createVirtualSurfaceCmd) Run() error {
	rf, err := loadReferenceFrame(c.ReferenceFrame)
	if err != nil {
		return err
	}
	s, err := storage.Open(c.Storage, rf)
	if err != nil {
		return err
	}
	name, err := s.CreateVirtualSurface(c.Members, storage.VirtualSurfaceUnion, nil)
	if err != nil {
		return err
	}
	logger.Printf("registered virtual surface %s", name)
	fmt.Println(name)
	return nil
}

type removeVirtualSurfaceCmd struct {
	Storage        string `arg:"" help:"Storage directory."`
	ReferenceFrame string `required:"" help:"Path to the storage's reference-frame JSON file."`
	Name           string `arg:"" help:"Virtual surface name, as printed by create-virtual-surface."`
}

func (c *removeVirtualSurfaceCmd) Run() error {
	rf, err := loadReferenceFrame(c.ReferenceFrame)
	if err != nil {
		return err
	}
	s, err := storage.Open(c.Storage, rf)
	if err != nil {
		return err
	}
	if err := s.RemoveVirtualSurface(c.Name, nil); err != nil {
		return err
	}
	logger.Printf("removed virtual surface %s", c.Name)
	return nil
}

type ownershipCacheCmd struct {
	CachePath      string   `arg:"" help:"SQLite file to write the ownership cache to."`
	ReferenceFrame string   `required:"" help:"Path to a reference-frame JSON file."`
	Members        []string `arg:"" help:"Member tileset/glue directories, ascending stack priority."`
}

func (c *ownershipCacheCmd) Run() error {
	rf, err := loadReferenceFrame(c.ReferenceFrame)
	if err != nil {
		return err
	}
	members := make([]aggregated.Member, len(c.Members))
	for i, dir := range c.Members {
		members[i] = aggregated.Member{ID: dir, Dir: dir}
	}
	d, err := aggregated.Open(members, rf, nil)
	if err != nil {
		return err
	}
	defer d.Close()

	cache, err := aggregated.OpenOwnershipCache(c.CachePath)
	if err != nil {
		return err
	}
	defer cache.Close()
	if err := cache.Store(d); err != nil {
		return err
	}

	info, err := os.Stat(c.CachePath)
	if err == nil {
		logger.Printf("wrote ownership cache %s (%s)", c.CachePath, humanize.Bytes(uint64(info.Size())))
	}
	return nil
}
