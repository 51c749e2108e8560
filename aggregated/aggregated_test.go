package aggregated

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidLevinsky/vts-libs-sub000/registry"
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
	"github.com/DavidLevinsky/vts-libs-sub000/tileset"
)

func testRF() registry.ReferenceFrame {
	return registry.ReferenceFrame{
		ID: "test-rf",
		Root: registry.NodeExtents{LLX: -100, URX: 100, LLY: -100, URY: 100, MinZ: 0, MaxZ: 1000},
	}
}

func createTileset(t *testing.T, dir string, rf registry.ReferenceFrame, id tileid.ID) *tileset.TileSet {
	props := tileset.Properties{
		ID:       dir,
		Driver:   tileset.DriverOptions{Kind: tileset.DriverPlain, BinaryOrder: 2, FilesPerTile: 3},
		LodRange: tileid.LodRange{Min: 0, Max: 4},
	}
	ts, err := tileset.Create(dir, props, rf, nil, tileset.CreateFailIfExists)
	require.NoError(t, err)
	require.NoError(t, ts.SetTile(id, tileset.Tile{
		Mesh: []byte("m"),
		MeshInfo: tileset.MeshGeometry{
			LLX: -10, URX: 0, LLY: -10, URY: 0, LLZ: 0, URZ: 5, Area: 10,
			Submeshes: []tileset.SubmeshTexture{{AtlasArea: 5}},
		},
	}))
	require.NoError(t, ts.Flush())
	require.NoError(t, ts.Close())
	return ts
}

func TestOwnershipPrefersTopmostMember(t *testing.T) {
	rf := testRF()
	base, top := t.TempDir(), t.TempDir()
	id := tileid.ID{Lod: 2, X: 1, Y: 1}
	createTileset(t, base, rf, id)
	createTileset(t, top, rf, id)

	d, err := Open([]Member{{ID: "base", Dir: base}, {ID: "top", Dir: top}}, rf, nil)
	require.NoError(t, err)
	defer d.Close()

	owner, ok := d.Owner(id)
	require.True(t, ok)
	assert.Equal(t, "top", owner.ID)
}

func TestGetTileForwardsToOwner(t *testing.T) {
	rf := testRF()
	dir := t.TempDir()
	id := tileid.ID{Lod: 1, X: 0, Y: 0}
	createTileset(t, dir, rf, id)

	d, err := Open([]Member{{ID: "only", Dir: dir}}, rf, nil)
	require.NoError(t, err)
	defer d.Close()

	content, err := d.GetTile(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("m"), content.Mesh)
}

func TestSetTileIsReadOnly(t *testing.T) {
	rf := testRF()
	dir := t.TempDir()
	createTileset(t, dir, rf, tileid.ID{Lod: 1, X: 0, Y: 0})
	d, err := Open([]Member{{ID: "only", Dir: dir}}, rf, nil)
	require.NoError(t, err)
	defer d.Close()

	err = d.SetTile(tileid.ID{Lod: 1, X: 0, Y: 0}, tileset.Tile{})
	assert.Error(t, err)
}
