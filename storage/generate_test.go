package storage

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidLevinsky/vts-libs-sub000/internal/progressutil"
	"github.com/DavidLevinsky/vts-libs-sub000/merge"
	"github.com/DavidLevinsky/vts-libs-sub000/registry"
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
	"github.com/DavidLevinsky/vts-libs-sub000/tileset"
)

func TestMain(m *testing.M) {
	progressutil.SetQuiet(true)
	os.Exit(m.Run())
}

type stubClipper struct{}

func (stubClipper) Clip(in merge.MeshOpInput, target tileid.ID, toTarget merge.Transform) (*merge.Mesh, error) {
	return in.Mesh, nil
}

func (stubClipper) FacePixels(mesh *merge.Mesh, toRaster merge.Transform) [][][2]int {
	return nil
}

type stubRefiner struct{}

func (stubRefiner) Refine(mesh *merge.Mesh, targetFaces int) (*merge.Mesh, error) { return mesh, nil }

// stubEncoder writes the merged mesh's total decoded face count into
// the output bytes, so a test can tell whether the mesh it
// encoded actually came from decoded source content or a fabricated
// stand-in.
type stubEncoder struct{}

func (stubEncoder) Encode(out merge.Output) ([]byte, []byte, []byte, error) {
	return []byte(fmt.Sprintf("merged-mesh:faces=%d", out.Mesh.FaceCount)), nil, nil, nil
}

// stubDecoder turns a tileset's raw mesh bytes into a *merge.Mesh with
// one submesh per decoded byte, so tests can tell real decoded content
// (len(mesh) > 0) apart from a fabricated placeholder.
type stubDecoder struct{}

func (stubDecoder) Decode(mesh []byte) (*merge.Mesh, error) {
	if len(mesh) == 0 {
		return nil, fmt.Errorf("stubDecoder: empty mesh")
	}
	return &merge.Mesh{FaceCount: len(mesh), Submeshes: make([]merge.Submesh, len(mesh))}, nil
}

func seedTileset(t *testing.T, dir string, rf registry.ReferenceFrame, id tileid.ID, watertight bool) {
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
		Watertight: watertight,
	}))
	require.NoError(t, ts.Flush())
	require.NoError(t, ts.Close())
}

func TestGenerateGlueSingleSourceCopiesVerbatim(t *testing.T) {
	rf := testRF()
	root := t.TempDir()
	s, err := Create(root, rf)
	require.NoError(t, err)
	s.Properties.Tilesets = []StoredTileset{{TilesetID: "a"}, {TilesetID: "b"}}

	seedTileset(t, s.tilesetPath("a"), rf, tileid.ID{Lod: 2, X: 1, Y: 1}, false)
	seedTileset(t, s.tilesetPath("b"), rf, tileid.ID{Lod: 2, X: 2, Y: 2}, false)

	glue, err := s.GenerateGlue(GlueID{"a", "b"}, rf, nil, stubClipper{}, stubRefiner{}, merge.AlwaysConstraints{}, stubDecoder{}, stubEncoder{}, AddOptions{})
	require.NoError(t, err)

	out, err := tileset.Open(glue.Path, rf, nil, true)
	require.NoError(t, err)
	defer out.Close()
	assert.True(t, out.Exists(tileid.ID{Lod: 2, X: 1, Y: 1}))
	assert.True(t, out.Exists(tileid.ID{Lod: 2, X: 2, Y: 2}))
}

func TestGenerateGlueMergesOverlappingTile(t *testing.T) {
	rf := testRF()
	root := t.TempDir()
	s, err := Create(root, rf)
	require.NoError(t, err)
	s.Properties.Tilesets = []StoredTileset{{TilesetID: "a"}, {TilesetID: "b"}}

	shared := tileid.ID{Lod: 2, X: 1, Y: 1}
	seedTileset(t, s.tilesetPath("a"), rf, shared, true)
	seedTileset(t, s.tilesetPath("b"), rf, shared, true)

	glue, err := s.GenerateGlue(GlueID{"a", "b"}, rf, nil, stubClipper{}, stubRefiner{}, merge.AlwaysConstraints{}, stubDecoder{}, stubEncoder{}, AddOptions{})
	require.NoError(t, err)

	out, err := tileset.Open(glue.Path, rf, nil, true)
	require.NoError(t, err)
	defer out.Close()
	assert.True(t, out.Exists(shared))

	content, err := out.GetTile(shared)
	require.NoError(t, err)
	// both seeded tilesets store the one-byte mesh "m"; stubEncoder's
	// output encodes the merged Mesh.FaceCount, which in turn comes
	// from stubDecoder decoding that real stored byte -- proof the
	// pipeline ran on genuine tile content, not a fabricated stand-in.
	assert.Equal(t, []byte("merged-mesh:faces=1"), content.Mesh)
}
