package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidLevinsky/vts-libs-sub000/registry"
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

func testRF() registry.ReferenceFrame {
	return registry.ReferenceFrame{ID: "test-rf"}
}

func TestGlueOrderingRightToLeft(t *testing.T) {
	s := &Storage{
		Properties: Properties{
			Tilesets: []StoredTileset{
				{TilesetID: "a"}, {TilesetID: "b"}, {TilesetID: "c"}, {TilesetID: "d"},
			},
		},
	}
	// glues share top "d"; compare the remaining members right-to-left
	// over the stack-rank alphabet (top-of-stack ranks lowest).
	g1 := GlueID{"a", "b", "d"}
	g2 := GlueID{"a", "c", "d"}
	// rank(b) > rank(c) since c is closer to top of stack, so g2 < g1
	// (lower rank is earlier => "lesser" string) -> g2 sorts first.
	assert.True(t, s.CompareGlueOrder(g2, g1))
	assert.False(t, s.CompareGlueOrder(g1, g2))
}

func TestGlueOrderingPrefixIsLesser(t *testing.T) {
	s := &Storage{
		Properties: Properties{
			Tilesets: []StoredTileset{{TilesetID: "a"}, {TilesetID: "b"}, {TilesetID: "c"}},
		},
	}
	short := GlueID{"b", "c"}
	long := GlueID{"a", "b", "c"}
	assert.True(t, s.CompareGlueOrder(long, short))
}

func TestUniqueTagRuleRejectsDuplicate(t *testing.T) {
	rule := UniqueTag{Tag: "imagery"}
	tagsOf := func(id string) []string {
		if id == "x" || id == "y" {
			return []string{"imagery"}
		}
		return nil
	}
	ok, reason := rule.Check([]string{"x", "y"}, tagsOf)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestCreateVirtualSurfacePersistsAndOpens(t *testing.T) {
	rf := testRF()
	root := t.TempDir()
	s, err := Create(root, rf)
	require.NoError(t, err)
	s.Properties.Tilesets = []StoredTileset{{TilesetID: "a"}, {TilesetID: "b"}}

	seedTileset(t, s.tilesetPath("a"), rf, tileid.ID{Lod: 2, X: 1, Y: 1}, false)
	seedTileset(t, s.tilesetPath("b"), rf, tileid.ID{Lod: 2, X: 2, Y: 2}, false)

	name, err := s.CreateVirtualSurface([]string{"a", "b"}, VirtualSurfaceUnion, nil)
	require.NoError(t, err)
	assert.Contains(t, s.Properties.VirtualSurfaces, name)

	reopened, err := Open(root, rf)
	require.NoError(t, err)
	vs, ok := reopened.Properties.VirtualSurfaces[name]
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, vs.Members)

	d, err := reopened.OpenVirtualSurface(name, nil)
	require.NoError(t, err)
	defer d.Close()
	assert.True(t, d.Exists(tileid.ID{Lod: 2, X: 1, Y: 1}))
	assert.True(t, d.Exists(tileid.ID{Lod: 2, X: 2, Y: 2}))

	require.NoError(t, reopened.RemoveVirtualSurface(name, nil))
	assert.NotContains(t, reopened.Properties.VirtualSurfaces, name)
}

func TestCreateVirtualSurfaceRejectsUnknownMember(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, testRF())
	require.NoError(t, err)
	s.Properties.Tilesets = []StoredTileset{{TilesetID: "a"}}

	_, err = s.CreateVirtualSurface([]string{"a", "ghost"}, VirtualSurfaceUnion, nil)
	assert.Error(t, err)
}

func TestCreateRemoveMovesToTrash(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, testRF())
	require.NoError(t, err)
	s.Properties.Tilesets = []StoredTileset{{TilesetID: "base"}}
	s.Properties.Revision = 3

	err = s.Remove([]string{"base"}, nil)
	require.NoError(t, err)
	assert.Empty(t, s.Properties.Tilesets)
	assert.Equal(t, TrashEntry{Revision: 3}, s.Properties.TrashBin["base"])
	assert.Equal(t, uint64(4), s.Properties.Revision)
}
