package tileset

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	_ "gocloud.dev/blob/fileblob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

func TestRemoteDriverServesPublishedTileViaFileBucket(t *testing.T) {
	srcDir, bucketDir, cacheDir := t.TempDir(), t.TempDir(), t.TempDir()
	rf := testReferenceFrame()

	src, err := Create(srcDir, testProperties(srcDir), rf, nil, CreateFailIfExists)
	require.NoError(t, err)
	id := tileid.ID{Lod: 2, X: 1, Y: 1}
	require.NoError(t, src.SetTile(id, Tile{
		Mesh: []byte("m"),
		MeshInfo: MeshGeometry{
			LLX: -10, URX: 0, LLY: -10, URY: 0, LLZ: 0, URZ: 5, Area: 10,
			Submeshes: []SubmeshTexture{{AtlasArea: 5}},
		},
	}))
	require.NoError(t, src.Flush())
	require.NoError(t, src.Close())

	// publish the on-disk archive tree verbatim under the bucket root,
	// standing in for whatever out-of-band upload step moves a plain
	// tileset's data directory onto remote storage.
	require.NoError(t, copyDir(filepath.Join(srcDir, "data"), filepath.Join(bucketDir, "ts")))

	props := testProperties(srcDir)
	props.Driver = DriverOptions{Kind: DriverRemote, BinaryOrder: 2, FilesPerTile: 3, RemoteURL: "file://" + filepath.ToSlash(bucketDir)}

	rd, err := NewRemoteDriver(context.Background(), props.Driver.RemoteURL, "ts", cacheDir, props.Driver.BinaryOrder, defaultSoftCap)
	require.NoError(t, err)
	defer rd.Close()

	payload, err := rd.Input(FileMesh, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("m"), payload)
	assert.True(t, rd.Exists(FileMesh, id))

	assert.Error(t, rd.Output(FileMesh, id, []byte("x")))
	assert.Error(t, rd.Remove(FileMesh, id))
}
