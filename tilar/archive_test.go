package tilar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidLevinsky/vts-libs-sub000/vtserror"
)

func TestCreateOutputInputFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tilar")

	a, err := Create(path, 2, 2, CreateFailIfExists, nil)
	require.NoError(t, err)

	mesh := []byte("mesh-payload")
	atlas := []byte("atlas-payload")
	require.NoError(t, a.Output(Slot{Col: 0, Row: 0, Type: 0}, mesh))
	require.NoError(t, a.Output(Slot{Col: 0, Row: 0, Type: 1}, atlas))
	require.NoError(t, a.Flush())

	got, err := a.Input(Slot{Col: 0, Row: 0, Type: 0})
	require.NoError(t, err)
	assert.Equal(t, mesh, got)

	require.NoError(t, a.Close())

	reopened, err := Open(path, OpenReadOnly, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err = reopened.Input(Slot{Col: 0, Row: 0, Type: 1})
	require.NoError(t, err)
	assert.Equal(t, atlas, got)

	_, err = reopened.Input(Slot{Col: 1, Row: 1, Type: 0})
	assert.Error(t, err)
}

func TestOutputDeduplicatesIdenticalPayloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tilar")
	a, err := Create(path, 1, 1, CreateFailIfExists, nil)
	require.NoError(t, err)

	payload := []byte("shared")
	require.NoError(t, a.Output(Slot{Col: 0, Row: 0, Type: 0}, payload))
	require.NoError(t, a.Output(Slot{Col: 1, Row: 0, Type: 0}, payload))
	require.NoError(t, a.Output(Slot{Col: 1, Row: 1, Type: 0}, payload))
	require.NoError(t, a.Flush())

	info, err := a.f.Stat()
	require.NoError(t, err)
	// header + one payload frame + index + trailer, never three copies.
	assert.Less(t, info.Size(), int64(HeaderLen+3*(len(payload)+8)+200))
}

func TestRemoveThenInputFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tilar")
	a, err := Create(path, 1, 1, CreateFailIfExists, nil)
	require.NoError(t, err)

	require.NoError(t, a.Output(Slot{Col: 0, Row: 0, Type: 0}, []byte("x")))
	require.NoError(t, a.Flush())
	require.NoError(t, a.Remove(Slot{Col: 0, Row: 0, Type: 0}))
	require.NoError(t, a.Flush())

	_, err = a.Input(Slot{Col: 0, Row: 0, Type: 0})
	assert.Error(t, err)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tilar")
	a, err := Create(path, 1, 1, CreateFailIfExists, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	ro, err := Open(path, OpenReadOnly, nil)
	require.NoError(t, err)
	defer ro.Close()

	err = ro.Output(Slot{Col: 0, Row: 0, Type: 0}, []byte("x"))
	assert.ErrorIs(t, err, vtserror.ErrReadOnly)
}

func TestCreateFailIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tilar")
	a, err := Create(path, 1, 1, CreateFailIfExists, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = Create(path, 1, 1, CreateFailIfExists, nil)
	assert.Error(t, err)
}

func TestCreateAppendReopensMatchingArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tilar")

	a, err := Create(path, 1, 1, CreateAppend, nil)
	require.NoError(t, err)
	require.NoError(t, a.Output(Slot{Col: 0, Row: 0, Type: 0}, []byte("first")))
	require.NoError(t, a.Close())

	a2, err := Create(path, 1, 1, CreateAppend, nil)
	require.NoError(t, err)
	defer a2.Close()

	got, err := a2.Input(Slot{Col: 0, Row: 0, Type: 0})
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestCreateAppendRejectsMismatchedOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tilar")

	a, err := Create(path, 1, 1, CreateAppend, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = Create(path, 2, 1, CreateAppend, nil)
	assert.Error(t, err)
}

func TestCreateAppendOrTruncateRecoversFromGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tilar")
	require.NoError(t, os.WriteFile(path, []byte("not a tilar archive"), 0o644))

	a, err := Create(path, 1, 1, CreateAppendOrTruncate, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.Exists(Slot{Col: 0, Row: 0, Type: 0}))
}

func TestOpenAtReadsHistoricalSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tilar")
	a, err := Create(path, 1, 1, CreateFailIfExists, nil)
	require.NoError(t, err)

	require.NoError(t, a.Output(Slot{Col: 0, Row: 0, Type: 0}, []byte("v1")))
	require.NoError(t, a.Flush())
	firstIndex := a.IndexOffset()

	require.NoError(t, a.Output(Slot{Col: 0, Row: 0, Type: 0}, []byte("v2")))
	require.NoError(t, a.Flush())
	require.NoError(t, a.Close())

	current, err := Open(path, OpenReadOnly, nil)
	require.NoError(t, err)
	defer current.Close()
	got, err := current.Input(Slot{Col: 0, Row: 0, Type: 0})
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
	assert.Equal(t, firstIndex, current.PreviousIndexOffset())

	snapshot, err := OpenAt(path, firstIndex, nil)
	require.NoError(t, err)
	defer snapshot.Close()
	got, err = snapshot.Input(Slot{Col: 0, Row: 0, Type: 0})
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	err = snapshot.Output(Slot{Col: 0, Row: 0, Type: 0}, []byte("v3"))
	assert.ErrorIs(t, err, vtserror.ErrReadOnly)
}

func TestDiscardChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tilar")
	a, err := Create(path, 1, 1, CreateFailIfExists, nil)
	require.NoError(t, err)

	require.NoError(t, a.Output(Slot{Col: 0, Row: 0, Type: 0}, []byte("committed")))
	require.NoError(t, a.Flush())

	require.NoError(t, a.Output(Slot{Col: 1, Row: 0, Type: 0}, []byte("uncommitted")))
	require.NoError(t, a.DiscardChanges())

	assert.False(t, a.Exists(Slot{Col: 1, Row: 0, Type: 0}))
	assert.True(t, a.Exists(Slot{Col: 0, Row: 0, Type: 0}))
}

func TestSlotOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tilar")
	a, err := Create(path, 1, 1, CreateFailIfExists, nil)
	require.NoError(t, err)
	defer a.Close()

	err = a.Output(Slot{Col: 5, Row: 0, Type: 0}, []byte("x"))
	assert.Error(t, err)
}
