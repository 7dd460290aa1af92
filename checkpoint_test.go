package pix2pix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyState(t *testing.T, step int) *ModelState {
	t.Helper()
	state := newTinyModel(t, 1).State()
	state.Step = step
	return state
}

func TestCheckpointStoreSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	store := NewCheckpointStore(dir)

	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Empty(t, latest)

	state := tinyState(t, 5000)
	path, err := store.Save(state)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ckpt-5000.gob"), path)
	assert.FileExists(t, filepath.Join(dir, CheckpointIndexFile))

	latest, err = store.Latest()
	require.NoError(t, err)
	assert.Equal(t, path, latest)

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, loaded.Step)
	assert.Equal(t, state.Config, loaded.Config)
	assert.Equal(t, state.Generator.NumElements(), loaded.Generator.NumElements())

	// No temporary files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCheckpointStoreKeep(t *testing.T) {
	dir := t.TempDir()
	store := &CheckpointStore{Dir: dir, Prefix: "ckpt", Keep: 2}
	state := tinyState(t, 0)
	for _, step := range []int{5000, 10000, 15000} {
		state.Step = step
		_, err := store.Save(state)
		require.NoError(t, err)
	}
	all, err := store.All()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "ckpt-10000.gob"), filepath.Join(dir, "ckpt-15000.gob")}, all)
	assert.NoFileExists(t, filepath.Join(dir, "ckpt-5000.gob"))

	// Saving the same step again replaces the file without duplicating the index entry
	_, err = store.Save(state)
	require.NoError(t, err)
	all, err = store.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	loaded, err := LoadCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, 15000, loaded.Step)
}

func TestCheckpointStoreKeepAll(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir)
	state := tinyState(t, 0)
	for step := 1; step <= 4; step++ {
		state.Step = step
		_, err := store.Save(state)
		require.NoError(t, err)
	}
	all, err := store.All()
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestLoadCheckpointErrors(t *testing.T) {
	var ioErr *CheckpointIOError

	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.gob"))
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "load", ioErr.Op)

	_, err = LoadCheckpoint(t.TempDir())
	assert.True(t, errors.As(err, &ioErr), "empty directory has no checkpoint")

	corrupted := filepath.Join(t.TempDir(), "ckpt-1.gob")
	require.NoError(t, os.WriteFile(corrupted, []byte("garbage"), 0o644))
	_, err = LoadCheckpoint(corrupted)
	assert.True(t, errors.As(err, &ioErr))
}

func TestCheckpointStoreUnwritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err := NewCheckpointStore(filepath.Join(file, "sub")).Save(tinyState(t, 1))
	var ioErr *CheckpointIOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "save", ioErr.Op)
}
