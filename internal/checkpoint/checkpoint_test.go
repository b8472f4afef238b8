package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func sample() *Checkpoint {
	return &Checkpoint{
		Arch:      "nn.CellTypeLinear",
		Epoch:     1,
		Chunk:     3,
		Step:      42,
		MinLoss:   0.25,
		StateDict: map[string][]float64{"weight": {0.5, -1.25, 3}, "bias": {0.1}},
		Optimizer: map[string][]float64{"weight.m": {0, 0, 0}},
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	path, err := store.Save(context.Background(), sample(), true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "checkpoint-e001-c0003.msgpack"), path)

	got, err := Load(path)
	require.NoError(t, err)
	want := sample()
	want.Version = FormatVersion
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Checkpoint{}, "SavedAt")); diff != "" {
		t.Errorf("checkpoint mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, got.SavedAt.IsZero())

	best, err := Load(filepath.Join(dir, BestFileName))
	require.NoError(t, err)
	assert.Equal(t, got.StateDict, best.StateDict)
}

func TestStore_SaveWithoutBestLeavesBestAlone(t *testing.T) {
	dir := t.TempDir()
	_, err := NewStore(dir).Save(context.Background(), sample(), false)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, BestFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestLoad_Failures(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.msgpack"))
	assert.True(t, os.IsNotExist(err))

	corrupt := filepath.Join(dir, "corrupt.msgpack")
	require.NoError(t, os.WriteFile(corrupt, []byte{0xc1, 0x00, 0xff}, 0o644))
	_, err = Load(corrupt)
	assert.Error(t, err)

	empty, err := msgpack.Marshal(&Checkpoint{Step: 1})
	require.NoError(t, err)
	noState := filepath.Join(dir, "nostate.msgpack")
	require.NoError(t, os.WriteFile(noState, empty, 0o644))
	_, err = Load(noState)
	assert.ErrorIs(t, err, ErrNotCheckpoint)
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	_, err := NewStore(dir).Save(context.Background(), sample(), false)
	require.NoError(t, err)
	epoch, chunk, other := 1, 3, 4

	path, err := Locate(dir, &epoch, &chunk)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName(1, 3)), path)

	_, err = Locate(dir, &epoch, &other)
	assert.True(t, os.IsNotExist(err))

	_, err = Locate(dir, nil, &chunk)
	assert.ErrorContains(t, err, "checkpoint_epoch and checkpoint_chunk are required")

	file := filepath.Join(dir, FileName(1, 3))
	path, err = Locate(file, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, file, path)

	_, err = Locate(filepath.Join(dir, "nope"), nil, nil)
	assert.Error(t, err)
}
