package manifest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/trainspec/internal/builder"
)

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	spec := &builder.RunSpec{
		Ops:            []string{"train", "evaluate"},
		Seed:           42,
		OutputDir:      dir,
		Sources:        []string{"base.yml", "override.yml"},
		ModelName:      "nn.CellTypeLinear",
		OptimizerClass: "optim.SGD",
		Params: map[string]any{
			"model.sequence_length": int64(1000),
			"dataset.strand":        "+",
		},
		Checkpoint: &builder.CheckpointState{File: "ckpt.msgpack", Epoch: 2, Chunk: 5, Step: 300, Resumed: true},
	}

	path, err := Write(dir, FromRunSpec(spec, started))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), path)

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, Version, got.Version)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, spec.Ops, got.Ops)
	assert.Equal(t, int64(42), got.Seed)
	assert.Equal(t, spec.Sources, got.Sources)
	assert.Equal(t, "nn.CellTypeLinear", got.Model)
	assert.Empty(t, got.Scheduler)
	assert.Equal(t, &Resume{File: "ckpt.msgpack", Epoch: 2, Chunk: 5, Step: 300}, got.Resume)
	assert.EqualValues(t, 1000, got.Params["model.sequence_length"])
	assert.Equal(t, "+", got.Params["dataset.strand"])
	assert.Equal(t, runtime.GOOS, got.Host.OS)
}

func TestFreshRunHasNoResume(t *testing.T) {
	m := FromRunSpec(&builder.RunSpec{Checkpoint: &builder.CheckpointState{}}, time.Now())
	assert.Nil(t, m.Resume)

	raw, err := os.ReadFile(mustWrite(t, m))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "[resume]")
}

func TestRead_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("version = [unterminated"), 0o644))
	_, err = Read(bad)
	assert.ErrorContains(t, err, "decode manifest")

	future := filepath.Join(dir, "future.toml")
	require.NoError(t, os.WriteFile(future, []byte("version = 99\n"), 0o644))
	_, err = Read(future)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestHostInfo(t *testing.T) {
	h := HostInfo()
	assert.Equal(t, runtime.GOARCH, h.Arch)
	assert.NotEmpty(t, h.GoVersion)
	assert.GreaterOrEqual(t, h.LogicalCores, 0)
}

func mustWrite(t *testing.T, m *Manifest) string {
	t.Helper()
	path, err := Write(t.TempDir(), m)
	require.NoError(t, err)
	return path
}
