package fsutil

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFindFilesByExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.hcl"), "")
	writeFile(t, filepath.Join(dir, "nested", "b.YAML"), "")
	writeFile(t, filepath.Join(dir, "c.txt"), "")

	files, err := FindFilesByExtension([]string{dir, filepath.Join(dir, "a.hcl"), filepath.Join(dir, "missing")}, ".hcl", ".yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.hcl"), filepath.Join(dir, "nested", "b.YAML")}, files)
}

func TestPrepareOutputDir_ConcurrentRunsGetDistinctDirectories(t *testing.T) {
	base := t.TempDir()
	const runs = 16

	dirs := make([]string, runs)
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dir, err := PrepareOutputDir(base, true)
			assert.NoError(t, err)
			dirs[i] = dir
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, d := range dirs {
		require.NotEmpty(t, d)
		assert.Equal(t, base, filepath.Dir(d))
		assert.False(t, seen[d], "directory %s handed out twice", d)
		seen[d] = true
	}
}

func TestPrepareOutputDir_ReusesBaseWithoutSubdirectory(t *testing.T) {
	base := filepath.Join(t.TempDir(), "out")
	dir, err := PrepareOutputDir(base, false)
	require.NoError(t, err)
	assert.Equal(t, base, dir)
	assert.DirExists(t, base)
}

func TestDistinctColumnAndCountRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folds.tsv")
	writeFile(t, path, "# cell\tfold\nK562\t0\nHepG2\t1\n\nK562\t0\nGM12878\t2\n")

	cells, err := DistinctColumn(path, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"K562", "HepG2", "GM12878"}, cells)

	n, err := CountRows(path)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = DistinctColumn(path, 5)
	assert.ErrorContains(t, err, "folds.tsv:2")
}

func TestAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, AtomicWrite(path, []byte("seed = 1\n"), 0o644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "seed = 1\n", string(data))
	assert.NoFileExists(t, path+".tmp")
}
