package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/trainspec/internal/builder"
	"github.com/vk/trainspec/internal/checkpoint"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/executor"
	"github.com/vk/trainspec/internal/manifest"
	"github.com/vk/trainspec/internal/testutil"
)

// setupAppTest creates an app over the given run documents with logs
// captured in a buffer.
func setupAppTest(t *testing.T, cfg Config) (*App, *testutil.SafeBuffer) {
	t.Helper()
	cfg.LogLevel = "debug"
	full, err := NewConfig(cfg)
	require.NoError(t, err)

	logs := &testutil.SafeBuffer{}
	t.Cleanup(func() {
		if os.Getenv("TRAINSPEC_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})
	return New(logs, full), logs
}

func writeRun(t *testing.T, yaml string) string {
	t.Helper()
	return testutil.WriteFile(t, t.TempDir(), "run.yaml", yaml)
}

func TestNewConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := NewConfig(Config{ConfigPaths: []string{"run.yaml"}, LogLevel: "DEBUG"})
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/", cfg.MonitorNamespace)

	cfg, err = NewConfig(Config{LogFormat: "json", MonitorNamespace: "/runs"})
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/runs", cfg.MonitorNamespace)
}

func TestNewConfig_Invalid(t *testing.T) {
	t.Parallel()
	for name, cfg := range map[string]Config{
		"format": {LogFormat: "xml"},
		"level":  {LogLevel: "trace"},
		"port":   {HealthcheckPort: 70000},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfig(cfg)
			require.Error(t, err)
		})
	}
}

func TestApp_RunEndToEnd(t *testing.T) {
	t.Parallel()
	ds := testutil.WriteDataset(t)
	out := filepath.Join(t.TempDir(), "run")
	app, logs := setupAppTest(t, Config{ConfigPaths: []string{writeRun(t, testutil.RunYAML(ds, out, "train", "evaluate"))}})

	require.NoError(t, app.Run(context.Background()))

	for _, name := range []string{
		"train.txt",
		"validation.txt",
		"test_performance.txt",
		"test_predictions.tsv",
		manifest.FileName,
		checkpoint.BestFileName,
	} {
		assert.FileExists(t, filepath.Join(out, name))
	}
	checkpoints, err := filepath.Glob(filepath.Join(out, "checkpoint-e*-c*.msgpack"))
	require.NoError(t, err)
	assert.Len(t, checkpoints, 8, "two epochs of four chunks")

	m, err := manifest.Read(filepath.Join(out, manifest.FileName))
	require.NoError(t, err)
	assert.Equal(t, []string{"train", "evaluate"}, m.Ops)
	assert.Equal(t, "nn.CellTypeLinear", m.Model)
	assert.Equal(t, "optim.Adam", m.Optimizer)
	assert.EqualValues(t, 7, m.Seed)

	n, err := promtest.GatherAndCount(app.Metrics().Registry(), "trainspec_ops_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Contains(t, logs.String(), "Run finished.")
	assert.Contains(t, logs.String(), "run_id=")
}

func TestApp_OutputDirOverride(t *testing.T) {
	t.Parallel()
	ds := testutil.WriteDataset(t)
	docDir := filepath.Join(t.TempDir(), "ignored")
	override := filepath.Join(t.TempDir(), "override")
	app, _ := setupAppTest(t, Config{
		ConfigPaths: []string{writeRun(t, testutil.RunYAML(ds, docDir, "train"))},
		OutputDir:   override,
	})

	require.NoError(t, app.Run(context.Background()))
	assert.FileExists(t, filepath.Join(override, "train.txt"))
	assert.NoDirExists(t, docDir)
}

func TestApp_UnknownOpBuildsNothing(t *testing.T) {
	t.Parallel()
	ds := testutil.WriteDataset(t)
	out := filepath.Join(t.TempDir(), "run")
	app, _ := setupAppTest(t, Config{ConfigPaths: []string{writeRun(t, testutil.RunYAML(ds, out, "train", "predict"))}})

	err := app.Run(context.Background())
	var opErr *executor.UnknownOperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "predict", opErr.Op)
	assert.Equal(t, "ops[1]", opErr.Path.String())
	assert.NoDirExists(t, out)
}

func TestApp_Validate(t *testing.T) {
	t.Parallel()
	ds := testutil.WriteDataset(t)
	out := filepath.Join(t.TempDir(), "run")
	yaml := testutil.RunYAML(ds, out, "train", "evaluate")

	t.Run("valid", func(t *testing.T) {
		app, logs := setupAppTest(t, Config{ConfigPaths: []string{writeRun(t, yaml)}})
		require.NoError(t, app.Validate(context.Background()))
		assert.Contains(t, logs.String(), "Configuration is valid.")
		assert.NoDirExists(t, out)
	})

	t.Run("inconsistent", func(t *testing.T) {
		bad := strings.Replace(yaml, "n_cell_types: 3", "n_cell_types: 4", 1)
		app, _ := setupAppTest(t, Config{ConfigPaths: []string{writeRun(t, bad)}})
		err := app.Validate(context.Background())
		var cErr *builder.ConfigConsistencyError
		require.ErrorAs(t, err, &cErr)
		assert.NoDirExists(t, out)
	})
}

func TestApp_LoadDocument_MergesFormats(t *testing.T) {
	t.Parallel()
	ds := testutil.WriteDataset(t)
	dir := t.TempDir()
	base := testutil.WriteFile(t, dir, "base.yaml", testutil.RunYAML(ds, filepath.Join(dir, "out"), "train"))
	override := testutil.WriteFile(t, dir, "override.hcl", "lr = 0.5\nrandom_seed = 11\n")

	app, _ := setupAppTest(t, Config{ConfigPaths: []string{base, override}})
	doc, err := app.LoadDocument(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{base, override}, doc.Sources())
	assert.Equal(t, config.Float(0.5), doc.Get("lr"))
	assert.Equal(t, config.Int(11), doc.Get("random_seed"))
	assert.True(t, doc.Root().Has("train_model"))
}

func TestApp_LoadDocument_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	txt := testutil.WriteFile(t, dir, "notes.txt", "ops: [train]\n")

	for name, paths := range map[string][]string{
		"none":       nil,
		"missing":    {filepath.Join(dir, "absent.yaml")},
		"extension":  {txt},
		"empty dir":  {t.TempDir()},
		"bad syntax": {testutil.WriteFile(t, dir, "broken.hcl", "model {\n")},
	} {
		t.Run(name, func(t *testing.T) {
			app, _ := setupAppTest(t, Config{ConfigPaths: paths})
			_, err := app.LoadDocument(context.Background())
			require.Error(t, err)
		})
	}
}

func TestApp_Handler(t *testing.T) {
	t.Parallel()
	app, _ := setupAppTest(t, Config{})
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body := new(bytes.Buffer)
	_, err = body.ReadFrom(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "OK\n", body.String())

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body.Reset()
	_, err = body.ReadFrom(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body.String(), "trainspec_learning_rate")
}

func TestApp_Components(t *testing.T) {
	t.Parallel()
	app, _ := setupAppTest(t, Config{})
	var out bytes.Buffer
	require.NoError(t, app.Components(&out))

	listing := out.String()
	assert.True(t, strings.HasPrefix(listing, "NAME"))
	for _, name := range []string{"optim.Adam", "optim.StepLR", "training.TrainModel", "metrics.roc_auc", "nn.CellTypeLinear"} {
		assert.Contains(t, listing, name)
	}
}
