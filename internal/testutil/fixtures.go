package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/registry"
	"github.com/vk/trainspec/internal/yamlconf"
	"github.com/vk/trainspec/modules"
)

// Dataset is a small genomics dataset on disk: one 200bp chromosome, three
// cell types in three folds and two target features.
type Dataset struct {
	Dir              string
	Reference        string
	Targets          string
	DistinctFeatures string
	TargetFeatures   string
	Intervals        string
	Folds            string
}

// CellTypes are the cell types of the fixture in folds file order.
var CellTypes = []string{"K562", "HepG2", "GM12878"}

// WriteDataset writes the fixture files into a fresh temp dir.
func WriteDataset(t testing.TB) *Dataset {
	t.Helper()
	dir := t.TempDir()
	genome := strings.Repeat("ACGT", 50)
	return &Dataset{
		Dir:       dir,
		Reference: WriteFile(t, dir, "reference.fa", ">chr1\n"+genome[:100]+"\n"+genome[100:]+"\n"),
		Targets: WriteFile(t, dir, "targets.bed", lines(
			"chr1\t40\t60\tK562|CTCF|None",
			"chr1\t45\t55\tHepG2|CTCF|None",
			"chr1\t50\t52\tGM12878|DNase|None",
			"chr1\t120\t160\tGM12878|CTCF|None",
		)),
		DistinctFeatures: WriteFile(t, dir, "distinct_features.txt", lines(
			"K562|CTCF|None",
			"HepG2|CTCF|None",
			"GM12878|CTCF|None",
			"K562|DNase|None",
			"GM12878|DNase|None",
		)),
		TargetFeatures: WriteFile(t, dir, "target_features.txt", lines("CTCF", "DNase")),
		Intervals:      WriteFile(t, dir, "intervals.bed", lines("chr1\t40\t60", "chr1\t130\t140")),
		Folds:          WriteFile(t, dir, "folds.txt", lines("K562\t0", "HepG2\t1", "GM12878\t2")),
	}
}

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func lines(rows ...string) string { return strings.Join(rows, "\n") + "\n" }

// RunYAML returns a complete run document over ds that writes into out.
// Fold 1 is held out for validation and fold 2 for testing.
func RunYAML(ds *Dataset, out string, ops ...string) string {
	quoted := make([]string, len(ops))
	for i, op := range ops {
		quoted[i] = fmt.Sprintf("%q", op)
	}
	return fmt.Sprintf(`ops: [%s]
random_seed: 7
lr: 0.05
output_dir: %q
create_subdirectory: false
model:
  path: models/nn.py
  class: CellTypeLinear
  class_args:
    sequence_length: 20
    n_cell_types: 3
    n_genomic_features: 2
    n_bins: 2
criterion: !obj:losses.BCEWithLogitsLoss {}
optimizer:
  class: optim.Adam
lr_scheduler:
  class: !import optim.StepLR
  class_args:
    step_size: 4
    gamma: 0.5
dataset:
  debug: false
  reference_sequence_path: %q
  target_path: %q
  distinct_features_path: %q
  target_features_path: %q
  intervals_path: %q
  folds_path: %q
  validation_holdout: [1]
  test_holdout: [2]
  dataset_args:
    sequence_length: 20
    center_bin_to_predict: 10
  loader_args:
    batch_size: 4
    num_workers: 2
  sampler: !obj:data.RandomChunkSampler
    chunk_size: 8
  train_transform: !obj:data.Compose
    transforms:
      - !obj:genomics.RandomReverseComplement
        p: 0.5
train_model: !obj:training.TrainModel
  n_epochs: 2
  report_stats_every_n_steps: 2
  metrics:
    roc_auc: !import metrics.roc_auc
    average_precision: !import metrics.average_precision
  metrics_transforms:
    roc_auc: !import metrics.sigmoid
    average_precision: !import metrics.sigmoid
`, strings.Join(quoted, ", "), out,
		ds.Reference, ds.Targets, ds.DistinctFeatures, ds.TargetFeatures, ds.Intervals, ds.Folds)
}

// Document parses a YAML run document.
func Document(t testing.TB, src string) *config.Document {
	t.Helper()
	doc, err := yamlconf.NewLoader().LoadBytes([]byte(src), "run.yaml")
	require.NoError(t, err)
	return doc
}

// Registry returns a registry holding every built-in module.
func Registry() *registry.Registry {
	return registry.New(modules.All()...)
}
