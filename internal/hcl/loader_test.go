package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/trainspec/internal/config"
)

const experimentHCL = `
ops = ["train", "evaluate"]

model {
  path  = "models/deepsea.go"
  class = "DeepSEA"
  class_args {
    sequence_length    = 1000
    n_cell_types       = 3
    n_genomic_features = 4
  }
}

dataset {
  batch_size = 8
  seed       = null
  dataset_class = import("genomics.EncodeDataset")
  transforms = [
    obj("genomics.RandomReverseComplement", { p = 0.5 }),
    obj("genomics.PermuteSequenceChannels"),
  ]
}

train_model = obj("training.TrainModel", {
  max_epochs = 2
  metrics = {
    pearson = import("metrics.pearson")
  }
})
`

func load(t *testing.T, src string) *config.Document {
	t.Helper()
	doc, err := NewLoader().LoadBytes([]byte(src), "experiment.hcl")
	require.NoError(t, err)
	return doc
}

func TestLoadBytes_PreservesDeclarationOrder(t *testing.T) {
	doc := load(t, experimentHCL)

	assert.Equal(t, []string{"ops", "model", "dataset", "train_model"}, doc.Root().Keys())
	assert.Equal(t, []string{"batch_size", "seed", "dataset_class", "transforms"}, doc.Section("dataset").Keys())
	assert.Equal(t, []string{"path", "class", "class_args"}, doc.Section("model").Keys())
}

func TestLoadBytes_Directives(t *testing.T) {
	doc := load(t, experimentHCL)

	dataset := doc.Section("dataset")
	imp, ok := dataset.Get("dataset_class").(*config.Import)
	require.True(t, ok)
	assert.Equal(t, "genomics.EncodeDataset", imp.Name)

	transforms, ok := dataset.Get("transforms").(config.Sequence)
	require.True(t, ok)
	require.Len(t, transforms, 2)
	first := transforms[0].(*config.Component)
	assert.Equal(t, "genomics.RandomReverseComplement", first.Name)
	assert.Equal(t, config.Float(0.5), first.Args.Get("p"))
	second := transforms[1].(*config.Component)
	assert.Equal(t, 0, second.Args.Len(), "obj() without arguments gets an empty mapping")

	tm := doc.Get("train_model").(*config.Component)
	assert.Equal(t, config.Int(2), tm.Args.Get("max_epochs"))
	metric := tm.Args.Mapping("metrics").Get("pearson").(*config.Import)
	assert.Equal(t, "metrics.pearson", metric.Name)
}

func TestLoadBytes_NullIsAbsent(t *testing.T) {
	doc := load(t, experimentHCL)

	v, present := doc.Section("dataset").Lookup("seed")
	assert.True(t, present)
	assert.True(t, config.IsAbsent(v))
}

func TestLoadBytes_Scalars(t *testing.T) {
	doc := load(t, `
a = 3
b = 2.5
c = "x"
d = true
e = format("%s-%d", "run", 7)
f = 1e3
`)
	root := doc.Root()
	assert.Equal(t, config.Int(3), root.Get("a"))
	assert.Equal(t, config.Float(2.5), root.Get("b"))
	assert.Equal(t, config.Str("x"), root.Get("c"))
	assert.Equal(t, config.Bool(true), root.Get("d"))
	assert.Equal(t, config.Str("run-7"), root.Get("e"))
	assert.Equal(t, config.Int(1000), root.Get("f"))
}

func TestLoadBytes_EnvFunction(t *testing.T) {
	t.Setenv("TRAINSPEC_TEST_DIR", "/data/genome")
	doc := load(t, `
dir     = env("TRAINSPEC_TEST_DIR")
missing = env("TRAINSPEC_TEST_UNSET_VARIABLE")
`)
	assert.Equal(t, config.Str("/data/genome"), doc.Get("dir"))
	assert.True(t, config.IsAbsent(doc.Get("missing")))
}

func TestLoadBytes_LabeledBlocksNest(t *testing.T) {
	doc := load(t, `
metric "roc_auc" {
  fn = import("metrics.roc_auc")
}
metric "average_precision" {
  fn = import("metrics.average_precision")
}
`)
	metrics := doc.Section("metric")
	require.NotNil(t, metrics)
	assert.Equal(t, []string{"roc_auc", "average_precision"}, metrics.Keys())
}

func TestLoadBytes_Errors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `a = [`, "failed to parse HCL"},
		{"duplicate block", "model {}\nmodel {}", "Duplicate"},
		{"obj without name", `x = obj()`, "Invalid obj() directive"},
		{"obj with non-object args", `x = obj("a.B", 3)`, "must be an object"},
		{"import with extra args", `x = import("a.b", "c")`, "Invalid import() directive"},
		{"non-string name", `x = import(3)`, "non-empty qualified name"},
		{"undefined variable", `x = nope`, "failed to decode HCL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLoader().LoadBytes([]byte(tc.src), "bad.hcl")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_MergesFilesInDiscoveryOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte("ops = [\"train\"]\nx = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte("x = 2\ny = 3\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.yaml"), []byte("x: 9\n"), 0o644))

	doc, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, config.Int(2), doc.Get("x"), "later files win")
	assert.Equal(t, config.Int(3), doc.Get("y"))
	assert.Len(t, doc.Sources(), 2)
}

func TestFromCty(t *testing.T) {
	v, err := FromCty(cty.ObjectVal(map[string]cty.Value{
		"b": cty.ListVal([]cty.Value{cty.NumberIntVal(1), cty.NumberFloatVal(1.5)}),
		"a": cty.NullVal(cty.String),
	}))
	require.NoError(t, err)

	m := v.(*config.Mapping)
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	assert.True(t, config.IsAbsent(m.Get("a")))
	if diff := cmp.Diff(config.Sequence{config.Int(1), config.Float(1.5)}, m.Get("b")); diff != "" {
		t.Errorf("sequence mismatch (-want +got):\n%s", diff)
	}

	_, err = FromCty(cty.UnknownVal(cty.String))
	assert.Error(t, err)
}
