package builder

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk/trainspec/internal/binder"
	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/fsutil"
	"github.com/vk/trainspec/internal/registry"
)

const (
	defaultOutputDir = "outputs"
	defaultLR        = 0.001
)

// Builder turns documents into RunSpecs.
type Builder struct {
	reg    *registry.Registry
	binder *binder.Binder
	opts   Options
	tracer trace.Tracer
}

// New creates a builder resolving names against reg.
func New(reg *registry.Registry, opts Options) *Builder {
	return &Builder{
		reg:    reg,
		binder: binder.New(reg),
		opts:   opts,
		tracer: otel.Tracer("github.com/vk/trainspec/internal/builder"),
	}
}

// plan is what validation learns about a document before anything is
// constructed.
type plan struct {
	doc   *config.Document
	ops   []string
	split *splitPlan
}

// Validate runs every check that has no side effects: required keys, the
// ops list, name resolution and cross-field consistency.
func (b *Builder) Validate(ctx context.Context, doc *config.Document) error {
	_, err := b.validate(ctx, doc)
	return err
}

func (b *Builder) validate(ctx context.Context, doc *config.Document) (*plan, error) {
	ctx, span := b.tracer.Start(ctx, "builder.validate")
	defer span.End()
	logger := ctxlog.FromContext(ctx)

	if missing := doc.MissingKeys(); len(missing) > 0 {
		return nil, fail(span, inconsistent(config.Path{missing[0]}, "required key is missing"))
	}
	ops, err := doc.Ops()
	if err != nil {
		return nil, fail(span, inconsistent(config.Path{"ops"}, "%v", err))
	}

	if err := b.validateNames(doc); err != nil {
		return nil, fail(span, err)
	}
	logger.Debug("All names resolved.")

	split, err := checkConsistency(doc)
	if err != nil {
		return nil, fail(span, err)
	}
	logger.Debug("Document is consistent.", "cell_types", len(split.all))
	return &plan{doc: doc, ops: ops, split: split}, nil
}

// Build validates doc and constructs the run. Nothing is constructed when
// validation fails; the output directory is the only side effect that can
// precede a construction failure.
func (b *Builder) Build(ctx context.Context, doc *config.Document) (*RunSpec, error) {
	p, err := b.validate(ctx, doc)
	if err != nil {
		return nil, err
	}

	ctx, span := b.tracer.Start(ctx, "builder.build")
	defer span.End()
	logger := ctxlog.FromContext(ctx)

	spec := &RunSpec{
		Ops:      p.ops,
		Sources:  doc.Sources(),
		Datasets: make(map[component.Split]component.Dataset),
		Loaders:  make(map[component.Split]component.Loader),
		Params:   scalarParams(doc),
	}

	spec.Seed, err = seedOf(doc)
	if err != nil {
		return nil, fail(span, err)
	}
	ctx = component.WithSeed(ctx, spec.Seed)
	span.SetAttributes(attribute.Int64("seed", spec.Seed))

	cp, err := preloadCheckpoint(doc)
	if err != nil {
		return nil, fail(span, err)
	}
	spec.Checkpoint = cp.state

	if spec.OutputDir, err = b.outputDir(doc); err != nil {
		return nil, fail(span, err)
	}
	logger.Info("Output directory ready.", "path", spec.OutputDir)

	if err := b.runStages(ctx, &stageContext{plan: p, spec: spec, checkpoint: cp}); err != nil {
		return nil, fail(span, err)
	}
	logger.Info("Run assembled.", "model", spec.ModelName, "ops", spec.Ops, "seed", spec.Seed)
	return spec, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// seedOf returns random_seed or, when it is not configured, a seed from
// the clock.
func seedOf(doc *config.Document) (int64, error) {
	v := doc.Get("random_seed")
	if config.IsAbsent(v) {
		return time.Now().UnixNano(), nil
	}
	n, ok := intOf(v)
	if !ok {
		return 0, inconsistent(config.Path{"random_seed"}, "expected an integer, got %s", v.String())
	}
	return n, nil
}

func (b *Builder) outputDir(doc *config.Document) (string, error) {
	base := b.opts.OutputDir
	if base == "" {
		base = doc.Root().StringAt("output_dir")
	}
	if base == "" {
		base = defaultOutputDir
	}
	fresh, err := boolAt(doc.Root(), config.Path{"create_subdirectory"})
	if err != nil {
		return "", err
	}
	dir, err := fsutil.PrepareOutputDir(base, fresh)
	if err != nil {
		return "", fmt.Errorf("output_dir: %w", err)
	}
	return dir, nil
}

// scalarParams collects the literal model and dataset arguments for the
// run manifest.
func scalarParams(doc *config.Document) map[string]any {
	out := make(map[string]any)
	add := func(prefix string, m *config.Mapping) {
		for _, k := range m.Keys() {
			if s, ok := m.Get(k).(config.Scalar); ok {
				out[prefix+"."+k] = s.V
			}
		}
	}
	add("model", doc.Section("model").Mapping("class_args"))
	add("dataset", doc.Section("dataset").Mapping("dataset_args"))
	return out
}

func intOf(v config.Value) (int64, bool) {
	s, ok := v.(config.Scalar)
	if !ok {
		return 0, false
	}
	switch n := s.V.(type) {
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func floatOf(v config.Value) (float64, bool) {
	s, ok := v.(config.Scalar)
	if !ok {
		return 0, false
	}
	switch n := s.V.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// boolAt reads an optional bool stored under the last key of path.
func boolAt(m *config.Mapping, path config.Path) (bool, error) {
	v := m.Get(path[len(path)-1])
	if config.IsAbsent(v) {
		return false, nil
	}
	if s, ok := v.(config.Scalar); ok {
		if b, ok := s.V.(bool); ok {
			return b, nil
		}
	}
	return false, inconsistent(path, "expected a bool, got %s", v.String())
}
