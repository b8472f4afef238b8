package builder

import (
	"context"
	"fmt"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/dag"
)

// stageContext is the state shared by the construction stages.
type stageContext struct {
	plan       *plan
	spec       *RunSpec
	checkpoint *preloaded
	transforms map[component.Split]component.Transform
}

type stage struct {
	name  string
	after []string
	run   func(ctx context.Context, sc *stageContext) error
}

func (b *Builder) stages() []stage {
	return []stage{
		{name: "transforms", run: b.buildTransforms},
		{name: "datasets", after: []string{"transforms"}, run: b.buildDatasets},
		{name: "loaders", after: []string{"datasets"}, run: b.buildLoaders},
		{name: "criterion", run: b.buildCriterion},
		{name: "model", run: b.buildModel},
		{name: "optimizer", after: []string{"model"}, run: b.buildOptimizer},
		{name: "scheduler", after: []string{"optimizer"}, run: b.buildScheduler},
		{name: "resume", after: []string{"model", "optimizer", "scheduler"}, run: b.applyResume},
		{name: "driver", after: []string{"loaders", "criterion", "model", "optimizer", "scheduler", "resume"}, run: b.buildDriver},
	}
}

// runStages constructs the run leaves first. Stages without an ordering
// constraint run in declaration order.
func (b *Builder) runStages(ctx context.Context, sc *stageContext) error {
	stages := b.stages()
	g := dag.New()
	byName := make(map[string]stage, len(stages))
	for _, s := range stages {
		g.AddNode(s.name)
		byName[s.name] = s
	}
	for _, s := range stages {
		for _, dep := range s.after {
			if err := g.AddEdge(dep, s.name); err != nil {
				return fmt.Errorf("stage graph: %w", err)
			}
		}
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return fmt.Errorf("stage graph: %w", err)
	}

	for _, name := range order {
		sctx, span := b.tracer.Start(ctx, "builder."+name)
		sctx = ctxlog.With(sctx, "stage", name)
		ctxlog.FromContext(sctx).Debug("Running build stage.")
		err := byName[name].run(sctx, sc)
		if err != nil {
			fail(span, err)
		}
		span.End()
		if err != nil {
			return err
		}
	}
	return nil
}

// transformKeys are built in this order.
var transformKeys = []struct {
	key    string
	splits []component.Split
}{
	{"train_transform", []component.Split{component.SplitTrain}},
	{"val_transform", []component.Split{component.SplitValidation, component.SplitTest}},
}

func (b *Builder) buildTransforms(ctx context.Context, sc *stageContext) error {
	dataset := sc.plan.doc.Section("dataset")
	sc.transforms = make(map[component.Split]component.Transform)
	for _, tk := range transformKeys {
		key, splits := tk.key, tk.splits
		t, err := b.eagerInstance(ctx, config.Path{"dataset", key}, dataset.Get(key))
		if err != nil {
			return err
		}
		if t == nil {
			continue
		}
		tr, ok := t.Object.(component.Transform)
		if !ok {
			return inconsistent(config.Path{"dataset", key}, "%s is not a transform", t.Name)
		}
		for _, s := range splits {
			sc.transforms[s] = tr
		}
	}
	return nil
}

// eagerInstance resolves an optional component directive. nil means the
// key is not configured.
func (b *Builder) eagerInstance(ctx context.Context, path config.Path, v config.Value) (*config.Instance, error) {
	if config.IsAbsent(v) {
		return nil, nil
	}
	resolved, err := b.binder.Resolve(ctx, path, v)
	if err != nil {
		return nil, err
	}
	inst, ok := resolved.(*config.Instance)
	if !ok {
		return nil, inconsistent(path, "expected a component directive, got %s", v.String())
	}
	return inst, nil
}

func (b *Builder) buildDatasets(ctx context.Context, sc *stageContext) error {
	dataset := sc.plan.doc.Section("dataset")
	comp, err := b.datasetClass(dataset)
	if err != nil {
		return err
	}

	path := config.Path{"dataset", "dataset_args"}
	args := config.NewMapping()
	for _, key := range datasetPathKeys {
		if v, ok := dataset.Lookup(key); ok && !config.IsAbsent(v) {
			args.Set(key, v)
		}
	}
	if extra := dataset.Get("dataset_args"); !config.IsAbsent(extra) {
		m, ok := extra.(*config.Mapping)
		if !ok {
			return inconsistent(path, "expected a mapping, got %s", extra.String())
		}
		config.MergeInto(args, m)
	}
	resolved, err := b.binder.Resolve(ctx, path, args)
	if err != nil {
		return err
	}

	debug, err := boolAt(dataset, config.Path{"dataset", "debug"})
	if err != nil {
		return err
	}

	for _, split := range []component.Split{component.SplitTrain, component.SplitValidation, component.SplitTest} {
		cells, ok := sc.plan.split.splits[split]
		if !ok {
			continue
		}
		obj, err := b.binder.Construct(ctx, path, comp, resolved.(*config.Mapping), &component.DatasetDeps{
			Split:        split,
			CellTypes:    cells,
			AllCellTypes: sc.plan.split.all,
			Transform:    sc.transforms[split],
			Debug:        debug,
		})
		if err != nil {
			return err
		}
		ds, ok := obj.(component.Dataset)
		if !ok {
			return inconsistent(config.Path{"dataset", "class"}, "%s does not build a dataset", comp.Name)
		}
		sc.spec.Datasets[split] = ds
	}
	return nil
}

func (b *Builder) buildLoaders(ctx context.Context, sc *stageContext) error {
	dataset := sc.plan.doc.Section("dataset")
	comp, err := b.resolveClass(config.Path{"dataset", "loader_class"}, dataset.Get("loader_class"), defaultLoaderClass)
	if err != nil {
		return err
	}
	argsPath := config.Path{"dataset", "loader_args"}

	for _, split := range []component.Split{component.SplitTrain, component.SplitValidation, component.SplitTest} {
		ds, ok := sc.spec.Datasets[split]
		if !ok {
			continue
		}
		sampler, err := b.sampler(ctx, dataset, split)
		if err != nil {
			return err
		}
		obj, err := b.binder.ResolveAndConstruct(ctx, argsPath, comp, dataset.Get("loader_args"), &component.LoaderDeps{Dataset: ds, Sampler: sampler})
		if err != nil {
			return err
		}
		l, ok := obj.(component.Loader)
		if !ok {
			return inconsistent(config.Path{"dataset", "loader_class"}, "%s does not build a loader", comp.Name)
		}
		sc.spec.Loaders[split] = l
	}
	return nil
}

// sampler returns dataset.sampler for training, a chunked shuffle when it
// is not configured, and a sequential sampler for evaluation.
func (b *Builder) sampler(ctx context.Context, dataset *config.Mapping, split component.Split) (component.Sampler, error) {
	path := config.Path{"dataset", "sampler"}
	class := evalSamplerClass
	if split == component.SplitTrain {
		inst, err := b.eagerInstance(ctx, path, dataset.Get("sampler"))
		if err != nil {
			return nil, err
		}
		if inst != nil {
			s, ok := inst.Object.(component.Sampler)
			if !ok {
				return nil, inconsistent(path, "%s is not a sampler", inst.Name)
			}
			return s, nil
		}
		class = trainSamplerClass
	}
	comp, err := b.reg.ResolveConstructible(class)
	if err != nil {
		return nil, err
	}
	obj, err := b.binder.Construct(ctx, path, comp, nil, nil)
	if err != nil {
		return nil, err
	}
	return obj.(component.Sampler), nil
}

func (b *Builder) buildCriterion(ctx context.Context, sc *stageContext) error {
	path := config.Path{"criterion"}
	v := sc.plan.doc.Get("criterion")
	var obj any
	switch t := v.(type) {
	case *config.Component:
		inst, err := b.eagerInstance(ctx, path, t)
		if err != nil {
			return err
		}
		obj = inst.Object
	case *config.Mapping:
		comp, err := b.resolveClass(path.Key("class"), t.Get("class"), "")
		if err != nil {
			return err
		}
		if obj, err = b.binder.ResolveAndConstruct(ctx, path.Key("class_args"), comp, t.Get("class_args"), nil); err != nil {
			return err
		}
	}
	c, ok := obj.(component.Criterion)
	if !ok {
		return inconsistent(path, "expected a criterion, got %T", obj)
	}
	sc.spec.Criterion = c
	return nil
}

func (b *Builder) buildModel(ctx context.Context, sc *stageContext) error {
	model := sc.plan.doc.Section("model")
	comp, name, err := b.modelClass(model)
	if err != nil {
		return err
	}
	obj, err := b.binder.ResolveAndConstruct(ctx, config.Path{"model", "class_args"}, comp, model.Get("class_args"), nil)
	if err != nil {
		return err
	}
	m, ok := obj.(component.Model)
	if !ok {
		return inconsistent(config.Path{"model", "class"}, "%s is not a model", name)
	}
	if err := sc.checkpoint.applyWeights(name, m); err != nil {
		return err
	}
	if sc.checkpoint.cp != nil {
		ctxlog.FromContext(ctx).Info("Model weights restored.", "checkpoint", sc.checkpoint.state.File)
	}
	sc.spec.Model = m
	sc.spec.ModelName = name
	return nil
}

func (b *Builder) buildOptimizer(ctx context.Context, sc *stageContext) error {
	doc := sc.plan.doc
	lr := defaultLR
	if v := doc.Get("lr"); !config.IsAbsent(v) {
		f, ok := floatOf(v)
		if !ok || f <= 0 {
			return inconsistent(config.Path{"lr"}, "expected a positive number, got %s", v.String())
		}
		lr = f
	}

	section := doc.Section("optimizer")
	comp, err := b.resolveClass(config.Path{"optimizer", "class"}, section.Get("class"), defaultOptimizerClass)
	if err != nil {
		return err
	}
	args := section.Mapping("class_args")
	obj, err := b.binder.ResolveAndConstruct(ctx, config.Path{"optimizer", "class_args"}, comp, section.Get("class_args"), &component.OptimizerDeps{
		Params: sc.spec.Model.Parameters(),
		LR:     lr,
	})
	if err != nil {
		return err
	}
	opt, ok := obj.(component.Optimizer)
	if !ok {
		return inconsistent(config.Path{"optimizer", "class"}, "%s is not an optimizer", comp.Name)
	}
	sc.spec.Optimizer = opt
	sc.spec.OptimizerClass = comp.Name
	sc.spec.OptimizerArgs = args
	return nil
}

func (b *Builder) buildScheduler(ctx context.Context, sc *stageContext) error {
	section := sc.plan.doc.Section("lr_scheduler")
	if section == nil {
		return nil
	}
	comp, err := b.resolveClass(config.Path{"lr_scheduler", "class"}, section.Get("class"), "")
	if err != nil {
		return err
	}
	obj, err := b.binder.ResolveAndConstruct(ctx, config.Path{"lr_scheduler", "class_args"}, comp, section.Get("class_args"), &component.SchedulerDeps{
		Optimizer: sc.spec.Optimizer,
	})
	if err != nil {
		return err
	}
	s, ok := obj.(component.Scheduler)
	if !ok {
		return inconsistent(config.Path{"lr_scheduler", "class"}, "%s is not a scheduler", comp.Name)
	}
	sc.spec.Scheduler = s
	sc.spec.SchedulerClass = comp.Name
	sc.spec.SchedulerArgs = section.Mapping("class_args")
	return nil
}

func (b *Builder) applyResume(ctx context.Context, sc *stageContext) error {
	if err := sc.checkpoint.applyOptimizer(sc.spec.Optimizer, sc.spec.Scheduler); err != nil {
		return err
	}
	if sc.checkpoint.cp != nil {
		ctxlog.FromContext(ctx).Info("Optimizer state restored.", "step", sc.checkpoint.state.Step, "lr", sc.spec.Optimizer.LR())
	}
	return nil
}

func (b *Builder) buildDriver(ctx context.Context, sc *stageContext) error {
	path := config.Path{"train_model"}
	inst, err := b.eagerInstance(ctx, path, sc.plan.doc.Get("train_model"))
	if err != nil {
		return err
	}
	d, ok := inst.Object.(component.Driver)
	if !ok {
		return inconsistent(path, "%s is not a training driver", inst.Name)
	}
	spec := sc.spec
	err = d.Bind(&component.Collaborators{
		Model:      spec.Model,
		Criterion:  spec.Criterion,
		Optimizer:  spec.Optimizer,
		Scheduler:  spec.Scheduler,
		Loaders:    spec.Loaders,
		OutputDir:  spec.OutputDir,
		Reporter:   b.opts.Reporter,
		Checkpoint: checkpointSink(spec),
	})
	if err != nil {
		return fmt.Errorf("%s: bind %s: %w", path, inst.Name, err)
	}
	spec.Driver = d
	ctxlog.FromContext(ctx).Debug("Driver bound.", "driver", inst.Name, "epochs", d.Epochs())
	return nil
}
