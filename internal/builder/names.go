package builder

import (
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/registry"
)

const (
	defaultDatasetClass   = "genomics.EncodeDataset"
	defaultLoaderClass    = "data.Loader"
	defaultOptimizerClass = "optim.SGD"
	trainSamplerClass     = "data.RandomChunkSampler"
	evalSamplerClass      = "data.SequentialSampler"
)

// validateNames resolves every name in doc without constructing: all
// directives, then every class given as a string or at a class position.
func (b *Builder) validateNames(doc *config.Document) error {
	if err := b.binder.Validate(nil, doc.Root()); err != nil {
		return err
	}

	model := doc.Section("model")
	if model == nil {
		return inconsistent(config.Path{"model"}, "expected a mapping, got %s", doc.Get("model").String())
	}
	if _, _, err := b.modelClass(model); err != nil {
		return err
	}

	dataset := doc.Section("dataset")
	if dataset == nil {
		return inconsistent(config.Path{"dataset"}, "expected a mapping, got %s", doc.Get("dataset").String())
	}
	if _, err := b.datasetClass(dataset); err != nil {
		return err
	}
	if _, err := b.resolveClass(config.Path{"dataset", "loader_class"}, dataset.Get("loader_class"), defaultLoaderClass); err != nil {
		return err
	}
	for _, key := range []string{"train_transform", "val_transform", "sampler"} {
		if err := eagerOrAbsent(config.Path{"dataset", key}, dataset.Get(key)); err != nil {
			return err
		}
	}

	if err := b.validateCriterion(doc.Get("criterion")); err != nil {
		return err
	}
	if err := b.validateClassSection(doc, "optimizer", defaultOptimizerClass); err != nil {
		return err
	}
	if err := b.validateClassSection(doc, "lr_scheduler", ""); err != nil {
		return err
	}
	if _, ok := doc.Get("train_model").(*config.Component); !ok {
		return inconsistent(config.Path{"train_model"}, "expected a component directive, got %s", doc.Get("train_model").String())
	}
	return nil
}

// resolveClass resolves the value at a class position: a qualified name or
// an import of a component. Absent resolves def, or nil when def is empty.
func (b *Builder) resolveClass(path config.Path, v config.Value, def string) (*registry.Component, error) {
	var name string
	switch t := v.(type) {
	case nil, config.Absent:
		if def == "" {
			return nil, nil
		}
		name = def
	case config.Scalar:
		s, ok := t.V.(string)
		if !ok || s == "" {
			return nil, inconsistent(path, "expected a class name, got %s", v.String())
		}
		name = s
	case *config.Import:
		sym, err := b.reg.ResolveSymbol(t.Name)
		if err != nil {
			return nil, registry.WithPath(err, path)
		}
		comp, ok := sym.(*registry.Component)
		if !ok {
			return nil, inconsistent(path, "%s is not a constructible class", t.Name)
		}
		return comp, nil
	case *config.Component:
		return nil, inconsistent(path, "%s is constructed eagerly here; name the class with import(%q) and put its arguments under class_args", t.Name, t.Name)
	default:
		return nil, inconsistent(path, "expected a class name, got %s", v.String())
	}
	comp, err := b.reg.ResolveConstructible(name)
	if err != nil {
		return nil, registry.WithPath(err, path)
	}
	return comp, nil
}

// modelClass resolves model.class relative to model.path.
func (b *Builder) modelClass(model *config.Mapping) (*registry.Component, string, error) {
	path := config.Path{"model", "class"}
	class := model.StringAt("class")
	if class == "" {
		return nil, "", inconsistent(path, "expected a class name, got %s", model.Get("class").String())
	}
	comp, name, err := b.reg.ResolveModel(model.StringAt("path"), class)
	if err != nil {
		return nil, "", registry.WithPath(err, path)
	}
	return comp, name, nil
}

// datasetClass resolves dataset.class; a plain name is qualified by
// dataset.path the same way model classes are.
func (b *Builder) datasetClass(dataset *config.Mapping) (*registry.Component, error) {
	path := config.Path{"dataset", "class"}
	v := dataset.Get("class")
	if class := dataset.StringAt("class"); class != "" {
		v = config.Str(registry.ModelName(dataset.StringAt("path"), class))
	}
	return b.resolveClass(path, v, defaultDatasetClass)
}

func (b *Builder) validateCriterion(v config.Value) error {
	path := config.Path{"criterion"}
	switch t := v.(type) {
	case nil, config.Absent:
		return inconsistent(path, "a criterion is required")
	case *config.Component:
		return nil
	case *config.Mapping:
		comp, err := b.resolveClass(path.Key("class"), t.Get("class"), "")
		if err != nil {
			return err
		}
		if comp == nil {
			return inconsistent(path.Key("class"), "a criterion class is required")
		}
		return nil
	default:
		return inconsistent(path, "expected a component directive or {class, class_args}, got %s", v.String())
	}
}

// validateClassSection checks an optional {class, class_args} section.
func (b *Builder) validateClassSection(doc *config.Document, key, def string) error {
	v := doc.Get(key)
	if config.IsAbsent(v) {
		return nil
	}
	m, ok := v.(*config.Mapping)
	if !ok {
		return inconsistent(config.Path{key}, "expected {class, class_args}, got %s", v.String())
	}
	comp, err := b.resolveClass(config.Path{key, "class"}, m.Get("class"), def)
	if err != nil {
		return err
	}
	if comp == nil {
		return inconsistent(config.Path{key, "class"}, "a class is required")
	}
	if args := m.Get("class_args"); !config.IsAbsent(args) {
		if _, ok := args.(*config.Mapping); !ok {
			return inconsistent(config.Path{key, "class_args"}, "expected a mapping, got %s", args.String())
		}
	}
	return nil
}

func eagerOrAbsent(path config.Path, v config.Value) error {
	switch v.(type) {
	case nil, config.Absent, *config.Component:
		return nil
	}
	return inconsistent(path, "expected a component directive, got %s", v.String())
}
