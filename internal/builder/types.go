package builder

import (
	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
)

// RunSpec is the fully constructed run handed to the executor.
type RunSpec struct {
	Model     component.Model
	ModelName string
	Criterion component.Criterion
	Datasets  map[component.Split]component.Dataset
	Loaders   map[component.Split]component.Loader

	OptimizerClass string
	OptimizerArgs  *config.Mapping
	Optimizer      component.Optimizer
	SchedulerClass string
	SchedulerArgs  *config.Mapping
	Scheduler      component.Scheduler

	Driver component.Driver

	Ops       []string
	OutputDir string
	Seed      int64
	// Checkpoint is the only field mutated after Build.
	Checkpoint *CheckpointState
	Sources    []string
	// Params are the scalar model and dataset arguments, keyed
	// "model.<name>" and "dataset.<name>".
	Params map[string]any
}

// CheckpointState tracks where training resumes and the best loss seen.
type CheckpointState struct {
	Resume  config.Optional[string]
	File    string
	Epoch   int
	Chunk   int
	Step    int
	MinLoss float64
	Resumed bool
}

// Options tune a Builder.
type Options struct {
	// OutputDir overrides the document's output_dir when set.
	OutputDir string
	// Reporter receives driver progress; nil disables reporting.
	Reporter component.Reporter
}
