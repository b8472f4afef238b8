package builder

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/vk/trainspec/internal/checkpoint"
	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
)

var resumePath = config.Path{"model", "checkpoint_resume"}

// preloaded is a checkpoint read before anything is constructed.
type preloaded struct {
	state *CheckpointState
	cp    *checkpoint.Checkpoint
}

// preloadCheckpoint reads model.checkpoint_resume. An absent key is a
// fresh run; anything else must name a loadable checkpoint.
func preloadCheckpoint(doc *config.Document) (*preloaded, error) {
	model := doc.Section("model")
	fresh := &preloaded{state: &CheckpointState{MinLoss: math.Inf(1)}}
	v := model.Get("checkpoint_resume")
	if config.IsAbsent(v) {
		return fresh, nil
	}
	resume := model.StringAt("checkpoint_resume")
	if resume == "" {
		return nil, &CheckpointLoadError{Path: resumePath, Err: fmt.Errorf("expected a checkpoint path, got %s; use null to train from scratch", v.String())}
	}

	epoch, err := coordinate(model, "checkpoint_epoch")
	if err != nil {
		return nil, err
	}
	chunk, err := coordinate(model, "checkpoint_chunk")
	if err != nil {
		return nil, err
	}

	file, err := checkpoint.Locate(resume, epoch, chunk)
	if err != nil {
		return nil, &CheckpointLoadError{Path: resumePath, File: resume, Err: err}
	}
	cp, err := checkpoint.Load(file)
	if err != nil {
		return nil, &CheckpointLoadError{Path: resumePath, File: file, Err: err}
	}
	if epoch != nil && *epoch != cp.Epoch {
		return nil, &CheckpointLoadError{Path: resumePath, File: file, Err: fmt.Errorf("checkpoint_epoch is %d but the checkpoint was taken at epoch %d", *epoch, cp.Epoch)}
	}
	if chunk != nil && *chunk != cp.Chunk {
		return nil, &CheckpointLoadError{Path: resumePath, File: file, Err: fmt.Errorf("checkpoint_chunk is %d but the checkpoint was taken at chunk %d", *chunk, cp.Chunk)}
	}

	return &preloaded{
		state: &CheckpointState{
			Resume:  config.Some(resume),
			File:    file,
			Epoch:   cp.Epoch,
			Chunk:   cp.Chunk,
			Step:    cp.Step,
			MinLoss: cp.MinLoss,
			Resumed: true,
		},
		cp: cp,
	}, nil
}

func coordinate(model *config.Mapping, key string) (*int, error) {
	v := model.Get(key)
	if config.IsAbsent(v) {
		return nil, nil
	}
	n, ok := intOf(v)
	if !ok || n < 0 {
		return nil, inconsistent(config.Path{"model", key}, "expected a non-negative integer, got %s", v.String())
	}
	i := int(n)
	return &i, nil
}

// applyWeights loads the preloaded state dict into a freshly built model.
func (p *preloaded) applyWeights(name string, m component.Model) error {
	if p.cp == nil {
		return nil
	}
	if p.cp.Arch != "" && p.cp.Arch != name {
		return &CheckpointLoadError{Path: resumePath, File: p.state.File, Err: fmt.Errorf("checkpoint holds a %s, the model is a %s", p.cp.Arch, name)}
	}
	if err := component.LoadStateDict(m, p.cp.StateDict); err != nil {
		return &CheckpointLoadError{Path: resumePath, File: p.state.File, Err: err}
	}
	return nil
}

// applyOptimizer restores the optimizer and replays the scheduler up to
// the stored step, so closed-form schedules land on the stored rate.
func (p *preloaded) applyOptimizer(opt component.Optimizer, sched component.Scheduler) error {
	if p.cp == nil {
		return nil
	}
	if err := opt.LoadState(p.cp.Optimizer); err != nil {
		return &CheckpointLoadError{Path: resumePath, File: p.state.File, Err: fmt.Errorf("optimizer state: %w", err)}
	}
	if sched != nil {
		for range p.cp.Step {
			sched.OnStep()
		}
	}
	return nil
}

// checkpointSink returns the driver's checkpoint callback. It snapshots
// the model and optimizer of spec and records the new coordinates.
func checkpointSink(spec *RunSpec) func(context.Context, component.CheckpointInfo) error {
	store := checkpoint.NewStore(spec.OutputDir)
	return func(ctx context.Context, info component.CheckpointInfo) error {
		if spec.Model == nil || spec.Optimizer == nil {
			return errors.New("checkpoint requested before the model and optimizer exist")
		}
		path, err := store.Save(ctx, &checkpoint.Checkpoint{
			Arch:      spec.ModelName,
			Epoch:     info.Epoch,
			Chunk:     info.Chunk,
			Step:      info.Step,
			MinLoss:   info.MinLoss,
			StateDict: component.StateDictOf(spec.Model),
			Optimizer: spec.Optimizer.State(),
		}, info.Best)
		if err != nil {
			return err
		}
		st := spec.Checkpoint
		st.File = path
		st.Epoch, st.Chunk, st.Step = info.Epoch, info.Chunk, info.Step
		st.MinLoss = info.MinLoss
		return nil
	}
}
