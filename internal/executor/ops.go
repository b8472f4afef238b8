package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/ctxlog"
)

// roundLoss rounds a validation loss up to three decimals before it is
// compared or handed to the scheduler, so noise below that never counts as
// an improvement.
func roundLoss(loss float64) float64 {
	return math.Ceil(loss*1000) / 1000
}

// resumePoint returns the first (epoch, chunk) that has not been trained.
// A checkpoint at (e, c) means chunk c of epoch e is complete.
func (e *Executor) resumePoint() (int, int) {
	st := e.spec.Checkpoint
	if st == nil || st.File == "" {
		return 0, 0
	}
	epoch, chunk := st.Epoch, st.Chunk+1
	if chunk >= e.spec.Loaders[component.SplitTrain].NumChunks(epoch) {
		epoch, chunk = epoch+1, 0
	}
	return epoch, chunk
}

func (e *Executor) train(ctx context.Context, masked bool) error {
	logger := ctxlog.FromContext(ctx)
	d := e.spec.Driver
	st := e.spec.Checkpoint
	if e.spec.Loaders[component.SplitTrain] == nil {
		return errors.New("no train split")
	}
	_, validate := e.spec.Loaders[component.SplitValidation]
	if !validate {
		logger.Warn("No validation split; best_model checkpoints will not be written.")
	}

	startEpoch, startChunk := e.resumePoint()
	if startEpoch > 0 || startChunk > 0 {
		logger.Info("Resuming training.", "epoch", startEpoch, "chunk", startChunk, "step", st.Step)
	}
	if startEpoch >= d.Epochs() {
		logger.Info("Training already complete.", "epochs", d.Epochs())
		return nil
	}

	step := st.Step
	for epoch := startEpoch; epoch < d.Epochs(); epoch++ {
		res, err := d.FitEpoch(ctx, component.EpochPlan{
			Epoch:      epoch,
			StartChunk: startChunk,
			StartStep:  step,
			Masked:     masked,
			OnChunk: func(chunk, total int) error {
				return d.Checkpoint(ctx, component.CheckpointInfo{Epoch: epoch, Chunk: chunk, Step: total, MinLoss: st.MinLoss})
			},
		})
		if err != nil {
			return err
		}
		step = res.TotalStep
		st.Step = step
		startChunk = 0
		logger.Info("Epoch finished.", "epoch", epoch, "steps", res.Steps, "mean_loss", res.MeanLoss)

		if !validate {
			continue
		}
		scores, err := d.Evaluate(ctx, component.SplitValidation, step)
		if err != nil {
			return fmt.Errorf("epoch %d: validation: %w", epoch, err)
		}
		loss := roundLoss(scores.Loss)
		if e.spec.Scheduler != nil {
			e.spec.Scheduler.OnValidation(loss)
		}
		logScores(ctx, "Validation finished.", scores, "epoch", epoch)
		if loss < st.MinLoss {
			logger.Info("Validation loss improved.", "epoch", epoch, "previous", st.MinLoss, "loss", loss)
			last := e.spec.Loaders[component.SplitTrain].NumChunks(epoch) - 1
			if err := d.Checkpoint(ctx, component.CheckpointInfo{Epoch: epoch, Chunk: last, Step: step, MinLoss: loss, Best: true}); err != nil {
				return fmt.Errorf("epoch %d: best checkpoint: %w", epoch, err)
			}
			st.MinLoss = loss
		}
	}
	return nil
}

func (e *Executor) validate(ctx context.Context) error {
	if e.spec.Loaders[component.SplitValidation] == nil {
		return errors.New("no validation split; set dataset.validation_holdout")
	}
	scores, err := e.spec.Driver.Evaluate(ctx, component.SplitValidation, e.spec.Checkpoint.Step)
	if err != nil {
		return err
	}
	logScores(ctx, "Validation finished.", scores)
	return nil
}

func (e *Executor) evaluate(ctx context.Context) error {
	if e.spec.Loaders[component.SplitTest] == nil {
		return errors.New("no test split; set dataset.test_holdout")
	}
	scores, err := e.spec.Driver.Evaluate(ctx, component.SplitTest, e.spec.Checkpoint.Step)
	if err != nil {
		return err
	}
	logScores(ctx, "Test evaluation finished.", scores)
	return nil
}

func logScores(ctx context.Context, msg string, s *component.Scores, args ...any) {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	args = append(args, "loss", s.Loss, "samples", s.Samples)
	for _, name := range names {
		args = append(args, name, s.Metrics[name])
	}
	ctxlog.FromContext(ctx).Info(msg, args...)
}
