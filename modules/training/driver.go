package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/registry"
	"github.com/vk/trainspec/modules/metrics"
)

const (
	trainStatsFile      = "train.txt"
	validationStatsFile = "validation.txt"
	embeddingsFile      = "cell_type_embeddings.tsv"
)

// unsupportedOptions name driver keys this driver has no behaviour for.
// Validation runs once per epoch and checkpoints follow chunks.
var unsupportedOptions = map[string]string{
	"save_checkpoint_every_n_steps":      "checkpoints are written after every chunk",
	"save_new_checkpoints_after_n_steps": "checkpoints are written after every chunk",
	"score_threshold":                    "no thresholded scores are reported",
}

// Input are the arguments of training.TrainModel. Keys no field claims
// (device, data_parallel, cpu_n_threads, ...) are accepted and logged.
type Input struct {
	NEpochs                   int                                 `conf:"n_epochs,required"`
	ReportStatsEveryNSteps    config.Optional[int]                `conf:"report_stats_every_n_steps"`
	LogEmbeddingsEveryNSteps  config.Optional[int]                `conf:"log_embeddings_every_n_steps"`
	ReportGTFeatureNPositives config.Optional[int]                `conf:"report_gt_feature_n_positives"`
	Metrics                   map[string]component.MetricFunc     `conf:"metrics"`
	MetricsTransforms         map[string]component.ValueTransform `conf:"metrics_transforms"`
	LogConfusionMatrix        config.Optional[bool]               `conf:"log_confusion_matrix"`
	Passthrough               map[string]any                      `conf:",remain"`
}

// TrainModel is the component.Driver of the training namespace.
type TrainModel struct {
	nEpochs      int
	reportEvery  int
	embedEvery   int
	minPositives int
	metrics      map[string]component.MetricFunc
	transforms   map[string]component.ValueTransform
	passthrough  map[string]any

	c            *component.Collaborators
	reporter     component.Reporter
	recentLosses []float64
}

// NewTrainModel is the constructor registered as training.TrainModel.
func NewTrainModel(ctx context.Context, _ *registry.NoDeps, in *Input) (any, error) {
	if in.NEpochs <= 0 {
		return nil, fmt.Errorf("n_epochs must be positive, got %d", in.NEpochs)
	}
	d := &TrainModel{
		nEpochs:      in.NEpochs,
		reportEvery:  in.ReportStatsEveryNSteps.OrElse(0),
		embedEvery:   in.LogEmbeddingsEveryNSteps.OrElse(0),
		minPositives: in.ReportGTFeatureNPositives.OrElse(0),
		metrics:      in.Metrics,
		transforms:   in.MetricsTransforms,
		passthrough:  in.Passthrough,
	}
	if d.reportEvery < 0 || d.embedEvery < 0 {
		return nil, errors.New("reporting intervals must not be negative")
	}
	if in.LogConfusionMatrix.OrElse(false) {
		return nil, errors.New("log_confusion_matrix is not supported")
	}
	for _, key := range sortedKeys(in.Passthrough) {
		if why, ok := unsupportedOptions[key]; ok {
			return nil, fmt.Errorf("%s is not supported: %s", key, why)
		}
	}
	if len(d.metrics) == 0 {
		d.metrics = map[string]component.MetricFunc{
			"roc_auc":           metrics.ROCAUC,
			"average_precision": metrics.AveragePrecision,
		}
	}
	for name := range d.transforms {
		if _, ok := d.metrics[name]; !ok {
			return nil, fmt.Errorf("metrics_transforms names unknown metric %q", name)
		}
	}
	if len(d.passthrough) > 0 {
		ctxlog.FromContext(ctx).Debug("Driver options passed through.", "options", d.passthrough)
	}
	return d, nil
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// metricNames returns the configured metric names, sorted.
func (d *TrainModel) metricNames() []string {
	out := make([]string, 0, len(d.metrics))
	for name := range d.metrics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Bind implements component.Driver. It creates the statistics files in
// the output directory, writing headers only to new files so a resumed
// run appends to its history.
func (d *TrainModel) Bind(c *component.Collaborators) error {
	switch {
	case c.Model == nil:
		return errors.New("driver needs a model")
	case c.Criterion == nil:
		return errors.New("driver needs a criterion")
	case c.Optimizer == nil:
		return errors.New("driver needs an optimizer")
	case c.Loaders[component.SplitTrain] == nil:
		return errors.New("driver needs a train loader")
	case c.OutputDir == "":
		return errors.New("driver needs an output directory")
	}
	d.c = c
	d.reporter = c.Reporter
	if d.reporter == nil {
		d.reporter = nopReporter{}
	}

	if err := ensureHeader(filepath.Join(c.OutputDir, trainStatsFile), "loss"); err != nil {
		return err
	}
	header := append([]string{"loss"}, d.metricNames()...)
	return ensureHeader(filepath.Join(c.OutputDir, validationStatsFile), header...)
}

// Epochs implements component.Driver.
func (d *TrainModel) Epochs() int { return d.nEpochs }

// FitEpoch implements component.Driver.
func (d *TrainModel) FitEpoch(ctx context.Context, plan component.EpochPlan) (*component.EpochResult, error) {
	if d.c == nil {
		return nil, errors.New("driver is not bound")
	}
	logger := ctxlog.FromContext(ctx).With("epoch", plan.Epoch)
	loader := d.c.Loaders[component.SplitTrain]
	nChunks := loader.NumChunks(plan.Epoch)

	res := &component.EpochResult{TotalStep: plan.StartStep}
	var lossSum float64
	for chunk := plan.StartChunk; chunk < nChunks; chunk++ {
		err := loader.ForEachBatch(ctx, plan.Epoch, chunk, func(batch []*component.Sample) error {
			loss := d.trainBatch(batch, plan.Masked)
			res.Steps++
			res.TotalStep++
			lossSum += loss
			if d.c.Scheduler != nil {
				d.c.Scheduler.OnStep()
			}
			d.recentLosses = append(d.recentLosses, loss)
			if d.reportEvery > 0 && res.TotalStep%d.reportEvery == 0 {
				if err := d.reportTrain(logger, res.TotalStep); err != nil {
					return err
				}
			}
			if plan.Masked && d.embedEvery > 0 && res.TotalStep%d.embedEvery == 0 {
				if err := d.writeEmbeddings(); err != nil {
					return err
				}
			}
			return ctx.Err()
		})
		if err != nil {
			return nil, fmt.Errorf("epoch %d, chunk %d: %w", plan.Epoch, chunk, err)
		}
		logger.Debug("Chunk done.", "chunk", chunk, "of", nChunks, "step", res.TotalStep)
		if plan.OnChunk != nil {
			if err := plan.OnChunk(chunk, res.TotalStep); err != nil {
				return nil, err
			}
		}
	}

	res.MeanLoss = math.NaN()
	if res.Steps > 0 {
		res.MeanLoss = lossSum / float64(res.Steps)
	}
	logger.Info("Epoch fitted.", "steps", res.Steps, "step", res.TotalStep, "mean_loss", res.MeanLoss)
	return res, nil
}

// trainBatch runs one optimizer step and returns the mean sample loss.
// Without masking every target contributes to the loss.
func (d *TrainModel) trainBatch(batch []*component.Sample, masked bool) float64 {
	d.c.Optimizer.ZeroGrad()
	scale := 1 / float64(len(batch))
	var sum float64
	for _, s := range batch {
		pred := d.c.Model.Forward(s)
		var mask []float64
		if masked {
			mask = s.Mask
		}
		loss, grad := d.c.Criterion.Loss(pred, s.Target, mask)
		for i := range grad {
			grad[i] *= scale
		}
		d.c.Model.Backward(s, grad)
		sum += loss
	}
	d.c.Optimizer.Step()
	return sum * scale
}

func (d *TrainModel) reportTrain(logger *slog.Logger, step int) error {
	var sum float64
	for _, l := range d.recentLosses {
		sum += l
	}
	loss := sum / float64(len(d.recentLosses))
	d.recentLosses = d.recentLosses[:0]
	logger.Info("Training loss.", "step", step, "loss", loss, "lr", d.c.Optimizer.LR())
	d.reporter.TrainStep(step, loss, d.c.Optimizer.LR())
	return appendRow(filepath.Join(d.c.OutputDir, trainStatsFile), formatFloat(loss))
}

func (d *TrainModel) writeEmbeddings() error {
	embedder, ok := d.c.Model.(component.CellTypeEmbedder)
	if !ok {
		return nil
	}
	names := d.c.Loaders[component.SplitTrain].Dataset().CellTypes()
	return writeEmbeddings(filepath.Join(d.c.OutputDir, embeddingsFile), names, embedder.CellTypeEmbeddings())
}

// Checkpoint implements component.Driver.
func (d *TrainModel) Checkpoint(ctx context.Context, info component.CheckpointInfo) error {
	if d.c == nil || d.c.Checkpoint == nil {
		return errors.New("driver has no checkpoint sink")
	}
	if err := d.c.Checkpoint(ctx, info); err != nil {
		return err
	}
	if info.Best {
		if err := d.writeEmbeddings(); err != nil {
			return err
		}
	}
	d.reporter.CheckpointSaved(info)
	return nil
}

type nopReporter struct{}

func (nopReporter) TrainStep(int, float64, float64)                   {}
func (nopReporter) Evaluated(component.Split, int, *component.Scores) {}
func (nopReporter) CheckpointSaved(component.CheckpointInfo)          {}

func ensureHeader(path string, columns ...string) error {
	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return appendRow(path, columns...)
}
