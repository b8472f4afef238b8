package component

import (
	"context"
	"math/rand/v2"
)

// Criterion computes a loss and its gradient with respect to the
// prediction. A nil mask weights every element by 1.
type Criterion interface {
	Loss(pred, target, mask []float64) (loss float64, grad []float64)
}

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step()
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
	State() map[string][]float64
	LoadState(state map[string][]float64) error
}

// Scheduler adjusts an optimizer's learning rate. OnStep is called after
// every optimizer step; OnValidation after every validation pass.
type Scheduler interface {
	OnStep()
	OnValidation(loss float64)
}

// Transform rewrites a sample. Implementations must not mutate their
// input and must draw randomness only from rng.
type Transform interface {
	Apply(s *Sample, rng *rand.Rand) *Sample
}

// Dataset is an indexable collection of samples.
type Dataset interface {
	Len() int
	Get(idx int, rng *rand.Rand) (*Sample, error)
	CellTypes() []string
	TargetFeatures() []string
}

// Sampler splits one epoch's sample order into chunks.
type Sampler interface {
	Chunks(epoch, n int) [][]int
}

// Loader batches dataset samples chunk by chunk.
type Loader interface {
	Dataset() Dataset
	NumChunks(epoch int) int
	ForEachBatch(ctx context.Context, epoch, chunk int, fn func(batch []*Sample) error) error
}

// MetricFunc scores predictions against targets for a single feature.
// It returns NaN when the score is undefined (e.g. a constant target).
type MetricFunc func(pred, target []float64) float64

// ValueTransform maps a raw prediction before metric computation.
type ValueTransform func(float64) float64

// Split names a dataset partition.
type Split string

const (
	SplitTrain      Split = "train"
	SplitValidation Split = "validation"
	SplitTest       Split = "test"
)

// Scores are the outcome of an evaluation pass.
type Scores struct {
	Loss    float64
	Metrics map[string]float64
	// PerFeature holds metric -> feature -> score.
	PerFeature map[string]map[string]float64
	Samples    int
}

// Reporter receives progress from the driver.
type Reporter interface {
	TrainStep(step int, loss, lr float64)
	Evaluated(split Split, step int, scores *Scores)
	CheckpointSaved(info CheckpointInfo)
}

// CheckpointInfo addresses a checkpoint and records why it was taken.
type CheckpointInfo struct {
	Epoch   int
	Chunk   int
	Step    int
	MinLoss float64
	Best    bool
}

// EpochPlan tells the driver which part of an epoch to fit. OnChunk is
// invoked after each completed chunk with the global step count.
type EpochPlan struct {
	Epoch      int
	StartChunk int
	StartStep  int
	Masked     bool
	OnChunk    func(chunk, step int) error
}

// EpochResult summarises a fitted epoch.
type EpochResult struct {
	Steps     int
	TotalStep int
	MeanLoss  float64
}

// Collaborators is everything a driver is bound to by the builder.
type Collaborators struct {
	Model      Model
	Criterion  Criterion
	Optimizer  Optimizer
	Scheduler  Scheduler
	Loaders    map[Split]Loader
	OutputDir  string
	Reporter   Reporter
	Checkpoint func(ctx context.Context, info CheckpointInfo) error
}

// Driver is the training-driver capability set the run ops are written
// against: fit one epoch, evaluate a split, and checkpoint.
type Driver interface {
	Bind(c *Collaborators) error
	Epochs() int
	FitEpoch(ctx context.Context, plan EpochPlan) (*EpochResult, error)
	Evaluate(ctx context.Context, split Split, step int) (*Scores, error)
	Checkpoint(ctx context.Context, info CheckpointInfo) error
}
