package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vk/trainspec/internal/builder"
	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
)

type chunks int

func (c chunks) Dataset() component.Dataset { return nil }
func (c chunks) NumChunks(int) int          { return int(c) }
func (c chunks) ForEachBatch(context.Context, int, int, func([]*component.Sample) error) error {
	return nil
}

// fakeDriver records calls. Each fitted chunk is one step; validation
// losses are served from valLoss in order.
type fakeDriver struct {
	epochs  int
	chunks  int
	valLoss []float64

	calls       []string
	checkpoints []component.CheckpointInfo
	fitErr      error
	evalErr     map[component.Split]error
}

func (d *fakeDriver) Bind(*component.Collaborators) error { return nil }
func (d *fakeDriver) Epochs() int                         { return d.epochs }

func (d *fakeDriver) FitEpoch(_ context.Context, plan component.EpochPlan) (*component.EpochResult, error) {
	d.calls = append(d.calls, fmt.Sprintf("fit e%d c%d s%d masked=%v", plan.Epoch, plan.StartChunk, plan.StartStep, plan.Masked))
	if d.fitErr != nil {
		return nil, d.fitErr
	}
	step := plan.StartStep
	for c := plan.StartChunk; c < d.chunks; c++ {
		step++
		if err := plan.OnChunk(c, step); err != nil {
			return nil, err
		}
	}
	return &component.EpochResult{Steps: step - plan.StartStep, TotalStep: step, MeanLoss: 1}, nil
}

func (d *fakeDriver) Evaluate(_ context.Context, split component.Split, step int) (*component.Scores, error) {
	d.calls = append(d.calls, fmt.Sprintf("eval %s s%d", split, step))
	if err := d.evalErr[split]; err != nil {
		return nil, err
	}
	loss := 0.0
	if split == component.SplitValidation && len(d.valLoss) > 0 {
		loss, d.valLoss = d.valLoss[0], d.valLoss[1:]
	}
	return &component.Scores{Loss: loss, Metrics: map[string]float64{"roc_auc": 0.5}}, nil
}

func (d *fakeDriver) Checkpoint(_ context.Context, info component.CheckpointInfo) error {
	d.checkpoints = append(d.checkpoints, info)
	return nil
}

type plateau struct{ losses []float64 }

func (p *plateau) OnStep()                   {}
func (p *plateau) OnValidation(loss float64) { p.losses = append(p.losses, loss) }

type opLog struct{ events []string }

func (o *opLog) OpStarted(op string) { o.events = append(o.events, "start "+op) }
func (o *opLog) OpFinished(op string, _ time.Duration, err error) {
	o.events = append(o.events, fmt.Sprintf("finish %s err=%v", op, err != nil))
}

func newSpec(d *fakeDriver, ops ...string) *builder.RunSpec {
	return &builder.RunSpec{
		Driver: d,
		Ops:    ops,
		Loaders: map[component.Split]component.Loader{
			component.SplitTrain:      chunks(d.chunks),
			component.SplitValidation: chunks(1),
			component.SplitTest:       chunks(1),
		},
		Checkpoint: &builder.CheckpointState{MinLoss: math.Inf(1)},
	}
}

func TestValidate_UnknownOperation(t *testing.T) {
	err := Validate([]string{"train", "bogus"})
	var uerr *UnknownOperationError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "bogus", uerr.Op)
	assert.Equal(t, config.Path{"ops", "[1]"}, uerr.Path)
	assert.Contains(t, err.Error(), "train_masked")

	assert.NoError(t, Validate(Operations()))
	assert.NoError(t, Validate(nil))
}

func TestRun_UnknownOperationRunsNothing(t *testing.T) {
	d := &fakeDriver{epochs: 1, chunks: 1}
	obs := &opLog{}
	err := New(newSpec(d, "train", "bogus"), Options{Observer: obs}).Run(context.Background())
	var uerr *UnknownOperationError
	require.ErrorAs(t, err, &uerr)
	assert.Empty(t, d.calls)
	assert.Empty(t, obs.events)
}

func TestRun_TrainOnly(t *testing.T) {
	d := &fakeDriver{epochs: 2, chunks: 3, valLoss: []float64{0.5, 0.6}}
	spec := newSpec(d, "train")
	require.NoError(t, New(spec, Options{}).Run(context.Background()))

	assert.Equal(t, []string{
		"fit e0 c0 s0 masked=false",
		"eval validation s3",
		"fit e1 c0 s3 masked=false",
		"eval validation s6",
	}, d.calls)
	// Three chunk checkpoints per epoch plus one best after epoch 0.
	require.Len(t, d.checkpoints, 7)
	best := d.checkpoints[3]
	assert.True(t, best.Best)
	assert.Equal(t, component.CheckpointInfo{Epoch: 0, Chunk: 2, Step: 3, MinLoss: 0.5, Best: true}, best)
	for _, cp := range d.checkpoints[4:] {
		assert.False(t, cp.Best)
		assert.Equal(t, 0.5, cp.MinLoss)
	}
	assert.Equal(t, 0.5, spec.Checkpoint.MinLoss)
	assert.Equal(t, 6, spec.Checkpoint.Step)
}

func TestRun_TrainMaskedPassesMask(t *testing.T) {
	d := &fakeDriver{epochs: 1, chunks: 1}
	require.NoError(t, New(newSpec(d, "train_masked"), Options{}).Run(context.Background()))
	assert.Equal(t, "fit e0 c0 s0 masked=true", d.calls[0])
}

func TestRun_SchedulerSeesRoundedLoss(t *testing.T) {
	d := &fakeDriver{epochs: 3, chunks: 1, valLoss: []float64{0.12345, 0.1231, 0.2}}
	spec := newSpec(d, "train")
	sched := &plateau{}
	spec.Scheduler = sched
	require.NoError(t, New(spec, Options{}).Run(context.Background()))

	assert.Equal(t, []float64{0.124, 0.124, 0.2}, sched.losses)
	var best []int
	for _, cp := range d.checkpoints {
		if cp.Best {
			best = append(best, cp.Epoch)
		}
	}
	assert.Equal(t, []int{0}, best, "0.1231 rounds to 0.124, which is no improvement")
}

func TestRun_ResumesAfterCheckpointedChunk(t *testing.T) {
	testCases := []struct {
		name         string
		epoch, chunk int
		wantFirst    string
	}{
		{name: "mid epoch", epoch: 0, chunk: 1, wantFirst: "fit e0 c2 s7 masked=false"},
		{name: "end of epoch", epoch: 0, chunk: 2, wantFirst: "fit e1 c0 s7 masked=false"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := &fakeDriver{epochs: 2, chunks: 3}
			spec := newSpec(d, "train")
			spec.Checkpoint = &builder.CheckpointState{
				File: "checkpoint.msgpack", Epoch: tc.epoch, Chunk: tc.chunk, Step: 7, MinLoss: 0.3, Resumed: true,
			}
			require.NoError(t, New(spec, Options{}).Run(context.Background()))
			assert.Equal(t, tc.wantFirst, d.calls[0])
		})
	}
}

func TestRun_CompletedTrainingIsNoop(t *testing.T) {
	d := &fakeDriver{epochs: 1, chunks: 2}
	spec := newSpec(d, "train")
	spec.Checkpoint = &builder.CheckpointState{File: "x", Epoch: 0, Chunk: 1, MinLoss: 0.1}
	require.NoError(t, New(spec, Options{}).Run(context.Background()))
	assert.Empty(t, d.calls)
}

func TestRun_FailureStopsLaterOps(t *testing.T) {
	boom := errors.New("boom")
	d := &fakeDriver{epochs: 1, chunks: 1, evalErr: map[component.Split]error{component.SplitValidation: boom}}
	obs := &opLog{}
	err := New(newSpec(d, "validate", "evaluate"), Options{Observer: obs}).Run(context.Background())

	var oerr *OpError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, 0, oerr.Index)
	assert.Equal(t, "validate", oerr.Op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"eval validation s0"}, d.calls)
	assert.Equal(t, []string{"start validate", "finish validate err=true"}, obs.events)
}

func TestRun_MissingSplits(t *testing.T) {
	d := &fakeDriver{epochs: 1, chunks: 1}
	spec := newSpec(d, "train", "evaluate")
	delete(spec.Loaders, component.SplitTest)
	delete(spec.Loaders, component.SplitValidation)

	err := New(spec, Options{}).Run(context.Background())
	var oerr *OpError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, 1, oerr.Index)
	assert.Contains(t, err.Error(), "test_holdout")
	assert.Equal(t, []string{"fit e0 c0 s0 masked=false"}, d.calls, "training runs without validation")
	for _, cp := range d.checkpoints {
		assert.False(t, cp.Best)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	d := &fakeDriver{epochs: 1, chunks: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(newSpec(d, "evaluate"), Options{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.calls)
}

func TestRun_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	d := &fakeDriver{epochs: 1, chunks: 1, evalErr: map[component.Split]error{component.SplitTest: errors.New("boom")}}
	err := New(newSpec(d, "validate", "evaluate"), Options{TracerProvider: tp}).Run(context.Background())
	require.Error(t, err)

	var names []string
	failed := map[string]bool{}
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
		failed[s.Name()] = s.Status().Code.String() == "Error"
	}
	assert.ElementsMatch(t, []string{"executor.validate", "executor.evaluate", "executor.run"}, names)
	assert.False(t, failed["executor.validate"])
	assert.True(t, failed["executor.evaluate"])
	assert.True(t, failed["executor.run"])
}
