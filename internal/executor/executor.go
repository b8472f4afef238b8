package executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk/trainspec/internal/builder"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/ctxlog"
)

// Operation names accepted in ops.
const (
	OpTrain       = "train"
	OpTrainMasked = "train_masked"
	OpValidate    = "validate"
	OpEvaluate    = "evaluate"
)

// Operations returns the known op names in documentation order.
func Operations() []string {
	return []string{OpTrain, OpTrainMasked, OpValidate, OpEvaluate}
}

// Observer is told when ops start and finish.
type Observer interface {
	OpStarted(op string)
	OpFinished(op string, elapsed time.Duration, err error)
}

// Options tune an Executor.
type Options struct {
	Observer Observer
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Executor runs the ops of one RunSpec.
type Executor struct {
	spec   *builder.RunSpec
	obs    Observer
	tracer trace.Tracer
}

// New creates an executor for spec.
func New(spec *builder.RunSpec, opts Options) *Executor {
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Executor{spec: spec, obs: obs, tracer: tp.Tracer("github.com/vk/trainspec/internal/executor")}
}

// Validate checks every op name. It runs before anything is built.
func Validate(ops []string) error {
	for i, op := range ops {
		if _, ok := opFuncs[op]; !ok {
			return &UnknownOperationError{Path: config.Path{"ops"}.Index(i), Op: op}
		}
	}
	return nil
}

type opFunc func(e *Executor, ctx context.Context) error

var opFuncs = map[string]opFunc{
	OpTrain:       func(e *Executor, ctx context.Context) error { return e.train(ctx, false) },
	OpTrainMasked: func(e *Executor, ctx context.Context) error { return e.train(ctx, true) },
	OpValidate:    (*Executor).validate,
	OpEvaluate:    (*Executor).evaluate,
}

// Run executes the ops in order and stops at the first failure. Nothing
// runs when any op name is unknown.
func (e *Executor) Run(ctx context.Context) error {
	if err := Validate(e.spec.Ops); err != nil {
		return err
	}
	ctx, span := e.tracer.Start(ctx, "executor.run", trace.WithAttributes(attribute.StringSlice("ops", e.spec.Ops)))
	defer span.End()
	logger := ctxlog.FromContext(ctx)

	for i, op := range e.spec.Ops {
		if err := ctx.Err(); err != nil {
			return &OpError{Index: i, Op: op, Err: err}
		}
		if err := e.runOp(ctx, i, op); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	logger.Info("All ops finished.", "ops", len(e.spec.Ops), "output_dir", e.spec.OutputDir)
	return nil
}

func (e *Executor) runOp(ctx context.Context, i int, op string) error {
	ctx, span := e.tracer.Start(ctx, "executor."+op, trace.WithAttributes(attribute.Int("index", i)))
	defer span.End()
	ctx = ctxlog.With(ctx, "op", op)
	logger := ctxlog.FromContext(ctx)

	logger.Info("▶️ Starting op.", "index", i)
	e.obs.OpStarted(op)
	start := time.Now()
	err := opFuncs[op](e, ctx)
	elapsed := time.Since(start)
	e.obs.OpFinished(op, elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Op failed.", "index", i, "error", err)
		return &OpError{Index: i, Op: op, Err: err}
	}
	logger.Info("✅ Finished op.", "index", i, "elapsed", elapsed.Round(time.Millisecond))
	return nil
}

type nopObserver struct{}

func (nopObserver) OpStarted(string)                        {}
func (nopObserver) OpFinished(string, time.Duration, error) {}
