package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vk/trainspec/internal/builder"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/executor"
	"github.com/vk/trainspec/internal/manifest"
	"github.com/vk/trainspec/internal/telemetry"
)

// checkOps rejects unknown op names before anything is resolved. A missing
// or malformed ops key is left to the builder, which reports it with the
// other required keys.
func checkOps(doc *config.Document) error {
	ops, err := doc.Ops()
	if err != nil {
		return nil
	}
	return executor.Validate(ops)
}

// Validate loads the documents and runs every check that has no side
// effects. Nothing is constructed and no directory is created.
func (a *App) Validate(ctx context.Context) error {
	ctx = a.withLogger(ctx)
	doc, err := a.LoadDocument(ctx)
	if err != nil {
		return err
	}
	if err := checkOps(doc); err != nil {
		return err
	}
	b := builder.New(a.registry, builder.Options{OutputDir: a.config.OutputDir})
	if err := b.Validate(ctx, doc); err != nil {
		return err
	}
	a.logger.Info("Configuration is valid.", "sources", doc.Sources())
	return nil
}

// Run executes the main application logic: load, build, record the
// manifest and execute the ops.
func (a *App) Run(ctx context.Context) error {
	runID := uuid.NewString()
	ctx = ctxlog.With(a.withLogger(ctx), "run_id", runID)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("App.Run method started.")
	started := time.Now()

	tracing, err := telemetry.InitTracing(ctx, telemetry.TracingOptions{
		OTLPEndpoint: a.config.OTLPEndpoint,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if serr := tracing.Shutdown(context.Background()); serr != nil {
			logger.Warn("Tracer shutdown failed.", "error", serr)
		}
	}()

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(a.config.HealthcheckPort)
		defer a.closeHealthcheckServer()
	}

	doc, err := a.LoadDocument(ctx)
	if err != nil {
		return err
	}
	if err := checkOps(doc); err != nil {
		return err
	}

	hub := telemetry.Hub{a.metrics}
	if a.config.MonitorURL != "" {
		monitor, err := telemetry.DialMonitor(ctx, telemetry.MonitorOptions{
			URL:                a.config.MonitorURL,
			Namespace:          a.config.MonitorNamespace,
			InsecureSkipVerify: a.config.MonitorInsecure,
			Run:                runID,
		})
		if err != nil {
			return fmt.Errorf("connect monitor: %w", err)
		}
		defer monitor.Close()
		hub = append(hub, monitor)
	}

	b := builder.New(a.registry, builder.Options{OutputDir: a.config.OutputDir, Reporter: hub})
	spec, err := b.Build(ctx, doc)
	if err != nil {
		return err
	}

	path, err := manifest.Write(spec.OutputDir, manifest.FromRunSpec(spec, started))
	if err != nil {
		return err
	}
	logger.Debug("Run manifest written.", "path", path)

	logger.Info("🚀 Starting run.", "ops", spec.Ops)
	if err := executor.New(spec, executor.Options{Observer: hub}).Run(ctx); err != nil {
		var opErr *executor.OpError
		if errors.As(err, &opErr) {
			return fmt.Errorf("execution failed: %w", err)
		}
		return err
	}
	logger.Info("🏁 Run finished.", "output_dir", spec.OutputDir, "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}
