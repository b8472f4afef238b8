package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"text/tabwriter"

	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/registry"
	"github.com/vk/trainspec/internal/telemetry"
	"github.com/vk/trainspec/modules"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	registry   *registry.Registry
	metrics    *telemetry.Metrics
	httpServer *http.Server
}

// New is the constructor for the main application. It returns an App with
// its own isolated logger, registry and metrics. With no modules given, every
// built-in module is registered.
func New(outW io.Writer, cfg *Config, mods ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	if len(mods) == 0 {
		mods = modules.All()
	}
	reg := registry.New(mods...)
	logger.Debug("All Go modules registered.", "count", len(mods))

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: reg,
		metrics:  telemetry.NewMetrics(),
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Metrics returns the application's Prometheus collectors.
func (a *App) Metrics() *telemetry.Metrics {
	return a.metrics
}

func (a *App) withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// Components writes every registered name to w, one per line.
func (a *App) Components(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tDESCRIPTION")
	for _, e := range a.registry.Describe() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Kind, e.Description)
	}
	return tw.Flush()
}
