package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracingOptions select where spans go.
type TracingOptions struct {
	ServiceName string
	// OTLPEndpoint sends spans to an OTLP gRPC collector. When empty,
	// finished spans are written to Logger at debug level.
	OTLPEndpoint string
	Logger       *slog.Logger
}

// Tracing owns the global tracer provider installed by InitTracing.
type Tracing struct {
	tp *sdktrace.TracerProvider
}

// InitTracing installs an SDK tracer provider as the global provider.
func InitTracing(ctx context.Context, opts TracingOptions) (*Tracing, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "trainspec"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(buildVersion()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	var tp *sdktrace.TracerProvider
	if opts.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(opts.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
		opts.Logger.Info("Tracing to OTLP collector.", "endpoint", opts.OTLPEndpoint)
	} else {
		tp = sdktrace.NewTracerProvider(sdktrace.WithSyncer(&logExporter{logger: opts.Logger}), sdktrace.WithResource(res))
	}
	otel.SetTracerProvider(tp)
	return &Tracing{tp: tp}, nil
}

// Shutdown flushes pending spans. Safe on a nil receiver.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.tp == nil {
		return nil
	}
	if err := t.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// logExporter writes finished spans to a logger.
type logExporter struct {
	logger *slog.Logger
}

func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		args := []any{
			"span", s.Name(),
			"duration", s.EndTime().Sub(s.StartTime()),
			"status", s.Status().Code.String(),
		}
		for _, kv := range s.Attributes() {
			args = append(args, string(kv.Key), kv.Value.Emit())
		}
		e.logger.DebugContext(ctx, "Span finished.", args...)
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }

// buildVersion is the module version from the build info, or "dev".
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
