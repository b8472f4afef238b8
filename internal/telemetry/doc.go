// Package telemetry reports training progress outside the process:
// Prometheus metrics, OpenTelemetry traces and socket.io progress events.
//
// Every destination is a Sink. The Hub fans driver and executor events out
// to all configured sinks.
package telemetry
