package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/ctxlog"
)

// Monitor event names.
const (
	EventTrainStep  = "train_step"
	EventEvaluated  = "evaluated"
	EventCheckpoint = "checkpoint"
	EventOp         = "op"
)

const defaultDialTimeout = 15 * time.Second

// MonitorOptions configure the socket.io progress sink.
type MonitorOptions struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	// Run identifies this run in every event, usually its output directory.
	Run         string
	DialTimeout time.Duration
}

// emitter is the part of a socket.io client the monitor uses.
type emitter interface {
	Emit(string, ...any) error
}

// Monitor emits progress events to a socket.io server.
type Monitor struct {
	client emitter
	close  func()
	run    string
	logger *slog.Logger
}

// DialMonitor connects to a socket.io server and waits for the connection
// to be accepted.
func DialMonitor(ctx context.Context, opts MonitorOptions) (*Monitor, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", opts.URL)
	parsed, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse monitor URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("monitor URL %q needs a scheme and host", opts.URL)
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	sopts := socket.DefaultOptions()
	sopts.SetPath(parsed.Path)
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		sopts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sopts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), sopts)
	io := manager.Socket(opts.Namespace, sopts)

	connected := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, _ := errs[0].(error)
		if err == nil {
			err = fmt.Errorf("%v", errs[0])
		}
		connected <- err
	})
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
	logger.Info("Monitor connected.", "sid", io.Id())
	return &Monitor{client: io, close: func() { io.Disconnect() }, run: opts.Run, logger: logger}, nil
}

// Close disconnects from the server.
func (m *Monitor) Close() {
	if m.close != nil {
		m.close()
	}
}

func (m *Monitor) emit(event string, payload map[string]any) {
	payload["run"] = m.run
	if err := m.client.Emit(event, payload); err != nil {
		m.logger.Warn("Failed to emit monitor event.", "event", event, "error", err)
	}
}

func (m *Monitor) TrainStep(step int, loss, lr float64) {
	m.emit(EventTrainStep, map[string]any{"step": step, "loss": finite(loss), "lr": lr})
}

func (m *Monitor) Evaluated(split component.Split, step int, scores *component.Scores) {
	metrics := make(map[string]any, len(scores.Metrics))
	for k, v := range scores.Metrics {
		metrics[k] = finite(v)
	}
	m.emit(EventEvaluated, map[string]any{
		"split":   string(split),
		"step":    step,
		"loss":    finite(scores.Loss),
		"samples": scores.Samples,
		"metrics": metrics,
	})
}

func (m *Monitor) CheckpointSaved(info component.CheckpointInfo) {
	m.emit(EventCheckpoint, map[string]any{
		"epoch":    info.Epoch,
		"chunk":    info.Chunk,
		"step":     info.Step,
		"min_loss": finite(info.MinLoss),
		"best":     info.Best,
	})
}

func (m *Monitor) OpStarted(op string) {
	m.emit(EventOp, map[string]any{"op": op, "status": "started"})
}

func (m *Monitor) OpFinished(op string, elapsed time.Duration, err error) {
	payload := map[string]any{"op": op, "status": "ok", "elapsed_seconds": elapsed.Seconds()}
	if err != nil {
		payload["status"] = "error"
		payload["error"] = err.Error()
	}
	m.emit(EventOp, payload)
}

// finite maps NaN and infinities to nil; JSON has no encoding for them.
func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
