package telemetry

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vk/trainspec/internal/component"
)

const namespace = "trainspec"

// Metrics is the Prometheus sink. Each instance owns its registry, so
// tests and embedded runs never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	opsTotal    *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	steps       prometheus.Counter
	trainLoss   prometheus.Gauge
	lr          prometheus.Gauge
	evalLoss    *prometheus.GaugeVec
	evalScore   *prometheus.GaugeVec
	checkpoints *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		opsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_total",
			Help:      "Run operations finished, by op and status.",
		}, []string{"op", "status"}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "op_duration_seconds",
			Help:      "Wall time of run operations.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"op"}),
		steps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_steps_reported_total",
			Help:      "Training steps at which statistics were reported.",
		}),
		trainLoss: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_loss",
			Help:      "Mean training loss over the last reporting window.",
		}),
		lr: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "learning_rate",
			Help:      "Current optimizer learning rate.",
		}),
		evalLoss: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eval_loss",
			Help:      "Loss of the last evaluation, by split.",
		}, []string{"split"}),
		evalScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eval_score",
			Help:      "Mean metric over features of the last evaluation.",
		}, []string{"split", "metric"}),
		checkpoints: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoints written, by whether they were the best so far.",
		}, []string{"best"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) TrainStep(_ int, loss, lr float64) {
	m.steps.Inc()
	m.trainLoss.Set(loss)
	m.lr.Set(lr)
}

func (m *Metrics) Evaluated(split component.Split, _ int, scores *component.Scores) {
	m.evalLoss.WithLabelValues(string(split)).Set(scores.Loss)
	for name, v := range scores.Metrics {
		if math.IsNaN(v) {
			continue
		}
		m.evalScore.WithLabelValues(string(split), name).Set(v)
	}
}

func (m *Metrics) CheckpointSaved(info component.CheckpointInfo) {
	m.checkpoints.WithLabelValues(strconv.FormatBool(info.Best)).Inc()
}

func (m *Metrics) OpStarted(string) {}

func (m *Metrics) OpFinished(op string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.opsTotal.WithLabelValues(op, status).Inc()
	m.opDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
