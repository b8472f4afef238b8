package telemetry

import (
	"time"

	"github.com/vk/trainspec/internal/component"
)

// Sink receives driver progress and op boundaries.
type Sink interface {
	component.Reporter
	OpStarted(op string)
	OpFinished(op string, elapsed time.Duration, err error)
}

// Hub forwards every event to each of its sinks in order.
type Hub []Sink

func (h Hub) TrainStep(step int, loss, lr float64) {
	for _, s := range h {
		s.TrainStep(step, loss, lr)
	}
}

func (h Hub) Evaluated(split component.Split, step int, scores *component.Scores) {
	for _, s := range h {
		s.Evaluated(split, step, scores)
	}
}

func (h Hub) CheckpointSaved(info component.CheckpointInfo) {
	for _, s := range h {
		s.CheckpointSaved(info)
	}
}

func (h Hub) OpStarted(op string) {
	for _, s := range h {
		s.OpStarted(op)
	}
}

func (h Hub) OpFinished(op string, elapsed time.Duration, err error) {
	for _, s := range h {
		s.OpFinished(op, elapsed, err)
	}
}
