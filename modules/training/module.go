// Package training provides the training driver of the "training"
// namespace. The driver owns the numeric loop (forward, loss, backward,
// optimizer step) and the per-run statistics files; the run ops decide
// when it fits, evaluates and checkpoints.
package training

import (
	"github.com/vk/trainspec/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Namespace implements registry.Module.
func (m *Module) Namespace() string { return "training" }

// Register implements registry.Module.
func (m *Module) Register(ns *registry.Namespace) {
	ns.RegisterComponent("TrainModel", registry.NewComponent("Trains, validates and evaluates a model.", NewTrainModel))
}
