// Package optim provides optimizers and learning rate schedulers.
//
// Both are deferred components: a document names the class with an import
// directive and its class_args, and the builder constructs it once the
// model parameters (or the optimizer) exist.
package optim

import (
	"github.com/vk/trainspec/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Namespace implements registry.Module.
func (m *Module) Namespace() string { return "optim" }

// Register implements registry.Module.
func (m *Module) Register(ns *registry.Namespace) {
	ns.RegisterComponent("SGD", registry.NewComponent("Stochastic gradient descent with optional momentum and weight decay.", NewSGD))
	ns.RegisterComponent("Adam", registry.NewComponent("Adam with bias correction.", NewAdam))

	ns.RegisterComponent("StepLR", registry.NewComponent("Multiplies the LR by gamma every step_size optimizer steps.", NewStepLR))
	ns.RegisterComponent("ExponentialLR", registry.NewComponent("Multiplies the LR by gamma every optimizer step.", NewExponentialLR))
	ns.RegisterComponent("CosineAnnealingLR", registry.NewComponent("Cosine annealing from the base LR to eta_min over t_max steps.", NewCosineAnnealingLR))
	ns.RegisterComponent("ReduceLROnPlateau", registry.NewComponent("Reduces the LR when the validation loss stops improving.", NewReduceLROnPlateau))
}
