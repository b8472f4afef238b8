// Package data provides transform composition, samplers and the batching
// loader of the "data" namespace.
package data

import (
	"github.com/vk/trainspec/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Namespace implements registry.Module.
func (m *Module) Namespace() string { return "data" }

// Register implements registry.Module.
func (m *Module) Register(ns *registry.Namespace) {
	ns.RegisterComponent("Compose", registry.NewComponent("Applies transforms in order.", NewCompose))
	ns.RegisterComponent("RandomChunkSampler", registry.NewComponent("Shuffles chunk order and indices within each chunk, per epoch.", NewRandomChunkSampler))
	ns.RegisterComponent("SequentialSampler", registry.NewComponent("Visits indices in order, split into chunks.", NewSequentialSampler))
	ns.RegisterComponent("SubsetRandomSampler", registry.NewComponent("Draws a fixed random subset of the dataset.", NewSubsetRandomSampler))
	ns.RegisterComponent("Loader", registry.NewComponent("Batches samples with parallel, order-preserving prefetch.", NewLoader))
}
