// Package nn provides the model classes of the "nn" namespace. Documents
// reach them through model.path "nn" (any directory, any extension) and
// model.class, or a qualified class such as "nn.CellTypeLinear".
package nn

import (
	"github.com/vk/trainspec/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Namespace implements registry.Module.
func (m *Module) Namespace() string { return "nn" }

// Register implements registry.Module.
func (m *Module) Register(ns *registry.Namespace) {
	ns.RegisterComponent("CellTypeLinear", registry.NewComponent(
		"Linear model over binned nucleotide composition with a per-cell-type bias table.",
		NewCellTypeLinear,
	))
	ns.RegisterComponent("ConstantBaseline", registry.NewComponent(
		"Predicts one learned constant per genomic feature.",
		NewConstantBaseline,
	))
}
