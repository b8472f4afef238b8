// Package genomics provides the ENCODE-style dataset and the sequence
// transforms of the "genomics" namespace.
//
// The dataset reads plain text inputs: a FASTA reference, a tab separated
// target track of "chrom start end feature [value]" rows, a list of
// distinct "cell_type|feature|info" tracks, a list of target features and
// a list of "chrom start end" sampling intervals.
package genomics

import (
	"github.com/vk/trainspec/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Namespace implements registry.Module.
func (m *Module) Namespace() string { return "genomics" }

// Register implements registry.Module.
func (m *Module) Register(ns *registry.Namespace) {
	ns.RegisterComponent("EncodeDataset", registry.NewComponent(
		"Cell-type-wise samples of one-hot sequence windows with per-feature targets and masks.",
		NewEncodeDataset,
	))
	ns.RegisterComponent("PermuteSequenceChannels", registry.NewComponent(
		"Stores the sequence channel-major ([4][L]) instead of position-major.",
		NewPermuteSequenceChannels,
	))
	ns.RegisterComponent("RandomReverseComplement", registry.NewComponent(
		"Reverse complements the sequence with probability p.",
		NewRandomReverseComplement,
	))
}
