// Package metrics provides the importable score and value-transform
// functions of the "metrics" namespace.
package metrics

import (
	"math"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/registry"
	"github.com/vk/trainspec/modules/losses"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Namespace implements registry.Module.
func (m *Module) Namespace() string { return "metrics" }

// Register implements registry.Module.
func (m *Module) Register(ns *registry.Namespace) {
	ns.RegisterSymbol("pearson", component.MetricFunc(Pearson))
	ns.RegisterSymbol("mse", component.MetricFunc(MSE))
	ns.RegisterSymbol("mae", component.MetricFunc(MAE))
	ns.RegisterSymbol("r2", component.MetricFunc(R2))
	ns.RegisterSymbol("roc_auc", component.MetricFunc(ROCAUC))
	ns.RegisterSymbol("average_precision", component.MetricFunc(AveragePrecision))

	ns.RegisterSymbol("sigmoid", component.ValueTransform(losses.Sigmoid))
	ns.RegisterSymbol("identity", component.ValueTransform(Identity))
	ns.RegisterSymbol("relu", component.ValueTransform(ReLU))
}

// Identity returns x.
func Identity(x float64) float64 { return x }

// ReLU clamps negative values to zero.
func ReLU(x float64) float64 { return math.Max(x, 0) }
