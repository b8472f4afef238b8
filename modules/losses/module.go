// Package losses provides the loss criteria of the "losses" namespace.
package losses

import (
	"context"
	"fmt"
	"math"

	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Namespace implements registry.Module.
func (m *Module) Namespace() string { return "losses" }

// Register implements registry.Module.
func (m *Module) Register(ns *registry.Namespace) {
	ns.RegisterComponent("MSELoss", registry.NewComponent("Mean squared error.", NewMSELoss))
	ns.RegisterComponent("BCEWithLogitsLoss", registry.NewComponent("Binary cross entropy on logits.", NewBCEWithLogitsLoss))
}

// Reduction selects how element losses are combined.
type Reduction string

const (
	// ReductionMean averages over every element, masked or not.
	ReductionMean Reduction = "mean"
	// ReductionSum sums the weighted losses and divides by the total
	// weight, so masked-out targets do not dilute the loss.
	ReductionSum Reduction = "sum"
)

func parseReduction(v config.Optional[string]) (Reduction, error) {
	switch r := Reduction(v.OrElse(string(ReductionMean))); r {
	case ReductionMean, ReductionSum:
		return r, nil
	default:
		return "", fmt.Errorf("reduction must be %q or %q, got %q", ReductionMean, ReductionSum, r)
	}
}

// reduce combines element losses and their gradients in place. w is the
// mask or nil.
func reduce(r Reduction, losses, grad, w []float64) float64 {
	n := len(losses)
	if n == 0 {
		return 0
	}
	var total, denom float64
	for i := range losses {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		total += wi * losses[i]
		grad[i] *= wi
		denom += wi
	}
	if r == ReductionMean {
		denom = float64(n)
	}
	if denom == 0 {
		for i := range grad {
			grad[i] = 0
		}
		return 0
	}
	for i := range grad {
		grad[i] /= denom
	}
	return total / denom
}

// MSEInput are the arguments of losses.MSELoss.
type MSEInput struct {
	Reduction config.Optional[string] `conf:"reduction"`
}

// MSELoss is the squared error criterion.
type MSELoss struct {
	reduction Reduction
}

// NewMSELoss is the constructor registered as losses.MSELoss.
func NewMSELoss(_ context.Context, _ *registry.NoDeps, in *MSEInput) (any, error) {
	r, err := parseReduction(in.Reduction)
	if err != nil {
		return nil, err
	}
	return &MSELoss{reduction: r}, nil
}

// Loss implements component.Criterion.
func (l *MSELoss) Loss(pred, target, mask []float64) (float64, []float64) {
	losses := make([]float64, len(pred))
	grad := make([]float64, len(pred))
	for i := range pred {
		d := pred[i] - target[i]
		losses[i] = d * d
		grad[i] = 2 * d
	}
	return reduce(l.reduction, losses, grad, mask), grad
}

// BCEInput are the arguments of losses.BCEWithLogitsLoss.
type BCEInput struct {
	Reduction config.Optional[string]  `conf:"reduction"`
	PosWeight config.Optional[float64] `conf:"pos_weight"`
}

// BCEWithLogitsLoss is binary cross entropy applied to raw logits.
type BCEWithLogitsLoss struct {
	reduction Reduction
	posWeight float64
}

// NewBCEWithLogitsLoss is the constructor registered as
// losses.BCEWithLogitsLoss.
func NewBCEWithLogitsLoss(_ context.Context, _ *registry.NoDeps, in *BCEInput) (any, error) {
	r, err := parseReduction(in.Reduction)
	if err != nil {
		return nil, err
	}
	pw := in.PosWeight.OrElse(1)
	if pw <= 0 {
		return nil, fmt.Errorf("pos_weight must be positive, got %g", pw)
	}
	return &BCEWithLogitsLoss{reduction: r, posWeight: pw}, nil
}

// Loss implements component.Criterion using the numerically stable form
// (1-y)x + (1+(p-1)y)(log(1+e^-|x|) + max(-x, 0)).
func (l *BCEWithLogitsLoss) Loss(pred, target, mask []float64) (float64, []float64) {
	losses := make([]float64, len(pred))
	grad := make([]float64, len(pred))
	for i, x := range pred {
		y := target[i]
		lw := 1 + (l.posWeight-1)*y
		losses[i] = (1-y)*x + lw*(math.Log1p(math.Exp(-math.Abs(x)))+math.Max(-x, 0))
		grad[i] = (1-y)*Sigmoid(x) - l.posWeight*y*(1-Sigmoid(x))
	}
	return reduce(l.reduction, losses, grad, mask), grad
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
