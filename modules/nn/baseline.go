package nn

import (
	"context"
	"fmt"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/registry"
)

// BaselineInput are the class_args of nn.ConstantBaseline.
type BaselineInput struct {
	NGenomicFeatures int            `conf:"n_genomic_features,required"`
	Ignored          map[string]any `conf:",remain"`
}

// ConstantBaseline ignores its input and predicts a learned constant per
// feature. Useful as a sanity floor for metrics.
type ConstantBaseline struct {
	bias *component.Parameter
}

// NewConstantBaseline is the constructor registered as nn.ConstantBaseline.
func NewConstantBaseline(_ context.Context, _ *registry.NoDeps, in *BaselineInput) (any, error) {
	if in.NGenomicFeatures <= 0 {
		return nil, fmt.Errorf("n_genomic_features must be positive, got %d", in.NGenomicFeatures)
	}
	return &ConstantBaseline{bias: component.NewParameter("bias", in.NGenomicFeatures)}, nil
}

func (m *ConstantBaseline) Forward(*component.Sample) []float64 {
	return append([]float64(nil), m.bias.Data...)
}

func (m *ConstantBaseline) Backward(_ *component.Sample, gradOut []float64) {
	for f, g := range gradOut {
		m.bias.Grad[f] += g
	}
}

func (m *ConstantBaseline) Parameters() []*component.Parameter {
	return []*component.Parameter{m.bias}
}
