package data

import (
	"context"
	"math/rand/v2"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/registry"
)

// ComposeInput are the arguments of data.Compose.
type ComposeInput struct {
	Transforms []component.Transform `conf:"transforms,required"`
}

// Compose chains transforms.
type Compose struct {
	transforms []component.Transform
}

// NewCompose is the constructor registered as data.Compose.
func NewCompose(_ context.Context, _ *registry.NoDeps, in *ComposeInput) (any, error) {
	return &Compose{transforms: in.Transforms}, nil
}

// Apply implements component.Transform.
func (c *Compose) Apply(s *component.Sample, rng *rand.Rand) *component.Sample {
	for _, t := range c.transforms {
		s = t.Apply(s, rng)
	}
	return s
}

// Len returns the number of chained transforms.
func (c *Compose) Len() int { return len(c.transforms) }
