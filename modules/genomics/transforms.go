package genomics

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/registry"
)

// PermuteSequenceChannels converts a position-major sequence to
// channel-major, the layout convolutional models expect.
type PermuteSequenceChannels struct{}

// NewPermuteSequenceChannels is the constructor registered as
// genomics.PermuteSequenceChannels.
func NewPermuteSequenceChannels(context.Context, *registry.NoDeps, *struct{}) (any, error) {
	return PermuteSequenceChannels{}, nil
}

// Apply implements component.Transform.
func (PermuteSequenceChannels) Apply(s *component.Sample, _ *rand.Rand) *component.Sample {
	out := s.Clone()
	if s.Layout == component.ChannelMajor {
		return out
	}
	n := s.Length()
	for i := 0; i < n; i++ {
		for c := 0; c < component.Channels; c++ {
			out.Sequence[c*n+i] = s.At(i, c)
		}
	}
	out.Layout = component.ChannelMajor
	return out
}

// ReverseComplementInput are the arguments of
// genomics.RandomReverseComplement.
type ReverseComplementInput struct {
	P config.Optional[float64] `conf:"p"`
}

// RandomReverseComplement flips a sample to the opposite strand with
// probability p. The channel order A, C, G, T makes the complement of
// channel c equal to 3-c.
type RandomReverseComplement struct {
	p float64
}

// NewRandomReverseComplement is the constructor registered as
// genomics.RandomReverseComplement.
func NewRandomReverseComplement(_ context.Context, _ *registry.NoDeps, in *ReverseComplementInput) (any, error) {
	p := in.P.OrElse(0.5)
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("p must be in [0, 1], got %g", p)
	}
	return &RandomReverseComplement{p: p}, nil
}

// Apply implements component.Transform.
func (t *RandomReverseComplement) Apply(s *component.Sample, rng *rand.Rand) *component.Sample {
	if rng.Float64() >= t.p {
		return s.Clone()
	}
	return ReverseComplement(s)
}

// ReverseComplement returns the sample on the opposite strand, keeping
// its layout.
func ReverseComplement(s *component.Sample) *component.Sample {
	out := s.Clone()
	n := s.Length()
	for i := 0; i < n; i++ {
		for c := 0; c < component.Channels; c++ {
			v := s.At(n-1-i, component.Channels-1-c)
			if s.Layout == component.ChannelMajor {
				out.Sequence[c*n+i] = v
			} else {
				out.Sequence[i*component.Channels+c] = v
			}
		}
	}
	return out
}
