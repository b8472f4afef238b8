package component

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
)

type seedKey struct{}

// WithSeed stores the run seed in ctx.
func WithSeed(ctx context.Context, seed int64) context.Context {
	return context.WithValue(ctx, seedKey{}, seed)
}

// Seed returns the run seed stored in ctx, or 0.
func Seed(ctx context.Context) int64 {
	if s, ok := ctx.Value(seedKey{}).(int64); ok {
		return s
	}
	return 0
}

// NewRand returns a generator for a named stream of the run seed. Equal
// (seed, stream, salt) triples always produce equal sequences, so draws do
// not depend on construction order or goroutine scheduling.
func NewRand(seed int64, stream string, salt ...uint64) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(stream))
	hi := h.Sum64()
	for _, s := range salt {
		hi = hi*1099511628211 ^ s
	}
	return rand.New(rand.NewPCG(uint64(seed), hi))
}

// RandFromContext is NewRand with the seed taken from ctx.
func RandFromContext(ctx context.Context, stream string, salt ...uint64) *rand.Rand {
	return NewRand(Seed(ctx), stream, salt...)
}
