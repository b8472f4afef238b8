package data

import (
	"context"
	"fmt"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/registry"
)

const defaultChunkSize = 10_000

func chunkSizeOf(v config.Optional[int]) (int, error) {
	size := v.OrElse(defaultChunkSize)
	if size <= 0 {
		return 0, fmt.Errorf("chunk_size must be positive, got %d", size)
	}
	return size, nil
}

func splitChunks(order []int, size int) [][]int {
	out := make([][]int, 0, (len(order)+size-1)/size)
	for start := 0; start < len(order); start += size {
		end := min(start+size, len(order))
		out = append(out, order[start:end])
	}
	return out
}

// ChunkInput are the arguments of the chunking samplers.
type ChunkInput struct {
	ChunkSize config.Optional[int] `conf:"chunk_size"`
}

// RandomChunkSampler divides [0, n) into contiguous chunks, visits them in
// a random order and permutes indices inside each chunk, so a large
// dataset is shuffled with bounded locality. The permutation depends only
// on the run seed and the epoch.
type RandomChunkSampler struct {
	chunkSize int
	seed      int64
}

// NewRandomChunkSampler is the constructor registered as
// data.RandomChunkSampler.
func NewRandomChunkSampler(ctx context.Context, _ *registry.NoDeps, in *ChunkInput) (any, error) {
	size, err := chunkSizeOf(in.ChunkSize)
	if err != nil {
		return nil, err
	}
	return &RandomChunkSampler{chunkSize: size, seed: component.Seed(ctx)}, nil
}

// Chunks implements component.Sampler.
func (s *RandomChunkSampler) Chunks(epoch, n int) [][]int {
	rng := component.NewRand(s.seed, "data.RandomChunkSampler", uint64(epoch))
	m := (n + s.chunkSize - 1) / s.chunkSize
	out := make([][]int, 0, m)
	for _, c := range rng.Perm(m) {
		offset := c * s.chunkSize
		size := min(s.chunkSize, n-offset)
		chunk := rng.Perm(size)
		for i := range chunk {
			chunk[i] += offset
		}
		out = append(out, chunk)
	}
	return out
}

// SequentialSampler visits [0, n) in order.
type SequentialSampler struct {
	chunkSize int
}

// NewSequentialSampler is the constructor registered as
// data.SequentialSampler.
func NewSequentialSampler(_ context.Context, _ *registry.NoDeps, in *ChunkInput) (any, error) {
	size, err := chunkSizeOf(in.ChunkSize)
	if err != nil {
		return nil, err
	}
	return &SequentialSampler{chunkSize: size}, nil
}

// Chunks implements component.Sampler.
func (s *SequentialSampler) Chunks(_ int, n int) [][]int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return splitChunks(order, s.chunkSize)
}

// SubsetInput are the arguments of data.SubsetRandomSampler. NumSamples
// of -1 uses every sample, a value in (0, 1) is a fraction of the dataset,
// and a value >= 1 is an absolute count capped at the dataset size.
type SubsetInput struct {
	NumSamples config.Optional[float64] `conf:"num_samples"`
	ChunkSize  config.Optional[int]     `conf:"chunk_size"`
}

// SubsetRandomSampler draws a subset of indices with replacement once per
// run and shuffles it every epoch.
type SubsetRandomSampler struct {
	numSamples float64
	chunkSize  int
	seed       int64
}

// NewSubsetRandomSampler is the constructor registered as
// data.SubsetRandomSampler.
func NewSubsetRandomSampler(ctx context.Context, _ *registry.NoDeps, in *SubsetInput) (any, error) {
	size, err := chunkSizeOf(in.ChunkSize)
	if err != nil {
		return nil, err
	}
	ns := in.NumSamples.OrElse(-1)
	if ns != -1 && ns <= 0 {
		return nil, fmt.Errorf("num_samples must be -1, a fraction in (0, 1) or a count >= 1, got %g", ns)
	}
	return &SubsetRandomSampler{numSamples: ns, chunkSize: size, seed: component.Seed(ctx)}, nil
}

func (s *SubsetRandomSampler) subset(n int) []int {
	var k int
	switch {
	case n == 0:
		return nil
	case s.numSamples == -1 || s.numSamples >= float64(n):
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	case s.numSamples < 1:
		k = max(1, int(float64(n)*s.numSamples))
	default:
		k = int(s.numSamples)
	}
	rng := component.NewRand(s.seed, "data.SubsetRandomSampler")
	out := make([]int, k)
	for i := range out {
		out[i] = rng.IntN(n)
	}
	return out
}

// Chunks implements component.Sampler.
func (s *SubsetRandomSampler) Chunks(epoch, n int) [][]int {
	order := s.subset(n)
	rng := component.NewRand(s.seed, "data.SubsetRandomSampler", uint64(epoch)+1)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return splitChunks(order, s.chunkSize)
}
