package data

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/ctxlog"
)

// LoaderInput are the loader_args of a dataset section.
type LoaderInput struct {
	BatchSize  int  `conf:"batch_size,required"`
	NumWorkers int  `conf:"num_workers"`
	DropLast   bool `conf:"drop_last"`
	// PinMemory is accepted for document compatibility and has no effect.
	PinMemory bool `conf:"pin_memory"`
}

// Loader batches the samples of one chunk at a time. Samples of a batch
// are fetched by up to num_workers goroutines; batches are delivered in
// sampler order, and each sample's randomness is keyed by (epoch, index)
// so results do not depend on worker scheduling.
type Loader struct {
	dataset   component.Dataset
	sampler   component.Sampler
	batchSize int
	workers   int
	dropLast  bool
	seed      int64

	mu        sync.Mutex
	planEpoch int
	plan      [][]int
}

// NewLoader is the constructor registered as data.Loader.
func NewLoader(ctx context.Context, deps *component.LoaderDeps, in *LoaderInput) (any, error) {
	if deps.Dataset == nil || deps.Sampler == nil {
		return nil, fmt.Errorf("loader needs a dataset and a sampler")
	}
	if in.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive, got %d", in.BatchSize)
	}
	if in.NumWorkers < 0 {
		return nil, fmt.Errorf("num_workers must be non-negative, got %d", in.NumWorkers)
	}
	return &Loader{
		dataset:   deps.Dataset,
		sampler:   deps.Sampler,
		batchSize: in.BatchSize,
		workers:   max(1, in.NumWorkers),
		dropLast:  in.DropLast,
		seed:      component.Seed(ctx),
		planEpoch: -1,
	}, nil
}

// Dataset implements component.Loader.
func (l *Loader) Dataset() component.Dataset { return l.dataset }

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.batchSize }

// chunks returns the sampler plan of an epoch, computing it once.
func (l *Loader) chunks(epoch int) [][]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.planEpoch != epoch {
		l.plan = l.sampler.Chunks(epoch, l.dataset.Len())
		l.planEpoch = epoch
	}
	return l.plan
}

// NumChunks implements component.Loader.
func (l *Loader) NumChunks(epoch int) int { return len(l.chunks(epoch)) }

// ForEachBatch implements component.Loader. Samples the dataset skips
// (returns nil for) are left out of their batch; empty batches are not
// delivered.
func (l *Loader) ForEachBatch(ctx context.Context, epoch, chunk int, fn func(batch []*component.Sample) error) error {
	plan := l.chunks(epoch)
	if chunk < 0 || chunk >= len(plan) {
		return fmt.Errorf("chunk %d out of range [0, %d)", chunk, len(plan))
	}
	indices := plan[chunk]
	logger := ctxlog.FromContext(ctx)

	for start := 0; start < len(indices); start += l.batchSize {
		end := min(start+l.batchSize, len(indices))
		if l.dropLast && end-start < l.batchSize {
			break
		}
		batch, err := l.fetch(ctx, epoch, indices[start:end])
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			logger.Debug("Skipping empty batch.", "epoch", epoch, "chunk", chunk, "start", start)
			continue
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) fetch(ctx context.Context, epoch int, indices []int) ([]*component.Sample, error) {
	slots := make([]*component.Sample, len(indices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, idx := range indices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := component.NewRand(l.seed, "data.Loader", uint64(epoch), uint64(idx))
			s, err := l.dataset.Get(idx, rng)
			if err != nil {
				return fmt.Errorf("sample %d: %w", idx, err)
			}
			slots[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	batch := slots[:0]
	for _, s := range slots {
		if s != nil {
			batch = append(batch, s)
		}
	}
	return batch, nil
}
