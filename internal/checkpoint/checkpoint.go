// Package checkpoint persists training snapshots as msgpack files.
//
// A checkpoint is addressed by (epoch, chunk) and means that chunk of that
// epoch is complete; training resumes at the next chunk.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/fsutil"
)

// FormatVersion is written into every checkpoint.
const FormatVersion = 1

// BestFileName is the snapshot of the best validation loss so far.
const BestFileName = "best_model.msgpack"

// ErrNotCheckpoint is returned for files that decode but carry no model
// state.
var ErrNotCheckpoint = errors.New("file is not a training checkpoint")

// Checkpoint is the persisted state of a run.
type Checkpoint struct {
	Version   int                  `msgpack:"version"`
	Arch      string               `msgpack:"arch"`
	Epoch     int                  `msgpack:"epoch"`
	Chunk     int                  `msgpack:"chunk"`
	Step      int                  `msgpack:"step"`
	MinLoss   float64              `msgpack:"min_loss"`
	StateDict map[string][]float64 `msgpack:"state_dict"`
	Optimizer map[string][]float64 `msgpack:"optimizer"`
	SavedAt   time.Time            `msgpack:"saved_at"`
}

// FileName returns the file name of the checkpoint for (epoch, chunk).
func FileName(epoch, chunk int) string {
	return fmt.Sprintf("checkpoint-e%03d-c%04d.msgpack", epoch, chunk)
}

// Store writes checkpoints into a run directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store { return &Store{dir: dir} }

// Dir returns the directory checkpoints are written to.
func (s *Store) Dir() string { return s.dir }

// Save writes cp under its (epoch, chunk) name and, when best is set, also
// as the best model. Files are replaced atomically.
func (s *Store) Save(ctx context.Context, cp *Checkpoint, best bool) (string, error) {
	cp.Version = FormatVersion
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now().UTC()
	}
	data, err := msgpack.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}

	path := filepath.Join(s.dir, FileName(cp.Epoch, cp.Chunk))
	if err := fsutil.AtomicWrite(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	if best {
		if err := fsutil.AtomicWrite(filepath.Join(s.dir, BestFileName), data, 0o644); err != nil {
			return "", fmt.Errorf("write best checkpoint: %w", err)
		}
	}
	ctxlog.FromContext(ctx).Debug("Checkpoint saved.", "path", path, "epoch", cp.Epoch, "chunk", cp.Chunk, "step", cp.Step, "best", best)
	return path, nil
}

// Load reads and decodes a checkpoint file.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(cp.StateDict) == 0 {
		return nil, ErrNotCheckpoint
	}
	if cp.Version > FormatVersion {
		return nil, fmt.Errorf("checkpoint format version %d is newer than supported version %d", cp.Version, FormatVersion)
	}
	return &cp, nil
}

// Locate maps a resume path to a checkpoint file. A directory is searched
// for the file of (epoch, chunk), which must then both be given; a file is
// returned as is.
func Locate(resume string, epoch, chunk *int) (string, error) {
	info, err := os.Stat(resume)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return resume, nil
	}
	if epoch == nil || chunk == nil {
		return "", fmt.Errorf("%s is a directory; checkpoint_epoch and checkpoint_chunk are required to pick a checkpoint", resume)
	}
	path := filepath.Join(resume, FileName(*epoch, *chunk))
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}
