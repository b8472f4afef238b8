package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const maxRunDirAttempts = 8

// now is replaced in tests.
var now = time.Now

// PrepareOutputDir creates base and, when fresh is true, a new run
// subdirectory inside it. The subdirectory is claimed with a non-recursive
// Mkdir, so two processes sharing base can never receive the same one.
func PrepareOutputDir(base string, fresh bool) (string, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create output directory %s: %w", base, err)
	}
	if !fresh {
		return base, nil
	}

	for range maxRunDirAttempts {
		name := fmt.Sprintf("run-%s-%s", now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
		dir := filepath.Join(base, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create run directory %s: %w", dir, err)
		}
	}
	return "", fmt.Errorf("could not allocate a unique run directory under %s after %d attempts", base, maxRunDirAttempts)
}
