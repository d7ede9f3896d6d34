package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
)

// LockFileName is created inside the data directory while a process owns it.
const LockFileName = ".lock"

// DataLock is an exclusive cross-process lock on a data directory. The
// embedded stores are single-writer, so only one indexer may hold it.
type DataLock struct {
	path  string
	flock *flock.Flock
}

// AcquireDataLock takes the lock without blocking. A directory held by
// another process yields ErrCodeDataDirLocked.
func AcquireDataLock(dataDir string) (*DataLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, cierrors.New(cierrors.ErrCodeRootUnreadable, "cannot create data directory "+dataDir, err)
	}
	path := filepath.Join(dataDir, LockFileName)
	fl := flock.New(path)

	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !acquired {
		return nil, cierrors.New(cierrors.ErrCodeDataDirLocked, "data directory is in use: "+dataDir, nil).
			WithSuggestion("stop the other codeindex process using this project, or set store.path to another directory")
	}
	return &DataLock{path: path, flock: fl}, nil
}

// Path returns the lock file path.
func (l *DataLock) Path() string {
	return l.path
}

// Release unlocks. Calling it twice is harmless.
func (l *DataLock) Release() error {
	if l == nil || !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
