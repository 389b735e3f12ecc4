package featex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is the lock file created in the output
// directory. It is left in place after a run.
const LockFileName = ".featex.lock"

// ErrOutputLocked is returned when another run is writing
// to the same output directory.
var ErrOutputLocked = errors.New("output directory is in use by another run")

// lockOutputDir creates dir if necessary and takes an
// exclusive lock on it.
// The returned function releases the lock.
func lockOutputDir(dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, LockFileName)
	l := flock.New(path)
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock output directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock: %s)", ErrOutputLocked, path)
	}
	// The lock file stays behind; removing it would let two
	// runs hold locks on different inodes.
	return func() {
		_ = l.Unlock()
	}, nil
}
