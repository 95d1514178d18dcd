//go:build linux

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

const lockFileName = ".provision.lock"

// lockPollInterval is how often a blocked process retries the lock while
// watching for context cancellation.
const lockPollInterval = 100 * time.Millisecond

// installLock is an exclusive flock on the install root. The kernel drops it
// when the descriptor closes, including when the holder crashes.
type installLock struct {
	file *os.File
}

// acquireLock blocks until the install root lock is held or ctx is done.
func acquireLock(ctx context.Context, root string) (*installLock, error) {
	path := filepath.Join(root, lockFileName)

	//nolint:gosec // Path is derived from the configured install root.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &installLock{file: f}, nil
		}

		if !errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errors.Join(fmt.Errorf("flock %s: %w", path, err), f.Close())
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(fmt.Errorf("waiting for %s: %w", path, ctx.Err()), f.Close())
		case <-time.After(lockPollInterval):
		}
	}
}

// Release unlocks and closes the lock file. Safe to call more than once.
func (l *installLock) Release() {
	if l == nil || l.file == nil {
		return
	}

	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		slog.Debug("flock unlock failed", slog.Any("error", err))
	}

	if err := l.file.Close(); err != nil {
		slog.Debug("lock file close failed", slog.Any("error", err))
	}

	l.file = nil
}
