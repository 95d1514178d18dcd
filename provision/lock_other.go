//go:build !linux

package provision

import (
	"context"
	"sync"
)

// installMu serializes provisioning within this process where flock is not
// used.
var installMu sync.Mutex

type installLock struct {
	held bool
}

func acquireLock(_ context.Context, _ string) (*installLock, error) {
	installMu.Lock()

	return &installLock{held: true}, nil
}

// Release unlocks the in-process mutex. Safe to call more than once.
func (l *installLock) Release() {
	if l == nil || !l.held {
		return
	}

	l.held = false

	installMu.Unlock()
}
