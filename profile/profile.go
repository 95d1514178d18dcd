package profile

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrMissing indicates no profile file exists.
	ErrMissing = errors.New("profile missing")
	// ErrEmpty indicates the profile file exists but holds no data.
	ErrEmpty = errors.New("profile empty")
)

// Artifact is a raw profile file written by an instrumented target run.
type Artifact struct {
	Path string
}

// Remove deletes a profile left by an earlier run. A missing file is not an
// error.
func (a Artifact) Remove() error {
	err := os.Remove(a.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale profile: %w", err)
	}

	return nil
}

// Validate checks that the profile exists and is non-empty.
func (a Artifact) Validate() error {
	info, err := os.Stat(a.Path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrMissing, a.Path)
	}

	if err != nil {
		return fmt.Errorf("stat profile: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrMissing, a.Path)
	}

	if info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmpty, a.Path)
	}

	return nil
}
