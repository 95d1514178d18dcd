// Package revision resolves the source revision a profile was produced from,
// used to label rendered output so runs against different revisions never
// overwrite each other.
package revision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.jacobcolvin.com/profharness/proc"
)

// ErrRevision indicates the revision could not be resolved, usually because
// the source directory is not a git work tree. Callers may fall back to
// [Fallback].
var ErrRevision = errors.New("resolve revision")

// DirtySuffix marks a revision whose work tree has local modifications.
const DirtySuffix = "-dirty"

var labelRe = regexp.MustCompile(`^[0-9a-f]{4,40}$`)

// Tagger resolves abbreviated commit hashes with git.
//
// Create instances with [NewTagger].
type Tagger struct {
	runner    proc.Runner
	logger    *slog.Logger
	git       string
	dir       string
	length    int
	markDirty bool
}

// Option configures a [Tagger].
type Option func(*Tagger)

// WithDir sets the source directory. Defaults to the working directory.
func WithDir(dir string) Option {
	return func(t *Tagger) {
		t.dir = dir
	}
}

// WithLength sets the abbreviated hash length. Zero lets git choose.
func WithLength(n int) Option {
	return func(t *Tagger) {
		t.length = n
	}
}

// WithMarkDirty appends [DirtySuffix] when the work tree has modifications.
func WithMarkDirty(mark bool) Option {
	return func(t *Tagger) {
		t.markDirty = mark
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tagger) {
		t.logger = l
	}
}

// NewTagger creates a [Tagger].
func NewTagger(runner proc.Runner, opts ...Option) *Tagger {
	t := &Tagger{
		runner: runner,
		logger: slog.Default(),
		git:    "git",
		dir:    ".",
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Resolve returns the short hash of HEAD. It has no side effects.
func (t *Tagger) Resolve(ctx context.Context, env proc.Env) (string, error) {
	short := "--short"
	if t.length > 0 {
		short += "=" + strconv.Itoa(t.length)
	}

	res, err := t.runner.Run(ctx, proc.Cmd{
		Name: t.git,
		Args: []string{"rev-parse", short, "HEAD"},
		Dir:  t.dir,
		Env:  env,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRevision, err)
	}

	rev := strings.TrimSpace(string(res.Stdout))
	if !labelRe.MatchString(rev) {
		return "", fmt.Errorf("%w: unexpected git output %q", ErrRevision, rev)
	}

	if !t.markDirty {
		return rev, nil
	}

	res, err = t.runner.Run(ctx, proc.Cmd{
		Name: t.git,
		Args: []string{"status", "--porcelain", "--untracked-files=no"},
		Dir:  t.dir,
		Env:  env,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRevision, err)
	}

	if len(strings.TrimSpace(string(res.Stdout))) > 0 {
		return rev + DirtySuffix, nil
	}

	return rev, nil
}

// Fallback returns the label used when no revision can be resolved. It embeds
// a UTC timestamp so unlabeled runs do not overwrite each other.
func Fallback(now time.Time) string {
	return "unversioned-" + now.UTC().Format("20060102T150405Z")
}
