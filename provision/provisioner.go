package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.jacobcolvin.com/profharness/proc"
)

// DefaultPrefix is the install prefix used by the reference setup. Its lib
// directory is not on the default linker search path on every platform.
const DefaultPrefix = "/usr/local"

var (
	// ErrProvision indicates a dependency could not be fetched, extracted,
	// built or installed.
	ErrProvision = errors.New("provision dependency")
	// ErrNoRoot indicates the install root was not configured.
	ErrNoRoot = errors.New("install root not set")
)

// Installed describes the outcome for one [Tool].
type Installed struct {
	Tool Tool
	// SourceDir is the extracted source tree.
	SourceDir string
	// Skipped is true when a previous run already installed the tool.
	Skipped bool
}

// Result is returned by [Provisioner.Provision].
type Result struct {
	// LibDir is the directory the libraries were installed into. It must be
	// appended to the library search path of any process that links them.
	LibDir string
	Tools  []Installed
}

// Provisioner installs [Tool]s from source.
//
// Create instances with [New].
type Provisioner struct {
	client *http.Client
	runner proc.Runner
	logger *slog.Logger
	root   string
	prefix string
	jobs   int
}

// Option configures a [Provisioner].
type Option func(*Provisioner)

// WithRoot sets the install root where archives are downloaded and built.
func WithRoot(dir string) Option {
	return func(p *Provisioner) {
		p.root = dir
	}
}

// WithPrefix sets the install prefix passed to ./configure.
func WithPrefix(prefix string) Option {
	return func(p *Provisioner) {
		p.prefix = prefix
	}
}

// WithJobs sets the make parallelism. Values less than 1 are clamped to 1.
func WithJobs(n int) Option {
	return func(p *Provisioner) {
		p.jobs = max(n, 1)
	}
}

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provisioner) {
		p.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) {
		p.logger = l
	}
}

// New creates a [Provisioner] that runs build commands through runner.
func New(runner proc.Runner, opts ...Option) *Provisioner {
	p := &Provisioner{
		client: http.DefaultClient,
		runner: runner,
		logger: slog.Default(),
		prefix: DefaultPrefix,
		jobs:   runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// LibDir returns the directory libraries are installed into.
func (p *Provisioner) LibDir() string {
	return filepath.Join(p.prefix, "lib")
}

// Provision installs each tool in order, skipping tools already installed by
// an earlier run. The first failure aborts provisioning.
func (p *Provisioner) Provision(ctx context.Context, env proc.Env, tools ...Tool) (*Result, error) {
	if p.root == "" {
		return nil, fmt.Errorf("%w: %w", ErrProvision, ErrNoRoot)
	}

	err := os.MkdirAll(p.root, 0o755)
	if err != nil {
		return nil, fmt.Errorf("%w: create install root: %w", ErrProvision, err)
	}

	lock, err := acquireLock(ctx, p.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvision, err)
	}
	defer lock.Release()

	res := &Result{LibDir: p.LibDir()}

	for _, tool := range tools {
		installed, err := p.provisionOne(ctx, env, tool)
		if err != nil {
			return res, fmt.Errorf("%w: %s: %w", ErrProvision, tool, err)
		}

		res.Tools = append(res.Tools, installed)
	}

	return res, nil
}

func (p *Provisioner) provisionOne(ctx context.Context, env proc.Env, tool Tool) (Installed, error) {
	logger := p.logger.With(slog.String("tool", tool.String()))
	installed := Installed{
		Tool:      tool,
		SourceDir: filepath.Join(p.root, tool.String()),
	}

	if p.isInstalled(tool) {
		logger.Info("already installed", slog.String("lib_dir", p.LibDir()))

		installed.Skipped = true

		return installed, nil
	}

	archive := filepath.Join(p.root, tool.ArchiveName())

	_, err := os.Stat(archive)
	if errors.Is(err, os.ErrNotExist) {
		err = p.download(ctx, tool.URL(), archive, logger)
	}

	if err != nil {
		return installed, err
	}

	err = extract(archive, p.root, tool.String())
	if err != nil {
		// A cached archive that does not extract is discarded so the next
		// run fetches it again.
		if rmErr := os.Remove(archive); rmErr != nil {
			logger.Warn("remove bad archive", slog.Any("error", rmErr))
		}

		return installed, err
	}

	logger.Info("extracted", slog.String("dir", installed.SourceDir))

	err = p.build(ctx, env, tool, installed.SourceDir, logger)
	if err != nil {
		return installed, err
	}

	if !tool.LibraryInstalled(p.LibDir()) {
		return installed, fmt.Errorf("%s not found in %s after install", tool.libraryName(), p.LibDir())
	}

	err = os.WriteFile(filepath.Join(p.root, tool.stampName()), []byte(p.prefix+"\n"), 0o644)
	if err != nil {
		return installed, fmt.Errorf("write install stamp: %w", err)
	}

	return installed, nil
}

// isInstalled reports whether a stamp for the current prefix exists and the
// library is still present.
func (p *Provisioner) isInstalled(tool Tool) bool {
	//nolint:gosec // Path is derived from the configured install root.
	data, err := os.ReadFile(filepath.Join(p.root, tool.stampName()))
	if err != nil {
		return false
	}

	if strings.TrimSpace(string(data)) != p.prefix {
		return false
	}

	return tool.LibraryInstalled(p.LibDir())
}

func (p *Provisioner) build(ctx context.Context, env proc.Env, tool Tool, dir string, logger *slog.Logger) error {
	steps := []proc.Cmd{
		{Name: "./configure", Args: append([]string{"--prefix=" + p.prefix}, tool.ConfigureArgs...)},
		{Name: "make", Args: []string{"-j" + strconv.Itoa(p.jobs)}},
		{Name: "make", Args: []string{"install"}},
	}

	for _, step := range steps {
		step.Dir = dir
		step.Env = env

		start := time.Now()

		_, err := p.runner.Run(ctx, step)
		if err != nil {
			return err
		}

		logger.Debug("build step finished",
			slog.String("cmd", step.String()),
			slog.Duration("took", time.Since(start).Round(time.Millisecond)),
		)
	}

	logger.Info("installed", slog.String("prefix", p.prefix))

	return nil
}
