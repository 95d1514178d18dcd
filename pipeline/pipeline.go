package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.jacobcolvin.com/profharness/build"
	"go.jacobcolvin.com/profharness/proc"
	"go.jacobcolvin.com/profharness/profile"
	"go.jacobcolvin.com/profharness/provision"
	"go.jacobcolvin.com/profharness/revision"
)

// Provisioner installs the profiler and its unwinder.
type Provisioner interface {
	Provision(ctx context.Context, env proc.Env, tools ...provision.Tool) (*provision.Result, error)
	LibDir() string
}

// ToolchainSelector returns env configured for a compiler channel.
type ToolchainSelector interface {
	Select(ctx context.Context, channel string, env proc.Env) (proc.Env, error)
}

// Builder compiles the instrumented target.
type Builder interface {
	Build(ctx context.Context, env proc.Env) (*build.Artifact, error)
}

// Executor runs the target and returns the profile it wrote.
type Executor interface {
	Execute(ctx context.Context, binary string, env proc.Env) (profile.Artifact, error)
}

// Tagger resolves the source revision label.
type Tagger interface {
	Resolve(ctx context.Context, env proc.Env) (string, error)
}

// Renderer converts a profile into a call graph and returns its path.
type Renderer interface {
	Render(ctx context.Context, env proc.Env, binary string, prof profile.Artifact, label string) (string, error)
}

// Components holds the implementation of each stage.
type Components struct {
	Provisioner Provisioner
	Toolchain   ToolchainSelector
	Builder     Builder
	Executor    Executor
	Tagger      Tagger
	Renderer    Renderer
}

// Result describes a run. Fields are filled in as stages complete, so a
// failed run returns a partial Result.
type Result struct {
	// Graph is the rendered call graph path.
	Graph    string
	Revision string
	Binary   string
	LibDir   string
	Profile  profile.Artifact
	// RevisionFallback is true when the revision could not be resolved and
	// Revision holds a generated label.
	RevisionFallback bool
}

// Pipeline runs the profiling stages in strict order, stopping at the first
// fatal failure.
//
// Create instances with [New].
type Pipeline struct {
	now           func() time.Time
	logger        *slog.Logger
	timeouts      map[Stage]time.Duration
	components    Components
	channel       string
	searchPathVar string
	env           proc.Env
	tools         []provision.Tool
	observers     []Observer
	skipProvision bool
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithEnv sets the base environment. Defaults to the process environment.
func WithEnv(env proc.Env) Option {
	return func(p *Pipeline) {
		p.env = env
	}
}

// WithTools sets the libraries to provision.
func WithTools(tools ...provision.Tool) Option {
	return func(p *Pipeline) {
		p.tools = tools
	}
}

// WithChannel sets the compiler toolchain channel.
func WithChannel(channel string) Option {
	return func(p *Pipeline) {
		p.channel = channel
	}
}

// WithSearchPathVar sets the library search path variable extended with the
// provisioned library directory.
func WithSearchPathVar(name string) Option {
	return func(p *Pipeline) {
		p.searchPathVar = name
	}
}

// WithTimeout bounds the duration of stage. Zero removes the bound.
func WithTimeout(stage Stage, d time.Duration) Option {
	return func(p *Pipeline) {
		if d <= 0 {
			delete(p.timeouts, stage)

			return
		}

		p.timeouts[stage] = d
	}
}

// WithSkipProvision skips the provisioning stage for hosts where the
// libraries were installed by other means. The search path is still extended
// with the provisioner's library directory.
func WithSkipProvision(skip bool) Option {
	return func(p *Pipeline) {
		p.skipProvision = skip
	}
}

// WithObserver registers o to receive stage events.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observers = append(p.observers, o)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithClock sets the clock used for fallback revision labels.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a [Pipeline] from its stage components.
func New(c Components, opts ...Option) *Pipeline {
	p := &Pipeline{
		components:    c,
		now:           time.Now,
		logger:        slog.Default(),
		timeouts:      map[Stage]time.Duration{},
		channel:       "nightly",
		searchPathVar: proc.HostLibrarySearchPathVar(),
		env:           proc.Environ(),
		tools:         []provision.Tool{provision.Libunwind, provision.Gperftools},
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// state carries stage outputs forward. Each stage reads only what its
// predecessors produced in this run.
type state struct {
	env    proc.Env
	result Result
}

// Run executes every stage. On failure the returned error is a
// [*StageError]; stage timeouts additionally wrap [ErrTimeout].
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	st := &state{env: p.env}
	started := time.Now()

	for stage := StageProvision; !stage.Terminal(); stage = stage.next() {
		err := p.runStage(ctx, stage, st)
		if err != nil {
			p.emit(Event{Stage: StageFailed, Status: StatusFailed, Err: err, Duration: time.Since(started)})

			return &st.result, err
		}
	}

	p.emit(Event{Stage: StageDone, Status: StatusSucceeded, Detail: st.result.Graph, Duration: time.Since(started)})

	return &st.result, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, st *state) error {
	logger := p.logger.With(slog.String("stage", stage.String()))

	if stage == StageProvision && p.skipProvision {
		st.result.LibDir = p.components.Provisioner.LibDir()
		st.env = st.env.AppendList(p.searchPathVar, st.result.LibDir)

		logger.Info("skipped", slog.String("lib_dir", st.result.LibDir))
		p.emit(Event{Stage: stage, Status: StatusSkipped})

		return nil
	}

	p.emit(Event{Stage: stage, Status: StatusStarted})
	logger.Info("started")

	stageCtx, cancel := p.stageContext(ctx, stage)
	defer cancel()

	start := time.Now()
	detail, err := p.step(stageCtx, stage, st)
	took := time.Since(start)

	if err != nil && stage == StageTag && ctx.Err() == nil {
		st.result.Revision = revision.Fallback(p.now())
		st.result.RevisionFallback = true

		logger.Warn("revision unavailable, using fallback label",
			slog.String("label", st.result.Revision),
			slog.Any("error", err),
		)
		p.emit(Event{Stage: stage, Status: StatusDegraded, Err: err, Detail: st.result.Revision, Duration: took})

		return nil
	}

	if err != nil {
		if ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, p.timeouts[stage], err)
		}

		err = &StageError{Stage: stage, Err: err}

		logger.Error("failed", slog.Duration("took", took), slog.Any("error", err))
		p.emit(Event{Stage: stage, Status: StatusFailed, Err: err, Duration: took})

		return err
	}

	logger.Info("succeeded", slog.Duration("took", took), slog.String("detail", detail))
	p.emit(Event{Stage: stage, Status: StatusSucceeded, Detail: detail, Duration: took})

	return nil
}

// step runs one stage and returns a short description of its output.
func (p *Pipeline) step(ctx context.Context, stage Stage, st *state) (string, error) {
	c := p.components

	switch stage {
	case StageProvision:
		res, err := c.Provisioner.Provision(ctx, st.env, p.tools...)
		if err != nil {
			return "", err
		}

		st.result.LibDir = res.LibDir
		st.env = st.env.AppendList(p.searchPathVar, res.LibDir)

		return res.LibDir, nil

	case StageToolchain:
		env, err := c.Toolchain.Select(ctx, p.channel, st.env)
		if err != nil {
			return "", err
		}

		st.env = env

		return p.channel, nil

	case StageBuild:
		art, err := c.Builder.Build(ctx, st.env)
		if err != nil {
			return "", err
		}

		st.result.Binary = art.Path

		return art.Path, nil

	case StageExecute:
		prof, err := c.Executor.Execute(ctx, st.result.Binary, st.env)
		if err != nil {
			return "", err
		}

		st.result.Profile = prof

		return prof.Path, nil

	case StageTag:
		label, err := c.Tagger.Resolve(ctx, st.env)
		if err != nil {
			return "", err
		}

		st.result.Revision = label

		return label, nil

	case StageRender:
		graph, err := c.Renderer.Render(ctx, st.env, st.result.Binary, st.result.Profile, st.result.Revision)
		if err != nil {
			return "", err
		}

		st.result.Graph = graph

		return graph, nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownStage, stage)
}

func (p *Pipeline) stageContext(ctx context.Context, stage Stage) (context.Context, context.CancelFunc) {
	d, ok := p.timeouts[stage]
	if !ok {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, d)
}

func (p *Pipeline) emit(ev Event) {
	for _, o := range p.observers {
		o(ev)
	}
}
