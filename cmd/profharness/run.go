package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go.jacobcolvin.com/profharness/log"
	"go.jacobcolvin.com/profharness/pipeline"
	"go.jacobcolvin.com/profharness/proc"
	"go.jacobcolvin.com/profharness/tui"
)

func newRunCmd(logCfg *log.Config) *cobra.Command {
	cfg := pipeline.NewConfig()

	var noTUI bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full profiling pipeline",
		Long: `Run provisions the profiler, selects the toolchain, builds the target, runs
the workload, and renders profile-<revision>.dot. Stages run in order and the
first failure stops the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := cfg.Load()
			if err != nil {
				return err
			}

			if noTUI || !tui.Enabled(os.Stderr) {
				return runPlain(cmd.Context(), cmd, logCfg, cfg)
			}

			return runTUI(cmd.Context(), cmd, logCfg, cfg)
		},
	}

	cfg.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "print logs instead of the progress view")

	completionErr := cfg.RegisterCompletions(cmd)
	if completionErr != nil {
		fmt.Fprintf(os.Stderr, "register completions: %v\n", completionErr)
	}

	return cmd
}

// runPlain logs to stderr and streams subprocess output alongside.
func runPlain(ctx context.Context, cmd *cobra.Command, logCfg *log.Config, cfg *pipeline.Config) error {
	logger, closeLog, err := logCfg.NewLogger(cmd.ErrOrStderr(), nil)
	if err != nil {
		return err
	}

	defer closeLog() //nolint:errcheck // Best effort once the run is over.

	runner := proc.NewExecRunner(proc.WithLogger(logger), proc.WithStream(cmd.ErrOrStderr()))

	pl, err := cfg.NewPipeline(runner, logger)
	if err != nil {
		return err
	}

	res, err := pl.Run(ctx)
	if err != nil {
		return err
	}

	return printResult(cmd.OutOrStdout(), res)
}

// runTUI draws progress on stderr while the pipeline runs. Logs and
// subprocess output are shown in the view's output tail.
func runTUI(ctx context.Context, cmd *cobra.Command, logCfg *log.Config, cfg *pipeline.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pub := log.NewPublisher()
	sub := pub.Subscribe()

	logger, closeLog, err := logCfg.NewLogger(io.Discard, pub)
	if err != nil {
		return err
	}

	defer closeLog() //nolint:errcheck // Best effort once the run is over.

	model := tui.New()
	prog := tui.NewProgram(ctx, model, cmd.InOrStdin(), cmd.ErrOrStderr())

	runner := proc.NewExecRunner(proc.WithLogger(logger), proc.WithStream(pub))

	pl, err := cfg.NewPipeline(runner, logger, pipeline.WithObserver(tui.Observer(prog)))
	if err != nil {
		return err
	}

	var (
		res    *pipeline.Result
		runErr error
	)

	var g errgroup.Group

	g.Go(func() error {
		// Quitting the view interrupts the pipeline.
		defer cancel()

		_, err := prog.Run()

		return err
	})
	g.Go(func() error {
		tui.Forward(ctx, prog, sub)

		return nil
	})
	g.Go(func() error {
		res, runErr = pl.Run(ctx)
		prog.Send(tui.DoneMsg{Result: res, Err: runErr})

		return nil
	})

	tuiErr := g.Wait()

	closeErr := pub.Close()
	if closeErr != nil {
		logger.Warn("close log publisher", slog.Any("error", closeErr))
	}

	if tuiErr != nil && !errors.Is(tuiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("progress view: %w", tuiErr)
	}

	if runErr != nil {
		return runErr
	}

	return printResult(cmd.OutOrStdout(), res)
}

func printResult(w io.Writer, res *pipeline.Result) error {
	if res.RevisionFallback {
		fmt.Fprintf(w, "warning: revision unavailable, labeled %s\n", res.Revision)
	}

	_, err := fmt.Fprintln(w, res.Graph)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	return nil
}
