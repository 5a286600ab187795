package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/dwnsync/internal/server"
	"github.com/roach88/dwnsync/internal/syncengine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Interval time.Duration
	Listen   string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync registered identities on an interval",
		Long: `Start the sync scheduler. A push and pull pass runs immediately, then
once per interval; a pass that is still running when the next tick fires
causes that tick to be skipped.

With --listen the local node is also served, so the agent can be a sync
target for others.

Example:
  dwnsync run --interval 2m
  dwnsync run --db ./agent.db --interval 30s --listen :3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "sync interval (overrides config)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "also serve the local node on this address")

	return cmd
}

func runScheduler(cmd *cobra.Command, opts *RunOptions) error {
	app, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext(cmd, app.Logger)
	defer cancel()

	if err := app.registerConfigured(ctx); err != nil {
		return app.Out.Fail(ExitCommandError, ErrCodeConfig, "failed to register configured identities", err)
	}

	interval := app.Config.Sync.Interval
	if opts.Interval > 0 {
		interval = opts.Interval
	}

	sched := syncengine.NewScheduler(app.Engine,
		syncengine.WithMinInterval(app.Config.Sync.MinInterval),
		syncengine.WithSchedulerLogger(app.Logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	if opts.Listen != "" {
		srv := server.New(app.Node, app.Logger)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, opts.Listen)
		})
	}

	effective := sched.Start(gctx, interval)
	fmt.Fprintf(cmd.OutOrStdout(), "Sync scheduled every %s. Press Ctrl-C to stop.\n", effective)

	<-gctx.Done()
	sched.Stop()
	app.Logger.Info("scheduler stopped", "passes", sched.Passes(), "skipped", sched.Skipped())

	if err := g.Wait(); err != nil {
		return app.Out.Fail(ExitCommandError, ErrCodeGeneric, "server error", err)
	}
	return nil
}
