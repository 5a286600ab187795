package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dwnsync/internal/syncengine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Direction string
}

// PassSummary is the output of a single sync pass.
type PassSummary struct {
	Direction  string         `json:"direction"`
	Identities int            `json:"identities"`
	Applied    int            `json:"applied"`
	Rejected   int            `json:"rejected"`
	Skipped    []SkippedDID   `json:"skipped,omitempty"`
	Tuples     []TupleSummary `json:"tuples"`
}

// SkippedDID is an identity that could not be resolved.
type SkippedDID struct {
	DID   string `json:"did"`
	Error string `json:"error"`
}

// TupleSummary is one (identity, endpoint, direction) outcome.
type TupleSummary struct {
	DID       string `json:"did"`
	Endpoint  string `json:"endpoint"`
	Direction string `json:"direction"`
	Events    int    `json:"events"`
	Applied   int    `json:"applied"`
	Present   int    `json:"present"`
	Rejected  int    `json:"rejected"`
	Watermark string `json:"watermark,omitempty"`
	Error     string `json:"error,omitempty"`
}

func summarize(dir syncengine.Direction, r *syncengine.Report) *PassSummary {
	s := &PassSummary{
		Direction:  string(dir),
		Identities: r.Identities,
		Applied:    r.Applied(),
		Rejected:   r.Rejected(),
		Tuples:     []TupleSummary{},
	}
	if dir == "" {
		s.Direction = "both"
	}
	for _, serr := range r.Resolution {
		s.Skipped = append(s.Skipped, SkippedDID{DID: serr.DID, Error: serr.Err.Error()})
	}
	for _, t := range r.Tuples {
		ts := TupleSummary{
			DID:       t.DID,
			Endpoint:  t.Endpoint,
			Direction: string(t.Direction),
			Events:    t.Events,
			Applied:   t.Applied,
			Present:   t.Present,
			Rejected:  len(t.Rejections),
			Watermark: t.Watermark,
		}
		if t.Err != nil {
			ts.Error = t.Err.Error()
		}
		s.Tuples = append(s.Tuples, ts)
	}
	return s
}

func (s *PassSummary) renderText(w io.Writer) error {
	for _, t := range s.Tuples {
		line := fmt.Sprintf("%-4s %s %s: %d events, %d applied, %d present, %d rejected",
			t.Direction, t.DID, t.Endpoint, t.Events, t.Applied, t.Present, t.Rejected)
		if t.Error != "" {
			line += " (failed: " + t.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	for _, sk := range s.Skipped {
		fmt.Fprintf(w, "skipped %s: %s\n", sk.DID, sk.Error)
	}
	_, err := fmt.Fprintf(w, "Sync (%s) complete: %d identities, %d applied, %d rejected\n",
		s.Direction, s.Identities, s.Applied, s.Rejected)
	return err
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass now",
		Long: `Run a single push and/or pull pass for every registered identity
against each of its DWN endpoints, then exit.

Exits 1 when any (identity, endpoint, direction) failed.

Example:
  dwnsync sync
  dwnsync sync --direction pull --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Direction, "direction", "d", "", "push, pull, or empty for both")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	dir, err := syncengine.ParseDirection(opts.Direction)
	if err != nil {
		return newFormatter(cmd, opts.RootOptions).Fail(ExitCommandError, ErrCodeInvalidInput, "invalid --direction", err)
	}

	app, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := commandContext(cmd)
	if err := app.registerConfigured(ctx); err != nil {
		return app.Out.Fail(ExitCommandError, ErrCodeConfig, "failed to register configured identities", err)
	}

	report, err := app.Engine.Sync(ctx, dir)
	if err != nil {
		return app.Out.Fail(ExitCommandError, ErrCodeGeneric, "sync failed", err)
	}

	summary := summarize(dir, report)
	if err := app.Out.Success(summary); err != nil {
		return err
	}
	if failed := report.Failed(); len(failed) > 0 {
		exitErr := NewExitError(ExitFailure, fmt.Sprintf("%d of %d sync tuples failed", len(failed), len(report.Tuples)))
		exitErr.Reported = true
		return exitErr
	}
	return nil
}
