package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear all watermarks and identity registrations",
		Long: `Wipe the sync state: every watermark and every registration. Keys and
local records are kept, so the next pass after re-registering replays
each log from the start (already-held messages are skipped).

Example:
  dwnsync reset --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)
			if !force {
				return out.Fail(ExitCommandError, ErrCodeInvalidInput, "refusing to reset without --force", nil)
			}

			app, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Engine.Clear(commandContext(cmd)); err != nil {
				return app.Out.Fail(ExitCommandError, ErrCodeStorage, "failed to clear sync state", err)
			}
			app.Out.VerboseLog("cleared sync state in %s", app.Config.Database)
			return app.Out.Success(fmt.Sprintf("Sync state cleared (%s backend).", app.Config.Sync.StateBackend))
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm the reset")

	return cmd
}
