package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/dwnsync/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local DWN node over HTTP and WebSocket",
		Long: `Expose the local node replica as a DWN endpoint.

Other agents can sync against it over JSON-RPC: POST / for HTTP,
GET / with a websocket upgrade for persistent connections.

Example:
  dwnsync serve --listen :3000
  dwnsync serve --db ./agent.db --listen 127.0.0.1:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	app, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	addr := app.Config.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}

	ctx, cancel := signalContext(cmd, app.Logger)
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving DWN on %s. Press Ctrl-C to stop.\n", addr)
	if err := server.New(app.Node, app.Logger).ListenAndServe(ctx, addr); err != nil {
		return app.Out.Fail(ExitCommandError, ErrCodeGeneric, "server error", err)
	}
	return nil
}
