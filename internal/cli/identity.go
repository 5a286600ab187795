package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// IdentityOptions holds flags shared by identity subcommands.
type IdentityOptions struct {
	*RootOptions
	Endpoints []string
}

// IdentityInfo describes one identity in command output.
type IdentityInfo struct {
	DID        string   `json:"did"`
	Endpoints  []string `json:"endpoints,omitempty"`
	HasKey     bool     `json:"has_key"`
	Registered bool     `json:"registered"`
}

// IdentityList is the output of "identity list".
type IdentityList struct {
	Identities []IdentityInfo `json:"identities"`
}

func (l *IdentityList) renderText(w io.Writer) error {
	if len(l.Identities) == 0 {
		_, err := fmt.Fprintln(w, "No identities registered.")
		return err
	}
	for _, id := range l.Identities {
		key := ""
		if id.HasKey {
			key = " (key held)"
		}
		fmt.Fprintf(w, "%s%s\n", id.DID, key)
		for _, ep := range id.Endpoints {
			fmt.Fprintf(w, "  %s\n", ep)
		}
	}
	return nil
}

func (i *IdentityInfo) renderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, i.DID)
	return err
}

// NewIdentityCommand creates the identity command group.
func NewIdentityCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the identities kept in sync",
	}

	cmd.AddCommand(newIdentityCreateCommand(rootOpts))
	cmd.AddCommand(newIdentityRegisterCommand(rootOpts))
	cmd.AddCommand(newIdentityDeregisterCommand(rootOpts))
	cmd.AddCommand(newIdentityListCommand(rootOpts))

	return cmd
}

func newIdentityCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IdentityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate a did:key identity and register it for sync",
		Long: `Generate an Ed25519 did:key identity, store its private key in the
database and register it for sync.

A did:key document lists no services, so pin its DWN endpoints with
--endpoint or in the config file.

Example:
  dwnsync identity create --endpoint https://dwn.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := commandContext(cmd)

			id, err := app.Agent.CreateIdentity(ctx)
			if err != nil {
				return app.Out.Fail(ExitCommandError, ErrCodeStorage, "failed to create identity", err)
			}
			if err := app.Engine.RegisterIdentity(ctx, id.DID); err != nil {
				return app.Out.Fail(ExitCommandError, ErrCodeStorage, "failed to register identity", err)
			}
			if len(opts.Endpoints) > 0 {
				if err := app.Store.SetEndpoints(ctx, id.DID, opts.Endpoints); err != nil {
					return app.Out.Fail(ExitCommandError, ErrCodeStorage, "failed to save endpoints", err)
				}
			}
			app.Out.VerboseLog("created %s", id.DID)
			return app.Out.Success(&IdentityInfo{DID: id.DID, Endpoints: opts.Endpoints, HasKey: true, Registered: true})
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Endpoints, "endpoint", "e", nil, "DWN endpoint URL (repeatable)")

	return cmd
}

func newIdentityRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IdentityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register <did>",
		Short: "Register an existing DID for sync",
		Long: `Add a DID to the sync set. Registration has no network effect; the
DID is resolved at the start of each pass.

Example:
  dwnsync identity register did:web:alice.example
  dwnsync identity register did:key:z6Mk... --endpoint wss://dwn.example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := commandContext(cmd)

			if err := app.Engine.RegisterIdentity(ctx, args[0]); err != nil {
				return app.Out.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to register identity", err)
			}
			if len(opts.Endpoints) > 0 {
				if err := app.Store.SetEndpoints(ctx, args[0], opts.Endpoints); err != nil {
					return app.Out.Fail(ExitCommandError, ErrCodeStorage, "failed to save endpoints", err)
				}
			}
			_, keyErr := app.Agent.Keys().Get(ctx, args[0])
			return app.Out.Success(&IdentityInfo{DID: args[0], Endpoints: opts.Endpoints, HasKey: keyErr == nil, Registered: true})
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Endpoints, "endpoint", "e", nil, "DWN endpoint URL (repeatable)")

	return cmd
}

func newIdentityDeregisterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deregister <did>",
		Short: "Stop syncing a DID",
		Long: `Remove a DID from the sync set. Its key and local records are kept.

Example:
  dwnsync identity deregister did:web:alice.example`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := commandContext(cmd)

			if err := app.Engine.DeregisterIdentity(ctx, args[0]); err != nil {
				return app.Out.Fail(ExitCommandError, ErrCodeStorage, "failed to deregister identity", err)
			}
			if err := app.Store.SetEndpoints(ctx, args[0], nil); err != nil {
				return app.Out.Fail(ExitCommandError, ErrCodeStorage, "failed to clear endpoints", err)
			}
			return app.Out.Success(&IdentityInfo{DID: args[0]})
		},
	}
}

func newIdentityListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := commandContext(cmd)

			dids, err := app.Engine.Identities(ctx)
			if err != nil {
				return app.Out.Fail(ExitCommandError, ErrCodeStorage, "failed to list identities", err)
			}
			held, err := app.Agent.Keys().List(ctx)
			if err != nil {
				return app.Out.Fail(ExitCommandError, ErrCodeStorage, "failed to list keys", err)
			}
			endpoints, err := app.pinnedEndpoints(ctx)
			if err != nil {
				return app.Out.Fail(ExitCommandError, ErrCodeStorage, "failed to load endpoints", err)
			}

			hasKey := make(map[string]bool, len(held))
			for _, d := range held {
				hasKey[d] = true
			}
			list := &IdentityList{Identities: []IdentityInfo{}}
			for _, d := range dids {
				list.Identities = append(list.Identities, IdentityInfo{
					DID:        d,
					Endpoints:  endpoints[d],
					HasKey:     hasKey[d],
					Registered: true,
				})
			}
			return app.Out.Success(list)
		},
	}
}

// shortDID abbreviates long did:key identifiers for tables.
func shortDID(d string) string {
	const keep = 24
	if !strings.HasPrefix(d, "did:key:") || len(d) <= keep+8 {
		return d
	}
	return d[:keep] + "..." + d[len(d)-6:]
}
