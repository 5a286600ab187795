package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/dwnsync/internal/syncengine"
)

// StatusReport is the output of the status command.
type StatusReport struct {
	Database     string           `json:"database"`
	StateBackend string           `json:"state_backend"`
	Interval     string           `json:"interval"`
	Identities   []IdentityStatus `json:"identities"`
}

// IdentityStatus is the sync position of one registered identity.
type IdentityStatus struct {
	DID       string           `json:"did"`
	Events    int64            `json:"events"`
	HasKey    bool             `json:"has_key"`
	Endpoints []EndpointStatus `json:"endpoints"`
}

// EndpointStatus holds the push and pull watermarks for one endpoint.
// An empty watermark means nothing has been transferred yet.
type EndpointStatus struct {
	Endpoint string `json:"endpoint"`
	Push     string `json:"push,omitempty"`
	Pull     string `json:"pull,omitempty"`
}

func (s *StatusReport) renderText(w io.Writer) error {
	fmt.Fprintf(w, "database: %s\n", s.Database)
	fmt.Fprintf(w, "state:    %s\n", s.StateBackend)
	fmt.Fprintf(w, "interval: %s\n\n", s.Interval)

	if len(s.Identities) == 0 {
		_, err := fmt.Fprintln(w, "No identities registered.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tKEY\tEVENTS\tENDPOINT\tPUSH\tPULL")
	for _, id := range s.Identities {
		key := "no"
		if id.HasKey {
			key = "yes"
		}
		if len(id.Endpoints) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t%d\t(resolved)\t-\t-\n", shortDID(id.DID), key, id.Events)
			continue
		}
		for i, ep := range id.Endpoints {
			name, k, events := shortDID(id.DID), key, fmt.Sprint(id.Events)
			if i > 0 {
				name, k, events = "", "", ""
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", name, k, events, ep.Endpoint, orDash(ep.Push), orDash(ep.Pull))
		}
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show registered identities and their sync watermarks",
		Long: `Show each registered identity, the number of events in its local log,
and the push/pull watermark for every pinned endpoint.

Endpoints found only through DID resolution are not listed; status makes
no network calls.

Example:
  dwnsync status
  dwnsync status --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.status(commandContext(cmd))
			if err != nil {
				return app.Out.Fail(ExitCommandError, ErrCodeStorage, "failed to read status", err)
			}
			return app.Out.Success(report)
		},
	}
}

func (a *App) status(ctx context.Context) (*StatusReport, error) {
	dids, err := a.Engine.Identities(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := a.Store.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	held, err := a.Agent.Keys().List(ctx)
	if err != nil {
		return nil, err
	}
	pinned, err := a.pinnedEndpoints(ctx)
	if err != nil {
		return nil, err
	}

	hasKey := make(map[string]bool, len(held))
	for _, d := range held {
		hasKey[d] = true
	}

	report := &StatusReport{
		Database:     a.Config.Database,
		StateBackend: a.Config.Sync.StateBackend,
		Interval:     a.Config.Sync.Interval.String(),
		Identities:   []IdentityStatus{},
	}
	for _, d := range dids {
		is := IdentityStatus{DID: d, Events: counts[d], HasKey: hasKey[d], Endpoints: []EndpointStatus{}}
		for _, ep := range pinned[d] {
			es := EndpointStatus{Endpoint: ep}
			if es.Push, _, err = a.State.Watermark(ctx, d, ep, string(syncengine.Push)); err != nil {
				return nil, err
			}
			if es.Pull, _, err = a.State.Watermark(ctx, d, ep, string(syncengine.Pull)); err != nil {
				return nil, err
			}
			is.Endpoints = append(is.Endpoints, es)
		}
		report.Identities = append(report.Identities, is)
	}
	return report, nil
}
