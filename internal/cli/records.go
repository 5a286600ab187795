package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/dwnsync/internal/dwn"
)

// RecordsOptions holds flags for the records subcommands.
type RecordsOptions struct {
	*RootOptions
	DID        string
	RecordID   string
	Data       string
	File       string
	DataFormat string
	Schema     string
	Protocol   string
}

// RecordInfo describes a record in command output.
type RecordInfo struct {
	RecordID   string `json:"record_id"`
	MessageCID string `json:"message_cid"`
	Timestamp  string `json:"timestamp"`
	DataFormat string `json:"data_format,omitempty"`
	Schema     string `json:"schema,omitempty"`
	Protocol   string `json:"protocol,omitempty"`
	DataSize   int64  `json:"data_size"`
}

func (r *RecordInfo) renderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s %s (%d bytes)\n", r.RecordID, r.MessageCID, r.DataSize)
	return err
}

// RecordList is the output of "records list".
type RecordList struct {
	DID     string       `json:"did"`
	Records []RecordInfo `json:"records"`
}

func (l *RecordList) renderText(w io.Writer) error {
	if len(l.Records) == 0 {
		_, err := fmt.Fprintf(w, "No records for %s.\n", l.DID)
		return err
	}
	for _, r := range l.Records {
		fmt.Fprintf(w, "%s  %s  %s  %d bytes\n", r.RecordID, r.Timestamp, r.DataFormat, r.DataSize)
	}
	return nil
}

func recordInfo(msg *dwn.Message) RecordInfo {
	d := msg.Descriptor
	return RecordInfo{
		RecordID:   d.RecordID,
		MessageCID: dwn.MustMessageCID(msg),
		Timestamp:  d.MessageTimestamp,
		DataFormat: d.DataFormat,
		Schema:     d.Schema,
		Protocol:   d.Protocol,
		DataSize:   d.DataSize,
	}
}

// NewRecordsCommand creates the records command group.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Write and list records on the local node",
	}

	cmd.AddCommand(newRecordsWriteCommand(rootOpts))
	cmd.AddCommand(newRecordsListCommand(rootOpts))

	return cmd
}

func newRecordsWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a record to the local node",
		Long: `Sign a Records.Write as --did and apply it to the local node. The
record reaches remote endpoints on the next push.

Passing an existing --record-id writes a newer version of that record.

Example:
  dwnsync records write --did did:key:z6Mk... --data "hello"
  dwnsync records write --did did:key:z6Mk... --file photo.jpg --data-format image/jpeg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsWrite(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DID, "did", "", "author and tenant DID (required)")
	cmd.Flags().StringVar(&opts.RecordID, "record-id", "", "record to update (default: new record)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "record payload")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the payload from a file")
	cmd.Flags().StringVar(&opts.DataFormat, "data-format", "text/plain", "payload media type")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "record schema URI")
	cmd.Flags().StringVar(&opts.Protocol, "protocol", "", "record protocol URI")
	_ = cmd.MarkFlagRequired("did")
	cmd.MarkFlagsMutuallyExclusive("data", "file")

	return cmd
}

func runRecordsWrite(cmd *cobra.Command, opts *RecordsOptions) error {
	out := newFormatter(cmd, opts.RootOptions)

	data := []byte(opts.Data)
	if opts.File != "" {
		b, err := os.ReadFile(opts.File)
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to read --file", err)
		}
		data = b
	}

	app, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	resp, err := app.Agent.ProcessDwnRequest(commandContext(cmd), &dwn.Request{
		Author:      opts.DID,
		Target:      opts.DID,
		MessageType: dwn.RecordsWrite,
		Options: &dwn.Descriptor{
			RecordID:   opts.RecordID,
			DataFormat: opts.DataFormat,
			Schema:     opts.Schema,
			Protocol:   opts.Protocol,
		},
		Data: data,
	})
	if err != nil {
		return app.Out.Fail(ExitCommandError, ErrCodeGeneric, "failed to write record", err)
	}
	if !resp.Reply.OK() {
		return app.Out.Fail(ExitFailure, ErrCodeRejected, "record rejected",
			fmt.Errorf("%d %s", resp.Reply.Status.Code, resp.Reply.Status.Detail))
	}

	info := recordInfo(resp.Message)
	return app.Out.Success(&info)
}

func newRecordsListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a DID's live records on the local node",
		Long: `List the latest version of every live record the local node holds
for --did, optionally filtered.

Example:
  dwnsync records list --did did:key:z6Mk...
  dwnsync records list --did did:key:z6Mk... --schema https://schema.org/Note`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer app.Close()

			var filter *dwn.Filter
			if opts.Schema != "" || opts.Protocol != "" || cmd.Flags().Changed("data-format") {
				filter = &dwn.Filter{Schema: opts.Schema, Protocol: opts.Protocol}
				if cmd.Flags().Changed("data-format") {
					filter.DataFormat = opts.DataFormat
				}
			}

			resp, err := app.Agent.ProcessDwnRequest(commandContext(cmd), &dwn.Request{
				Author:      opts.DID,
				Target:      opts.DID,
				MessageType: dwn.RecordsQuery,
				Options:     &dwn.Descriptor{Filter: filter},
			})
			if err != nil {
				return app.Out.Fail(ExitCommandError, ErrCodeGeneric, "failed to query records", err)
			}
			if !resp.Reply.OK() {
				return app.Out.Fail(ExitFailure, ErrCodeRejected, "query rejected",
					fmt.Errorf("%d %s", resp.Reply.Status.Code, resp.Reply.Status.Detail))
			}

			list := &RecordList{DID: opts.DID, Records: []RecordInfo{}}
			for _, msg := range resp.Reply.Entries {
				list.Records = append(list.Records, recordInfo(msg.WithoutData()))
			}
			return app.Out.Success(list)
		},
	}

	cmd.Flags().StringVar(&opts.DID, "did", "", "tenant DID (required)")
	cmd.Flags().StringVar(&opts.DataFormat, "data-format", "", "filter by payload media type")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "filter by schema URI")
	cmd.Flags().StringVar(&opts.Protocol, "protocol", "", "filter by protocol URI")
	_ = cmd.MarkFlagRequired("did")

	return cmd
}
