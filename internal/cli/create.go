package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/noah-isme/course-proposals/internal/dto"
)

type createOptions struct {
	agent   string
	runID   string
	present bool
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &createOptions{}

	cmd := &cobra.Command{
		Use:   "create <payload.json|->",
		Short: "Store a generated course record as a proposal",
		Long: `Store a generated course record as a proposal.

The payload is read from the named file, or from stdin when the argument is "-".
With --present the proposal is posted to the review channel. When AUTO_INGEST
is enabled the record is ingested immediately instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			req := dto.CreateProposalRequest{
				Payload:    payload,
				AgentLabel: opts.agent,
				Present:    opts.present,
			}
			if opts.runID != "" {
				req.RunID = &opts.runID
			}

			result, err := a.proposals.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return json.NewEncoder(out).Encode(result)
			}
			fmt.Fprintf(out, "%s %s\n", result.Proposal.ID, result.Proposal.Status)
			if result.IngestError != "" {
				fmt.Fprintf(out, "ingest failed: %s\n", result.IngestError)
			}
			if result.Presented {
				fmt.Fprintf(out, "presented as message %s\n", result.DeliveryRef.MessageID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.agent, "agent", "", "label of the generating agent")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "upstream run id (generated when empty)")
	cmd.Flags().BoolVar(&opts.present, "present", false, "post the proposal to the review channel")

	return cmd
}

func readPayload(stdin io.Reader, source string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return json.RawMessage(data), nil
}
