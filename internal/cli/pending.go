package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/course-proposals/internal/models"
	"github.com/noah-isme/course-proposals/pkg/export"
)

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List proposals awaiting review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			summaries, err := a.proposals.ListPending(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch rootOpts.Format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			case "csv":
				table := export.Table{Headers: []string{"id", "course", "location", "agent", "created_at", "expires_at"}}
				for _, s := range summaries {
					table.Rows = append(table.Rows, []string{
						s.ID,
						derefOr(s.CourseName, ""),
						location(s),
						s.AgentLabel,
						s.CreatedAt.UTC().Format(time.RFC3339),
						s.ExpiresAt.UTC().Format(time.RFC3339),
					})
				}
				return export.WriteCSV(out, table)
			}

			if len(summaries) == 0 {
				_, err := fmt.Fprintln(out, "no pending proposals")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCOURSE\tLOCATION\tAGENT\tEXPIRES")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					s.ID,
					derefOr(s.CourseName, "Unknown Course"),
					location(s),
					s.AgentLabel,
					s.ExpiresAt.UTC().Format(time.RFC3339),
				)
			}
			return tw.Flush()
		},
	}
}

func location(s models.ProposalSummary) string {
	city, state := derefOr(s.City, ""), derefOr(s.State, "")
	switch {
	case city != "" && state != "":
		return city + ", " + state
	case city != "":
		return city
	default:
		return state
	}
}

func derefOr(value *string, fallback string) string {
	if value == nil || *value == "" {
		return fallback
	}
	return *value
}
