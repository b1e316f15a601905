package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"funding-recon-service/internal/models"
)

var statusJSON bool

// statusCmd prints the store summary and per-source sync state.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record counts and last sync results",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit the summary as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	summary, err := st.GetSummary(ctx)
	if err != nil {
		return fmt.Errorf("failed to load summary: %w", err)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("Records: %d total, %d unresolved, %d flagged\n",
		summary.TotalRecords, summary.Unresolved, summary.Flagged)
	fmt.Printf("Received payments awaiting funding match: %d\n\n", summary.ReceivedUnmatched)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, status := range append(models.QueueStatuses(), models.StatusUnmatched, models.StatusResolved) {
		if n := summary.ByStatus[status]; n > 0 {
			fmt.Fprintf(w, "%s\t%d\n", status, n)
		}
	}
	w.Flush()

	if len(summary.SyncStates) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tLAST SYNC\tCOUNT\tSTATUS")
		for _, state := range summary.SyncStates {
			lastSync := "never"
			if state.LastSyncAt != nil {
				lastSync = state.LastSyncAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", state.Source, lastSync, state.LastCount, state.Status)
		}
		w.Flush()
	}

	return nil
}
