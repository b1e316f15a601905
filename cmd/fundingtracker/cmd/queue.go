package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"funding-recon-service/internal/models"
	"funding-recon-service/internal/store"
)

// Flags for the queue command
var (
	queueStatuses []string
	queueTenant   string
	queueFlag     string
	queueSearch   string
	queueSort     string
	queueDesc     bool
	queueLimit    int
	queueOffset   int
	queueJSON     bool
)

// queueCmd lists unresolved records in severity order.
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List the reconciliation work queue",
	Long: `Queue lists unresolved records ranked by severity: amount mismatches
first, then orphan legs, then partial matches, with fully reconciled
records last. Resolved records never appear.

Examples:
  fundingtracker queue
  fundingtracker queue --status amount_mismatch,remittance_only --limit 20
  fundingtracker queue --tenant omnicomtbwa --flag needs_outreach
  fundingtracker queue --search NVC7K --sort remittance_date --desc`,
	PreRunE: validateQueueFlags,
	RunE:    runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)

	queueCmd.Flags().StringSliceVar(&queueStatuses, "status", nil, "filter by match status (comma-separated)")
	queueCmd.Flags().StringVar(&queueTenant, "tenant", "", "filter by invoice tenant")
	queueCmd.Flags().StringVar(&queueFlag, "flag", "", "filter by operator flag: needs_outreach, investigating, escalated")
	queueCmd.Flags().StringVar(&queueSearch, "search", "", "substring match on correlation code")
	queueCmd.Flags().StringVar(&queueSort, "sort", "", "secondary sort column (default: last_updated_at)")
	queueCmd.Flags().BoolVar(&queueDesc, "desc", false, "secondary sort descending")
	queueCmd.Flags().IntVar(&queueLimit, "limit", 50, "maximum rows to return")
	queueCmd.Flags().IntVar(&queueOffset, "offset", 0, "rows to skip")
	queueCmd.Flags().BoolVar(&queueJSON, "json", false, "emit records as JSON")
}

func validateQueueFlags(cmd *cobra.Command, args []string) error {
	for _, s := range queueStatuses {
		if !models.MatchStatus(s).IsValid() {
			return fmt.Errorf("unknown match status %q", s)
		}
	}
	if queueFlag != "" && !models.OperatorFlag(queueFlag).IsValid() {
		return fmt.Errorf("unknown operator flag %q", queueFlag)
	}
	if queueLimit <= 0 {
		return fmt.Errorf("limit must be positive")
	}
	if queueOffset < 0 {
		return fmt.Errorf("offset cannot be negative")
	}
	return nil
}

func runQueue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	filter := store.Filter{
		Tenant: queueTenant,
		Search: queueSearch,
	}
	for _, s := range queueStatuses {
		filter.Statuses = append(filter.Statuses, models.MatchStatus(s))
	}
	if queueFlag != "" {
		flag := models.OperatorFlag(queueFlag)
		filter.Flag = &flag
	}

	records, total, err := st.ListQueue(ctx, filter, store.Sort{Column: queueSort, Desc: queueDesc}, queueLimit, queueOffset)
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}

	if queueJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Total   int64                         `json:"total"`
			Records []models.ReconciliationRecord `json:"records"`
		}{total, records})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tSTATUS\tFLAGS\tREMIT\tINVOICE\tPAYMENT\tFUNDING\tOP FLAG")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.CorrelationCode, rec.MatchStatus, joinFlags(rec.MatchFlags),
			renderAmount(rec.RemittanceAmount), renderAmount(rec.InvoiceAmount),
			renderAmount(rec.PaymentAmount), renderAmount(rec.FundingAmount),
			string(rec.Flag))
	}
	w.Flush()
	fmt.Printf("\n%d of %d records\n", len(records), total)

	return nil
}

func renderAmount(a decimal.NullDecimal) string {
	if !a.Valid {
		return "-"
	}
	return a.Decimal.StringFixed(2)
}

func joinFlags(flags models.MatchFlags) string {
	if len(flags) == 0 {
		return "-"
	}
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}
