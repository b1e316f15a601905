package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"funding-recon-service/internal/models"
)

// Flags for the payments subcommands
var (
	paymentsStatus string
	paymentsLimit  int
	paymentsOffset int
	paymentNote    string
)

var paymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Inspect and link inbound received payments",
}

var paymentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List received payments and their funding linkage",
	RunE:  runPaymentsList,
}

var paymentsGroupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List remittance groups awaiting funding",
	RunE:  runPaymentsGroups,
}

var paymentsMatchCmd = &cobra.Command{
	Use:   "match PAYMENT GROUP",
	Short: "Link a received payment to a remittance group",
	Long: `Match links a received payment to the remittance group identified by
its originating message id, writing the funding leg onto every record in
the group. The link is recorded as a manual match.

Example:
  fundingtracker payments match rcpt-123 msg-456 --note "confirmed with bank"`,
	Args: cobra.ExactArgs(2),
	RunE: runPaymentsMatch,
}

var paymentsUnmatchCmd = &cobra.Command{
	Use:   "unmatch PAYMENT",
	Short: "Undo a funding link, clearing the funding leg from the group",
	Args:  cobra.ExactArgs(1),
	RunE:  runPaymentsUnmatch,
}

var paymentsAliasCmd = &cobra.Command{
	Use:   "alias [ALIAS CANONICAL]",
	Short: "List payer-name aliases, or add one",
	Long: `Without arguments, alias lists the payer-name alias table. With two
arguments it maps a normalized payer-name variant to its canonical group
name, raising the matcher's payer-similarity tier for that pair.

Examples:
  fundingtracker payments alias
  fundingtracker payments alias "BBDO USA" OMNICOM`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runPaymentsAlias,
}

func init() {
	rootCmd.AddCommand(paymentsCmd)
	paymentsCmd.AddCommand(paymentsListCmd, paymentsGroupsCmd,
		paymentsMatchCmd, paymentsUnmatchCmd, paymentsAliasCmd)

	paymentsListCmd.Flags().StringVar(&paymentsStatus, "status", "", "filter by linkage status: unmatched, suggested, matched")
	paymentsListCmd.Flags().IntVar(&paymentsLimit, "limit", 50, "maximum rows to return")
	paymentsListCmd.Flags().IntVar(&paymentsOffset, "offset", 0, "rows to skip")

	paymentsMatchCmd.Flags().StringVar(&paymentNote, "note", "", "optional audit note")
}

func runPaymentsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var status *models.ReceivedPaymentStatus
	if paymentsStatus != "" {
		s := models.ReceivedPaymentStatus(paymentsStatus)
		switch s {
		case models.ReceivedUnmatched, models.ReceivedSuggested, models.ReceivedMatched:
		default:
			return fmt.Errorf("unknown payment status %q", paymentsStatus)
		}
		status = &s
	}

	payments, total, err := st.ListReceivedPayments(ctx, status, paymentsLimit, paymentsOffset)
	if err != nil {
		return fmt.Errorf("failed to list received payments: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tAMOUNT\tPAYER\tSTATUS\tGROUP\tCONFIDENCE")
	for _, p := range payments {
		group := p.MatchedGroupID
		if group == "" {
			group = "-"
		}
		confidence := "-"
		if p.Confidence > 0 {
			confidence = fmt.Sprintf("%.2f", p.Confidence)
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Date.Format("2006-01-02"), p.Amount.StringFixed(2), p.Currency,
			p.PayerName, p.MatchStatus, group, confidence)
	}
	w.Flush()
	fmt.Printf("\n%d of %d payments\n", len(payments), total)

	return nil
}

func runPaymentsGroups(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	groups, err := st.ListRemittanceGroups(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list remittance groups: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MESSAGE\tTOTAL\tCODES\tEARLIEST\tPAYER")
	for _, g := range groups {
		earliest := "-"
		if g.EarliestDate != nil {
			earliest = g.EarliestDate.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			g.MessageID, g.TotalAmount.StringFixed(2), g.CodeCount, earliest, g.PayerDescription)
	}
	w.Flush()

	return nil
}

func runPaymentsMatch(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	paymentID, groupID := args[0], args[1]
	err = st.MatchReceivedPayment(context.Background(), paymentID, groupID, 1.0, models.MatchMethodManual, paymentNote)
	if err != nil {
		return err
	}
	fmt.Printf("Linked payment %s to remittance group %s\n", paymentID, groupID)
	return nil
}

func runPaymentsUnmatch(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.UnmatchReceivedPayment(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Unlinked payment %s\n", args[0])
	return nil
}

func runPaymentsAlias(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 2 {
		if err := st.PutPayerAlias(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Aliased %q to %q\n", args[0], args[1])
		return nil
	}
	if len(args) == 1 {
		return fmt.Errorf("alias needs both ALIAS and CANONICAL arguments")
	}

	aliases, err := st.ListPayerAliases(ctx)
	if err != nil {
		return fmt.Errorf("failed to list aliases: %w", err)
	}
	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		names = append(names, alias)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tCANONICAL")
	for _, alias := range names {
		fmt.Fprintf(w, "%s\t%s\n", alias, aliases[alias])
	}
	w.Flush()

	return nil
}
