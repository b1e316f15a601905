package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"funding-recon-service/internal/models"
	"funding-recon-service/internal/suggest"
)

// Flags for the record subcommands
var (
	recordNote        string
	recordResolvedBy  string
	recordFlagValue   string
	recordSuggestions bool
	associateLeg      string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Inspect and act on a reconciliation record",
}

var recordShowCmd = &cobra.Command{
	Use:   "show CODE",
	Short: "Show one record with its legs and audit trail",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordShow,
}

var recordResolveCmd = &cobra.Command{
	Use:   "resolve CODE",
	Short: "Mark a record resolved; later leg updates no longer change its status",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordResolve,
}

var recordReopenCmd = &cobra.Command{
	Use:   "reopen CODE",
	Short: "Reopen a resolved record and recompute its status",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordReopen,
}

var recordFlagCmd = &cobra.Command{
	Use:   "flag CODE",
	Short: "Set or clear the operator flag on a record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordFlag,
}

var recordNoteCmd = &cobra.Command{
	Use:   "note CODE",
	Short: "Append a timestamped note to a record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordNote,
}

var recordAssociateCmd = &cobra.Command{
	Use:   "associate TARGET DONOR",
	Short: "Copy one leg from a donor record onto a target record",
	Long: `Associate copies the named leg from the donor record onto the target
record and recomputes the target's status. Used when an upstream system
issued two correlation codes for what is really one obligation.

Example:
  fundingtracker record associate omni.NVC7KV omni.NVC7KW --leg invoice`,
	Args: cobra.ExactArgs(2),
	RunE: runRecordAssociate,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordShowCmd, recordResolveCmd, recordReopenCmd,
		recordFlagCmd, recordNoteCmd, recordAssociateCmd)

	recordShowCmd.Flags().BoolVar(&recordSuggestions, "suggestions", false, "include candidate related records")

	recordResolveCmd.Flags().StringVar(&recordResolvedBy, "by", "", "operator identifier (required)")
	recordResolveCmd.Flags().StringVar(&recordNote, "note", "", "optional audit note")
	recordResolveCmd.MarkFlagRequired("by")

	recordReopenCmd.Flags().StringVar(&recordNote, "note", "", "optional audit note")

	recordFlagCmd.Flags().StringVar(&recordFlagValue, "set", "", "flag value: needs_outreach, investigating, escalated, or empty to clear")
	recordFlagCmd.Flags().StringVar(&recordNote, "note", "", "flag notes")

	recordNoteCmd.Flags().StringVar(&recordNote, "note", "", "note text (required)")
	recordNoteCmd.MarkFlagRequired("note")

	recordAssociateCmd.Flags().StringVar(&associateLeg, "leg", "", "leg to copy: remittance, invoice, payment, funding (required)")
	recordAssociateCmd.Flags().StringVar(&recordNote, "note", "", "optional audit note")
	recordAssociateCmd.MarkFlagRequired("leg")
}

func runRecordShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, log, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.GetRecord(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Code:    %s\n", rec.CorrelationCode)
	fmt.Printf("Status:  %s", rec.MatchStatus)
	if len(rec.MatchFlags) > 0 {
		fmt.Printf("  [%s]", joinFlags(rec.MatchFlags))
	}
	fmt.Println()
	if rec.Flag != "" {
		fmt.Printf("Flagged: %s", rec.Flag)
		if rec.FlagNotes != "" {
			fmt.Printf(" (%s)", rec.FlagNotes)
		}
		fmt.Println()
	}
	if rec.IsResolved() {
		fmt.Printf("Resolved: %s by %s\n", rec.ResolvedAt.Format("2006-01-02 15:04:05"), rec.ResolvedBy)
	}

	fmt.Println("\nLegs:")
	fmt.Printf("  remittance  %s", renderAmount(rec.RemittanceAmount))
	if rec.HasRemittance() {
		fmt.Printf("  (%s, message %s)", rec.RemittanceSource, rec.RemittanceMessageID)
	}
	fmt.Println()
	fmt.Printf("  invoice     %s", renderAmount(rec.InvoiceAmount))
	if rec.HasInvoice() {
		fmt.Printf("  (tenant %s, status %s)", rec.InvoiceTenant, rec.InvoiceStatus)
	}
	fmt.Println()
	fmt.Printf("  payment     %s", renderAmount(rec.PaymentAmount))
	if rec.HasPayment() {
		fmt.Printf("  (account %s, status %s)", rec.PaymentAccountID, rec.PaymentStatus)
	}
	fmt.Println()
	fmt.Printf("  funding     %s", renderAmount(rec.FundingAmount))
	if rec.HasFunding() {
		fmt.Printf("  (received payment %s)", rec.FundingPaymentID)
	}
	fmt.Println()

	if rec.Notes != "" {
		fmt.Printf("\nNotes:\n%s\n", rec.Notes)
	}

	if recordSuggestions {
		engine := suggest.New(st, nil, log)
		suggestions, err := engine.ForRecord(ctx, rec.CorrelationCode)
		if err != nil {
			return fmt.Errorf("failed to compute suggestions: %w", err)
		}
		fmt.Println("\nSuggestions:")
		if len(suggestions) == 0 {
			fmt.Println("  none")
		}
		for _, s := range suggestions {
			fmt.Printf("  %.2f  %s (%s leg): %s\n", s.Confidence, s.CorrelationCode, s.LegKind, s.Reason)
		}
	}

	return nil
}

func runRecordResolve(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Resolve(context.Background(), args[0], recordResolvedBy, recordNote); err != nil {
		return err
	}
	fmt.Printf("Resolved %s\n", args[0])
	return nil
}

func runRecordReopen(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Reopen(ctx, args[0], recordNote); err != nil {
		return err
	}
	rec, err := st.GetRecord(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Reopened %s, status is now %s\n", args[0], rec.MatchStatus)
	return nil
}

func runRecordFlag(cmd *cobra.Command, args []string) error {
	flag := models.OperatorFlag(recordFlagValue)
	if !flag.IsValid() {
		return fmt.Errorf("unknown operator flag %q", recordFlagValue)
	}

	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetFlag(context.Background(), args[0], flag, recordNote); err != nil {
		return err
	}
	if flag == "" {
		fmt.Printf("Cleared flag on %s\n", args[0])
	} else {
		fmt.Printf("Flagged %s as %s\n", args[0], flag)
	}
	return nil
}

func runRecordNote(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.AppendNote(context.Background(), args[0], recordNote); err != nil {
		return err
	}
	fmt.Printf("Noted %s\n", args[0])
	return nil
}

func runRecordAssociate(cmd *cobra.Command, args []string) error {
	kind := models.LegKind(associateLeg)
	if !kind.IsValid() {
		return fmt.Errorf("unknown leg kind %q", associateLeg)
	}

	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Associate(context.Background(), args[0], args[1], kind, recordNote)
	if err != nil {
		return err
	}
	fmt.Printf("Copied %s leg from %s onto %s, status is now %s\n", kind, args[1], args[0], rec.MatchStatus)
	return nil
}
