package recon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"funding-recon-service/internal/models"
)

func amt(f float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(f))
}

func TestAmountsAgreeBoundary(t *testing.T) {
	tests := []struct {
		name  string
		a     float64
		b     float64
		agree bool
	}{
		{"exact match", 100.00, 100.00, true},
		{"within tolerance", 100.00, 100.009, true},
		{"exactly at boundary", 100.00, 100.01, true},
		{"just past boundary", 100.00, 100.02, false},
		{"symmetric", 100.01, 100.00, true},
		{"large values keep absolute tolerance", 1000000.00, 1000000.02, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AmountsAgree(decimal.NewFromFloat(tt.a), decimal.NewFromFloat(tt.b))
			if got != tt.agree {
				t.Errorf("AmountsAgree(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.agree)
			}
		})
	}
}

func TestComputeDecisionTable(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		rec        models.ReconciliationRecord
		wantStatus models.MatchStatus
	}{
		{
			name:       "empty record",
			rec:        models.ReconciliationRecord{},
			wantStatus: models.StatusUnmatched,
		},
		{
			name: "all four legs agreeing",
			rec: models.ReconciliationRecord{
				RemittanceAmount: amt(1000),
				InvoiceAmount:    amt(1000),
				PaymentAmount:    amt(1000),
				FundingPaymentID: "pay-1",
				FundingAmount:    amt(1000),
			},
			wantStatus: models.StatusFull4Way,
		},
		{
			name: "all four legs disagreeing",
			rec: models.ReconciliationRecord{
				RemittanceAmount: amt(1000),
				InvoiceAmount:    amt(1050),
				PaymentAmount:    amt(1000),
				FundingPaymentID: "pay-1",
				FundingAmount:    amt(1000),
			},
			wantStatus: models.StatusAmountMismatch,
		},
		{
			name: "remittance invoice funding without payment",
			rec: models.ReconciliationRecord{
				RemittanceAmount: amt(500),
				InvoiceAmount:    amt(500),
				FundingPaymentID: "pay-2",
				FundingAmount:    amt(500),
			},
			wantStatus: models.Status3WayAwaitingPayment,
		},
		{
			name: "remittance invoice payment without funding",
			rec: models.ReconciliationRecord{
				RemittanceAmount: amt(500),
				InvoiceAmount:    amt(500),
				PaymentAmount:    amt(500),
			},
			wantStatus: models.Status3WayNoFunding,
		},
		{
			name: "remittance and invoice only",
			rec: models.ReconciliationRecord{
				RemittanceAmount: amt(250),
				InvoiceAmount:    amt(250),
			},
			wantStatus: models.Status2WayMatched,
		},
		{
			name: "two way disagreement",
			rec: models.ReconciliationRecord{
				RemittanceAmount: amt(250),
				InvoiceAmount:    amt(251),
			},
			wantStatus: models.StatusAmountMismatch,
		},
		{
			name: "three way disagreement with funding",
			rec: models.ReconciliationRecord{
				RemittanceAmount: amt(250),
				InvoiceAmount:    amt(275),
				FundingPaymentID: "pay-3",
				FundingAmount:    amt(250),
			},
			wantStatus: models.StatusAmountMismatch,
		},
		{
			name: "invoice and payment only",
			rec: models.ReconciliationRecord{
				InvoiceAmount: amt(100),
				PaymentAmount: amt(100),
			},
			wantStatus: models.StatusInvoicePaymentOnly,
		},
		{
			name:       "remittance only",
			rec:        models.ReconciliationRecord{RemittanceAmount: amt(100)},
			wantStatus: models.StatusRemittanceOnly,
		},
		{
			name:       "invoice only",
			rec:        models.ReconciliationRecord{InvoiceAmount: amt(100)},
			wantStatus: models.StatusInvoiceOnly,
		},
		{
			name:       "payment only",
			rec:        models.ReconciliationRecord{PaymentAmount: amt(100)},
			wantStatus: models.StatusPaymentOnly,
		},
		{
			name: "resolved overrides everything",
			rec: models.ReconciliationRecord{
				RemittanceAmount: amt(1000),
				InvoiceAmount:    amt(1050),
				ResolvedAt:       &now,
			},
			wantStatus: models.StatusResolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := Compute(&tt.rec)
			if status != tt.wantStatus {
				t.Errorf("Compute() status = %s, want %s", status, tt.wantStatus)
			}
		})
	}
}

func TestComputeLegRemovalTransitions(t *testing.T) {
	full := models.ReconciliationRecord{
		RemittanceAmount: amt(900),
		InvoiceAmount:    amt(900),
		PaymentAmount:    amt(900),
		FundingPaymentID: "pay-9",
		FundingAmount:    amt(900),
	}
	if status, _ := Compute(&full); status != models.StatusFull4Way {
		t.Fatalf("full record = %s, want full_4way", status)
	}

	noPayment := full
	noPayment.PaymentAmount = decimal.NullDecimal{}
	if status, _ := Compute(&noPayment); status != models.Status3WayAwaitingPayment {
		t.Errorf("without payment = %s, want 3way_awaiting_payment", status)
	}

	noFunding := full
	noFunding.FundingPaymentID = ""
	noFunding.FundingAmount = decimal.NullDecimal{}
	if status, _ := Compute(&noFunding); status != models.Status3WayNoFunding {
		t.Errorf("without funding = %s, want 3way_no_funding", status)
	}
}

func TestComputeFlags(t *testing.T) {
	rec := models.ReconciliationRecord{
		RemittanceAmount: amt(300),
		InvoiceAmount:    amt(305),
	}
	_, flags := Compute(&rec)
	if !flags.Contains(models.FlagRemittanceInvoiceMismatch) {
		t.Error("expected remittance_invoice_mismatch flag on disagreement")
	}
	if !flags.Contains(models.FlagMissingFunding) || !flags.Contains(models.FlagMissingPayment) {
		t.Errorf("expected missing funding and payment flags, got %v", flags)
	}
	if flags.Contains(models.FlagMissingRemittance) {
		t.Error("remittance leg is present, flag should be absent")
	}

	full := models.ReconciliationRecord{
		RemittanceAmount: amt(300),
		InvoiceAmount:    amt(300),
		PaymentAmount:    amt(300),
		FundingPaymentID: "pay-5",
		FundingAmount:    amt(300),
	}
	_, flags = Compute(&full)
	if len(flags) != 0 {
		t.Errorf("fully matched record should carry no flags, got %v", flags)
	}
}

func TestComputeIdempotent(t *testing.T) {
	rec := models.ReconciliationRecord{
		RemittanceAmount: amt(42.42),
		InvoiceAmount:    amt(42.42),
	}
	s1, f1 := Compute(&rec)
	s2, f2 := Compute(&rec)
	if s1 != s2 || !f1.Equal(f2) {
		t.Errorf("recompute changed result: (%s,%v) then (%s,%v)", s1, f1, s2, f2)
	}

	if changed := Apply(&rec); !changed {
		t.Error("first apply on a fresh record should report a change")
	}
	if changed := Apply(&rec); changed {
		t.Error("second apply with unchanged legs should report no change")
	}
}

func TestResolvedSticky(t *testing.T) {
	now := time.Now()
	rec := models.ReconciliationRecord{
		RemittanceAmount: amt(100),
		ResolvedAt:       &now,
	}
	Apply(&rec)
	if rec.MatchStatus != models.StatusResolved {
		t.Fatalf("resolved record = %s, want resolved", rec.MatchStatus)
	}

	// New legs keep landing but the status stays pinned.
	rec.InvoiceAmount = amt(175)
	Apply(&rec)
	if rec.MatchStatus != models.StatusResolved {
		t.Errorf("after leg upsert = %s, want resolved", rec.MatchStatus)
	}

	// Reopen clears the override and recompute takes over again.
	rec.ResolvedAt = nil
	Apply(&rec)
	if rec.MatchStatus != models.StatusAmountMismatch {
		t.Errorf("after reopen = %s, want amount_mismatch", rec.MatchStatus)
	}
}
