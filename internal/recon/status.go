// Package recon derives the match status and reason flags of a
// reconciliation record from its legs. Derivation is a pure, total function
// of leg presence, remittance/invoice amount agreement, and the manual
// resolve override, so the cached status can be recomputed from scratch at
// any time with identical results.
package recon

import (
	"github.com/shopspring/decimal"

	"funding-recon-service/internal/models"
)

// amountTolerance is the absolute agreement tolerance between the
// remittance and invoice amounts, in currency units. The boundary is
// inclusive: a difference of exactly 0.01 still agrees.
var amountTolerance = decimal.NewFromFloat(0.01)

// AmountsAgree reports whether two leg amounts agree within the absolute
// tolerance.
func AmountsAgree(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(amountTolerance)
}

// Compute returns the match status and reason flags for the record's
// current legs. The decision table is evaluated top to bottom; the first
// matching row wins.
func Compute(rec *models.ReconciliationRecord) (models.MatchStatus, models.MatchFlags) {
	if rec.IsResolved() {
		return models.StatusResolved, models.MatchFlags{}
	}

	hasRemit := rec.HasRemittance()
	hasInvoice := rec.HasInvoice()
	hasFunding := rec.HasFunding()
	hasPayment := rec.HasPayment()

	agree := false
	if hasRemit && hasInvoice {
		agree = AmountsAgree(rec.RemittanceAmount.Decimal, rec.InvoiceAmount.Decimal)
	}

	status := deriveStatus(hasRemit, hasInvoice, hasFunding, hasPayment, agree)
	flags := deriveFlags(status, hasRemit, hasInvoice, hasFunding, hasPayment, agree)
	return status, flags
}

// Apply recomputes the record's status and flags in place and reports
// whether either changed.
func Apply(rec *models.ReconciliationRecord) bool {
	status, flags := Compute(rec)
	changed := rec.MatchStatus != status || !rec.MatchFlags.Equal(flags)
	rec.MatchStatus = status
	rec.MatchFlags = flags
	return changed
}

func deriveStatus(hasRemit, hasInvoice, hasFunding, hasPayment, agree bool) models.MatchStatus {
	switch {
	case hasRemit && hasInvoice && hasFunding && hasPayment && agree:
		return models.StatusFull4Way
	case hasRemit && hasInvoice && hasFunding && hasPayment:
		return models.StatusAmountMismatch
	case hasRemit && hasInvoice && hasFunding && agree:
		return models.Status3WayAwaitingPayment
	case hasRemit && hasInvoice && hasPayment && agree:
		return models.Status3WayNoFunding
	case hasRemit && hasInvoice && agree:
		return models.Status2WayMatched
	case hasRemit && hasInvoice:
		return models.StatusAmountMismatch
	case hasInvoice && hasPayment:
		return models.StatusInvoicePaymentOnly
	case hasRemit:
		return models.StatusRemittanceOnly
	case hasInvoice:
		return models.StatusInvoiceOnly
	case hasPayment:
		return models.StatusPaymentOnly
	default:
		return models.StatusUnmatched
	}
}

// deriveFlags records why a record is not fully matched, in a fixed order
// so two recomputes of the same legs compare equal.
func deriveFlags(status models.MatchStatus, hasRemit, hasInvoice, hasFunding, hasPayment, agree bool) models.MatchFlags {
	flags := models.MatchFlags{}
	if status == models.StatusUnmatched {
		return flags
	}
	if hasRemit && hasInvoice && !agree {
		flags = append(flags, models.FlagRemittanceInvoiceMismatch)
	}
	if !hasRemit {
		flags = append(flags, models.FlagMissingRemittance)
	}
	if !hasInvoice {
		flags = append(flags, models.FlagMissingInvoice)
	}
	if !hasFunding {
		flags = append(flags, models.FlagMissingFunding)
	}
	if !hasPayment {
		flags = append(flags, models.FlagMissingPayment)
	}
	return flags
}
