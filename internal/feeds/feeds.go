// Package feeds defines the upstream source boundary: one narrow interface
// per source plus thin adapters that normalize raw upstream records into
// leg facts. Everything behind these interfaces is replaceable; the sync
// orchestrator only sees the interfaces.
package feeds

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"funding-recon-service/internal/models"
)

// RemittanceSource yields remittance advices, one per originating message.
type RemittanceSource interface {
	FetchAdvices(ctx context.Context) ([]RemittanceAdvice, error)
}

// InvoiceSource yields invoice facts from the tenant ledger database.
type InvoiceSource interface {
	FetchInvoices(ctx context.Context) ([]InvoiceFact, error)
}

// PaymentsAPI yields both sides of the money movement: inbound funding
// received on settlement accounts and outbound disbursements.
type PaymentsAPI interface {
	FetchReceivedPayments(ctx context.Context) ([]models.ReceivedPayment, error)
	FetchPayments(ctx context.Context) ([]OutboundPayment, error)
}

// RemittanceAdvice is one parsed remittance message: a payment covering
// several correlation codes.
type RemittanceAdvice struct {
	MessageID     string
	SourceType    string
	Subject       string
	Payer         string
	AccountNumber string
	PaymentDate   time.Time
	PaymentAmount decimal.Decimal
	Lines         []AdviceLine

	// SkippedLines counts malformed data rows dropped during parsing.
	SkippedLines int
}

// AdviceLine is one correlation code's share of an advice.
type AdviceLine struct {
	RefNumber       string
	CorrelationCode string
	Description     string
	Company         string
	Amount          decimal.Decimal
}

// InvoiceFact is one normalized ledger expectation.
type InvoiceFact struct {
	CorrelationCode string
	Amount          decimal.Decimal
	Status          string
	Tenant          string
	BatchRef        string
	Currency        string
}

// OutboundPayment is one normalized disbursement from the payments API.
type OutboundPayment struct {
	PaymentID        string
	AccountID        string
	Reference        string
	Amount           decimal.Decimal
	Currency         string
	Status           string
	Date             time.Time
	Recipient        string
	RecipientCountry string
}

// CorrelationCode extracts the correlation code embedded in the payment
// reference as "{tenant}.{code}". Returns "" when the reference does not
// carry one.
func (p OutboundPayment) CorrelationCode() string {
	for _, tok := range strings.Fields(p.Reference) {
		i := strings.IndexByte(tok, '.')
		if i > 0 && i < len(tok)-1 {
			return tok
		}
	}
	return ""
}
