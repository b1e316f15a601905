// Package models defines the domain types for payment funding reconciliation.
//
// A ReconciliationRecord collects up to four independent claims ("legs")
// about one financial event, keyed by the externally assigned correlation
// code: a remittance notice, an invoice record, an outbound payment, and an
// inbound funding payment. A ReceivedPayment is bank-confirmed inbound cash
// that arrives with no correlation code and is linked probabilistically.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus is the derived reconciliation state of a record. It is always
// a pure function of leg presence, amount agreement, and the manual resolve
// override; it is a cache, never the source of truth.
type MatchStatus string

const (
	StatusUnmatched           MatchStatus = "unmatched"
	StatusRemittanceOnly      MatchStatus = "remittance_only"
	StatusInvoiceOnly         MatchStatus = "invoice_only"
	StatusPaymentOnly         MatchStatus = "payment_only"
	StatusInvoicePaymentOnly  MatchStatus = "invoice_payment_only"
	Status2WayMatched         MatchStatus = "2way_matched"
	Status3WayNoFunding       MatchStatus = "3way_no_funding"
	Status3WayAwaitingPayment MatchStatus = "3way_awaiting_payment"
	StatusFull4Way            MatchStatus = "full_4way"
	StatusAmountMismatch      MatchStatus = "amount_mismatch"
	StatusResolved            MatchStatus = "resolved"
)

// String returns the persisted string form of the status.
func (s MatchStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is one of the known values.
func (s MatchStatus) IsValid() bool {
	_, ok := queueRank[s]
	return ok || s == StatusUnmatched || s == StatusResolved
}

// queueRank is the fixed severity ordering of the priority queue: the worst
// states first. Resolved records never enter the queue at all.
var queueRank = map[MatchStatus]int{
	StatusAmountMismatch:      1,
	StatusRemittanceOnly:      2,
	StatusInvoiceOnly:         3,
	StatusPaymentOnly:         4,
	StatusInvoicePaymentOnly:  5,
	Status2WayMatched:         6,
	Status3WayNoFunding:       7,
	Status3WayAwaitingPayment: 8,
	StatusFull4Way:            9,
}

// QueueRank returns the severity rank used by the priority queue; lower is
// more urgent. Statuses outside the ranking sort last.
func (s MatchStatus) QueueRank() int {
	if r, ok := queueRank[s]; ok {
		return r
	}
	return 10
}

// QueueStatuses returns every status in queue severity order, most urgent
// first. Used to build the DB-side CASE ordering so Go and SQL cannot drift.
func QueueStatuses() []MatchStatus {
	ordered := make([]MatchStatus, 0, len(queueRank))
	for rank := 1; rank <= len(queueRank); rank++ {
		for s, r := range queueRank {
			if r == rank {
				ordered = append(ordered, s)
			}
		}
	}
	return ordered
}

// MatchFlag is a machine-readable reason tag recorded alongside the status.
type MatchFlag string

const (
	FlagRemittanceInvoiceMismatch MatchFlag = "remittance_invoice_mismatch"
	FlagMissingRemittance         MatchFlag = "missing_remittance"
	FlagMissingInvoice            MatchFlag = "missing_invoice"
	FlagMissingFunding            MatchFlag = "missing_funding"
	FlagMissingPayment            MatchFlag = "missing_payment"
)

// MatchFlags is the set of reason tags, stored as a JSON array.
type MatchFlags []MatchFlag

// Value implements driver.Valuer.
func (f MatchFlags) Value() (driver.Value, error) {
	if f == nil {
		f = MatchFlags{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (f *MatchFlags) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*f = MatchFlags{}
		return nil
	case string:
		if v == "" {
			*f = MatchFlags{}
			return nil
		}
		return json.Unmarshal([]byte(v), f)
	case []byte:
		if len(v) == 0 {
			*f = MatchFlags{}
			return nil
		}
		return json.Unmarshal(v, f)
	default:
		return fmt.Errorf("unsupported match_flags type %T", src)
	}
}

// Contains reports whether the flag set includes f2.
func (f MatchFlags) Contains(f2 MatchFlag) bool {
	for _, x := range f {
		if x == f2 {
			return true
		}
	}
	return false
}

// Equal compares two flag sets positionally; flags are always derived in a
// deterministic order so positional comparison suffices.
func (f MatchFlags) Equal(other MatchFlags) bool {
	if len(f) != len(other) {
		return false
	}
	for i := range f {
		if f[i] != other[i] {
			return false
		}
	}
	return true
}

// OperatorFlag is a triage annotation set by a human operator. It is
// independent of match status.
type OperatorFlag string

const (
	OperatorFlagNone          OperatorFlag = ""
	OperatorFlagNeedsOutreach OperatorFlag = "needs_outreach"
	OperatorFlagInvestigating OperatorFlag = "investigating"
	OperatorFlagEscalated     OperatorFlag = "escalated"
)

// IsValid checks whether the operator flag is one of the allowed values.
func (f OperatorFlag) IsValid() bool {
	switch f {
	case OperatorFlagNone, OperatorFlagNeedsOutreach, OperatorFlagInvestigating, OperatorFlagEscalated:
		return true
	}
	return false
}

// LegKind identifies which upstream claim a leg carries.
type LegKind string

const (
	LegRemittance LegKind = "remittance"
	LegInvoice    LegKind = "invoice"
	LegPayment    LegKind = "payment"
	LegFunding    LegKind = "funding"
)

// IsValid checks whether the leg kind is known.
func (k LegKind) IsValid() bool {
	switch k {
	case LegRemittance, LegInvoice, LegPayment, LegFunding:
		return true
	}
	return false
}

// ReconciliationRecord is one row per correlation code with four optional
// legs and the derived status. Legs are replaced whole by upserts of the
// same kind, never merged field-by-field.
type ReconciliationRecord struct {
	CorrelationCode string `gorm:"primaryKey;column:correlation_code" json:"correlation_code"`

	// Remittance leg: what the payer claims to have sent.
	RemittanceAmount    decimal.NullDecimal `gorm:"type:numeric" json:"remittance_amount"`
	RemittanceDate      *time.Time          `json:"remittance_date"`
	RemittanceSource    string              `json:"remittance_source"`
	RemittancePayer     string              `json:"remittance_payer"`
	RemittanceMessageID string              `gorm:"index" json:"remittance_message_id"`

	// Invoice leg: what the payee's ledger expects.
	InvoiceAmount   decimal.NullDecimal `gorm:"type:numeric" json:"invoice_amount"`
	InvoiceStatus   string              `json:"invoice_status"`
	InvoiceTenant   string              `gorm:"index" json:"invoice_tenant"`
	InvoiceBatchRef string              `json:"invoice_batch_ref"`
	InvoiceCurrency string              `json:"invoice_currency"`

	// Outbound payment leg: what was actually disbursed.
	PaymentAmount           decimal.NullDecimal `gorm:"type:numeric" json:"payment_amount"`
	PaymentAccountID        string              `json:"payment_account_id"`
	PaymentDate             *time.Time          `json:"payment_date"`
	PaymentCurrency         string              `json:"payment_currency"`
	PaymentStatus           string              `json:"payment_status"`
	PaymentRecipient        string              `json:"payment_recipient"`
	PaymentRecipientCountry string              `json:"payment_recipient_country"`

	// Inbound funding leg: a link to a ReceivedPayment plus denormalized
	// amount/date for filtering without a join.
	FundingPaymentID string              `gorm:"index" json:"funding_payment_id"`
	FundingAmount    decimal.NullDecimal `gorm:"type:numeric" json:"funding_amount"`
	FundingDate      *time.Time          `json:"funding_date"`

	MatchStatus MatchStatus `gorm:"index;default:unmatched" json:"match_status"`
	MatchFlags  MatchFlags  `gorm:"type:text" json:"match_flags"`

	FirstSeenAt   time.Time  `json:"first_seen_at"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
	ResolvedAt    *time.Time `json:"resolved_at"`
	ResolvedBy    string     `json:"resolved_by"`

	// Notes is an append-only audit log of manual actions.
	Notes string `json:"notes"`

	Flag      OperatorFlag `gorm:"index" json:"flag"`
	FlagNotes string       `json:"flag_notes"`
}

// TableName maps the model to its table.
func (ReconciliationRecord) TableName() string {
	return "reconciliation_records"
}

// HasRemittance reports whether the remittance leg is present.
func (r *ReconciliationRecord) HasRemittance() bool {
	return r.RemittanceAmount.Valid
}

// HasInvoice reports whether the invoice leg is present.
func (r *ReconciliationRecord) HasInvoice() bool {
	return r.InvoiceAmount.Valid
}

// HasPayment reports whether the outbound payment leg is present.
func (r *ReconciliationRecord) HasPayment() bool {
	return r.PaymentAmount.Valid
}

// HasFunding reports whether an inbound funding payment is linked.
func (r *ReconciliationRecord) HasFunding() bool {
	return r.FundingPaymentID != ""
}

// IsResolved reports whether the record carries the manual terminal override.
func (r *ReconciliationRecord) IsResolved() bool {
	return r.ResolvedAt != nil
}

// RemittanceLeg is the normalized remittance claim for one correlation code.
type RemittanceLeg struct {
	Amount     decimal.Decimal
	Date       time.Time
	SourceType string
	Payer      string
	MessageID  string
}

// InvoiceLeg is the normalized ledger expectation for one correlation code.
type InvoiceLeg struct {
	Amount   decimal.Decimal
	Status   string
	Tenant   string
	BatchRef string
	Currency string
}

// PaymentLeg is the normalized outbound disbursement for one correlation code.
type PaymentLeg struct {
	Amount           decimal.Decimal
	AccountID        string
	Date             time.Time
	Currency         string
	Status           string
	Recipient        string
	RecipientCountry string
}

// FundingLeg links a ReceivedPayment to a correlation code, denormalizing
// its amount and date onto the record.
type FundingLeg struct {
	ReceivedPaymentID string
	Amount            decimal.Decimal
	Date              time.Time
}

// Validate checks the remittance leg fields.
func (l RemittanceLeg) Validate() error {
	if l.Amount.IsZero() {
		return fmt.Errorf("remittance amount cannot be zero")
	}
	if l.Date.IsZero() {
		return fmt.Errorf("remittance date cannot be zero")
	}
	return nil
}

// Validate checks the invoice leg fields.
func (l InvoiceLeg) Validate() error {
	if l.Amount.IsZero() {
		return fmt.Errorf("invoice amount cannot be zero")
	}
	return nil
}

// Validate checks the payment leg fields.
func (l PaymentLeg) Validate() error {
	if l.Amount.IsZero() {
		return fmt.Errorf("payment amount cannot be zero")
	}
	return nil
}

// Validate checks the funding leg fields.
func (l FundingLeg) Validate() error {
	if strings.TrimSpace(l.ReceivedPaymentID) == "" {
		return fmt.Errorf("funding leg requires a received payment id")
	}
	return nil
}

// ReceivedPaymentStatus is the linkage state of inbound cash.
type ReceivedPaymentStatus string

const (
	ReceivedUnmatched ReceivedPaymentStatus = "unmatched"
	ReceivedSuggested ReceivedPaymentStatus = "suggested"
	ReceivedMatched   ReceivedPaymentStatus = "matched"
)

// Match methods recorded on a linked ReceivedPayment.
const (
	MatchMethodManual    = "manual"
	MatchMethodAutoScore = "auto_amount_date_payer"
)

// ReceivedPayment is bank-confirmed inbound cash, keyed by the provider's
// payment id. It carries no correlation code; the funding matcher links it
// to a remittance group.
type ReceivedPayment struct {
	ID           string                `gorm:"primaryKey" json:"id"`
	AccountID    string                `gorm:"index" json:"account_id"`
	AccountName  string                `json:"account_name"`
	Amount       decimal.Decimal       `gorm:"type:numeric" json:"amount"`
	Currency     string                `json:"currency"`
	Date         time.Time             `json:"date"`
	Status       string                `json:"status"`
	RawPayerInfo string                `json:"raw_payer_info"`
	PayerName    string                `json:"payer_name"`
	MatchStatus  ReceivedPaymentStatus `gorm:"index;default:unmatched" json:"match_status"`

	// Set once matched.
	MatchedGroupID string  `json:"matched_group_id"`
	Confidence     float64 `json:"confidence"`
	MatchMethod    string  `json:"match_method"`
	Notes          string  `json:"notes"`

	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// TableName maps the model to its table.
func (ReceivedPayment) TableName() string {
	return "received_payments"
}

// SyncState is one observational row per upstream source, mutated only by
// the sync orchestrator.
type SyncState struct {
	Source     string     `gorm:"primaryKey" json:"source"`
	LastSyncAt *time.Time `json:"last_sync_at"`
	LastCount  int        `json:"last_count"`
	Status     string     `gorm:"default:pending" json:"status"`
}

// TableName maps the model to its table.
func (SyncState) TableName() string {
	return "sync_state"
}

// PayerAlias maps one normalized payer-name variant to a canonical group
// name. Seeded by operators to cover corporate naming that normalization
// alone cannot bridge ("BBDO USA" vs "OMNICOM").
type PayerAlias struct {
	Alias     string `gorm:"primaryKey" json:"alias"`
	Canonical string `json:"canonical"`
}

// TableName maps the model to its table.
func (PayerAlias) TableName() string {
	return "payer_aliases"
}

// RemittanceGroup aggregates every record sharing one originating
// remittance message: the unit of funding linkage.
type RemittanceGroup struct {
	MessageID        string
	TotalAmount      decimal.Decimal
	EarliestDate     *time.Time
	SourceType       string
	PayerDescription string
	CodeCount        int
}
