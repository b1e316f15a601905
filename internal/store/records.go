package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"funding-recon-service/internal/models"
	"funding-recon-service/internal/recon"
	apperrors "funding-recon-service/pkg/errors"
)

// Column sets replaced whole by an upsert of the matching leg kind. A leg is
// only ever replaced by a newer upsert of the same kind, never merged
// field-by-field across legs.
var legColumns = map[models.LegKind][]string{
	models.LegRemittance: {"remittance_amount", "remittance_date", "remittance_source", "remittance_payer", "remittance_message_id"},
	models.LegInvoice:    {"invoice_amount", "invoice_status", "invoice_tenant", "invoice_batch_ref", "invoice_currency"},
	models.LegPayment:    {"payment_amount", "payment_account_id", "payment_date", "payment_currency", "payment_status", "payment_recipient", "payment_recipient_country"},
	models.LegFunding:    {"funding_payment_id", "funding_amount", "funding_date"},
}

// UpsertLeg merges one leg fact into the record for the given correlation
// code, creating the record if absent, and synchronously recomputes status.
// The leg value must match the kind: RemittanceLeg, InvoiceLeg, PaymentLeg,
// or FundingLeg.
func (s *Store) UpsertLeg(ctx context.Context, code string, kind models.LegKind, leg interface{}) (*models.ReconciliationRecord, error) {
	switch kind {
	case models.LegRemittance:
		l, ok := leg.(models.RemittanceLeg)
		if !ok {
			return nil, apperrors.ManualActionError(apperrors.CodeInvalidArgument, fmt.Sprintf("remittance upsert got %T", leg))
		}
		return s.UpsertRemittance(ctx, code, l)
	case models.LegInvoice:
		l, ok := leg.(models.InvoiceLeg)
		if !ok {
			return nil, apperrors.ManualActionError(apperrors.CodeInvalidArgument, fmt.Sprintf("invoice upsert got %T", leg))
		}
		return s.UpsertInvoice(ctx, code, l)
	case models.LegPayment:
		l, ok := leg.(models.PaymentLeg)
		if !ok {
			return nil, apperrors.ManualActionError(apperrors.CodeInvalidArgument, fmt.Sprintf("payment upsert got %T", leg))
		}
		return s.UpsertPayment(ctx, code, l)
	case models.LegFunding:
		l, ok := leg.(models.FundingLeg)
		if !ok {
			return nil, apperrors.ManualActionError(apperrors.CodeInvalidArgument, fmt.Sprintf("funding upsert got %T", leg))
		}
		return s.UpsertFunding(ctx, code, l)
	default:
		return nil, apperrors.ManualActionError(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown leg kind %q", kind))
	}
}

// UpsertRemittance replaces the remittance leg of the record.
func (s *Store) UpsertRemittance(ctx context.Context, code string, leg models.RemittanceLeg) (*models.ReconciliationRecord, error) {
	if err := leg.Validate(); err != nil {
		return nil, apperrors.LegDataError(apperrors.CodeMissingField, string(models.LegRemittance), err.Error())
	}
	date := leg.Date
	rec := models.ReconciliationRecord{
		CorrelationCode:     code,
		RemittanceAmount:    decimal.NewNullDecimal(leg.Amount),
		RemittanceDate:      &date,
		RemittanceSource:    leg.SourceType,
		RemittancePayer:     leg.Payer,
		RemittanceMessageID: leg.MessageID,
	}
	return s.upsert(ctx, code, &rec, models.LegRemittance)
}

// UpsertInvoice replaces the invoice leg of the record.
func (s *Store) UpsertInvoice(ctx context.Context, code string, leg models.InvoiceLeg) (*models.ReconciliationRecord, error) {
	if err := leg.Validate(); err != nil {
		return nil, apperrors.LegDataError(apperrors.CodeMissingField, string(models.LegInvoice), err.Error())
	}
	rec := models.ReconciliationRecord{
		CorrelationCode: code,
		InvoiceAmount:   decimal.NewNullDecimal(leg.Amount),
		InvoiceStatus:   leg.Status,
		InvoiceTenant:   leg.Tenant,
		InvoiceBatchRef: leg.BatchRef,
		InvoiceCurrency: leg.Currency,
	}
	return s.upsert(ctx, code, &rec, models.LegInvoice)
}

// UpsertPayment replaces the outbound payment leg of the record.
func (s *Store) UpsertPayment(ctx context.Context, code string, leg models.PaymentLeg) (*models.ReconciliationRecord, error) {
	if err := leg.Validate(); err != nil {
		return nil, apperrors.LegDataError(apperrors.CodeMissingField, string(models.LegPayment), err.Error())
	}
	date := leg.Date
	rec := models.ReconciliationRecord{
		CorrelationCode:         code,
		PaymentAmount:           decimal.NewNullDecimal(leg.Amount),
		PaymentAccountID:        leg.AccountID,
		PaymentDate:             &date,
		PaymentCurrency:         leg.Currency,
		PaymentStatus:           leg.Status,
		PaymentRecipient:        leg.Recipient,
		PaymentRecipientCountry: leg.RecipientCountry,
	}
	return s.upsert(ctx, code, &rec, models.LegPayment)
}

// UpsertFunding replaces the inbound funding leg of the record.
func (s *Store) UpsertFunding(ctx context.Context, code string, leg models.FundingLeg) (*models.ReconciliationRecord, error) {
	if err := leg.Validate(); err != nil {
		return nil, apperrors.LegDataError(apperrors.CodeMissingField, string(models.LegFunding), err.Error())
	}
	date := leg.Date
	rec := models.ReconciliationRecord{
		CorrelationCode:  code,
		FundingPaymentID: leg.ReceivedPaymentID,
		FundingAmount:    decimal.NewNullDecimal(leg.Amount),
		FundingDate:      &date,
	}
	return s.upsert(ctx, code, &rec, models.LegFunding)
}

// upsert is the single write primitive: insert-or-replace one leg's columns
// atomically, then recompute status before the transaction commits.
func (s *Store) upsert(ctx context.Context, code string, rec *models.ReconciliationRecord, kind models.LegKind) (*models.ReconciliationRecord, error) {
	now := time.Now().UTC()
	rec.MatchStatus = models.StatusUnmatched
	rec.MatchFlags = models.MatchFlags{}
	rec.FirstSeenAt = now
	rec.LastUpdatedAt = now

	assign := append([]string{}, legColumns[kind]...)
	assign = append(assign, "last_updated_at")

	var out models.ReconciliationRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "correlation_code"}},
			DoUpdates: clause.AssignmentColumns(assign),
		}).Create(rec).Error; err != nil {
			return err
		}
		if err := tx.First(&out, "correlation_code = ?", code).Error; err != nil {
			return err
		}
		return recomputeTx(tx, &out)
	})
	if err != nil {
		return nil, apperrors.StoreError(apperrors.CodeUpsertFailed, "upsert_leg", err).
			WithContext("correlation_code", code).
			WithContext("leg", string(kind))
	}
	return &out, nil
}

// recomputeTx re-derives status and flags for a loaded record and persists
// them when they changed. Runs inside the caller's transaction.
func recomputeTx(tx *gorm.DB, rec *models.ReconciliationRecord) error {
	if !recon.Apply(rec) {
		return nil
	}
	rec.LastUpdatedAt = time.Now().UTC()
	return tx.Model(&models.ReconciliationRecord{}).
		Where("correlation_code = ?", rec.CorrelationCode).
		Updates(map[string]interface{}{
			"match_status":    rec.MatchStatus,
			"match_flags":     rec.MatchFlags,
			"last_updated_at": rec.LastUpdatedAt,
		}).Error
}

// Recompute re-derives the cached status of one record from its stored
// legs. Useful after restoring a backup or fixing data by hand.
func (s *Store) Recompute(ctx context.Context, code string) (*models.ReconciliationRecord, error) {
	var rec models.ReconciliationRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rec, "correlation_code = ?", code).Error; err != nil {
			return err
		}
		return recomputeTx(tx, &rec)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("record", code)
	}
	if err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "recompute", err).
			WithContext("correlation_code", code)
	}
	return &rec, nil
}

// GetRecord fetches one record by correlation code.
func (s *Store) GetRecord(ctx context.Context, code string) (*models.ReconciliationRecord, error) {
	var rec models.ReconciliationRecord
	err := s.db.WithContext(ctx).First(&rec, "correlation_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("record", code)
	}
	if err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "get_record", err).
			WithContext("correlation_code", code)
	}
	return &rec, nil
}

// AppendNote appends a timestamped line to the record's audit notes.
func (s *Store) AppendNote(ctx context.Context, code, note string) error {
	return s.mutateRecord(ctx, code, "append_note", func(tx *gorm.DB, rec *models.ReconciliationRecord) error {
		rec.Notes = appendNote(rec.Notes, note)
		rec.LastUpdatedAt = time.Now().UTC()
		return tx.Model(rec).Updates(map[string]interface{}{
			"notes":           rec.Notes,
			"last_updated_at": rec.LastUpdatedAt,
		}).Error
	})
}

// SetFlag sets or clears the operator triage flag on a record.
func (s *Store) SetFlag(ctx context.Context, code string, flag models.OperatorFlag, notes string) error {
	if !flag.IsValid() {
		return apperrors.ManualActionError(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown flag %q", flag))
	}
	return s.mutateRecord(ctx, code, "set_flag", func(tx *gorm.DB, rec *models.ReconciliationRecord) error {
		return tx.Model(rec).Updates(map[string]interface{}{
			"flag":            flag,
			"flag_notes":      notes,
			"last_updated_at": time.Now().UTC(),
		}).Error
	})
}

// Resolve sets the manual terminal override; the record leaves every queue
// until reopened.
func (s *Store) Resolve(ctx context.Context, code, by, note string) error {
	return s.mutateRecord(ctx, code, "resolve", func(tx *gorm.DB, rec *models.ReconciliationRecord) error {
		now := time.Now().UTC()
		rec.ResolvedAt = &now
		rec.ResolvedBy = by
		if note != "" {
			rec.Notes = appendNote(rec.Notes, note)
		}
		if err := tx.Model(rec).Updates(map[string]interface{}{
			"resolved_at": rec.ResolvedAt,
			"resolved_by": rec.ResolvedBy,
			"notes":       rec.Notes,
		}).Error; err != nil {
			return err
		}
		return recomputeTx(tx, rec)
	})
}

// Reopen clears the resolve override and recomputes status from the legs.
func (s *Store) Reopen(ctx context.Context, code, note string) error {
	return s.mutateRecord(ctx, code, "reopen", func(tx *gorm.DB, rec *models.ReconciliationRecord) error {
		rec.ResolvedAt = nil
		rec.ResolvedBy = ""
		if note != "" {
			rec.Notes = appendNote(rec.Notes, note)
		}
		if err := tx.Model(rec).Updates(map[string]interface{}{
			"resolved_at": nil,
			"resolved_by": "",
			"notes":       rec.Notes,
		}).Error; err != nil {
			return err
		}
		return recomputeTx(tx, rec)
	})
}

// Associate copies one leg from a donor record onto a target record,
// appends an audit note to the target, and recomputes it. The donor is
// untouched.
func (s *Store) Associate(ctx context.Context, targetCode, donorCode string, kind models.LegKind, note string) (*models.ReconciliationRecord, error) {
	if !kind.IsValid() {
		return nil, apperrors.ManualActionError(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown leg kind %q", kind))
	}
	donor, err := s.GetRecord(ctx, donorCode)
	if err != nil {
		return nil, err
	}

	var out *models.ReconciliationRecord
	switch kind {
	case models.LegRemittance:
		if !donor.HasRemittance() {
			return nil, legNotPresent(donorCode, kind)
		}
		out, err = s.UpsertRemittance(ctx, targetCode, models.RemittanceLeg{
			Amount:     donor.RemittanceAmount.Decimal,
			Date:       derefTime(donor.RemittanceDate),
			SourceType: donor.RemittanceSource,
			Payer:      donor.RemittancePayer,
			MessageID:  donor.RemittanceMessageID,
		})
	case models.LegInvoice:
		if !donor.HasInvoice() {
			return nil, legNotPresent(donorCode, kind)
		}
		out, err = s.UpsertInvoice(ctx, targetCode, models.InvoiceLeg{
			Amount:   donor.InvoiceAmount.Decimal,
			Status:   donor.InvoiceStatus,
			Tenant:   donor.InvoiceTenant,
			BatchRef: donor.InvoiceBatchRef,
			Currency: donor.InvoiceCurrency,
		})
	case models.LegPayment:
		if !donor.HasPayment() {
			return nil, legNotPresent(donorCode, kind)
		}
		out, err = s.UpsertPayment(ctx, targetCode, models.PaymentLeg{
			Amount:           donor.PaymentAmount.Decimal,
			AccountID:        donor.PaymentAccountID,
			Date:             derefTime(donor.PaymentDate),
			Currency:         donor.PaymentCurrency,
			Status:           donor.PaymentStatus,
			Recipient:        donor.PaymentRecipient,
			RecipientCountry: donor.PaymentRecipientCountry,
		})
	case models.LegFunding:
		if !donor.HasFunding() {
			return nil, legNotPresent(donorCode, kind)
		}
		out, err = s.UpsertFunding(ctx, targetCode, models.FundingLeg{
			ReceivedPaymentID: donor.FundingPaymentID,
			Amount:            donor.FundingAmount.Decimal,
			Date:              derefTime(donor.FundingDate),
		})
	}
	if err != nil {
		return nil, err
	}

	audit := fmt.Sprintf("associated %s leg from %s", kind, donorCode)
	if note != "" {
		audit = fmt.Sprintf("%s: %s", audit, note)
	}
	if err := s.AppendNote(ctx, targetCode, audit); err != nil {
		return nil, err
	}
	out.Notes = appendNote(out.Notes, audit)
	return out, nil
}

// mutateRecord loads a record and applies fn inside one transaction,
// mapping a missing record to NotFound.
func (s *Store) mutateRecord(ctx context.Context, code, operation string, fn func(tx *gorm.DB, rec *models.ReconciliationRecord) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.ReconciliationRecord
		if err := tx.First(&rec, "correlation_code = ?", code).Error; err != nil {
			return err
		}
		return fn(tx, &rec)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound("record", code)
	}
	if err != nil {
		if _, ok := apperrors.AsTrackerError(err); ok {
			return err
		}
		return apperrors.StoreError(apperrors.CodeQueryFailed, operation, err).
			WithContext("correlation_code", code)
	}
	return nil
}

func legNotPresent(donorCode string, kind models.LegKind) error {
	return apperrors.ManualActionError(apperrors.CodeLegNotPresent,
		fmt.Sprintf("donor record %s has no %s leg", donorCode, kind))
}

func appendNote(existing, note string) string {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), note)
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
