package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"funding-recon-service/internal/matcher"
	"funding-recon-service/internal/models"
	apperrors "funding-recon-service/pkg/errors"
)

// UpsertReceivedPayment inserts or refreshes inbound cash by provider
// payment id. Refreshes update the bank-sourced fields only; linkage fields
// (match status, group, confidence) survive re-syncs untouched.
func (s *Store) UpsertReceivedPayment(ctx context.Context, p models.ReceivedPayment) error {
	now := time.Now().UTC()
	p.FirstSeenAt = now
	p.LastUpdatedAt = now
	if p.MatchStatus == "" {
		p.MatchStatus = models.ReceivedUnmatched
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_id", "account_name", "amount", "currency", "date",
			"status", "raw_payer_info", "payer_name", "last_updated_at",
		}),
	}).Create(&p).Error
	if err != nil {
		return apperrors.StoreError(apperrors.CodeUpsertFailed, "upsert_received_payment", err).
			WithContext("payment_id", p.ID)
	}
	return nil
}

// GetReceivedPayment fetches one inbound payment by provider id.
func (s *Store) GetReceivedPayment(ctx context.Context, id string) (*models.ReceivedPayment, error) {
	var p models.ReceivedPayment
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("received payment", id)
	}
	if err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "get_received_payment", err).
			WithContext("payment_id", id)
	}
	return &p, nil
}

// ListReceivedPayments returns inbound payments, optionally restricted to
// one linkage status, newest first, plus the total count.
func (s *Store) ListReceivedPayments(ctx context.Context, status *models.ReceivedPaymentStatus, limit, offset int) ([]models.ReceivedPayment, int64, error) {
	base := s.db.WithContext(ctx).Model(&models.ReceivedPayment{})
	if status != nil {
		base = base.Where("match_status = ?", *status)
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, apperrors.StoreError(apperrors.CodeQueryFailed, "list_received_payments_count", err)
	}

	var payments []models.ReceivedPayment
	q := base.Order("date DESC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&payments).Error; err != nil {
		return nil, 0, apperrors.StoreError(apperrors.CodeQueryFailed, "list_received_payments", err)
	}
	return payments, total, nil
}

// ListUnmatchedReceivedPayments returns the funding matcher's candidate set.
// Matched rows are excluded so re-running the matcher is idempotent;
// suggested rows stay in so a better group can still claim them.
func (s *Store) ListUnmatchedReceivedPayments(ctx context.Context) ([]models.ReceivedPayment, error) {
	var payments []models.ReceivedPayment
	err := s.db.WithContext(ctx).
		Where("match_status <> ?", models.ReceivedMatched).
		Order("date ASC").Order("id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "list_unmatched_received_payments", err)
	}
	return payments, nil
}

// ListRemittanceGroups aggregates every record sharing one originating
// remittance message into a group total, its earliest date, and the payer
// description. These groups are the funding matcher's candidates.
func (s *Store) ListRemittanceGroups(ctx context.Context) ([]models.RemittanceGroup, error) {
	type row struct {
		MessageID        string
		TotalAmount      string
		EarliestDate     string
		SourceType       string
		PayerDescription string
		CodeCount        int
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.ReconciliationRecord{}).
		Select(`remittance_message_id AS message_id,
			CAST(SUM(remittance_amount) AS TEXT) AS total_amount,
			CAST(MIN(remittance_date) AS TEXT) AS earliest_date,
			MAX(remittance_source) AS source_type,
			MAX(remittance_payer) AS payer_description,
			COUNT(*) AS code_count`).
		Where("remittance_message_id <> '' AND remittance_amount IS NOT NULL").
		Group("remittance_message_id").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "list_remittance_groups", err)
	}

	groups := make([]models.RemittanceGroup, 0, len(rows))
	for _, r := range rows {
		total, err := parseDecimal(r.TotalAmount)
		if err != nil {
			return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "list_remittance_groups", err).
				WithContext("message_id", r.MessageID)
		}
		groups = append(groups, models.RemittanceGroup{
			MessageID:        r.MessageID,
			TotalAmount:      total,
			EarliestDate:     parseStoredTime(r.EarliestDate),
			SourceType:       r.SourceType,
			PayerDescription: r.PayerDescription,
			CodeCount:        r.CodeCount,
		})
	}
	return groups, nil
}

// parseDecimal reads a SQLite aggregate result back into a decimal. SQLite
// returns numeric aggregates as REAL, so the text form may carry a float
// tail; decimal parsing absorbs it.
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// Timestamp layouts the SQLite driver may have used to store a time.Time.
var storedTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseStoredTime reads an aggregate datetime expression back from SQLite,
// which returns it as bare text rather than a typed column.
func parseStoredTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// MatchReceivedPayment commits a payment-to-group link: marks the payment
// matched and cascades the funding leg onto every correlation code in the
// group, in one transaction. A payment that is already matched is rejected
// without mutation; the existing link must be unmatched first, otherwise
// the earlier cascade would be left dangling on the old group's records.
func (s *Store) MatchReceivedPayment(ctx context.Context, paymentID, groupID string, confidence float64, method, note string) error {
	if method != models.MatchMethodManual && method != models.MatchMethodAutoScore {
		return apperrors.ManualActionError(apperrors.CodeInvalidArgument,
			fmt.Sprintf("unknown match method %q", method))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.ReceivedPayment
		if err := tx.First(&payment, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("received payment", paymentID)
			}
			return err
		}
		if payment.MatchStatus == models.ReceivedMatched {
			return apperrors.ManualActionError(apperrors.CodeAlreadyMatched,
				fmt.Sprintf("payment %s is already matched to group %s; unmatch it first", paymentID, payment.MatchedGroupID)).
				WithContext("matched_group_id", payment.MatchedGroupID)
		}

		var records []models.ReconciliationRecord
		if err := tx.Where("remittance_message_id = ?", groupID).Find(&records).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return apperrors.NotFound("remittance group", groupID)
		}

		now := time.Now().UTC()
		notes := payment.Notes
		if note != "" {
			notes = appendNote(notes, note)
		}
		if err := tx.Model(&payment).Updates(map[string]interface{}{
			"match_status":     models.ReceivedMatched,
			"matched_group_id": groupID,
			"confidence":       confidence,
			"match_method":     method,
			"notes":            notes,
			"last_updated_at":  now,
		}).Error; err != nil {
			return err
		}

		// Fan-out: the whole group was funded by this one payment.
		date := payment.Date
		for i := range records {
			rec := &records[i]
			if err := tx.Model(rec).Updates(map[string]interface{}{
				"funding_payment_id": payment.ID,
				"funding_amount":     payment.Amount,
				"funding_date":       date,
				"last_updated_at":    now,
			}).Error; err != nil {
				return err
			}
			if err := tx.First(rec, "correlation_code = ?", rec.CorrelationCode).Error; err != nil {
				return err
			}
			if err := recomputeTx(tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := apperrors.AsTrackerError(err); ok {
			return err
		}
		return apperrors.StoreError(apperrors.CodeUpsertFailed, "match_received_payment", err).
			WithContext("payment_id", paymentID).
			WithContext("group_id", groupID)
	}
	return nil
}

// SuggestReceivedPayment records a below-threshold candidate link: the
// payment is marked suggested with a human-readable note, but no funding
// leg is written anywhere. Re-recording an unchanged suggestion is a no-op,
// so periodic matcher passes do not grow the notes column.
func (s *Store) SuggestReceivedPayment(ctx context.Context, paymentID string, confidence float64, note string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.ReceivedPayment
		if err := tx.First(&payment, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("received payment", paymentID)
			}
			return err
		}
		if payment.MatchStatus == models.ReceivedSuggested &&
			payment.Confidence == confidence &&
			strings.Contains(payment.Notes, note) {
			return nil
		}
		return tx.Model(&payment).Updates(map[string]interface{}{
			"match_status":    models.ReceivedSuggested,
			"confidence":      confidence,
			"notes":           appendNote(payment.Notes, note),
			"last_updated_at": time.Now().UTC(),
		}).Error
	})
	if err != nil {
		if _, ok := apperrors.AsTrackerError(err); ok {
			return err
		}
		return apperrors.StoreError(apperrors.CodeUpsertFailed, "suggest_received_payment", err).
			WithContext("payment_id", paymentID)
	}
	return nil
}

// UnmatchReceivedPayment reverses a committed link: clears the funding leg
// from every record the cascade touched, recomputes each, and returns the
// payment to unmatched.
func (s *Store) UnmatchReceivedPayment(ctx context.Context, paymentID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.ReceivedPayment
		if err := tx.First(&payment, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("received payment", paymentID)
			}
			return err
		}

		var records []models.ReconciliationRecord
		if err := tx.Where("funding_payment_id = ?", paymentID).Find(&records).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := range records {
			rec := &records[i]
			if err := tx.Model(rec).Updates(map[string]interface{}{
				"funding_payment_id": "",
				"funding_amount":     nil,
				"funding_date":       nil,
				"last_updated_at":    now,
			}).Error; err != nil {
				return err
			}
			if err := tx.First(rec, "correlation_code = ?", rec.CorrelationCode).Error; err != nil {
				return err
			}
			if err := recomputeTx(tx, rec); err != nil {
				return err
			}
		}

		return tx.Model(&payment).Updates(map[string]interface{}{
			"match_status":     models.ReceivedUnmatched,
			"matched_group_id": "",
			"confidence":       0.0,
			"match_method":     "",
			"last_updated_at":  now,
		}).Error
	})
	if err != nil {
		if _, ok := apperrors.AsTrackerError(err); ok {
			return err
		}
		return apperrors.StoreError(apperrors.CodeUpsertFailed, "unmatch_received_payment", err).
			WithContext("payment_id", paymentID)
	}
	return nil
}

// ListPayerAliases returns the operator-maintained alias table as a map of
// normalized alias to canonical name.
func (s *Store) ListPayerAliases(ctx context.Context) (map[string]string, error) {
	var aliases []models.PayerAlias
	if err := s.db.WithContext(ctx).Find(&aliases).Error; err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "list_payer_aliases", err)
	}
	out := make(map[string]string, len(aliases))
	for _, a := range aliases {
		out[a.Alias] = a.Canonical
	}
	return out, nil
}

// PutPayerAlias inserts or replaces one alias mapping. The alias key is
// stored in normalized form because similarity lookups run on normalized
// payer names; "bbdo usa, llc" and "BBDO USA" are the same key.
func (s *Store) PutPayerAlias(ctx context.Context, alias, canonical string) error {
	key := matcher.NormalizePayerName(alias)
	if key == "" {
		return apperrors.ManualActionError(apperrors.CodeInvalidArgument,
			fmt.Sprintf("alias %q normalizes to nothing", alias))
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "alias"}},
		DoUpdates: clause.AssignmentColumns([]string{"canonical"}),
	}).Create(&models.PayerAlias{Alias: key, Canonical: canonical}).Error
	if err != nil {
		return apperrors.StoreError(apperrors.CodeUpsertFailed, "put_payer_alias", err).
			WithContext("alias", alias)
	}
	return nil
}
