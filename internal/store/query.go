package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"funding-recon-service/internal/models"
	apperrors "funding-recon-service/pkg/errors"
)

// Filter is the typed predicate set for record queries. Zero values mean
// "no restriction". Predicates combine with AND.
type Filter struct {
	Statuses []models.MatchStatus
	Tenant   string
	Flag     *models.OperatorFlag
	Search   string
	From     *time.Time
	To       *time.Time
}

// Sort picks the secondary ordering of a query. Only allow-listed columns
// are accepted; anything else falls back to the default. Never interpolate
// caller input into ORDER BY.
type Sort struct {
	Column string
	Desc   bool
}

// sortColumns is the fixed allow-list of ORDER BY columns.
var sortColumns = map[string]string{
	"correlation_code":  "correlation_code",
	"match_status":      "match_status",
	"invoice_tenant":    "invoice_tenant",
	"remittance_amount": "remittance_amount",
	"invoice_amount":    "invoice_amount",
	"payment_amount":    "payment_amount",
	"funding_amount":    "funding_amount",
	"first_seen_at":     "first_seen_at",
	"last_updated_at":   "last_updated_at",
}

// orderClause resolves a Sort against the allow-list. Unknown columns are
// ignored in favor of the default rather than rejected, so a stale caller
// cannot break the queue.
func (srt Sort) orderClause() string {
	col, ok := sortColumns[srt.Column]
	if !ok {
		col = "last_updated_at"
		srt.Desc = true
	}
	dir := "ASC"
	if srt.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s", col, dir)
}

// severityOrder builds the DB-side CASE expression implementing the queue's
// fixed severity ranking. Built from the same table the Go ranking uses; the
// interpolated values are compile-time status constants, not caller input.
func severityOrder() string {
	var b strings.Builder
	b.WriteString("CASE match_status")
	for _, s := range models.QueueStatuses() {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", s, s.QueueRank())
	}
	b.WriteString(" ELSE 99 END")
	return b.String()
}

func (f Filter) apply(q *gorm.DB) *gorm.DB {
	if len(f.Statuses) > 0 {
		q = q.Where("match_status IN ?", f.Statuses)
	}
	if f.Tenant != "" {
		q = q.Where("invoice_tenant = ?", f.Tenant)
	}
	if f.Flag != nil {
		q = q.Where("flag = ?", *f.Flag)
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		q = q.Where("correlation_code LIKE ? OR payment_recipient LIKE ? OR notes LIKE ?", pattern, pattern, pattern)
	}
	if f.From != nil {
		q = q.Where("last_updated_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("last_updated_at <= ?", *f.To)
	}
	return q
}

// ListQueue returns unresolved records ordered by severity rank then the
// caller's secondary sort, plus the total count independent of the page
// limit. Resolved records never appear.
func (s *Store) ListQueue(ctx context.Context, f Filter, srt Sort, limit, offset int) ([]models.ReconciliationRecord, int64, error) {
	base := f.apply(s.db.WithContext(ctx).Model(&models.ReconciliationRecord{}).
		Where("resolved_at IS NULL")).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, apperrors.StoreError(apperrors.CodeQueryFailed, "list_queue_count", err)
	}

	var records []models.ReconciliationRecord
	q := base.Order(severityOrder()).Order(srt.orderClause())
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, 0, apperrors.StoreError(apperrors.CodeQueryFailed, "list_queue", err)
	}
	return records, total, nil
}

// ListRecords returns records matching the filter without the queue's
// unresolved restriction or severity ordering, plus the total count.
func (s *Store) ListRecords(ctx context.Context, f Filter, srt Sort, limit, offset int) ([]models.ReconciliationRecord, int64, error) {
	base := f.apply(s.db.WithContext(ctx).Model(&models.ReconciliationRecord{})).
		Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, apperrors.StoreError(apperrors.CodeQueryFailed, "list_records_count", err)
	}

	var records []models.ReconciliationRecord
	q := base.Order(srt.orderClause())
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, 0, apperrors.StoreError(apperrors.CodeQueryFailed, "list_records", err)
	}
	return records, total, nil
}

// Summary is the dashboard aggregate over the whole store.
type Summary struct {
	TotalRecords      int64                        `json:"total_records"`
	ByStatus          map[models.MatchStatus]int64 `json:"by_status"`
	Unresolved        int64                        `json:"unresolved"`
	Flagged           int64                        `json:"flagged"`
	ReceivedUnmatched int64                        `json:"received_unmatched"`
	SyncStates        []models.SyncState           `json:"sync_states"`
}

// GetSummary computes the store-wide dashboard summary.
func (s *Store) GetSummary(ctx context.Context) (*Summary, error) {
	out := &Summary{ByStatus: make(map[models.MatchStatus]int64)}
	db := s.db.WithContext(ctx)

	type statusCount struct {
		MatchStatus models.MatchStatus
		N           int64
	}
	var counts []statusCount
	if err := db.Model(&models.ReconciliationRecord{}).
		Select("match_status, COUNT(*) AS n").
		Group("match_status").
		Scan(&counts).Error; err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "summary_status", err)
	}
	for _, c := range counts {
		out.ByStatus[c.MatchStatus] = c.N
		out.TotalRecords += c.N
		if c.MatchStatus != models.StatusResolved {
			out.Unresolved += c.N
		}
	}

	if err := db.Model(&models.ReconciliationRecord{}).
		Where("flag <> ''").
		Count(&out.Flagged).Error; err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "summary_flagged", err)
	}

	if err := db.Model(&models.ReceivedPayment{}).
		Where("match_status = ?", models.ReceivedUnmatched).
		Count(&out.ReceivedUnmatched).Error; err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "summary_received", err)
	}

	states, err := s.ListSyncStates(ctx)
	if err != nil {
		return nil, err
	}
	out.SyncStates = states
	return out, nil
}

// RecordSyncResult writes one source's cycle outcome into sync state. A nil
// error stores "ok"; otherwise the summarized error string.
func (s *Store) RecordSyncResult(ctx context.Context, source string, count int, syncErr error) error {
	now := time.Now().UTC()
	status := "ok"
	if syncErr != nil {
		status = "error: " + apperrors.Summarize(syncErr)
	}
	state := models.SyncState{
		Source:     source,
		LastSyncAt: &now,
		LastCount:  count,
		Status:     status,
	}
	err := s.db.WithContext(ctx).Save(&state).Error
	if err != nil {
		return apperrors.StoreError(apperrors.CodeUpsertFailed, "record_sync_result", err).
			WithContext("source", source)
	}
	return nil
}

// ListSyncStates returns the per-source sync observations, sorted by source.
func (s *Store) ListSyncStates(ctx context.Context) ([]models.SyncState, error) {
	var states []models.SyncState
	if err := s.db.WithContext(ctx).Order("source ASC").Find(&states).Error; err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "list_sync_states", err)
	}
	return states, nil
}
