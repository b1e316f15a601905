// Package syncer orchestrates one fetch-normalize-upsert pass per upstream
// source, in fixed order, followed by a funding matcher pass. Sources run
// sequentially so two sources never interleave writes into a half-updated
// record. Each step is isolated: one source failing is recorded and the
// remaining steps still run.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"funding-recon-service/internal/feeds"
	"funding-recon-service/internal/matcher"
	"funding-recon-service/internal/models"
	"funding-recon-service/internal/store"
	apperrors "funding-recon-service/pkg/errors"
	"funding-recon-service/pkg/logger"
)

// Source names as persisted in sync state.
const (
	SourceRemittances = "remittances"
	SourceInvoices    = "invoices"
	SourceFunding     = "funding"
	SourcePayments    = "payments"
	SourceMatcher     = "matcher"
)

// Config controls the periodic trigger.
type Config struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultConfig returns the production cycle interval.
func DefaultConfig() *Config {
	return &Config{Interval: 5 * time.Minute}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	return nil
}

// Syncer runs reconciliation cycles against the store.
type Syncer struct {
	store      *store.Store
	remittance feeds.RemittanceSource
	invoices   feeds.InvoiceSource
	payments   feeds.PaymentsAPI
	matcher    *matcher.Matcher
	config     *Config
	log        logger.Logger

	// Guards against overlapping cycles regardless of trigger source.
	running sync.Mutex
}

// New wires a syncer. Any source may be nil; its step is skipped with a
// zero count, which keeps partial deployments (no payments API credentials
// yet) runnable.
func New(st *store.Store, remittance feeds.RemittanceSource, invoices feeds.InvoiceSource, payments feeds.PaymentsAPI, m *matcher.Matcher, config *Config, log logger.Logger) (*Syncer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.CodeInvalidArgument, "invalid syncer configuration")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Syncer{
		store:      st,
		remittance: remittance,
		invoices:   invoices,
		payments:   payments,
		matcher:    m,
		config:     config,
		log:        log.WithComponent("syncer"),
	}, nil
}

// SourceResult is one source's outcome within a cycle.
type SourceResult struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// CycleResult is the per-source outcome map of one cycle.
type CycleResult struct {
	CycleID    string                  `json:"cycle_id"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Sources    map[string]SourceResult `json:"sources"`
}

// ErrCycleInProgress reports a trigger rejected because a cycle is already
// running.
var ErrCycleInProgress = apperrors.ManualActionError(apperrors.CodeCycleInProgress,
	"a sync cycle is already running")

// RunCycle executes one full cycle. A concurrent call, manual or periodic,
// is rejected with ErrCycleInProgress rather than queued.
func (s *Syncer) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !s.running.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer s.running.Unlock()

	result := &CycleResult{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Sources:   make(map[string]SourceResult),
	}
	log := s.log.WithField("cycle_id", result.CycleID)
	log.Info("sync cycle started")

	steps := []struct {
		name string
		fn   func(context.Context) (int, error)
	}{
		{SourceRemittances, s.syncRemittances},
		{SourceInvoices, s.syncInvoices},
		{SourceFunding, s.syncFunding},
		{SourcePayments, s.syncPayments},
		{SourceMatcher, s.runMatcher},
	}
	for _, step := range steps {
		count, err := s.runStep(ctx, step.name, step.fn)
		sr := SourceResult{Count: count}
		if err != nil {
			sr.Error = apperrors.Summarize(err)
			log.WithError(err).WithField("source", step.name).Error("sync step failed")
		}
		result.Sources[step.name] = sr
		if stateErr := s.store.RecordSyncResult(ctx, step.name, count, err); stateErr != nil {
			log.WithError(stateErr).WithField("source", step.name).Error("recording sync state failed")
		}
	}

	result.FinishedAt = time.Now().UTC()
	log.WithField("duration", result.FinishedAt.Sub(result.StartedAt).String()).Info("sync cycle finished")
	return result, nil
}

// runStep isolates one source: errors and panics are contained so the
// remaining steps still run.
func (s *Syncer) runStep(ctx context.Context, name string, fn func(context.Context) (int, error)) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.CategoryInternal, apperrors.CodeUnexpectedError,
				fmt.Sprintf("panic in %s step: %v", name, r))
		}
	}()
	return fn(ctx)
}

func (s *Syncer) syncRemittances(ctx context.Context) (int, error) {
	if s.remittance == nil {
		return 0, nil
	}
	advices, err := s.remittance.FetchAdvices(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	skipped := 0
	for _, advice := range advices {
		for _, line := range advice.Lines {
			_, err := s.store.UpsertRemittance(ctx, line.CorrelationCode, models.RemittanceLeg{
				Amount:     line.Amount,
				Date:       advice.PaymentDate,
				SourceType: advice.SourceType,
				Payer:      advicePayer(advice),
				MessageID:  advice.MessageID,
			})
			if err != nil {
				if isLegData(err) {
					skipped++
					continue
				}
				return count, err
			}
			count++
		}
		skipped += advice.SkippedLines
	}
	if skipped > 0 {
		s.log.WithField("skipped", skipped).Warn("skipped malformed remittance lines")
	}
	return count, nil
}

func (s *Syncer) syncInvoices(ctx context.Context) (int, error) {
	if s.invoices == nil {
		return 0, nil
	}
	facts, err := s.invoices.FetchInvoices(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	skipped := 0
	for _, f := range facts {
		_, err := s.store.UpsertInvoice(ctx, f.CorrelationCode, models.InvoiceLeg{
			Amount:   f.Amount,
			Status:   f.Status,
			Tenant:   f.Tenant,
			BatchRef: f.BatchRef,
			Currency: f.Currency,
		})
		if err != nil {
			if isLegData(err) {
				skipped++
				continue
			}
			return count, err
		}
		count++
	}
	if skipped > 0 {
		s.log.WithField("skipped", skipped).Warn("skipped malformed invoice facts")
	}
	return count, nil
}

func (s *Syncer) syncFunding(ctx context.Context) (int, error) {
	if s.payments == nil {
		return 0, nil
	}
	receipts, err := s.payments.FetchReceivedPayments(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range receipts {
		if err := s.store.UpsertReceivedPayment(ctx, r); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Syncer) syncPayments(ctx context.Context) (int, error) {
	if s.payments == nil {
		return 0, nil
	}
	payments, err := s.payments.FetchPayments(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	skipped := 0
	for _, p := range payments {
		code := p.CorrelationCode()
		if code == "" {
			skipped++
			continue
		}
		_, err := s.store.UpsertPayment(ctx, code, models.PaymentLeg{
			Amount:           p.Amount,
			AccountID:        p.AccountID,
			Date:             p.Date,
			Currency:         p.Currency,
			Status:           p.Status,
			Recipient:        p.Recipient,
			RecipientCountry: p.RecipientCountry,
		})
		if err != nil {
			if isLegData(err) {
				skipped++
				continue
			}
			return count, err
		}
		count++
	}
	if skipped > 0 {
		s.log.WithField("skipped", skipped).Warn("skipped outbound payments without correlation codes")
	}
	return count, nil
}

func (s *Syncer) runMatcher(ctx context.Context) (int, error) {
	if s.matcher == nil {
		return 0, nil
	}
	result, err := s.matcher.Run(ctx)
	if err != nil {
		return 0, err
	}
	return result.AutoMatched + result.Suggested, nil
}

// Run triggers a cycle immediately and then on every tick until the
// context is cancelled. A tick that finds a cycle still running is skipped.
func (s *Syncer) Run(ctx context.Context) error {
	if _, err := s.RunCycle(ctx); err != nil && err != ErrCycleInProgress {
		s.log.WithError(err).Error("initial sync cycle failed")
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunCycle(ctx); err != nil {
				if err == ErrCycleInProgress {
					s.log.Warn("skipping tick, previous cycle still running")
					continue
				}
				s.log.WithError(err).Error("periodic sync cycle failed")
			}
		}
	}
}

// advicePayer prefers the payer extracted from the message, falling back
// to the advice's account number so grouping still has a descriptor.
func advicePayer(advice feeds.RemittanceAdvice) string {
	if advice.Payer != "" {
		return advice.Payer
	}
	return advice.AccountNumber
}

func isLegData(err error) bool {
	te, ok := apperrors.AsTrackerError(err)
	return ok && te.Category == apperrors.CategoryLegData
}
