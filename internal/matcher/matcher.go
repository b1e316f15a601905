package matcher

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"funding-recon-service/internal/models"
	apperrors "funding-recon-service/pkg/errors"
	"funding-recon-service/pkg/logger"
)

// Store is the slice of the reconciliation store the matcher needs.
type Store interface {
	ListUnmatchedReceivedPayments(ctx context.Context) ([]models.ReceivedPayment, error)
	ListRemittanceGroups(ctx context.Context) ([]models.RemittanceGroup, error)
	ListPayerAliases(ctx context.Context) (map[string]string, error)
	MatchReceivedPayment(ctx context.Context, paymentID, groupID string, confidence float64, method, note string) error
	SuggestReceivedPayment(ctx context.Context, paymentID string, confidence float64, note string) error
}

// Matcher links inbound funding payments to remittance groups.
type Matcher struct {
	store  Store
	config *Config
	log    logger.Logger
}

// New builds a matcher. A nil config uses DefaultConfig.
func New(store Store, config *Config, log logger.Logger) (*Matcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.CodeInvalidArgument, "invalid matcher configuration")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Matcher{store: store, config: config.Clone(), log: log.WithComponent("matcher")}, nil
}

// Result summarizes one matcher pass.
type Result struct {
	Scanned     int `json:"scanned"`
	AutoMatched int `json:"auto_matched"`
	Suggested   int `json:"suggested"`
}

// Run scores every non-matched received payment against every remittance
// group and commits or suggests links per the thresholds. Already-matched
// payments are excluded from candidate selection, so re-running is
// idempotent.
func (m *Matcher) Run(ctx context.Context) (*Result, error) {
	payments, err := m.store.ListUnmatchedReceivedPayments(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := m.store.ListRemittanceGroups(ctx)
	if err != nil {
		return nil, err
	}
	aliases, err := m.store.ListPayerAliases(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{Scanned: len(payments)}
	if len(payments) == 0 || len(groups) == 0 {
		return result, nil
	}

	for _, p := range payments {
		best, score := m.bestGroup(p, groups, aliases)
		if best == nil || score < m.config.SuggestThreshold {
			continue
		}

		if score >= m.config.AutoMatchThreshold {
			note := fmt.Sprintf("auto-matched to remittance group %s (score %.2f, %d codes)",
				best.MessageID, score, best.CodeCount)
			if err := m.store.MatchReceivedPayment(ctx, p.ID, best.MessageID, score, models.MatchMethodAutoScore, note); err != nil {
				return nil, err
			}
			result.AutoMatched++
			m.log.WithFields(logger.Fields{
				"payment_id": p.ID,
				"group_id":   best.MessageID,
				"score":      score,
			}).Info("auto-matched received payment")
			continue
		}

		note := fmt.Sprintf("possible funding for remittance group %s (score %.2f): group total %s, payer %q",
			best.MessageID, score, best.TotalAmount, best.PayerDescription)
		if err := m.store.SuggestReceivedPayment(ctx, p.ID, score, note); err != nil {
			return nil, err
		}
		result.Suggested++
		m.log.WithFields(logger.Fields{
			"payment_id": p.ID,
			"group_id":   best.MessageID,
			"score":      score,
		}).Debug("suggested received payment match")
	}

	m.log.WithFields(logger.Fields{
		"scanned":      result.Scanned,
		"auto_matched": result.AutoMatched,
		"suggested":    result.Suggested,
	}).Info("funding matcher pass complete")
	return result, nil
}

// bestGroup returns the highest-scoring group for a payment, or nil when
// no group scores above zero.
func (m *Matcher) bestGroup(p models.ReceivedPayment, groups []models.RemittanceGroup, aliases map[string]string) (*models.RemittanceGroup, float64) {
	var best *models.RemittanceGroup
	bestScore := 0.0
	for i := range groups {
		g := &groups[i]
		score := m.Score(p, *g, aliases)
		if score > bestScore {
			best = g
			bestScore = score
		}
	}
	return best, bestScore
}

// Score computes the weighted linkage score of one payment against one
// remittance group.
func (m *Matcher) Score(p models.ReceivedPayment, g models.RemittanceGroup, aliases map[string]string) float64 {
	score := m.amountScore(p.Amount, g.TotalAmount)
	score += m.dateScore(p.Date, g.EarliestDate)
	score += m.config.PayerWeight * m.payerScore(p, g, aliases)
	return score
}

// amountScore maps the relative amount difference onto banded fractions of
// the amount weight, so tuning the weight rescales every band. An exact
// (or near-exact) amount is the strongest single signal.
func (m *Matcher) amountScore(paid, expected decimal.Decimal) float64 {
	if expected.IsZero() {
		return 0
	}
	diff, _ := paid.Sub(expected).Abs().Div(expected.Abs()).Float64()
	switch {
	case diff <= 0.0001:
		return m.config.AmountWeight
	case diff <= 0.01:
		return m.config.AmountWeight * 0.7
	case diff <= 0.05:
		return m.config.AmountWeight * 0.3
	default:
		return 0
	}
}

// dateScore maps calendar-day distance onto banded fractions of the date
// weight.
func (m *Matcher) dateScore(paid time.Time, expected *time.Time) float64 {
	if expected == nil || paid.IsZero() {
		return 0
	}
	days := calendarDaysApart(paid, *expected)
	switch {
	case days == 0:
		return m.config.DateWeight
	case days <= 1:
		return m.config.DateWeight * 0.8
	case days <= 3:
		return m.config.DateWeight * 0.5
	case days <= 7:
		return m.config.DateWeight * 0.2
	default:
		return 0
	}
}

// payerScore compares the payment's best payer descriptor against the
// group's. The parsed payer name wins over the raw narrative when present.
func (m *Matcher) payerScore(p models.ReceivedPayment, g models.RemittanceGroup, aliases map[string]string) float64 {
	payer := p.PayerName
	if payer == "" {
		payer = p.RawPayerInfo
	}
	return PayerSimilarity(payer, g.PayerDescription, aliases)
}

func calendarDaysApart(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}
