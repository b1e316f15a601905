// Package suggest finds candidate records an operator may want to
// associate with an incomplete record. It is a recall-favoring heuristic:
// its output only feeds the manual associate action, never an automatic
// leg merge.
package suggest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"funding-recon-service/internal/embed"
	"funding-recon-service/internal/models"
	"funding-recon-service/internal/store"
	"funding-recon-service/pkg/logger"
)

// Confidence and window constants of the heuristic.
const (
	baseConfidence   = 0.7
	tenantBonus      = 0.15
	prefixConfidence = 0.5
	amountWindow     = 0.01 // relative, ±1%
	maxSuggestions   = 5
)

// Store is the slice of the reconciliation store the engine needs.
type Store interface {
	GetRecord(ctx context.Context, code string) (*models.ReconciliationRecord, error)
	ListRecords(ctx context.Context, f store.Filter, srt store.Sort, limit, offset int) ([]models.ReconciliationRecord, int64, error)
}

// Suggestion is one ranked association candidate.
type Suggestion struct {
	CorrelationCode string         `json:"correlation_code"`
	LegKind         models.LegKind `json:"leg_kind"`
	Confidence      float64        `json:"confidence"`
	Reason          string         `json:"reason"`
}

// Engine ranks association candidates for incomplete records.
type Engine struct {
	store    Store
	embedder embed.Embedder
	log      logger.Logger
}

// New builds a suggestion engine. The embedder is optional; when present it
// only breaks confidence ties, never changes a confidence.
func New(st Store, embedder embed.Embedder, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{store: st, embedder: embedder, log: log.WithComponent("suggest")}
}

// ForRecord returns up to five candidates for the record's missing legs,
// sorted by descending confidence.
func (e *Engine) ForRecord(ctx context.Context, code string) ([]Suggestion, error) {
	rec, err := e.store.GetRecord(ctx, code)
	if err != nil {
		return nil, err
	}

	missing := missingLegs(rec)
	if len(missing) == 0 && !needsPrefixSearch(rec) {
		return nil, nil
	}

	candidates, _, err := e.store.ListRecords(ctx, store.Filter{}, store.Sort{Column: "correlation_code"}, 0, 0)
	if err != nil {
		return nil, err
	}

	byCode := map[string]Suggestion{}
	add := func(s Suggestion) {
		if prev, ok := byCode[s.CorrelationCode]; ok && prev.Confidence >= s.Confidence {
			return
		}
		byCode[s.CorrelationCode] = s
	}

	anchors := presentAmounts(rec)
	tenant := tenantOf(rec)
	for i := range candidates {
		cand := &candidates[i]
		if cand.CorrelationCode == rec.CorrelationCode {
			continue
		}
		for _, kind := range missing {
			amount, ok := legAmount(cand, kind)
			if !ok {
				continue
			}
			anchor, ok := withinWindow(amount, anchors)
			if !ok {
				continue
			}
			conf := baseConfidence
			reason := fmt.Sprintf("%s amount %s within 1%% of %s", kind, amount, anchor)
			if tenant != "" && tenant == tenantOf(cand) {
				conf += tenantBonus
				reason += ", same tenant"
			}
			add(Suggestion{
				CorrelationCode: cand.CorrelationCode,
				LegKind:         kind,
				Confidence:      conf,
				Reason:          reason,
			})
		}
	}

	// Prefix similarity on correlation codes, at fixed low confidence.
	if prefix := codePrefix(rec.CorrelationCode); prefix != "" {
		for i := range candidates {
			cand := &candidates[i]
			if cand.CorrelationCode == rec.CorrelationCode {
				continue
			}
			if strings.HasPrefix(cand.CorrelationCode, prefix) {
				add(Suggestion{
					CorrelationCode: cand.CorrelationCode,
					Confidence:      prefixConfidence,
					Reason:          fmt.Sprintf("correlation code shares prefix %q", prefix),
				})
			}
		}
	}

	out := make([]Suggestion, 0, len(byCode))
	for _, s := range byCode {
		out = append(out, s)
	}
	e.rank(ctx, rec, out)
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out, nil
}

// rank sorts by descending confidence. When an embedder is wired, ties are
// broken by payer/recipient text similarity; otherwise by code.
func (e *Engine) rank(ctx context.Context, rec *models.ReconciliationRecord, suggestions []Suggestion) {
	sims := map[string]float64{}
	if e.embedder != nil {
		if anchor, err := e.embedder.Embed(ctx, descriptor(rec)); err == nil {
			for _, s := range suggestions {
				if cand, err := e.store.GetRecord(ctx, s.CorrelationCode); err == nil {
					if v, err := e.embedder.Embed(ctx, descriptor(cand)); err == nil {
						sims[s.CorrelationCode] = embed.Cosine(anchor, v)
					}
				}
			}
		}
	}
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		si, sj := sims[suggestions[i].CorrelationCode], sims[suggestions[j].CorrelationCode]
		if si != sj {
			return si > sj
		}
		return suggestions[i].CorrelationCode < suggestions[j].CorrelationCode
	})
}

func missingLegs(rec *models.ReconciliationRecord) []models.LegKind {
	var missing []models.LegKind
	if !rec.HasRemittance() {
		missing = append(missing, models.LegRemittance)
	}
	if !rec.HasInvoice() {
		missing = append(missing, models.LegInvoice)
	}
	if !rec.HasPayment() {
		missing = append(missing, models.LegPayment)
	}
	if !rec.HasFunding() {
		missing = append(missing, models.LegFunding)
	}
	return missing
}

func needsPrefixSearch(rec *models.ReconciliationRecord) bool {
	return codePrefix(rec.CorrelationCode) != ""
}

// codePrefix strips the last two characters so near-miss codes ("INV-101"
// vs "INV-10B") still collide.
func codePrefix(code string) string {
	if len(code) <= 2 {
		return ""
	}
	return code[:len(code)-2]
}

func presentAmounts(rec *models.ReconciliationRecord) []decimal.Decimal {
	var amounts []decimal.Decimal
	for _, nd := range []decimal.NullDecimal{rec.RemittanceAmount, rec.InvoiceAmount, rec.PaymentAmount, rec.FundingAmount} {
		if nd.Valid {
			amounts = append(amounts, nd.Decimal)
		}
	}
	return amounts
}

func legAmount(rec *models.ReconciliationRecord, kind models.LegKind) (decimal.Decimal, bool) {
	switch kind {
	case models.LegRemittance:
		return rec.RemittanceAmount.Decimal, rec.HasRemittance()
	case models.LegInvoice:
		return rec.InvoiceAmount.Decimal, rec.HasInvoice()
	case models.LegPayment:
		return rec.PaymentAmount.Decimal, rec.HasPayment()
	case models.LegFunding:
		return rec.FundingAmount.Decimal, rec.FundingAmount.Valid
	}
	return decimal.Zero, false
}

// withinWindow reports whether the amount lies within the relative window
// of any anchor, returning the first anchor that admits it.
func withinWindow(amount decimal.Decimal, anchors []decimal.Decimal) (decimal.Decimal, bool) {
	for _, anchor := range anchors {
		if anchor.IsZero() {
			continue
		}
		rel, _ := amount.Sub(anchor).Abs().Div(anchor.Abs()).Float64()
		if rel <= amountWindow {
			return anchor, true
		}
	}
	return decimal.Zero, false
}

// tenantOf resolves the record's tenant: the invoice leg's tenant when
// present, else the correlation code's tenant prefix ("{tenant}.{code}").
func tenantOf(rec *models.ReconciliationRecord) string {
	if rec.InvoiceTenant != "" {
		return rec.InvoiceTenant
	}
	if i := strings.IndexByte(rec.CorrelationCode, '.'); i > 0 {
		return rec.CorrelationCode[:i]
	}
	return ""
}

// descriptor is the text embedded for optional similarity ranking.
func descriptor(rec *models.ReconciliationRecord) string {
	parts := []string{rec.CorrelationCode}
	if rec.RemittancePayer != "" {
		parts = append(parts, rec.RemittancePayer)
	}
	if rec.PaymentRecipient != "" {
		parts = append(parts, rec.PaymentRecipient)
	}
	return strings.Join(parts, " ")
}
