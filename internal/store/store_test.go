package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"funding-recon-service/internal/models"
	apperrors "funding-recon-service/pkg/errors"
	"funding-recon-service/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", logger.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestUpsertCreatesAndRecomputes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.UpsertRemittance(ctx, "acme.INV-1", models.RemittanceLeg{
		Amount:     d(1000),
		Date:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		SourceType: "email",
		Payer:      "BBDO",
		MessageID:  "msg-1",
	})
	if err != nil {
		t.Fatalf("upsert remittance: %v", err)
	}
	if rec.MatchStatus != models.StatusRemittanceOnly {
		t.Errorf("after remittance upsert status = %s, want remittance_only", rec.MatchStatus)
	}

	rec, err = s.UpsertInvoice(ctx, "acme.INV-1", models.InvoiceLeg{
		Amount: d(1000), Status: "open", Tenant: "acme", Currency: "USD",
	})
	if err != nil {
		t.Fatalf("upsert invoice: %v", err)
	}
	if rec.MatchStatus != models.Status2WayMatched {
		t.Errorf("after invoice upsert status = %s, want 2way_matched", rec.MatchStatus)
	}
	if !rec.HasRemittance() {
		t.Error("invoice upsert must not clobber the remittance leg")
	}
}

func TestUpsertReplacesLegWhole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRemittance(ctx, "acme.INV-2", models.RemittanceLeg{
		Amount: d(500), Date: time.Now(), SourceType: "email", Payer: "OLD CO", MessageID: "msg-old",
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	rec, err := s.UpsertRemittance(ctx, "acme.INV-2", models.RemittanceLeg{
		Amount: d(750), Date: time.Now(), SourceType: "sftp", MessageID: "msg-new",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !rec.RemittanceAmount.Decimal.Equal(d(750)) {
		t.Errorf("amount = %s, want 750", rec.RemittanceAmount.Decimal)
	}
	if rec.RemittancePayer != "" {
		t.Errorf("payer = %q, want empty: legs are replaced whole, never merged", rec.RemittancePayer)
	}
	if rec.RemittanceMessageID != "msg-new" {
		t.Errorf("message id = %q, want msg-new", rec.RemittanceMessageID)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRecord(context.Background(), "nope")
	if !apperrors.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestQueueOrderingAndExclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// full_4way
	mustUpsertFull(t, s, "t.full", 100, 100, date)
	// amount_mismatch
	if _, err := s.UpsertRemittance(ctx, "t.mismatch", models.RemittanceLeg{Amount: d(100), Date: date, MessageID: "m1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertInvoice(ctx, "t.mismatch", models.InvoiceLeg{Amount: d(150), Tenant: "t"}); err != nil {
		t.Fatal(err)
	}
	// remittance_only
	if _, err := s.UpsertRemittance(ctx, "t.remit", models.RemittanceLeg{Amount: d(50), Date: date, MessageID: "m2"}); err != nil {
		t.Fatal(err)
	}
	// resolved, must never appear
	if _, err := s.UpsertRemittance(ctx, "t.resolved", models.RemittanceLeg{Amount: d(10), Date: date, MessageID: "m3"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Resolve(ctx, "t.resolved", "ops", "written off"); err != nil {
		t.Fatal(err)
	}

	records, total, err := s.ListQueue(ctx, Filter{}, Sort{}, 10, 0)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	want := []string{"t.mismatch", "t.remit", "t.full"}
	for i, code := range want {
		if records[i].CorrelationCode != code {
			t.Errorf("position %d = %s, want %s", i, records[i].CorrelationCode, code)
		}
	}
}

func TestQueuePaginationTotal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Now()
	for _, code := range []string{"p.1", "p.2", "p.3", "p.4"} {
		if _, err := s.UpsertRemittance(ctx, code, models.RemittanceLeg{Amount: d(10), Date: date, MessageID: "m"}); err != nil {
			t.Fatal(err)
		}
	}
	records, total, err := s.ListQueue(ctx, Filter{}, Sort{Column: "correlation_code"}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4 regardless of limit", total)
	}
	if len(records) != 2 {
		t.Errorf("page size = %d, want 2", len(records))
	}
}

func TestQueueRejectsUnknownSortColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.UpsertRemittance(ctx, "q.1", models.RemittanceLeg{Amount: d(10), Date: time.Now(), MessageID: "m"}); err != nil {
		t.Fatal(err)
	}
	// A hostile column name must not reach ORDER BY.
	records, _, err := s.ListQueue(ctx, Filter{}, Sort{Column: "notes; DROP TABLE reconciliation_records"}, 10, 0)
	if err != nil {
		t.Fatalf("queue with unknown sort column: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
	if _, err := s.GetRecord(ctx, "q.1"); err != nil {
		t.Errorf("table should survive hostile sort input: %v", err)
	}
}

func TestFilterByTenantAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.UpsertInvoice(ctx, "f.a", models.InvoiceLeg{Amount: d(10), Tenant: "acme"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertInvoice(ctx, "f.b", models.InvoiceLeg{Amount: d(10), Tenant: "globex"}); err != nil {
		t.Fatal(err)
	}

	records, total, err := s.ListQueue(ctx, Filter{Tenant: "acme"}, Sort{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(records) != 1 || records[0].CorrelationCode != "f.a" {
		t.Errorf("tenant filter returned %v (total %d)", records, total)
	}

	records, _, err = s.ListQueue(ctx, Filter{Statuses: []models.MatchStatus{models.StatusInvoiceOnly}}, Sort{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("status filter returned %d records, want 2", len(records))
	}
}

func TestResolveReopen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.UpsertRemittance(ctx, "r.1", models.RemittanceLeg{Amount: d(10), Date: time.Now(), MessageID: "m"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Resolve(ctx, "r.1", "alice", "small residual"); err != nil {
		t.Fatal(err)
	}
	rec, err := s.GetRecord(ctx, "r.1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.MatchStatus != models.StatusResolved || rec.ResolvedBy != "alice" {
		t.Errorf("after resolve: status=%s by=%q", rec.MatchStatus, rec.ResolvedBy)
	}

	// Resolved is sticky across further upserts.
	rec, err = s.UpsertInvoice(ctx, "r.1", models.InvoiceLeg{Amount: d(10), Tenant: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.MatchStatus != models.StatusResolved {
		t.Errorf("after upsert on resolved record status = %s, want resolved", rec.MatchStatus)
	}
	if !rec.HasInvoice() {
		t.Error("legs must keep updating on a resolved record")
	}

	if err := s.Reopen(ctx, "r.1", "reopening for review"); err != nil {
		t.Fatal(err)
	}
	rec, err = s.GetRecord(ctx, "r.1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.MatchStatus != models.Status2WayMatched {
		t.Errorf("after reopen status = %s, want 2way_matched", rec.MatchStatus)
	}
}

func TestAppendNoteAndSetFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.UpsertRemittance(ctx, "n.1", models.RemittanceLeg{Amount: d(10), Date: time.Now(), MessageID: "m"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendNote(ctx, "n.1", "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendNote(ctx, "n.1", "second"); err != nil {
		t.Fatal(err)
	}
	rec, err := s.GetRecord(ctx, "n.1")
	if err != nil {
		t.Fatal(err)
	}
	if !containsLine(rec.Notes, "first") || !containsLine(rec.Notes, "second") {
		t.Errorf("notes missing appended lines: %q", rec.Notes)
	}

	if err := s.SetFlag(ctx, "n.1", models.OperatorFlagEscalated, "payer unresponsive"); err != nil {
		t.Fatal(err)
	}
	rec, _ = s.GetRecord(ctx, "n.1")
	if rec.Flag != models.OperatorFlagEscalated {
		t.Errorf("flag = %q, want escalated", rec.Flag)
	}
	if err := s.SetFlag(ctx, "n.1", models.OperatorFlag("bogus"), ""); err == nil {
		t.Error("invalid flag should be rejected")
	}
}

func TestAssociateCopiesLeg(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.UpsertInvoice(ctx, "a.donor", models.InvoiceLeg{Amount: d(99), Tenant: "acme", Currency: "USD"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertRemittance(ctx, "a.target", models.RemittanceLeg{Amount: d(99), Date: time.Now(), MessageID: "m"}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Associate(ctx, "a.target", "a.donor", models.LegInvoice, "same batch")
	if err != nil {
		t.Fatalf("associate: %v", err)
	}
	if rec.MatchStatus != models.Status2WayMatched {
		t.Errorf("target status = %s, want 2way_matched", rec.MatchStatus)
	}
	if rec.InvoiceTenant != "acme" {
		t.Errorf("tenant = %q, want acme", rec.InvoiceTenant)
	}
	stored, _ := s.GetRecord(ctx, "a.target")
	if !containsLine(stored.Notes, "associated invoice leg from a.donor") {
		t.Errorf("audit note missing: %q", stored.Notes)
	}

	// Donor without the requested leg is a manual-action error.
	if _, err := s.Associate(ctx, "a.target", "a.donor", models.LegPayment, ""); err == nil {
		t.Error("expected error copying absent leg")
	}
}

func TestMatchAndUnmatchCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	// Two codes share one remittance message: one group.
	for _, code := range []string{"g.1", "g.2"} {
		if _, err := s.UpsertRemittance(ctx, code, models.RemittanceLeg{
			Amount: d(500), Date: date, Payer: "BBDO", MessageID: "msg-group",
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.UpsertInvoice(ctx, code, models.InvoiceLeg{Amount: d(500), Tenant: "acme"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpsertReceivedPayment(ctx, models.ReceivedPayment{
		ID: "pay-1", Amount: d(1000), Currency: "USD", Date: date, PayerName: "BBDO USA LLC",
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.MatchReceivedPayment(ctx, "pay-1", "msg-group", 0.93, models.MatchMethodAutoScore, "auto matched"); err != nil {
		t.Fatalf("match: %v", err)
	}

	for _, code := range []string{"g.1", "g.2"} {
		rec, err := s.GetRecord(ctx, code)
		if err != nil {
			t.Fatal(err)
		}
		if rec.FundingPaymentID != "pay-1" {
			t.Errorf("%s funding id = %q, want pay-1", code, rec.FundingPaymentID)
		}
		if rec.MatchStatus != models.Status3WayAwaitingPayment {
			t.Errorf("%s status = %s, want 3way_awaiting_payment", code, rec.MatchStatus)
		}
	}
	p, err := s.GetReceivedPayment(ctx, "pay-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.MatchStatus != models.ReceivedMatched || p.MatchedGroupID != "msg-group" {
		t.Errorf("payment after match: status=%s group=%q", p.MatchStatus, p.MatchedGroupID)
	}

	if err := s.UnmatchReceivedPayment(ctx, "pay-1"); err != nil {
		t.Fatalf("unmatch: %v", err)
	}
	for _, code := range []string{"g.1", "g.2"} {
		rec, _ := s.GetRecord(ctx, code)
		if rec.HasFunding() {
			t.Errorf("%s still has funding after unmatch", code)
		}
		if rec.MatchStatus != models.Status2WayMatched {
			t.Errorf("%s status = %s, want 2way_matched after unmatch", code, rec.MatchStatus)
		}
	}
	p, _ = s.GetReceivedPayment(ctx, "pay-1")
	if p.MatchStatus != models.ReceivedUnmatched || p.MatchedGroupID != "" {
		t.Errorf("payment after unmatch: status=%s group=%q", p.MatchStatus, p.MatchedGroupID)
	}
}

func TestReceivedPaymentRefreshPreservesLinkage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Now()
	if _, err := s.UpsertRemittance(ctx, "l.1", models.RemittanceLeg{Amount: d(100), Date: date, MessageID: "msg-l"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertReceivedPayment(ctx, models.ReceivedPayment{ID: "pay-l", Amount: d(100), Date: date}); err != nil {
		t.Fatal(err)
	}
	if err := s.MatchReceivedPayment(ctx, "pay-l", "msg-l", 1.0, models.MatchMethodManual, ""); err != nil {
		t.Fatal(err)
	}

	// A re-sync of the same payment must not wipe the link.
	if err := s.UpsertReceivedPayment(ctx, models.ReceivedPayment{ID: "pay-l", Amount: d(100), Date: date, Status: "settled"}); err != nil {
		t.Fatal(err)
	}
	p, err := s.GetReceivedPayment(ctx, "pay-l")
	if err != nil {
		t.Fatal(err)
	}
	if p.MatchStatus != models.ReceivedMatched || p.MatchedGroupID != "msg-l" {
		t.Errorf("refresh wiped linkage: status=%s group=%q", p.MatchStatus, p.MatchedGroupID)
	}
	if p.Status != "settled" {
		t.Errorf("refresh should update bank fields, status = %q", p.Status)
	}
}

func TestRemittanceGroups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	if _, err := s.UpsertRemittance(ctx, "rg.1", models.RemittanceLeg{Amount: d(600), Date: d2, Payer: "BBDO", MessageID: "msg-a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertRemittance(ctx, "rg.2", models.RemittanceLeg{Amount: d(400), Date: d1, Payer: "BBDO", MessageID: "msg-a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertRemittance(ctx, "rg.3", models.RemittanceLeg{Amount: d(75), Date: d1, Payer: "GLOBEX", MessageID: "msg-b"}); err != nil {
		t.Fatal(err)
	}

	groups, err := s.ListRemittanceGroups(ctx)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	byID := map[string]models.RemittanceGroup{}
	for _, g := range groups {
		byID[g.MessageID] = g
	}
	a := byID["msg-a"]
	if !a.TotalAmount.Equal(d(1000)) {
		t.Errorf("msg-a total = %s, want 1000", a.TotalAmount)
	}
	if a.CodeCount != 2 {
		t.Errorf("msg-a code count = %d, want 2", a.CodeCount)
	}
	if a.EarliestDate == nil || !a.EarliestDate.Equal(d1) {
		t.Errorf("msg-a earliest date = %v, want %v", a.EarliestDate, d1)
	}
	if a.PayerDescription != "BBDO" {
		t.Errorf("msg-a payer = %q, want BBDO", a.PayerDescription)
	}
}

func TestSummaryAndSyncState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.UpsertRemittance(ctx, "s.1", models.RemittanceLeg{Amount: d(10), Date: time.Now(), MessageID: "m"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertReceivedPayment(ctx, models.ReceivedPayment{ID: "s.pay", Amount: d(10), Date: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSyncResult(ctx, "invoices", 0, apperrors.New(apperrors.CategoryConnectivity, apperrors.CodeTimeout, "tenant db unreachable")); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSyncResult(ctx, "remittances", 1, nil); err != nil {
		t.Fatal(err)
	}

	sum, err := s.GetSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalRecords != 1 || sum.Unresolved != 1 {
		t.Errorf("totals = %d/%d, want 1/1", sum.TotalRecords, sum.Unresolved)
	}
	if sum.ByStatus[models.StatusRemittanceOnly] != 1 {
		t.Errorf("by_status = %v", sum.ByStatus)
	}
	if sum.ReceivedUnmatched != 1 {
		t.Errorf("received unmatched = %d, want 1", sum.ReceivedUnmatched)
	}
	if len(sum.SyncStates) != 2 {
		t.Fatalf("sync states = %d, want 2", len(sum.SyncStates))
	}
	for _, st := range sum.SyncStates {
		switch st.Source {
		case "invoices":
			if st.Status == "ok" {
				t.Error("invoices sync state should carry the error")
			}
		case "remittances":
			if st.Status != "ok" || st.LastCount != 1 {
				t.Errorf("remittances state = %q count %d", st.Status, st.LastCount)
			}
		}
	}
}

func TestPayerAliases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.PutPayerAlias(ctx, "BBDO USA", "OMNICOM"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutPayerAlias(ctx, "BBDO USA", "OMNICOM GROUP"); err != nil {
		t.Fatal(err)
	}
	aliases, err := s.ListPayerAliases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if aliases["BBDO USA"] != "OMNICOM GROUP" {
		t.Errorf("alias = %q, want OMNICOM GROUP", aliases["BBDO USA"])
	}
}

func TestPutPayerAliasNormalizesKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// The raw operator input and its normalized form are the same key.
	if err := s.PutPayerAlias(ctx, "bbdo usa, llc.", "OMNICOM"); err != nil {
		t.Fatal(err)
	}
	aliases, err := s.ListPayerAliases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if aliases["BBDO USA"] != "OMNICOM" {
		t.Errorf("aliases = %v, want key BBDO USA mapped to OMNICOM", aliases)
	}
	if _, ok := aliases["bbdo usa, llc."]; ok {
		t.Error("raw alias form should not be stored as its own key")
	}

	if err := s.PutPayerAlias(ctx, "llc", "OMNICOM"); err == nil {
		t.Error("an alias that normalizes to nothing should be rejected")
	}
}

func TestSuggestReceivedPaymentIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	if err := s.UpsertReceivedPayment(ctx, models.ReceivedPayment{
		ID: "pay-1", Amount: d(970), Currency: "USD", Date: date, PayerName: "BBDO",
	}); err != nil {
		t.Fatal(err)
	}

	note := "possible funding for remittance group msg-1 (score 0.70)"
	for i := 0; i < 5; i++ {
		if err := s.SuggestReceivedPayment(ctx, "pay-1", 0.70, note); err != nil {
			t.Fatalf("suggest pass %d: %v", i, err)
		}
	}

	p, err := s.GetReceivedPayment(ctx, "pay-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.MatchStatus != models.ReceivedSuggested || p.Confidence != 0.70 {
		t.Errorf("payment after suggests: status=%s confidence=%v", p.MatchStatus, p.Confidence)
	}
	if got := strings.Count(p.Notes, "possible funding for remittance group msg-1"); got != 1 {
		t.Errorf("suggestion note recorded %d times, want once:\n%s", got, p.Notes)
	}

	// A changed suggestion still lands as a new note line.
	if err := s.SuggestReceivedPayment(ctx, "pay-1", 0.74, "possible funding for remittance group msg-2 (score 0.74)"); err != nil {
		t.Fatal(err)
	}
	p, _ = s.GetReceivedPayment(ctx, "pay-1")
	if p.Confidence != 0.74 {
		t.Errorf("confidence = %v, want updated 0.74", p.Confidence)
	}
	if !containsLine(p.Notes, "msg-1") || !containsLine(p.Notes, "msg-2") {
		t.Errorf("notes should keep both suggestions:\n%s", p.Notes)
	}
}

func TestRematchRequiresUnmatchFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	for code, msg := range map[string]string{"a.1": "grp-A", "b.1": "grp-B"} {
		if _, err := s.UpsertRemittance(ctx, code, models.RemittanceLeg{
			Amount: d(1000), Date: date, Payer: "BBDO", MessageID: msg,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpsertReceivedPayment(ctx, models.ReceivedPayment{
		ID: "pay-1", Amount: d(1000), Currency: "USD", Date: date, PayerName: "BBDO",
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.MatchReceivedPayment(ctx, "pay-1", "grp-A", 0.9, models.MatchMethodManual, ""); err != nil {
		t.Fatalf("first match: %v", err)
	}

	err := s.MatchReceivedPayment(ctx, "pay-1", "grp-B", 1.0, models.MatchMethodManual, "")
	if err == nil {
		t.Fatal("re-matching a matched payment should be rejected")
	}
	te, ok := apperrors.AsTrackerError(err)
	if !ok || te.Code != apperrors.CodeAlreadyMatched {
		t.Errorf("error = %v, want code %s", err, apperrors.CodeAlreadyMatched)
	}

	// No partial mutation: the payment keeps its original link and grp-B
	// was never touched.
	p, _ := s.GetReceivedPayment(ctx, "pay-1")
	if p.MatchedGroupID != "grp-A" {
		t.Errorf("matched group = %q, want grp-A", p.MatchedGroupID)
	}
	recB, _ := s.GetRecord(ctx, "b.1")
	if recB.HasFunding() {
		t.Error("grp-B record gained a funding leg from a rejected re-match")
	}

	// Unmatch then re-match moves the link cleanly.
	if err := s.UnmatchReceivedPayment(ctx, "pay-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.MatchReceivedPayment(ctx, "pay-1", "grp-B", 1.0, models.MatchMethodManual, ""); err != nil {
		t.Fatalf("re-match after unmatch: %v", err)
	}
	recA, _ := s.GetRecord(ctx, "a.1")
	recB, _ = s.GetRecord(ctx, "b.1")
	if recA.HasFunding() {
		t.Error("grp-A record kept its funding leg after the link moved")
	}
	if recB.FundingPaymentID != "pay-1" {
		t.Errorf("grp-B funding id = %q, want pay-1", recB.FundingPaymentID)
	}
}

func mustUpsertFull(t *testing.T, s *Store, code string, remit, invoice float64, date time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.UpsertRemittance(ctx, code, models.RemittanceLeg{Amount: d(remit), Date: date, MessageID: "m-" + code}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertInvoice(ctx, code, models.InvoiceLeg{Amount: d(invoice), Tenant: "t"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertPayment(ctx, code, models.PaymentLeg{Amount: d(invoice), Date: date}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertFunding(ctx, code, models.FundingLeg{ReceivedPaymentID: "pay-" + code, Amount: d(remit), Date: date}); err != nil {
		t.Fatal(err)
	}
}

func containsLine(notes, substr string) bool {
	return strings.Contains(notes, substr)
}
