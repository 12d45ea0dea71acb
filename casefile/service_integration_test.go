package casefile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"arbflow/arbitrator"
	"arbflow/auth"
	"arbflow/config"
	"arbflow/ledger"
	"arbflow/offer"
	"arbflow/oracle"
)

const testDoc = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

type caseHarness struct {
	pool       *pgxpool.Pool
	svc        *Service
	offers     *offer.Service
	adminID    string
	claimantID string
	respondID  string
	arbID      string
	fee        int64 // settlement units at the harness rate
}

// newCaseHarness connects to DATABASE_URL, seeds the four actors a case
// needs and wires the full service stack at a 1:2 reference-to-settlement
// rate. Skips the test when no live database is configured.
func newCaseHarness(ctx context.Context, t *testing.T) *caseHarness {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	t.Cleanup(pool.Close)

	var schemaReady bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass('casefiles') IS NOT NULL`).Scan(&schemaReady); err != nil || !schemaReady {
		t.Skip("database schema missing; apply migrations/001_init.sql first")
	}

	h := &caseHarness{pool: pool}
	seed := func(name, role string) string {
		var id string
		err := pool.QueryRow(ctx, `
			INSERT INTO users (email, full_name, password_hash, role)
			VALUES ($1, $2, 'x', $3) RETURNING id
		`, fmt.Sprintf("%s+%d@example.com", name, time.Now().UnixNano()), name, role).Scan(&id)
		if err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
		return id
	}
	h.adminID = seed("ada-admin", "admin")
	h.claimantID = seed("carol-claimant", "party")
	h.respondID = seed("rene-respondant", "party")
	h.arbID = seed("ames-arbitrator", "arbitrator")

	if _, err := pool.Exec(ctx, `
		INSERT INTO engine_config (admin_id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET admin_id = EXCLUDED.admin_id
	`, h.adminID); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO arbitrators (user_id, status, term_expiration, credentials_link)
		VALUES ($1, 'active', now() + interval '365 days', $2)
	`, h.arbID, testDoc); err != nil {
		t.Fatalf("seed arbitrator: %v", err)
	}

	rate, err := oracle.NewFixedRate(2, 1)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	cfgStore := config.NewStore(pool)
	led := ledger.NewRepository(pool)
	offerRepo := offer.NewRepository(pool)
	arbRepo := arbitrator.NewRepository(pool)

	h.svc = NewService(pool, nil, cfgStore, led, offerRepo, arbRepo, auth.NewRepository(pool), rate, nil).
		WithBallotNamer(func() string { return "abc123defghi" })
	h.offers = offer.NewService(pool, offerRepo)

	conf, err := cfgStore.Get(ctx)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	h.fee, err = rate.ToSettlement(ctx, conf.FeeAmount)
	if err != nil {
		t.Fatalf("convert fee: %v", err)
	}
	return h
}

func (h *caseHarness) fund(ctx context.Context, t *testing.T, ownerID string, amount int64) {
	t.Helper()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin fund tx: %v", err)
	}
	defer tx.Rollback(ctx)
	if err := ledger.NewRepository(h.pool).Credit(ctx, tx, ownerID, amount); err != nil {
		t.Fatalf("fund %s: %v", ownerID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit fund tx: %v", err)
	}
}

func (h *caseHarness) balance(ctx context.Context, t *testing.T, ownerID string) int64 {
	t.Helper()
	bal, err := ledger.NewRepository(h.pool).Balance(ctx, ownerID)
	if err != nil {
		t.Fatalf("balance %s: %v", ownerID, err)
	}
	return bal
}

func (h *caseHarness) pools(ctx context.Context, t *testing.T) (reserved, available int64) {
	t.Helper()
	if err := h.pool.QueryRow(ctx, `
		SELECT reserved_funds, available_funds FROM engine_config
	`).Scan(&reserved, &available); err != nil {
		t.Fatalf("read pools: %v", err)
	}
	return reserved, available
}

// TestCaseLifecycle_Integration walks one case from filing through a
// validated ruling and checks every fund movement along the way.
func TestCaseLifecycle_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	h := newCaseHarness(ctx, t)

	h.fund(ctx, t, h.claimantID, 10_000_000)
	reserved0, available0 := h.pools(ctx, t)

	c, err := h.svc.FileCase(ctx, h.claimantID, &h.respondID, testDoc, CategoryContractBreach)
	if err != nil {
		t.Fatalf("fileCase: %v", err)
	}
	if c.Status != StatusSetup || c.NumberClaims != 1 {
		t.Fatalf("unexpected fresh case: %+v", c)
	}

	second, err := h.svc.AddClaim(ctx, h.claimantID, c.ID, "QmPZ9gcCEpqKTo6aq61g2nXGUhM4iCL3ewB6LDXZCtioEB", CategoryMisc)
	if err != nil {
		t.Fatalf("addClaim: %v", err)
	}

	// Only the claimant can ready the case.
	if err := h.svc.ReadyCase(ctx, h.respondID, c.ID); err == nil {
		t.Fatal("readyCase by non-claimant should fail")
	}
	if err := h.svc.ReadyCase(ctx, h.claimantID, c.ID); err != nil {
		t.Fatalf("readyCase: %v", err)
	}

	reserved1, _ := h.pools(ctx, t)
	if reserved1-reserved0 != h.fee {
		t.Fatalf("reserved moved %d on ready, want %d", reserved1-reserved0, h.fee)
	}
	if got := h.balance(ctx, t, h.claimantID); got != 10_000_000-h.fee {
		t.Fatalf("claimant balance %d after ready, want %d", got, 10_000_000-h.fee)
	}

	o, err := h.offers.Submit(ctx, h.arbID, c.ID, 10, 50_000)
	if err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	// 10h x 50000 reference at 2/1 = 1000000 settlement units.
	const cost = 1_000_000
	if err := h.svc.RespondOffer(ctx, h.claimantID, c.ID, o.ID, true); err != nil {
		t.Fatalf("accept offer: %v", err)
	}

	reserved2, _ := h.pools(ctx, t)
	if reserved2-reserved1 != cost {
		t.Fatalf("reserved moved %d on acceptance, want %d", reserved2-reserved1, cost)
	}
	c, err = h.svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("reload case: %v", err)
	}
	if c.Status != StatusArbsAssigned || !c.Assigned(h.arbID) || c.ArbitratorCost != cost {
		t.Fatalf("unexpected case after acceptance: %+v", c)
	}

	if err := h.svc.StartCase(ctx, h.arbID, c.ID, 7, "transaction history"); err != nil {
		t.Fatalf("startCase: %v", err)
	}
	claims, err := h.svc.Claims(ctx, c.ID)
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	for _, cl := range claims {
		if !cl.ResponseInfoNeeded || cl.RespondantLimitTime == nil {
			t.Fatalf("claim %d missing response request after start", cl.ID)
		}
		if err := h.svc.Respond(ctx, h.respondID, c.ID, cl.ID, testDoc); err != nil {
			t.Fatalf("respond to claim %d: %v", cl.ID, err)
		}
	}

	// The arbitrator asks the claimant for more detail on the second claim;
	// answering clears the request so settlement is not deadline-gated.
	if err := h.svc.ReviewClaim(ctx, h.arbID, c.ID, second.ID, true, "chain of custody", 3, false, "", 0); err != nil {
		t.Fatalf("reviewClaim: %v", err)
	}
	if err := h.svc.UpdateClaim(ctx, h.claimantID, c.ID, second.ID, "QmbWqxBEKC3P8tqsKc98xmWNzrzDtRLMiMPL8wBuTGsMnR"); err != nil {
		t.Fatalf("updateClaim: %v", err)
	}

	// Ruling cannot land while claims are unsettled.
	if err := h.svc.SetRuling(ctx, h.arbID, c.ID, testDoc); err == nil {
		t.Fatal("setRuling with open claims should fail")
	}
	for i, cl := range claims {
		if err := h.svc.SettleClaim(ctx, h.arbID, c.ID, cl.ID, i == 0, testDoc); err != nil {
			t.Fatalf("settleClaim %d: %v", cl.ID, err)
		}
	}
	if err := h.svc.SetRuling(ctx, h.arbID, c.ID, testDoc); err != nil {
		t.Fatalf("setRuling: %v", err)
	}

	var outboxCount int
	if err := h.pool.QueryRow(ctx, `
		SELECT count(*) FROM outbox
		WHERE topic = $1 AND payload->>'case_id' = $2::text
	`, OutboxTopicRulingReady, fmt.Sprint(c.ID)).Scan(&outboxCount); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outboxCount != 1 {
		t.Fatalf("expected one ruling_ready notification, got %d", outboxCount)
	}

	if err := h.svc.ValidateCase(ctx, h.arbID, c.ID, true); err == nil {
		t.Fatal("validateCase by non-admin should fail")
	}
	if err := h.svc.ValidateCase(ctx, h.adminID, c.ID, true); err != nil {
		t.Fatalf("validateCase: %v", err)
	}

	reserved3, available3 := h.pools(ctx, t)
	if reserved3 != reserved0 {
		t.Fatalf("reserved pool %d after validation, want %d", reserved3, reserved0)
	}
	if available3-available0 != h.fee {
		t.Fatalf("available pool moved %d, want %d", available3-available0, h.fee)
	}
	if got := h.balance(ctx, t, h.arbID); got != cost {
		t.Fatalf("arbitrator balance %d, want %d", got, cost)
	}

	if err := h.svc.CloseCase(ctx, h.adminID, c.ID); err != nil {
		t.Fatalf("closeCase: %v", err)
	}
	c, err = h.svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("reload closed case: %v", err)
	}
	if c.Status != StatusResolved {
		t.Fatalf("case status %s, want resolved", c.Status)
	}

	var bucket string
	if err := h.pool.QueryRow(ctx, `
		SELECT bucket::text FROM arbitrator_cases WHERE arbitrator_id = $1 AND case_id = $2
	`, h.arbID, c.ID).Scan(&bucket); err != nil {
		t.Fatalf("read bucket: %v", err)
	}
	if bucket != "closed" {
		t.Fatalf("arbitrator bucket %s, want closed", bucket)
	}

	// Terminal statuses are sealed at the schema too.
	if _, err := h.pool.Exec(ctx, `UPDATE casefiles SET status = 'setup' WHERE id = $1`, c.ID); err == nil {
		t.Fatal("terminal case accepted a status change")
	}
}

// TestCancelCase_Integration covers the fee routing on withdrawal: back to
// the claimant when nobody offered, kept by the engine otherwise.
func TestCancelCase_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	h := newCaseHarness(ctx, t)

	h.fund(ctx, t, h.claimantID, 2_000_000)
	_, available0 := h.pools(ctx, t)

	// No offers: full fee refund.
	c1, err := h.svc.FileCase(ctx, h.claimantID, nil, testDoc, CategoryTrxReversal)
	if err != nil {
		t.Fatalf("fileCase: %v", err)
	}
	if err := h.svc.ReadyCase(ctx, h.claimantID, c1.ID); err != nil {
		t.Fatalf("readyCase: %v", err)
	}
	if err := h.svc.CancelCase(ctx, h.claimantID, c1.ID); err != nil {
		t.Fatalf("cancelCase: %v", err)
	}
	if got := h.balance(ctx, t, h.claimantID); got != 2_000_000 {
		t.Fatalf("claimant balance %d after no-offer cancel, want full refund", got)
	}

	// One offer on file: the engine keeps the fee in the available pool.
	c2, err := h.svc.FileCase(ctx, h.claimantID, nil, testDoc, CategoryTrxReversal)
	if err != nil {
		t.Fatalf("fileCase: %v", err)
	}
	if err := h.svc.ReadyCase(ctx, h.claimantID, c2.ID); err != nil {
		t.Fatalf("readyCase: %v", err)
	}
	if _, err := h.offers.Submit(ctx, h.arbID, c2.ID, 5, 10_000); err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	if err := h.svc.CancelCase(ctx, h.claimantID, c2.ID); err != nil {
		t.Fatalf("cancelCase: %v", err)
	}
	if got := h.balance(ctx, t, h.claimantID); got != 2_000_000-h.fee {
		t.Fatalf("claimant balance %d after offered cancel, want %d", got, 2_000_000-h.fee)
	}
	_, available1 := h.pools(ctx, t)
	if available1-available0 != h.fee {
		t.Fatalf("available pool moved %d, want %d", available1-available0, h.fee)
	}
}

// TestRecusalAndDismissal_Integration covers the mistrial paths: a voluntary
// recusal and an admin dismissal sweeping open cases.
func TestRecusalAndDismissal_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	h := newCaseHarness(ctx, t)

	h.fund(ctx, t, h.claimantID, 20_000_000)

	seat := func(t *testing.T) CaseFile {
		t.Helper()
		c, err := h.svc.FileCase(ctx, h.claimantID, nil, testDoc, CategoryMisusedCrIP)
		if err != nil {
			t.Fatalf("fileCase: %v", err)
		}
		if err := h.svc.ReadyCase(ctx, h.claimantID, c.ID); err != nil {
			t.Fatalf("readyCase: %v", err)
		}
		o, err := h.offers.Submit(ctx, h.arbID, c.ID, 4, 25_000)
		if err != nil {
			t.Fatalf("submit offer: %v", err)
		}
		if err := h.svc.RespondOffer(ctx, h.claimantID, c.ID, o.ID, true); err != nil {
			t.Fatalf("accept offer: %v", err)
		}
		c, err = h.svc.Get(ctx, c.ID)
		if err != nil {
			t.Fatalf("reload case: %v", err)
		}
		return c
	}

	before := h.balance(ctx, t, h.claimantID)
	c := seat(t)
	if err := h.svc.Recuse(ctx, h.arbID, c.ID, "conflict of interest"); err != nil {
		t.Fatalf("recuse: %v", err)
	}
	c, err := h.svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("reload case: %v", err)
	}
	if c.Status != StatusMistrial {
		t.Fatalf("case status %s after recusal, want mistrial", c.Status)
	}
	if got := h.balance(ctx, t, h.claimantID); got != before {
		t.Fatalf("claimant balance %d after recusal, want %d back", got, before)
	}

	// Dismissal sweeps the arbitrator's remaining open cases into mistrials
	// with one aggregate pool decrement.
	before = h.balance(ctx, t, h.claimantID)
	c2 := seat(t)
	reserved0, _ := h.pools(ctx, t)
	if err := h.svc.DismissArbitrator(ctx, h.adminID, h.arbID, true); err != nil {
		t.Fatalf("dismissArbitrator: %v", err)
	}
	c2, err = h.svc.Get(ctx, c2.ID)
	if err != nil {
		t.Fatalf("reload case: %v", err)
	}
	if c2.Status != StatusMistrial {
		t.Fatalf("case status %s after dismissal, want mistrial", c2.Status)
	}
	if got := h.balance(ctx, t, h.claimantID); got != before {
		t.Fatalf("claimant balance %d after dismissal, want %d back", got, before)
	}
	reserved1, _ := h.pools(ctx, t)
	if reserved0-reserved1 != c2.Escrowed() {
		t.Fatalf("reserved pool dropped %d, want %d", reserved0-reserved1, c2.Escrowed())
	}

	var arbStatus string
	if err := h.pool.QueryRow(ctx, `SELECT status::text FROM arbitrators WHERE user_id = $1`, h.arbID).Scan(&arbStatus); err != nil {
		t.Fatalf("read arbitrator: %v", err)
	}
	if arbStatus != "removed" {
		t.Fatalf("arbitrator status %s, want removed", arbStatus)
	}
}

// TestClaimUpdateDuringInvestigation_Integration covers who may amend a
// claim once the investigation is open: a still-filed claim stays the
// claimant's to amend, a responded one seals until the arbitrator asks for
// more information.
func TestClaimUpdateDuringInvestigation_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	h := newCaseHarness(ctx, t)

	// A malformed respondant id reads as an unknown account, not a query
	// error.
	bad := "not-a-uuid"
	if _, err := h.svc.FileCase(ctx, h.claimantID, &bad, testDoc, CategoryContractBreach); !errors.Is(err, ErrNotFound) {
		t.Fatalf("fileCase with malformed respondant err = %v, want ErrNotFound", err)
	}

	h.fund(ctx, t, h.claimantID, 10_000_000)

	c, err := h.svc.FileCase(ctx, h.claimantID, &h.respondID, testDoc, CategoryContractBreach)
	if err != nil {
		t.Fatalf("fileCase: %v", err)
	}
	if err := h.svc.ReadyCase(ctx, h.claimantID, c.ID); err != nil {
		t.Fatalf("readyCase: %v", err)
	}
	o, err := h.offers.Submit(ctx, h.arbID, c.ID, 3, 20_000)
	if err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	if err := h.svc.RespondOffer(ctx, h.claimantID, c.ID, o.ID, true); err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	if err := h.svc.StartCase(ctx, h.arbID, c.ID, 7, "receipts"); err != nil {
		t.Fatalf("startCase: %v", err)
	}
	claims, err := h.svc.Claims(ctx, c.ID)
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	cl := claims[0]
	if cl.Status != ClaimFiled {
		t.Fatalf("claim status %s before response, want filed", cl.Status)
	}

	// No claimant information was requested, but the claim is still filed.
	if err := h.svc.UpdateClaim(ctx, h.claimantID, c.ID, cl.ID, "QmPZ9gcCEpqKTo6aq61g2nXGUhM4iCL3ewB6LDXZCtioEB"); err != nil {
		t.Fatalf("updateClaim on filed claim: %v", err)
	}

	if err := h.svc.Respond(ctx, h.respondID, c.ID, cl.ID, testDoc); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if err := h.svc.UpdateClaim(ctx, h.claimantID, c.ID, cl.ID, testDoc); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("updateClaim on responded claim err = %v, want ErrBadStatus", err)
	}
}

// TestClaimDeadlines_Integration drives the investigation clock: settlement
// stays blocked while an information request's window is open, a late
// response is rejected, and settlement lands once the window elapses.
func TestClaimDeadlines_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	h := newCaseHarness(ctx, t)

	base := time.Now()
	current := base
	h.svc.WithClock(func() time.Time { return current })

	h.fund(ctx, t, h.claimantID, 10_000_000)

	c, err := h.svc.FileCase(ctx, h.claimantID, &h.respondID, testDoc, CategoryContractBreach)
	if err != nil {
		t.Fatalf("fileCase: %v", err)
	}
	if err := h.svc.ReadyCase(ctx, h.claimantID, c.ID); err != nil {
		t.Fatalf("readyCase: %v", err)
	}
	o, err := h.offers.Submit(ctx, h.arbID, c.ID, 2, 10_000)
	if err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	if err := h.svc.RespondOffer(ctx, h.claimantID, c.ID, o.ID, true); err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	if err := h.svc.StartCase(ctx, h.arbID, c.ID, 7, "transaction history"); err != nil {
		t.Fatalf("startCase: %v", err)
	}
	claims, err := h.svc.Claims(ctx, c.ID)
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	cl := claims[0]

	// The respondant's seven-day window is open, so the claim cannot
	// settle yet.
	if err := h.svc.SettleClaim(ctx, h.arbID, c.ID, cl.ID, true, testDoc); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("settleClaim inside the window err = %v, want ErrBadStatus", err)
	}

	current = base.Add(8 * 24 * time.Hour)

	// The window has closed: the respondant is too late, the arbitrator
	// is free to settle.
	if err := h.svc.Respond(ctx, h.respondID, c.ID, cl.ID, testDoc); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("late respond err = %v, want ErrBadStatus", err)
	}
	if err := h.svc.SettleClaim(ctx, h.arbID, c.ID, cl.ID, false, testDoc); err != nil {
		t.Fatalf("settleClaim after the window: %v", err)
	}

	claims, err = h.svc.Claims(ctx, c.ID)
	if err != nil {
		t.Fatalf("reload claims: %v", err)
	}
	if claims[0].Status != ClaimDismissed {
		t.Fatalf("claim status %s after settlement, want dismissed", claims[0].Status)
	}
}
