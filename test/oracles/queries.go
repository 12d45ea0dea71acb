package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant oracles. Each query selects VIOLATIONS: a clean
// database returns zero rows from every one of them.
func All() []Oracle {
	return []Oracle{
		{
			// The reserved pool must equal, to the unit, the sum of escrow
			// held against cases between fee payment and release.
			Name: "O1_reserved_pool_conservation",
			SQL: `SELECT ec.reserved_funds, held.total FROM engine_config ec,
                  LATERAL (SELECT COALESCE(SUM(fee_paid + arbitrator_cost), 0) AS total
                           FROM casefiles
                           WHERE status IN ('awaiting_arbs','arbs_assigned','investigation','decision')) held
                  WHERE ec.reserved_funds <> held.total`,
		},
		{
			Name: "O2_single_accepted_offer",
			SQL: `SELECT case_id, COUNT(*) FROM offers
                  WHERE status = 'accepted'
                  GROUP BY case_id HAVING COUNT(*) > 1`,
		},
		{
			// An accepted offer closes the bidding: no pending siblings.
			Name: "O3_no_pending_after_acceptance",
			SQL: `SELECT p.case_id, p.id FROM offers p
                  WHERE p.status = 'pending'
                    AND EXISTS (SELECT 1 FROM offers a
                                WHERE a.case_id = p.case_id AND a.status = 'accepted')`,
		},
		{
			// Terminal cases never stay in an arbitrator's open bucket.
			Name: "O4_open_bucket_not_terminal",
			SQL: `SELECT ac.arbitrator_id, ac.case_id, c.status FROM arbitrator_cases ac
                  JOIN casefiles c ON c.id = ac.case_id
                  WHERE ac.bucket = 'open'
                    AND c.status IN ('resolved','dismissed','cancelled','mistrial')`,
		},
		{
			// A ruling implies every claim settled: nothing past investigation
			// may carry a filed or responded claim.
			Name: "O5_claims_settled_before_ruling",
			SQL: `SELECT c.id, cl.id, cl.status FROM casefiles c
                  JOIN claims cl ON cl.case_id = c.id
                  WHERE c.status IN ('decision','enforcement','resolved')
                    AND cl.status IN ('filed','responded')`,
		},
		{
			Name: "O6_ruling_present_after_decision",
			SQL: `SELECT id, status FROM casefiles
                  WHERE status IN ('decision','enforcement','resolved') AND ruling_link = ''`,
		},
		{
			// Balance rows are deleted at zero, never persisted at or below it.
			Name: "O7_no_empty_ledger_rows",
			SQL:  `SELECT owner_id, balance FROM ledger_accounts WHERE balance <= 0`,
		},
		{
			Name: "O8_event_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT case_id, seq,
                             LAG(seq) OVER (PARTITION BY case_id ORDER BY seq) AS prev
                      FROM case_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O9_claim_counter_consistent",
			SQL: `SELECT c.id, c.number_claims, x.n FROM casefiles c,
                  LATERAL (SELECT COUNT(*) AS n FROM claims WHERE case_id = c.id) x
                  WHERE c.number_claims <> x.n`,
		},
		{
			Name: "O10_offer_counter_consistent",
			SQL: `SELECT c.id, c.number_offers, x.n FROM casefiles c,
                  LATERAL (SELECT COUNT(*) AS n FROM offers WHERE case_id = c.id) x
                  WHERE c.number_offers <> x.n`,
		},
		{
			Name: "O11_schema_guards_installed",
			SQL: `SELECT 'missing_delete_guard' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_casefiles')
                  UNION ALL
                  SELECT 'missing_terminal_guard'
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'terminal_casefiles')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
