package actors

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"arbflow/casefile"
	"arbflow/offer"
)

// Deps bundles the services an actor drives. Actors call the real engine
// operations so every invariant oracle exercises production code paths, not
// test re-implementations.
type Deps struct {
	Pool   *pgxpool.Pool
	Cases  *casefile.Service
	Offers *offer.Service
}

const claimDoc = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

// Errors are expected under contention (wrong status, lost races, drained
// balances, chaos-killed backends); actors press on and let the oracles
// judge the database.

// Claimant files cases, readies them, and answers offers on its own cases.
func Claimant(ctx context.Context, d Deps, claimantID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		switch rand.Intn(4) {
		case 0:
			c, err := d.Cases.FileCase(ctx, claimantID, nil, claimDoc, 1+rand.Intn(14))
			if err == nil && rand.Intn(2) == 0 {
				_, _ = d.Cases.AddClaim(ctx, claimantID, c.ID,
					"QmPZ9gcCEpqKTo6aq61g2nXGUhM4iCL3ewB6LDXZCtioEB", 1+rand.Intn(14))
			}
		case 1:
			if id, ok := ownCase(ctx, d.Pool, claimantID, "setup"); ok {
				_ = d.Cases.ReadyCase(ctx, claimantID, id)
			}
		case 2:
			var offerID, caseID int64
			err := d.Pool.QueryRow(ctx, `
				SELECT o.id, o.case_id FROM offers o
				JOIN casefiles c ON c.id = o.case_id
				WHERE c.claimant_id = $1 AND c.status = 'awaiting_arbs' AND o.status = 'pending'
				LIMIT 1
			`, claimantID).Scan(&offerID, &caseID)
			if err == nil {
				accept := rand.Intn(10) < 7
				_ = d.Cases.RespondOffer(ctx, claimantID, caseID, offerID, accept)
			}
		case 3:
			if rand.Intn(5) == 0 {
				if id, ok := ownCase(ctx, d.Pool, claimantID, "awaiting_arbs"); ok {
					_ = d.Cases.CancelCase(ctx, claimantID, id)
				}
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Bidder submits rate offers on any case awaiting arbitrators.
func Bidder(ctx context.Context, d Deps, arbID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var caseID int64
		err := d.Pool.QueryRow(ctx, `
			SELECT c.id FROM casefiles c
			WHERE c.status = 'awaiting_arbs'
			  AND NOT EXISTS (SELECT 1 FROM offers o
			                  WHERE o.case_id = c.id AND o.arbitrator_id = $1 AND o.status = 'pending')
			ORDER BY c.id LIMIT 1
		`, arbID).Scan(&caseID)
		if err == nil {
			_, _ = d.Offers.Submit(ctx, arbID, caseID, int64(1+rand.Intn(5)), int64((1+rand.Intn(5))*10_000))
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Worker drives assigned cases through investigation to a ruling, with an
// occasional recusal thrown in.
func Worker(ctx context.Context, d Deps, arbID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var caseID int64
		var status string
		err := d.Pool.QueryRow(ctx, `
			SELECT c.id, c.status::text FROM casefiles c
			JOIN case_arbitrators ca ON ca.case_id = c.id
			WHERE ca.arbitrator_id = $1 AND c.status IN ('arbs_assigned','investigation')
			ORDER BY c.update_ts LIMIT 1
		`, arbID).Scan(&caseID, &status)
		if err == nil {
			if rand.Intn(20) == 0 {
				_ = d.Cases.Recuse(ctx, arbID, caseID, "stress recusal")
			} else {
				switch status {
				case "arbs_assigned":
					_ = d.Cases.StartCase(ctx, arbID, caseID, 0, "")
				case "investigation":
					settleOrRule(ctx, d, arbID, caseID)
				}
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

func settleOrRule(ctx context.Context, d Deps, arbID string, caseID int64) {
	var claimID int64
	err := d.Pool.QueryRow(ctx, `
		SELECT id FROM claims WHERE case_id = $1 AND status IN ('filed','responded') LIMIT 1
	`, caseID).Scan(&claimID)
	if err == nil {
		_ = d.Cases.SettleClaim(ctx, arbID, caseID, claimID, rand.Intn(2) == 0, claimDoc)
		return
	}
	_ = d.Cases.SetRuling(ctx, arbID, caseID, claimDoc)
}

// Validator plays the admin: validating staged rulings and closing enforced
// cases.
func Validator(ctx context.Context, d Deps, adminID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var caseID int64
		var status string
		err := d.Pool.QueryRow(ctx, `
			SELECT id, status::text FROM casefiles
			WHERE status IN ('decision','enforcement')
			ORDER BY update_ts LIMIT 1
		`).Scan(&caseID, &status)
		if err == nil {
			switch status {
			case "decision":
				_ = d.Cases.ValidateCase(ctx, adminID, caseID, rand.Intn(10) < 8)
			case "enforcement":
				_ = d.Cases.CloseCase(ctx, adminID, caseID)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Funder keeps claimant balances topped up so fee debits keep succeeding.
func Funder(ctx context.Context, pool *pgxpool.Pool, ownerIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		owner := ownerIDs[rand.Intn(len(ownerIDs))]
		_, _ = pool.Exec(ctx, `
			INSERT INTO ledger_accounts (owner_id, balance) VALUES ($1, $2)
			ON CONFLICT (owner_id) DO UPDATE
			SET balance = ledger_accounts.balance + EXCLUDED.balance, updated_at = now()
		`, owner, int64(5_000_000))
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending notifications with SKIP LOCKED, marking them
// processed or bumping attempts on simulated delivery failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `
			SELECT id FROM outbox WHERE status = 'pending'
			ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10
		`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status = 'processed' WHERE id = $1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

func ownCase(ctx context.Context, pool *pgxpool.Pool, claimantID, status string) (int64, bool) {
	var id int64
	err := pool.QueryRow(ctx, `
		SELECT id FROM casefiles WHERE claimant_id = $1 AND status = $2::case_status LIMIT 1
	`, claimantID, status).Scan(&id)
	return id, err == nil
}
