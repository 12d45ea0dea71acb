package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenTransferrer is the external value-transfer collaborator. The engine
// only calls it to push queued payouts out to the owner's external account.
// Delivery is at-least-once; the memo carries the payout id so the receiving
// side can deduplicate a redelivery.
type TokenTransferrer interface {
	Transfer(ctx context.Context, from, to string, amount int64, memo string) error
}

// EngineAccount is the "from" identity quoted on outbound transfers.
const EngineAccount = "arbflow.escrow"

// OutboxTopicPayout marks queued withdrawal transfers in the outbox.
const OutboxTopicPayout = "ledger.payout"

// Service exposes owner-facing ledger operations.
type Service struct {
	pool     *pgxpool.Pool
	repo     *Repository
	transfer TokenTransferrer
}

// NewService builds a ledger service around the repository and the external
// transfer collaborator.
func NewService(pool *pgxpool.Pool, repo *Repository, transfer TokenTransferrer) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	return &Service{pool: pool, repo: repo, transfer: transfer}
}

// Withdraw removes the owner's full balance and queues the external payout
// in the same transaction. The transfer itself runs from ProcessPayouts:
// keeping the external call out of this transaction means a commit failure
// can never strand a sent transfer against a surviving balance row.
// Owner-authorized: callers must pass the acting identity, which has to be
// the owner itself.
func (s *Service) Withdraw(ctx context.Context, actorID, ownerID string) (int64, error) {
	if actorID != ownerID {
		return 0, fmt.Errorf("ledger: withdraw: only the owner may withdraw")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE owner_id = $1 FOR UPDATE`, ownerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ledger: withdraw lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM ledger_accounts WHERE owner_id = $1`, ownerID); err != nil {
		return 0, fmt.Errorf("ledger: withdraw delete: %w", err)
	}

	payload, err := json.Marshal(map[string]any{"owner_id": ownerID, "amount": balance})
	if err != nil {
		return 0, fmt.Errorf("ledger: marshal payout: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`, OutboxTopicPayout, payload); err != nil {
		return 0, fmt.Errorf("ledger: queue payout: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ledger: commit withdraw: %w", err)
	}
	return balance, nil
}

// ProcessPayouts drains up to batch queued payouts through the transfer
// collaborator. Rows are claimed with SKIP LOCKED so concurrent workers
// never pick the same payout; a rejected transfer bumps attempts and stays
// pending for the next run. Returns the number of payouts delivered.
func (s *Service) ProcessPayouts(ctx context.Context, batch int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, payload->>'owner_id', (payload->>'amount')::bigint
		FROM outbox
		WHERE topic = $1 AND status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, OutboxTopicPayout, batch)
	if err != nil {
		return 0, fmt.Errorf("ledger: claim payouts: %w", err)
	}
	type payout struct {
		id      string
		ownerID string
		amount  int64
	}
	var claimed []payout
	for rows.Next() {
		var p payout
		if err := rows.Scan(&p.id, &p.ownerID, &p.amount); err != nil {
			rows.Close()
			return 0, fmt.Errorf("ledger: scan payout: %w", err)
		}
		claimed = append(claimed, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("ledger: read payouts: %w", err)
	}

	sent := 0
	for _, p := range claimed {
		if err := s.transfer.Transfer(ctx, EngineAccount, p.ownerID, p.amount, "arbitration payout "+p.id); err != nil {
			if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`, p.id); err != nil {
				return sent, fmt.Errorf("ledger: record payout attempt: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed' WHERE id = $1`, p.id); err != nil {
			return sent, fmt.Errorf("ledger: mark payout processed: %w", err)
		}
		sent++
	}

	if err := tx.Commit(ctx); err != nil {
		return sent, fmt.Errorf("ledger: commit payouts: %w", err)
	}
	return sent, nil
}

// Balance reports the owner's withdrawable balance.
func (s *Service) Balance(ctx context.Context, ownerID string) (int64, error) {
	return s.repo.Balance(ctx, ownerID)
}
