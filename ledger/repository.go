package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the owner has no balance row.
	ErrNotFound = errors.New("ledger: balance does not exist")
	// ErrInsufficientFunds signals a debit larger than the balance.
	ErrInsufficientFunds = errors.New("ledger: overdrawn balance")
	// ErrBadAmount signals a non-positive movement amount.
	ErrBadAmount = errors.New("ledger: amount must be positive")
)

// Repository mutates per-owner balances. Credit and Debit take the caller's
// transaction so balance movements commit or roll back together with the
// case and pool mutations they belong to.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Credit adds amount to the owner's balance, creating the row if absent.
func (r *Repository) Credit(ctx context.Context, tx pgx.Tx, ownerID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrBadAmount, amount)
	}

	const query = `
		INSERT INTO ledger_accounts (owner_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (owner_id)
		DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance,
		              updated_at = now()
	`
	if _, err := tx.Exec(ctx, query, ownerID, amount); err != nil {
		return fmt.Errorf("ledger: credit %s: %w", ownerID, err)
	}
	return nil
}

// Debit removes amount from the owner's balance. A balance that reaches zero
// has its row deleted; no zero-valued rows persist.
func (r *Repository) Debit(ctx context.Context, tx pgx.Tx, ownerID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrBadAmount, amount)
	}

	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE owner_id = $1 FOR UPDATE`, ownerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ledger: debit lock %s: %w", ownerID, err)
	}
	if balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, balance, amount)
	}

	if balance == amount {
		if _, err := tx.Exec(ctx, `DELETE FROM ledger_accounts WHERE owner_id = $1`, ownerID); err != nil {
			return fmt.Errorf("ledger: debit delete %s: %w", ownerID, err)
		}
		return nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ledger_accounts SET balance = balance - $2, updated_at = now() WHERE owner_id = $1`,
		ownerID, amount); err != nil {
		return fmt.Errorf("ledger: debit update %s: %w", ownerID, err)
	}
	return nil
}

// Balance reads the owner's current balance; zero if no row exists.
func (r *Repository) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE owner_id = $1`, ownerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: balance %s: %w", ownerID, err)
	}
	return balance, nil
}
