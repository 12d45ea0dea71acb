package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotInitialized signals the engine config row does not exist yet.
	ErrNotInitialized = errors.New("config: engine not initialized")
	// ErrAlreadyInitialized signals a second init attempt.
	ErrAlreadyInitialized = errors.New("config: engine already initialized")
	// ErrForbidden signals a non-admin caller on an admin-only action.
	ErrForbidden = errors.New("config: admin authorization required")
	// ErrInvariant signals a pool adjustment that would drive a total
	// negative. Correct state-machine guards make it unreachable; hitting it
	// is a defect, not a recoverable condition.
	ErrInvariant = errors.New("config: escrow pool invariant violated")
)

// Store reads and mutates the singleton engine_config row. Pool adjustments
// take the caller's transaction: escrow movements always commit atomically
// with the case status change that caused them.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgxpool-backed config store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const configColumns = `admin_id::text, version, max_claims_per_case, fee_amount, reserved_funds, available_funds, arb_term_days, updated_at`

// Get reads the config outside any engine transaction.
func (s *Store) Get(ctx context.Context) (Config, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+configColumns+` FROM engine_config`)
	return scanConfig(row)
}

// GetForUpdate locks and reads the config inside tx. Every operation that
// touches the pools locks this row first, which also serializes escrow
// movement across concurrent submissions.
func (s *Store) GetForUpdate(ctx context.Context, tx pgx.Tx) (Config, error) {
	row := tx.QueryRow(ctx, `SELECT `+configColumns+` FROM engine_config FOR UPDATE`)
	return scanConfig(row)
}

// AdjustPools applies deltas to the two escrow pool totals in the caller's
// transaction. Either pool going negative is an invariant violation.
func (s *Store) AdjustPools(ctx context.Context, tx pgx.Tx, reservedDelta, availableDelta int64) error {
	var reserved, available int64
	err := tx.QueryRow(ctx, `
		UPDATE engine_config
		SET reserved_funds  = reserved_funds + $1,
		    available_funds = available_funds + $2,
		    updated_at      = now()
		RETURNING reserved_funds, available_funds
	`, reservedDelta, availableDelta).Scan(&reserved, &available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotInitialized
		}
		// The CHECK constraints reject negative totals before we see them.
		return fmt.Errorf("%w: adjust(%d, %d): %v", ErrInvariant, reservedDelta, availableDelta, err)
	}
	if reserved < 0 || available < 0 {
		return fmt.Errorf("%w: reserved=%d available=%d", ErrInvariant, reserved, available)
	}
	return nil
}

func scanConfig(row pgx.Row) (Config, error) {
	var c Config
	err := row.Scan(
		&c.AdminID,
		&c.Version,
		&c.MaxClaimsPerCase,
		&c.FeeAmount,
		&c.ReservedFunds,
		&c.AvailableFunds,
		&c.ArbTermDays,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotInitialized
		}
		return Config{}, fmt.Errorf("config: scan: %w", err)
	}
	return c, nil
}
