package offer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals an unknown offer.
	ErrNotFound = errors.New("offer: not found")
	// ErrBadStatus signals the offer is no longer pending.
	ErrBadStatus = errors.New("offer: not pending")
	// ErrDuplicate signals the arbitrator already has a pending offer on the case.
	ErrDuplicate = errors.New("offer: pending offer already exists for this case")
)

// Repository persists offers. Tx-scoped methods compose into the case state
// machine's accept path so sibling rejection rides the same transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed offer repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const offerColumns = `id, case_id, arbitrator_id::text, estimated_hours, hourly_rate, status::text, created_at, updated_at`

// GetPendingForUpdate locks a pending offer for the caller's transaction.
func (r *Repository) GetPendingForUpdate(ctx context.Context, tx pgx.Tx, caseID, offerID int64) (Offer, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+offerColumns+` FROM offers
		WHERE id = $1 AND case_id = $2
		FOR UPDATE
	`, offerID, caseID)
	o, err := scanOffer(row)
	if err != nil {
		return Offer{}, err
	}
	if o.Status != StatusPending {
		return Offer{}, fmt.Errorf("%w: offer %d is %s", ErrBadStatus, o.ID, o.Status)
	}
	return o, nil
}

// Accept marks one offer accepted.
func (r *Repository) Accept(ctx context.Context, tx pgx.Tx, offerID int64) error {
	if _, err := tx.Exec(ctx, `
		UPDATE offers SET status = 'accepted', updated_at = now() WHERE id = $1
	`, offerID); err != nil {
		return fmt.Errorf("offer: accept %d: %w", offerID, err)
	}
	return nil
}

// Reject marks one offer rejected.
func (r *Repository) Reject(ctx context.Context, tx pgx.Tx, offerID int64) error {
	if _, err := tx.Exec(ctx, `
		UPDATE offers SET status = 'rejected', updated_at = now() WHERE id = $1
	`, offerID); err != nil {
		return fmt.Errorf("offer: reject %d: %w", offerID, err)
	}
	return nil
}

// RejectSiblings rejects every other pending offer on the case. The case_id
// index keeps this proportional to the sibling count.
func (r *Repository) RejectSiblings(ctx context.Context, tx pgx.Tx, caseID, acceptedID int64) error {
	if _, err := tx.Exec(ctx, `
		UPDATE offers SET status = 'rejected', updated_at = now()
		WHERE case_id = $1 AND id <> $2 AND status = 'pending'
	`, caseID, acceptedID); err != nil {
		return fmt.Errorf("offer: reject siblings of %d: %w", acceptedID, err)
	}
	return nil
}

// ListByCase returns every offer filed against the case.
func (r *Repository) ListByCase(ctx context.Context, caseID int64) ([]Offer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+offerColumns+` FROM offers WHERE case_id = $1 ORDER BY id
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("offer: list by case: %w", err)
	}
	defer rows.Close()

	out := make([]Offer, 0, 8)
	for rows.Next() {
		var o Offer
		if err := rows.Scan(&o.ID, &o.CaseID, &o.ArbitratorID, &o.EstimatedHours, &o.HourlyRate, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("offer: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate: %w", err)
	}
	return out, nil
}

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	err := row.Scan(&o.ID, &o.CaseID, &o.ArbitratorID, &o.EstimatedHours, &o.HourlyRate, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: scan: %w", err)
	}
	return o, nil
}
