package arbitrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals an unknown arbitrator.
	ErrNotFound = errors.New("arbitrator: not found")
	// ErrForbidden signals the wrong actor for the operation.
	ErrForbidden = errors.New("arbitrator: forbidden")
	// ErrBadStatus signals an operation invalid for the current standing,
	// e.g. a removed arbitrator updating languages or an expired seat.
	ErrBadStatus = errors.New("arbitrator: invalid status for operation")
)

// Repository reads and mutates the arbitrator registry. Methods that take a
// pgx.Tx compose into engine operations owned by other services.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed registry repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const arbColumns = `user_id::text, status::text, term_expiration, credentials_link, languages, created_at, updated_at`

// Get fetches an arbitrator outside any transaction.
func (r *Repository) Get(ctx context.Context, arbID string) (Arbitrator, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+arbColumns+` FROM arbitrators WHERE user_id = $1`, arbID)
	return scanArb(row)
}

// GetForUpdate locks and fetches an arbitrator inside tx.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, arbID string) (Arbitrator, error) {
	row := tx.QueryRow(ctx, `SELECT `+arbColumns+` FROM arbitrators WHERE user_id = $1 FOR UPDATE`, arbID)
	return scanArb(row)
}

// TrackOpen records caseID in the arbitrator's open bucket.
func (r *Repository) TrackOpen(ctx context.Context, tx pgx.Tx, arbID string, caseID int64) error {
	const query = `
		INSERT INTO arbitrator_cases (arbitrator_id, case_id, bucket)
		VALUES ($1, $2, 'open')
		ON CONFLICT (arbitrator_id, case_id)
		DO UPDATE SET bucket = 'open', moved_at = now()
	`
	if _, err := tx.Exec(ctx, query, arbID, caseID); err != nil {
		return fmt.Errorf("arbitrator: track open case %d: %w", caseID, err)
	}
	return nil
}

// MoveCase relocates caseID into the given bucket for one arbitrator.
func (r *Repository) MoveCase(ctx context.Context, tx pgx.Tx, arbID string, caseID int64, bucket Bucket) error {
	tag, err := tx.Exec(ctx, `
		UPDATE arbitrator_cases
		SET bucket = $3, moved_at = now()
		WHERE arbitrator_id = $1 AND case_id = $2
	`, arbID, caseID, bucket)
	if err != nil {
		return fmt.Errorf("arbitrator: move case %d to %s: %w", caseID, bucket, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: case %d not tracked for arbitrator %s", ErrNotFound, caseID, arbID)
	}
	return nil
}

// OpenCaseIDs lists the arbitrator's open case ids, locked for the caller's
// transaction so a bulk recusal sees a stable set.
func (r *Repository) OpenCaseIDs(ctx context.Context, tx pgx.Tx, arbID string) ([]int64, error) {
	rows, err := tx.Query(ctx, `
		SELECT case_id FROM arbitrator_cases
		WHERE arbitrator_id = $1 AND bucket = 'open'
		ORDER BY case_id
		FOR UPDATE
	`, arbID)
	if err != nil {
		return nil, fmt.Errorf("arbitrator: open cases: %w", err)
	}
	defer rows.Close()

	out := make([]int64, 0, 8)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("arbitrator: scan open case: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("arbitrator: iterate open cases: %w", err)
	}
	return out, nil
}

// MarkRemoved flips the arbitrator to removed standing.
func (r *Repository) MarkRemoved(ctx context.Context, tx pgx.Tx, arbID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE arbitrators SET status = 'removed', updated_at = now() WHERE user_id = $1
	`, arbID)
	if err != nil {
		return fmt.Errorf("arbitrator: mark removed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveIDs lists all arbitrators that count toward the weighted authority:
// non-removed and inside their term.
func (r *Repository) ActiveIDs(ctx context.Context, tx pgx.Tx) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT user_id::text FROM arbitrators
		WHERE status <> 'removed' AND term_expiration > now()
		ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("arbitrator: active set: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("arbitrator: scan active: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("arbitrator: iterate active: %w", err)
	}
	return out, nil
}

func scanArb(row pgx.Row) (Arbitrator, error) {
	var a Arbitrator
	err := row.Scan(
		&a.UserID,
		&a.Status,
		&a.TermExpiration,
		&a.CredentialsLink,
		&a.Languages,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Arbitrator{}, ErrNotFound
		}
		return Arbitrator{}, fmt.Errorf("arbitrator: scan: %w", err)
	}
	return a, nil
}
