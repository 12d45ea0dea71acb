package casefile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals an unknown case or claim.
	ErrNotFound = errors.New("casefile: not found")
	// ErrForbidden signals the wrong actor for the operation.
	ErrForbidden = errors.New("casefile: forbidden")
	// ErrBadStatus signals the case or claim is in the wrong state.
	ErrBadStatus = errors.New("casefile: bad status")
	// ErrDuplicateClaim signals a claim with the same summary already exists
	// on the case.
	ErrDuplicateClaim = errors.New("casefile: duplicate claim summary")
	// ErrClaimLimit signals the case already holds the configured maximum
	// number of claims.
	ErrClaimLimit = errors.New("casefile: claim limit reached")
)

// Repository persists case files and their claims. Every mutating method is
// tx-scoped so the service can compose case, claim, offer, ledger and config
// writes into one transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed case repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const caseColumns = `id, status::text, claimant_id::text, respondant_id::text,
	ruling_link, number_claims, number_offers, fee_paid, arbitrator_cost,
	sending_offers_until, approvals::text[], update_ts, created_at`

const claimColumns = `id, case_id, status::text, claim_category, claim_summary,
	response_link, decision_link, claim_info_needed, claim_info_required,
	claimant_limit_time, response_info_needed, response_info_required,
	respondant_limit_time, created_at`

// Get reads a case without locking.
func (r *Repository) Get(ctx context.Context, caseID int64) (CaseFile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM casefiles WHERE id = $1`, caseID)
	c, err := scanCase(row)
	if err != nil {
		return CaseFile{}, err
	}
	c.Arbitrators, err = r.arbitratorIDs(ctx, r.pool, caseID)
	if err != nil {
		return CaseFile{}, err
	}
	return c, nil
}

// GetForUpdate locks a case row for the caller's transaction and loads its
// arbitrator list.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, caseID int64) (CaseFile, error) {
	row := tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM casefiles WHERE id = $1 FOR UPDATE`, caseID)
	c, err := scanCase(row)
	if err != nil {
		return CaseFile{}, err
	}
	c.Arbitrators, err = r.arbitratorIDs(ctx, tx, caseID)
	if err != nil {
		return CaseFile{}, err
	}
	return c, nil
}

// Create inserts a fresh case in setup.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, claimantID string, respondantID *string) (CaseFile, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO casefiles (claimant_id, respondant_id)
		VALUES ($1, $2)
		RETURNING `+caseColumns+`
	`, claimantID, respondantID)
	return scanCase(row)
}

// SetStatus moves the case to the given status. Callers guard the edge with
// CanTransition; the terminal trigger backs them up at the database.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, caseID int64, to Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE casefiles SET status = $2, update_ts = now() WHERE id = $1
	`, caseID, string(to))
	if err != nil {
		return fmt.Errorf("casefile: set status %s on %d: %w", to, caseID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("casefile: case %d: %w", caseID, ErrNotFound)
	}
	return nil
}

// Delete shreds a setup-stage case; the schema trigger rejects anything else.
func (r *Repository) Delete(ctx context.Context, tx pgx.Tx, caseID int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM casefiles WHERE id = $1`, caseID)
	if err != nil {
		return fmt.Errorf("casefile: delete %d: %w", caseID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("casefile: case %d: %w", caseID, ErrNotFound)
	}
	return nil
}

// AssignArbitrator records the arbitrator on the case's ordered list.
func (r *Repository) AssignArbitrator(ctx context.Context, tx pgx.Tx, caseID int64, arbID string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO case_arbitrators (case_id, arbitrator_id, position)
		VALUES ($1, $2, (SELECT count(*) FROM case_arbitrators WHERE case_id = $1))
		ON CONFLICT DO NOTHING
	`, caseID, arbID); err != nil {
		return fmt.Errorf("casefile: assign arbitrator: %w", err)
	}
	return nil
}

// AppendApproval stamps an approver on the case.
func (r *Repository) AppendApproval(ctx context.Context, tx pgx.Tx, caseID int64, approverID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE casefiles SET approvals = array_append(approvals, $2), update_ts = now()
		WHERE id = $1 AND NOT ($2 = ANY (approvals))
	`, caseID, approverID); err != nil {
		return fmt.Errorf("casefile: append approval: %w", err)
	}
	return nil
}

// InsertClaim files a claim and bumps the case counter.
func (r *Repository) InsertClaim(ctx context.Context, tx pgx.Tx, caseID int64, category int, summary string) (Claim, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO claims (case_id, claim_category, claim_summary)
		VALUES ($1, $2, $3)
		RETURNING `+claimColumns+`
	`, caseID, category, summary)
	cl, err := scanClaim(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Claim{}, ErrDuplicateClaim
		}
		return Claim{}, fmt.Errorf("casefile: insert claim: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE casefiles SET number_claims = number_claims + 1, update_ts = now() WHERE id = $1
	`, caseID); err != nil {
		return Claim{}, fmt.Errorf("casefile: bump claim counter: %w", err)
	}
	return cl, nil
}

// GetClaimForUpdate locks one claim belonging to the case.
func (r *Repository) GetClaimForUpdate(ctx context.Context, tx pgx.Tx, caseID, claimID int64) (Claim, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+claimColumns+` FROM claims WHERE id = $1 AND case_id = $2 FOR UPDATE
	`, claimID, caseID)
	return scanClaim(row)
}

// DeleteClaim removes a claim during setup and decrements the counter.
func (r *Repository) DeleteClaim(ctx context.Context, tx pgx.Tx, caseID, claimID int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM claims WHERE id = $1 AND case_id = $2`, claimID, caseID)
	if err != nil {
		return fmt.Errorf("casefile: delete claim %d: %w", claimID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("casefile: claim %d: %w", claimID, ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE casefiles SET number_claims = number_claims - 1, update_ts = now() WHERE id = $1
	`, caseID); err != nil {
		return fmt.Errorf("casefile: drop claim counter: %w", err)
	}
	return nil
}

// ListClaims returns the case's claims in filing order.
func (r *Repository) ListClaims(ctx context.Context, caseID int64) ([]Claim, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+claimColumns+` FROM claims WHERE case_id = $1 ORDER BY id
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("casefile: list claims: %w", err)
	}
	defer rows.Close()

	out := make([]Claim, 0, 8)
	for rows.Next() {
		cl, err := scanClaimRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("casefile: iterate claims: %w", err)
	}
	return out, nil
}

// UnsettledClaims counts claims still awaiting a decision, inside the tx.
func (r *Repository) UnsettledClaims(ctx context.Context, tx pgx.Tx, caseID int64) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM claims WHERE case_id = $1 AND status IN ('filed', 'responded')
	`, caseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("casefile: count unsettled claims: %w", err)
	}
	return n, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) arbitratorIDs(ctx context.Context, q querier, caseID int64) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT arbitrator_id::text FROM case_arbitrators WHERE case_id = $1 ORDER BY position
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("casefile: load arbitrators: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("casefile: scan arbitrator: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("casefile: iterate arbitrators: %w", err)
	}
	return ids, nil
}

func scanCase(row pgx.Row) (CaseFile, error) {
	var c CaseFile
	err := row.Scan(&c.ID, &c.Status, &c.ClaimantID, &c.RespondantID,
		&c.RulingLink, &c.NumberClaims, &c.NumberOffers, &c.FeePaid, &c.ArbitratorCost,
		&c.SendingOffersUntil, &c.Approvals, &c.UpdateTS, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CaseFile{}, ErrNotFound
		}
		return CaseFile{}, fmt.Errorf("casefile: scan case: %w", err)
	}
	return c, nil
}

func scanClaim(row pgx.Row) (Claim, error) {
	cl, err := scanClaimRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Claim{}, ErrNotFound
		}
		return Claim{}, err
	}
	return cl, nil
}

func scanClaimRow(row pgx.Row) (Claim, error) {
	var cl Claim
	err := row.Scan(&cl.ID, &cl.CaseID, &cl.Status, &cl.Category, &cl.Summary,
		&cl.ResponseLink, &cl.DecisionLink, &cl.ClaimInfoNeeded, &cl.ClaimInfoRequired,
		&cl.ClaimantLimitTime, &cl.ResponseInfoNeeded, &cl.ResponseInfoRequired,
		&cl.RespondantLimitTime, &cl.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Claim{}, err
		}
		return Claim{}, fmt.Errorf("casefile: scan claim: %w", err)
	}
	return cl, nil
}
