package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrForbidden signals the wrong actor for the operation.
	ErrForbidden = errors.New("offer: forbidden")
	// ErrCaseClosed signals the case is not accepting offers.
	ErrCaseClosed = errors.New("offer: case is not awaiting offers")
	// ErrWindowExpired signals the offer-acceptance window has passed.
	ErrWindowExpired = errors.New("offer: sending window has expired")
)

// Service handles offer submission. Acceptance and rejection belong to the
// case state machine, which drives this package's repository inside its own
// transaction.
type Service struct {
	pool *pgxpool.Pool
	repo *Repository
	now  func() time.Time
}

// NewService builds the offer service.
func NewService(pool *pgxpool.Pool, repo *Repository) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	return &Service{pool: pool, repo: repo, now: time.Now}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit files a rate offer against a case awaiting arbitrators. The
// submitter must be a seated arbitrator inside their term, must not be a
// party to the case, and may hold at most one pending offer per case.
func (s *Service) Submit(ctx context.Context, actorID string, caseID, estimatedHours, hourlyRate int64) (Offer, error) {
	if estimatedHours <= 0 || hourlyRate <= 0 {
		return Offer{}, fmt.Errorf("offer: hours and rate must be positive")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status       string
		claimantID   string
		respondantID *string
		offersUntil  *time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT status::text, claimant_id::text, respondant_id::text, sending_offers_until
		FROM casefiles WHERE id = $1
		FOR UPDATE
	`, caseID).Scan(&status, &claimantID, &respondantID, &offersUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, fmt.Errorf("offer: case %d: %w", caseID, ErrNotFound)
		}
		return Offer{}, fmt.Errorf("offer: load case: %w", err)
	}
	if status != "awaiting_arbs" {
		return Offer{}, fmt.Errorf("%w: case %d is %s", ErrCaseClosed, caseID, status)
	}
	if offersUntil == nil || !s.now().Before(*offersUntil) {
		return Offer{}, fmt.Errorf("%w: case %d", ErrWindowExpired, caseID)
	}
	if actorID == claimantID || (respondantID != nil && actorID == *respondantID) {
		return Offer{}, fmt.Errorf("%w: parties cannot bid on their own case", ErrForbidden)
	}

	var (
		arbStatus string
		termExp   time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT status::text, term_expiration FROM arbitrators WHERE user_id = $1
	`, actorID).Scan(&arbStatus, &termExp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, fmt.Errorf("%w: not a registered arbitrator", ErrForbidden)
		}
		return Offer{}, fmt.Errorf("offer: load arbitrator: %w", err)
	}
	if arbStatus != "active" || !s.now().Before(termExp) {
		return Offer{}, fmt.Errorf("%w: arbitrator must be seated with an unexpired term", ErrForbidden)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO offers (case_id, arbitrator_id, estimated_hours, hourly_rate)
		VALUES ($1, $2, $3, $4)
		RETURNING `+offerColumns+`
	`, caseID, actorID, estimatedHours, hourlyRate)
	o, err := scanOffer(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Offer{}, ErrDuplicate
		}
		return Offer{}, fmt.Errorf("offer: insert: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE casefiles SET number_offers = number_offers + 1, update_ts = now() WHERE id = $1
	`, caseID); err != nil {
		return Offer{}, fmt.Errorf("offer: bump case counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit submit: %w", err)
	}
	return o, nil
}

// ListByCase exposes the case's offers for claimant review.
func (s *Service) ListByCase(ctx context.Context, caseID int64) ([]Offer, error) {
	return s.repo.ListByCase(ctx, caseID)
}
