package arbitrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"arbflow/config"
	"arbflow/docref"
)

// AccountChecker validates identity arguments against registered accounts.
type AccountChecker interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// Service exposes registry operations. Election of arbitrators happens in an
// external governance collaborator; the registry only consumes the outcome.
type Service struct {
	pool      *pgxpool.Pool
	repo      *Repository
	cfg       *config.Store
	accounts  AccountChecker
	installer AuthorityInstaller
	now       func() time.Time
}

// NewService builds the registry service.
func NewService(pool *pgxpool.Pool, repo *Repository, cfg *config.Store, accounts AccountChecker, installer AuthorityInstaller) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	if installer == nil {
		installer = LogInstaller{}
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		cfg:       cfg,
		accounts:  accounts,
		installer: installer,
		now:       time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register files an arbitrator candidacy: credentials on record, standing
// unavailable until seated, term clock started. Re-registering an existing
// non-removed arbitrator is rejected; use Reinstate for removed ones.
func (s *Service) Register(ctx context.Context, actorID, arbID, credentialsLink string) (Arbitrator, error) {
	if actorID != arbID {
		return Arbitrator{}, fmt.Errorf("%w: arbitrators register themselves", ErrForbidden)
	}
	if err := docref.Validate(credentialsLink); err != nil {
		return Arbitrator{}, err
	}
	exists, err := s.accounts.Exists(ctx, arbID)
	if err != nil {
		return Arbitrator{}, err
	}
	if !exists {
		return Arbitrator{}, fmt.Errorf("arbitrator: account %s doesn't exist", arbID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Arbitrator{}, fmt.Errorf("arbitrator: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conf, err := s.cfg.GetForUpdate(ctx, tx)
	if err != nil {
		return Arbitrator{}, err
	}
	expiration := s.now().Add(time.Duration(conf.ArbTermDays) * 24 * time.Hour)

	switch _, err := s.repo.GetForUpdate(ctx, tx, arbID); {
	case err == nil:
		return Arbitrator{}, fmt.Errorf("%w: already registered", ErrBadStatus)
	case errors.Is(err, ErrNotFound):
		// fresh registration
	default:
		return Arbitrator{}, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO arbitrators (user_id, status, term_expiration, credentials_link)
		VALUES ($1, 'unavailable', $2, $3)
		RETURNING `+arbColumns+`
	`, arbID, expiration, credentialsLink)
	arb, err := scanArb(row)
	if err != nil {
		return Arbitrator{}, fmt.Errorf("arbitrator: register: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Arbitrator{}, fmt.Errorf("arbitrator: commit register: %w", err)
	}
	return arb, nil
}

// Reinstate refreshes a removed or seat-expired arbitrator back to pending
// standing with a new term and credentials.
func (s *Service) Reinstate(ctx context.Context, actorID, arbID, credentialsLink string) (Arbitrator, error) {
	if actorID != arbID {
		return Arbitrator{}, fmt.Errorf("%w: arbitrators reinstate themselves", ErrForbidden)
	}
	if err := docref.Validate(credentialsLink); err != nil {
		return Arbitrator{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Arbitrator{}, fmt.Errorf("arbitrator: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conf, err := s.cfg.GetForUpdate(ctx, tx)
	if err != nil {
		return Arbitrator{}, err
	}

	current, err := s.repo.GetForUpdate(ctx, tx, arbID)
	if err != nil {
		return Arbitrator{}, err
	}
	if current.Status != StatusRemoved && current.Status != StatusSeatExpired && !s.now().After(current.TermExpiration) {
		return Arbitrator{}, fmt.Errorf("%w: term still running", ErrBadStatus)
	}

	expiration := s.now().Add(time.Duration(conf.ArbTermDays) * 24 * time.Hour)
	row := tx.QueryRow(ctx, `
		UPDATE arbitrators
		SET status = 'unavailable', term_expiration = $2, credentials_link = $3, updated_at = now()
		WHERE user_id = $1
		RETURNING `+arbColumns+`
	`, arbID, expiration, credentialsLink)
	arb, err := scanArb(row)
	if err != nil {
		return Arbitrator{}, fmt.Errorf("arbitrator: reinstate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Arbitrator{}, fmt.Errorf("arbitrator: commit reinstate: %w", err)
	}
	return arb, nil
}

// Seat activates a registered arbitrator. The election collaborator decides
// who gets seated; the admin applies its outcome here. Seating changes the
// active set, so the weighted authority is recomputed.
func (s *Service) Seat(ctx context.Context, actorID, arbID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitrator: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conf, err := s.cfg.GetForUpdate(ctx, tx)
	if err != nil {
		return err
	}
	if conf.AdminID != actorID {
		return fmt.Errorf("%w: admin only", ErrForbidden)
	}

	current, err := s.repo.GetForUpdate(ctx, tx, arbID)
	if err != nil {
		return err
	}
	if current.Status != StatusUnavailable {
		return fmt.Errorf("%w: only unavailable arbitrators can be seated", ErrBadStatus)
	}
	if !s.now().Before(current.TermExpiration) {
		return fmt.Errorf("%w: term already expired", ErrBadStatus)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE arbitrators SET status = 'active', updated_at = now() WHERE user_id = $1
	`, arbID); err != nil {
		return fmt.Errorf("arbitrator: seat: %w", err)
	}

	if err := RecomputeAuthority(ctx, tx, s.repo, s.installer); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitrator: commit seat: %w", err)
	}
	return nil
}

// SetLanguages replaces the capability tags used for assignment eligibility.
// Self-only, and only while actively seated inside the term.
func (s *Service) SetLanguages(ctx context.Context, actorID, arbID string, languages []string) error {
	if actorID != arbID {
		return fmt.Errorf("%w: arbitrators set their own languages", ErrForbidden)
	}
	if len(languages) == 0 {
		return fmt.Errorf("arbitrator: at least one language required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitrator: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, arbID)
	if err != nil {
		return err
	}
	if !current.Eligible(s.now()) {
		return fmt.Errorf("%w: must be active with an unexpired term", ErrBadStatus)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE arbitrators SET languages = $2, updated_at = now() WHERE user_id = $1
	`, arbID, languages); err != nil {
		return fmt.Errorf("arbitrator: set languages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitrator: commit languages: %w", err)
	}
	return nil
}

// Get returns an arbitrator's registry record.
func (s *Service) Get(ctx context.Context, arbID string) (Arbitrator, error) {
	return s.repo.Get(ctx, arbID)
}

// CaseBuckets returns the open/closed/recused partition for one arbitrator.
func (s *Service) CaseBuckets(ctx context.Context, arbID string) (map[Bucket][]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT case_id, bucket::text FROM arbitrator_cases
		WHERE arbitrator_id = $1
		ORDER BY case_id
	`, arbID)
	if err != nil {
		return nil, fmt.Errorf("arbitrator: case buckets: %w", err)
	}
	defer rows.Close()

	out := map[Bucket][]int64{}
	for rows.Next() {
		var (
			id     int64
			bucket string
		)
		if err := rows.Scan(&id, &bucket); err != nil {
			return nil, fmt.Errorf("arbitrator: scan bucket: %w", err)
		}
		out[Bucket(bucket)] = append(out[Bucket(bucket)], id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("arbitrator: iterate buckets: %w", err)
	}
	return out, nil
}
