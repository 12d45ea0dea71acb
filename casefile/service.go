// Package casefile implements the case lifecycle: claim drafting in setup,
// fee escrow, arbitrator selection through offers, investigation, ruling and
// fund release. Every operation runs in a single database transaction.
package casefile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arbflow/arbitrator"
	"arbflow/auth"
	"arbflow/config"
	"arbflow/ledger"
	"arbflow/metrics"
	"arbflow/offer"
	"arbflow/oracle"
)

// offerWindow is how long a readied case accepts arbitrator offers.
const offerWindow = 30 * 24 * time.Hour

// Service drives the case state machine. All money it moves is denominated
// in settlement units; reference-denominated inputs pass through the
// configured oracle first.
type Service struct {
	pool       *pgxpool.Pool
	repo       *Repository
	cfg        *config.Store
	ledger     *ledger.Repository
	offers     *offer.Repository
	arbs       *arbitrator.Repository
	users      auth.Repository
	conv       oracle.Converter
	installer  arbitrator.AuthorityInstaller
	now        func() time.Time
	ballotName func() string
}

// NewService wires the case service against its collaborators.
func NewService(pool *pgxpool.Pool, repo *Repository, cfg *config.Store, led *ledger.Repository,
	offers *offer.Repository, arbs *arbitrator.Repository, users auth.Repository,
	conv oracle.Converter, installer arbitrator.AuthorityInstaller) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	if installer == nil {
		installer = arbitrator.LogInstaller{}
	}
	return &Service{
		pool:       pool,
		repo:       repo,
		cfg:        cfg,
		ledger:     led,
		offers:     offers,
		arbs:       arbs,
		users:      users,
		conv:       conv,
		installer:  installer,
		now:        time.Now,
		ballotName: RandomBallotName,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithBallotNamer overrides ballot-name generation for tests.
func (s *Service) WithBallotNamer(namer func() string) *Service {
	s.ballotName = namer
	return s
}

// Get reads one case with its arbitrator list.
func (s *Service) Get(ctx context.Context, caseID int64) (CaseFile, error) {
	return s.repo.Get(ctx, caseID)
}

// Claims lists the case's claims in filing order.
func (s *Service) Claims(ctx context.Context, caseID int64) ([]Claim, error) {
	return s.repo.ListClaims(ctx, caseID)
}

// begin opens the operation's transaction.
func (s *Service) begin(ctx context.Context, op string) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("casefile: %s: begin tx: %w", op, err)
	}
	return tx, nil
}

// track records latency and, on failure, an error count for the operation.
// Use with a named error return:
//
//	defer s.track("readyCase", s.now(), &err)
func (s *Service) track(op string, start time.Time, err *error) {
	metrics.ObserveOperation(op, start)
	if *err != nil {
		metrics.OperationError(op)
	}
}

// transition validates the edge, writes the new status and counts it.
func (s *Service) transition(ctx context.Context, tx pgx.Tx, c CaseFile, to Status) error {
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("%w: case %d cannot move %s -> %s", ErrBadStatus, c.ID, c.Status, to)
	}
	if err := s.repo.SetStatus(ctx, tx, c.ID, to); err != nil {
		return err
	}
	metrics.CaseTransition(string(to))
	return nil
}

// requireClaimant rejects anyone but the case's claimant.
func requireClaimant(c CaseFile, actorID string) error {
	if actorID != c.ClaimantID {
		return fmt.Errorf("%w: only the claimant may act on case %d", ErrForbidden, c.ID)
	}
	return nil
}

// requireAssigned rejects anyone but an arbitrator seated on the case.
func requireAssigned(c CaseFile, actorID string) error {
	if !c.Assigned(actorID) {
		return fmt.Errorf("%w: actor is not assigned to case %d", ErrForbidden, c.ID)
	}
	return nil
}

// requireAdmin locks the config row and rejects anyone but the engine admin.
// The lock also serializes escrow pool movement across admin operations.
func (s *Service) requireAdmin(ctx context.Context, tx pgx.Tx, actorID string) (config.Config, error) {
	conf, err := s.cfg.GetForUpdate(ctx, tx)
	if err != nil {
		return config.Config{}, err
	}
	if conf.AdminID != actorID {
		return config.Config{}, fmt.Errorf("%w: admin only", ErrForbidden)
	}
	return conf, nil
}
