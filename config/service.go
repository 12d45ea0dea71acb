package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountChecker validates that an identity argument refers to a registered
// account before it is accepted into the config.
type AccountChecker interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// Service exposes the administrative configuration surface.
type Service struct {
	pool     *pgxpool.Pool
	store    *Store
	accounts AccountChecker
}

// NewService builds the config service.
func NewService(pool *pgxpool.Pool, store *Store, accounts AccountChecker) *Service {
	if store == nil {
		store = NewStore(pool)
	}
	return &Service{pool: pool, store: store, accounts: accounts}
}

// Init creates the singleton config row with the initial admin. Fails if the
// engine is already initialized or the admin account does not exist.
func (s *Service) Init(ctx context.Context, initialAdmin string) error {
	exists, err := s.accounts.Exists(ctx, initialAdmin)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("config: initial admin account doesn't exist")
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO engine_config (admin_id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, initialAdmin)
	if err != nil {
		return fmt.Errorf("config: init: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyInitialized
	}
	return nil
}

// SetAdmin hands the admin capability to a different existing account.
func (s *Service) SetAdmin(ctx context.Context, actorID, newAdmin string) error {
	exists, err := s.accounts.Exists(ctx, newAdmin)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("config: new admin account doesn't exist")
	}

	return s.adminUpdate(ctx, actorID, `admin_id = $2`, newAdmin)
}

// SetVersion records a new engine version string.
func (s *Service) SetVersion(ctx context.Context, actorID, version string) error {
	if version == "" {
		return fmt.Errorf("config: version must not be empty")
	}
	return s.adminUpdate(ctx, actorID, `version = $2`, version)
}

// SetParams tunes the per-case claim cap and the reference-currency filing fee.
func (s *Service) SetParams(ctx context.Context, actorID string, maxClaimsPerCase int, feeAmount int64) error {
	if maxClaimsPerCase < 1 {
		return fmt.Errorf("config: minimum 1 claim per case")
	}
	if feeAmount < 0 {
		return fmt.Errorf("config: fee must not be negative")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("config: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.store.GetForUpdate(ctx, tx)
	if err != nil {
		return err
	}
	if current.AdminID != actorID {
		return ErrForbidden
	}

	if _, err := tx.Exec(ctx, `
		UPDATE engine_config
		SET max_claims_per_case = $1, fee_amount = $2, updated_at = now()
	`, maxClaimsPerCase, feeAmount); err != nil {
		return fmt.Errorf("config: set params: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("config: commit params: %w", err)
	}
	return nil
}

// Get returns the current configuration.
func (s *Service) Get(ctx context.Context) (Config, error) {
	return s.store.Get(ctx)
}

func (s *Service) adminUpdate(ctx context.Context, actorID, setClause string, value any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("config: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.store.GetForUpdate(ctx, tx)
	if err != nil {
		return err
	}
	if current.AdminID != actorID {
		return ErrForbidden
	}

	query := `UPDATE engine_config SET ` + setClause + `, updated_at = now() WHERE id = $1`
	if _, err := tx.Exec(ctx, query, true, value); err != nil {
		return fmt.Errorf("config: update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("config: commit: %w", err)
	}
	return nil
}

// IsNotInitialized reports whether err means the engine config is missing.
func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrNotInitialized)
}
