package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// EnvStressDSN points the stress harness at an existing PostgreSQL instead
// of starting a disposable container.
const EnvStressDSN = "ARBFLOW_STRESS_PG_DSN"

// PGContainer wraps the disposable PostgreSQL a stress run uses. It is
// zero-valued when an external DSN was supplied; Terminate is then a no-op
// and the database outlives the run.
type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres resolves the database for a stress run: the override DSN
// when given, the ARBFLOW_STRESS_PG_DSN database when set, otherwise a
// fresh postgres:16 container matching the version the migrations target.
func StartPostgres(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	if overrideDSN != "" {
		return &PGContainer{}, overrideDSN, nil
	}
	if dsn := os.Getenv(EnvStressDSN); dsn != "" {
		return &PGContainer{}, dsn, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("arbflow"),
		postgres.WithUsername("arbflow"),
		postgres.WithPassword("arbflow"),
	)
	if err != nil {
		return nil, "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", err
	}
	return &PGContainer{C: pgC}, dsn, nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
