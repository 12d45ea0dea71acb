package arbitrator

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5"
)

// AuthorityInstaller is the external account-authority collaborator: given
// the current active arbitrator set, it installs a weighted threshold
// authority requiring that fraction of signers.
type AuthorityInstaller interface {
	Install(ctx context.Context, signers []string, threshold uint32) error
}

// Threshold returns the multi-signature weight required over n signers:
// floor(2n/3)+1 once the pool is larger than three, otherwise a single
// signature suffices.
func Threshold(n int) uint32 {
	if n > 3 {
		return uint32(2*n/3) + 1
	}
	return 1
}

// RecomputeAuthority reinstalls the weighted authority over the current
// active set. Callers invoke it inside the transaction that changed the set
// so the collaborator sees the post-change membership.
func RecomputeAuthority(ctx context.Context, tx pgx.Tx, repo *Repository, installer AuthorityInstaller) error {
	active, err := repo.ActiveIDs(ctx, tx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}
	return installer.Install(ctx, active, Threshold(len(active)))
}

// LogInstaller is the default AuthorityInstaller: it records the requested
// authority without talking to an external signer service.
type LogInstaller struct{}

func (LogInstaller) Install(_ context.Context, signers []string, threshold uint32) error {
	log.Printf("arbitrator: install weighted authority threshold=%d signers=%d", threshold, len(signers))
	return nil
}
