package casefile

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"arbflow/arbitrator"
	"arbflow/metrics"
)

// recusable reports whether a seated case can still be abandoned. Once
// enforcement begins the arbitrator's work is done and paid for.
func recusable(s Status) bool {
	return s == StatusArbsAssigned || s == StatusInvestigation || s == StatusDecision
}

// mistrial refunds the claimant everything escrowed against the case, moves
// it to mistrial and parks it in every assigned arbitrator's recused bucket.
// Callers hold the config lock and account for the pool decrement.
func (s *Service) mistrial(ctx context.Context, tx pgx.Tx, c CaseFile) error {
	if c.Escrowed() > 0 {
		if err := s.ledger.Credit(ctx, tx, c.ClaimantID, c.Escrowed()); err != nil {
			return err
		}
	}
	for _, arbID := range c.Arbitrators {
		if err := s.arbs.MoveCase(ctx, tx, arbID, c.ID, arbitrator.BucketRecused); err != nil {
			return err
		}
	}
	return s.transition(ctx, tx, c, StatusMistrial)
}

// Recuse lets a seated arbitrator step down from a case that has not
// reached enforcement. The case becomes a mistrial and the claimant is made
// whole.
func (s *Service) Recuse(ctx context.Context, actorID string, caseID int64, rationale string) (err error) {
	defer s.track("recuse", s.now(), &err)

	tx, err := s.begin(ctx, "recuse")
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if err = requireAssigned(c, actorID); err != nil {
		return err
	}
	if !recusable(c.Status) {
		return fmt.Errorf("%w: case %d is %s", ErrBadStatus, caseID, c.Status)
	}

	if _, err = s.cfg.GetForUpdate(ctx, tx); err != nil {
		return err
	}
	if err = s.mistrial(ctx, tx, c); err != nil {
		return err
	}
	if c.Escrowed() > 0 {
		if err = s.cfg.AdjustPools(ctx, tx, -c.Escrowed(), 0); err != nil {
			return err
		}
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventRecusal, actorID, map[string]any{
		"arbitrator_id": actorID,
		"rationale":     rationale,
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit recuse: %w", err)
	}
	metrics.EscrowMoved(metrics.DirectionRefunded, c.Escrowed())
	return nil
}

// ForceRecusal is the admin pulling an arbitrator off one case, with the
// same mistrial consequences as a voluntary recusal.
func (s *Service) ForceRecusal(ctx context.Context, actorID string, caseID int64, arbID, rationale string) (err error) {
	defer s.track("forceRecusal", s.now(), &err)

	tx, err := s.begin(ctx, "forceRecusal")
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err = s.requireAdmin(ctx, tx, actorID); err != nil {
		return err
	}
	c, err := s.repo.GetForUpdate(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if err = requireAssigned(c, arbID); err != nil {
		return err
	}
	if !recusable(c.Status) {
		return fmt.Errorf("%w: case %d is %s", ErrBadStatus, caseID, c.Status)
	}

	if err = s.mistrial(ctx, tx, c); err != nil {
		return err
	}
	if c.Escrowed() > 0 {
		if err = s.cfg.AdjustPools(ctx, tx, -c.Escrowed(), 0); err != nil {
			return err
		}
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventRecusal, actorID, map[string]any{
		"arbitrator_id": arbID,
		"rationale":     rationale,
		"forced":        true,
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit forceRecusal: %w", err)
	}
	metrics.EscrowMoved(metrics.DirectionRefunded, c.Escrowed())
	return nil
}

// DismissArbitrator removes an arbitrator from the registry and recomputes
// the signing authority. With removeFromCases set, every open case of theirs
// that has not reached enforcement becomes a mistrial; the refunds land as
// one aggregate decrement on the reserved pool.
func (s *Service) DismissArbitrator(ctx context.Context, actorID, arbID string, removeFromCases bool) (err error) {
	defer s.track("dismissArbitrator", s.now(), &err)

	tx, err := s.begin(ctx, "dismissArbitrator")
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err = s.requireAdmin(ctx, tx, actorID); err != nil {
		return err
	}
	if _, err = s.arbs.GetForUpdate(ctx, tx, arbID); err != nil {
		return err
	}
	if err = s.arbs.MarkRemoved(ctx, tx, arbID); err != nil {
		return err
	}

	var refunded int64
	if removeFromCases {
		caseIDs, err := s.arbs.OpenCaseIDs(ctx, tx, arbID)
		if err != nil {
			return err
		}
		for _, caseID := range caseIDs {
			c, err := s.repo.GetForUpdate(ctx, tx, caseID)
			if err != nil {
				return err
			}
			if !recusable(c.Status) {
				continue
			}
			if err = s.mistrial(ctx, tx, c); err != nil {
				return err
			}
			refunded += c.Escrowed()
			if err = s.repo.appendEvent(ctx, tx, caseID, EventArbDismissed, actorID, map[string]any{
				"arbitrator_id": arbID,
			}); err != nil {
				return err
			}
		}
		if refunded > 0 {
			if err = s.cfg.AdjustPools(ctx, tx, -refunded, 0); err != nil {
				return err
			}
		}
	}

	if err = arbitrator.RecomputeAuthority(ctx, tx, s.arbs, s.installer); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit dismissArbitrator: %w", err)
	}
	if refunded > 0 {
		metrics.EscrowMoved(metrics.DirectionRefunded, refunded)
	}
	return nil
}
