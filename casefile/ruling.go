package casefile

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"arbflow/arbitrator"
	"arbflow/docref"
	"arbflow/metrics"
)

// SetRuling stages the arbitrator's ruling once every claim has been
// settled, moves the case to decision and notifies governance that a
// leaderboard vote should open on the ruling.
func (s *Service) SetRuling(ctx context.Context, actorID string, caseID int64, rulingLink string) (err error) {
	defer s.track("setRuling", s.now(), &err)

	if err := docref.Validate(rulingLink); err != nil {
		return fmt.Errorf("casefile: ruling link: %w", err)
	}

	tx, err := s.begin(ctx, "setRuling")
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
	if c.Status != StatusInvestigation {
		return fmt.Errorf("%w: case %d is %s", ErrBadStatus, caseID, c.Status)
	}
	open, err := s.repo.UnsettledClaims(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if open > 0 {
		return fmt.Errorf("%w: %d claims on case %d are still unsettled", ErrBadStatus, open, caseID)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE casefiles SET ruling_link = $2, update_ts = now() WHERE id = $1
	`, caseID, rulingLink); err != nil {
		return fmt.Errorf("casefile: stamp ruling on %d: %w", caseID, err)
	}
	if err = s.transition(ctx, tx, c, StatusDecision); err != nil {
		return err
	}

	ballot := s.ballotName()
	if err = s.repo.enqueueOutbox(ctx, tx, OutboxTopicRulingReady, map[string]any{
		"case_id":     caseID,
		"ruling_link": rulingLink,
		"ballot_name": ballot,
	}); err != nil {
		return err
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventRulingSet, actorID, map[string]any{
		"ballot_name": ballot,
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit setRuling: %w", err)
	}
	return nil
}

// ValidateCase is the admin's verdict on a staged ruling. Proceeding moves
// the filing fee into the available pool, pays the arbitrators their cost
// and advances to enforcement. Declining refunds the claimant everything and
// dismisses the case.
func (s *Service) ValidateCase(ctx context.Context, actorID string, caseID int64, proceed bool) (err error) {
	defer s.track("validateCase", s.now(), &err)

	tx, err := s.begin(ctx, "validateCase")
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
	if c.Status != StatusDecision {
		return fmt.Errorf("%w: case %d is %s", ErrBadStatus, caseID, c.Status)
	}

	if proceed {
		if err = s.cfg.AdjustPools(ctx, tx, -c.Escrowed(), c.FeePaid); err != nil {
			return err
		}
		if err = s.payArbitrators(ctx, tx, c); err != nil {
			return err
		}
		if err = s.repo.AppendApproval(ctx, tx, caseID, actorID); err != nil {
			return err
		}
		if err = s.transition(ctx, tx, c, StatusEnforcement); err != nil {
			return err
		}
	} else {
		if c.Escrowed() > 0 {
			if err = s.ledger.Credit(ctx, tx, c.ClaimantID, c.Escrowed()); err != nil {
				return err
			}
			if err = s.cfg.AdjustPools(ctx, tx, -c.Escrowed(), 0); err != nil {
				return err
			}
		}
		for _, arbID := range c.Arbitrators {
			if err = s.arbs.MoveCase(ctx, tx, arbID, caseID, arbitrator.BucketClosed); err != nil {
				return err
			}
		}
		if err = s.transition(ctx, tx, c, StatusDismissed); err != nil {
			return err
		}
	}

	if err = s.repo.appendEvent(ctx, tx, caseID, EventCaseValidated, actorID, map[string]any{
		"proceed": proceed,
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit validateCase: %w", err)
	}
	if proceed {
		metrics.EscrowMoved(metrics.DirectionReleased, c.Escrowed())
	} else {
		metrics.EscrowMoved(metrics.DirectionRefunded, c.Escrowed())
	}
	return nil
}

// payArbitrators splits the escrowed cost evenly across the case's
// arbitrators, with any remainder going to the first seat.
func (s *Service) payArbitrators(ctx context.Context, tx pgx.Tx, c CaseFile) error {
	if c.ArbitratorCost <= 0 || len(c.Arbitrators) == 0 {
		return nil
	}
	share := c.ArbitratorCost / int64(len(c.Arbitrators))
	remainder := c.ArbitratorCost % int64(len(c.Arbitrators))
	for i, arbID := range c.Arbitrators {
		amount := share
		if i == 0 {
			amount += remainder
		}
		if amount == 0 {
			continue
		}
		if err := s.ledger.Credit(ctx, tx, arbID, amount); err != nil {
			return err
		}
	}
	return nil
}

// CloseCase records enforcement as done and resolves the case, closing it
// out of every arbitrator's open set.
func (s *Service) CloseCase(ctx context.Context, actorID string, caseID int64) (err error) {
	defer s.track("closeCase", s.now(), &err)

	tx, err := s.begin(ctx, "closeCase")
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
	if c.Status != StatusEnforcement {
		return fmt.Errorf("%w: case %d is %s", ErrBadStatus, caseID, c.Status)
	}

	for _, arbID := range c.Arbitrators {
		if err = s.arbs.MoveCase(ctx, tx, arbID, caseID, arbitrator.BucketClosed); err != nil {
			return err
		}
	}
	if err = s.repo.AppendApproval(ctx, tx, caseID, actorID); err != nil {
		return err
	}
	if err = s.transition(ctx, tx, c, StatusResolved); err != nil {
		return err
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventCaseClosed, actorID, nil); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit closeCase: %w", err)
	}
	return nil
}
