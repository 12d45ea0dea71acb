package casefile

import (
	"context"
	"fmt"

	"arbflow/metrics"
)

// ReadyCase locks in the case's claims, escrows the filing fee and opens the
// offer window. The fee is converted from its reference denomination at the
// current oracle rate and debited from the claimant's ledger balance.
func (s *Service) ReadyCase(ctx context.Context, actorID string, caseID int64) (err error) {
	defer s.track("readyCase", s.now(), &err)

	tx, err := s.begin(ctx, "readyCase")
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if err = requireClaimant(c, actorID); err != nil {
		return err
	}
	if c.Status != StatusSetup {
		return fmt.Errorf("%w: case %d is %s", ErrBadStatus, caseID, c.Status)
	}
	if c.NumberClaims < 1 {
		return fmt.Errorf("%w: case %d has no claims", ErrBadStatus, caseID)
	}

	conf, err := s.cfg.GetForUpdate(ctx, tx)
	if err != nil {
		return err
	}
	fee, err := s.conv.ToSettlement(ctx, conf.FeeAmount)
	if err != nil {
		return fmt.Errorf("casefile: convert filing fee: %w", err)
	}
	if fee > 0 {
		if err = s.ledger.Debit(ctx, tx, c.ClaimantID, fee); err != nil {
			return err
		}
		if err = s.cfg.AdjustPools(ctx, tx, fee, 0); err != nil {
			return err
		}
	}

	until := s.now().Add(offerWindow)
	if _, err = tx.Exec(ctx, `
		UPDATE casefiles SET fee_paid = $2, sending_offers_until = $3, update_ts = now()
		WHERE id = $1
	`, caseID, fee, until); err != nil {
		return fmt.Errorf("casefile: stamp fee on %d: %w", caseID, err)
	}
	if err = s.transition(ctx, tx, c, StatusAwaitingArbs); err != nil {
		return err
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventCaseReadied, actorID, map[string]any{
		"fee_paid":             fee,
		"sending_offers_until": until,
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit readyCase: %w", err)
	}
	metrics.EscrowMoved(metrics.DirectionReserved, fee)
	return nil
}

// CancelCase withdraws a case that is still awaiting arbitrators. If nobody
// has made an offer the filing fee goes back to the claimant; otherwise the
// engine keeps it in the available pool for the wasted review work.
func (s *Service) CancelCase(ctx context.Context, actorID string, caseID int64) (err error) {
	defer s.track("cancelCase", s.now(), &err)

	tx, err := s.begin(ctx, "cancelCase")
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if err = requireClaimant(c, actorID); err != nil {
		return err
	}
	if c.Status != StatusAwaitingArbs {
		return fmt.Errorf("%w: case %d is %s", ErrBadStatus, caseID, c.Status)
	}

	if _, err = s.cfg.GetForUpdate(ctx, tx); err != nil {
		return err
	}
	refunded := false
	if c.FeePaid > 0 {
		if c.NumberOffers == 0 {
			if err = s.ledger.Credit(ctx, tx, c.ClaimantID, c.FeePaid); err != nil {
				return err
			}
			if err = s.cfg.AdjustPools(ctx, tx, -c.FeePaid, 0); err != nil {
				return err
			}
			refunded = true
		} else {
			if err = s.cfg.AdjustPools(ctx, tx, -c.FeePaid, c.FeePaid); err != nil {
				return err
			}
		}
	}
	if err = s.transition(ctx, tx, c, StatusCancelled); err != nil {
		return err
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventCaseCancelled, actorID, map[string]any{
		"fee_refunded": refunded,
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit cancelCase: %w", err)
	}
	if c.FeePaid > 0 {
		if refunded {
			metrics.EscrowMoved(metrics.DirectionRefunded, c.FeePaid)
		} else {
			metrics.EscrowMoved(metrics.DirectionReleased, c.FeePaid)
		}
	}
	return nil
}

// RespondOffer is the claimant's verdict on one pending offer. Rejection
// leaves the case awaiting other arbitrators. Acceptance escrows the
// offer's cost, seats the arbitrator, rejects every sibling offer and moves
// the case to arbs_assigned.
func (s *Service) RespondOffer(ctx context.Context, actorID string, caseID, offerID int64, accept bool) (err error) {
	defer s.track("respondOffer", s.now(), &err)

	tx, err := s.begin(ctx, "respondOffer")
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if err = requireClaimant(c, actorID); err != nil {
		return err
	}
	if c.Status != StatusAwaitingArbs {
		return fmt.Errorf("%w: case %d is %s", ErrBadStatus, caseID, c.Status)
	}

	o, err := s.offers.GetPendingForUpdate(ctx, tx, caseID, offerID)
	if err != nil {
		return err
	}

	if !accept {
		if err = s.offers.Reject(ctx, tx, offerID); err != nil {
			return err
		}
		if err = s.repo.appendEvent(ctx, tx, caseID, EventOfferRejected, actorID, map[string]any{
			"offer_id":      offerID,
			"arbitrator_id": o.ArbitratorID,
		}); err != nil {
			return err
		}
		if err = tx.Commit(ctx); err != nil {
			return fmt.Errorf("casefile: commit respondOffer: %w", err)
		}
		return nil
	}

	if _, err = s.cfg.GetForUpdate(ctx, tx); err != nil {
		return err
	}
	cost, err := s.conv.ToSettlement(ctx, o.Cost())
	if err != nil {
		return fmt.Errorf("casefile: convert offer cost: %w", err)
	}
	if err = s.ledger.Debit(ctx, tx, c.ClaimantID, cost); err != nil {
		return err
	}
	if err = s.cfg.AdjustPools(ctx, tx, cost, 0); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE casefiles SET arbitrator_cost = $2, update_ts = now() WHERE id = $1
	`, caseID, cost); err != nil {
		return fmt.Errorf("casefile: stamp cost on %d: %w", caseID, err)
	}

	if err = s.repo.AssignArbitrator(ctx, tx, caseID, o.ArbitratorID); err != nil {
		return err
	}
	if err = s.arbs.TrackOpen(ctx, tx, o.ArbitratorID, caseID); err != nil {
		return err
	}
	if err = s.offers.Accept(ctx, tx, offerID); err != nil {
		return err
	}
	if err = s.offers.RejectSiblings(ctx, tx, caseID, offerID); err != nil {
		return err
	}
	if err = s.transition(ctx, tx, c, StatusArbsAssigned); err != nil {
		return err
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventOfferAccepted, actorID, map[string]any{
		"offer_id":        offerID,
		"arbitrator_id":   o.ArbitratorID,
		"arbitrator_cost": cost,
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit respondOffer: %w", err)
	}
	metrics.EscrowMoved(metrics.DirectionReserved, cost)
	return nil
}
