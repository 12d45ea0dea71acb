package casefile

import (
	"context"
	"fmt"
	"time"

	"arbflow/docref"
)

// StartCase opens the investigation. Only the seated arbitrator may start
// it. When the case names a respondant, every claim is stamped with a
// response request and a deadline of respondantDays from now.
func (s *Service) StartCase(ctx context.Context, actorID string, caseID int64, respondantDays int, responseInfoRequired string) (err error) {
	defer s.track("startCase", s.now(), &err)

	tx, err := s.begin(ctx, "startCase")
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
	if c.Status != StatusArbsAssigned {
		return fmt.Errorf("%w: case %d is %s", ErrBadStatus, caseID, c.Status)
	}

	if c.HasRespondant() {
		if respondantDays <= 0 {
			return fmt.Errorf("casefile: respondant deadline must be at least one day")
		}
		if responseInfoRequired == "" {
			return fmt.Errorf("casefile: describe the information required from the respondant")
		}
		limit := s.now().Add(time.Duration(respondantDays) * 24 * time.Hour)
		if _, err = tx.Exec(ctx, `
			UPDATE claims
			SET response_info_needed = true, response_info_required = $2, respondant_limit_time = $3
			WHERE case_id = $1
		`, caseID, responseInfoRequired, limit); err != nil {
			return fmt.Errorf("casefile: stamp response requests: %w", err)
		}
	}

	if err = s.arbs.TrackOpen(ctx, tx, actorID, caseID); err != nil {
		return err
	}
	if err = s.transition(ctx, tx, c, StatusInvestigation); err != nil {
		return err
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventCaseStarted, actorID, nil); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit startCase: %w", err)
	}
	return nil
}

// Respond files the respondant's answer to one claim before its deadline.
func (s *Service) Respond(ctx context.Context, actorID string, caseID, claimID int64, responseLink string) (err error) {
	defer s.track("respond", s.now(), &err)

	if err := docref.Validate(responseLink); err != nil {
		return fmt.Errorf("casefile: response link: %w", err)
	}

	tx, err := s.begin(ctx, "respond")
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if !c.HasRespondant() || actorID != *c.RespondantID {
		return fmt.Errorf("%w: only the respondant may answer claims on case %d", ErrForbidden, caseID)
	}
	if c.Status != StatusInvestigation {
		return fmt.Errorf("%w: case %d is %s", ErrBadStatus, caseID, c.Status)
	}

	cl, err := s.repo.GetClaimForUpdate(ctx, tx, caseID, claimID)
	if err != nil {
		return err
	}
	if cl.Status.Settled() {
		return fmt.Errorf("%w: claim %d is %s", ErrBadStatus, claimID, cl.Status)
	}
	if !cl.ResponseInfoNeeded {
		return fmt.Errorf("%w: no response was requested on claim %d", ErrBadStatus, claimID)
	}
	if cl.RespondantLimitTime != nil && !s.now().Before(*cl.RespondantLimitTime) {
		return fmt.Errorf("%w: the response deadline on claim %d has passed", ErrBadStatus, claimID)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE claims
		SET response_link = $3, status = 'responded',
		    response_info_needed = false, response_info_required = ''
		WHERE id = $1 AND case_id = $2
	`, claimID, caseID, responseLink); err != nil {
		return fmt.Errorf("casefile: record response on %d: %w", claimID, err)
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventClaimAnswered, actorID, map[string]any{
		"claim_id": claimID,
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit respond: %w", err)
	}
	return nil
}

// ReviewClaim lets the arbitrator request more information from either
// party, restarting the relevant deadline clocks.
func (s *Service) ReviewClaim(ctx context.Context, actorID string, caseID, claimID int64,
	claimInfoNeeded bool, claimInfoRequired string, claimantDays int,
	responseInfoNeeded bool, responseInfoRequired string, respondantDays int) (err error) {
	defer s.track("reviewClaim", s.now(), &err)

	if !claimInfoNeeded && !responseInfoNeeded {
		return fmt.Errorf("casefile: review must request information from at least one party")
	}

	tx, err := s.begin(ctx, "reviewClaim")
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
	cl, err := s.repo.GetClaimForUpdate(ctx, tx, caseID, claimID)
	if err != nil {
		return err
	}
	if cl.Status.Settled() {
		return fmt.Errorf("%w: claim %d is already %s", ErrBadStatus, claimID, cl.Status)
	}

	now := s.now()
	if claimInfoNeeded {
		if claimantDays <= 0 || claimInfoRequired == "" {
			return fmt.Errorf("casefile: claimant request needs a description and a positive deadline")
		}
		limit := now.Add(time.Duration(claimantDays) * 24 * time.Hour)
		if _, err = tx.Exec(ctx, `
			UPDATE claims SET claim_info_needed = true, claim_info_required = $3, claimant_limit_time = $4
			WHERE id = $1 AND case_id = $2
		`, claimID, caseID, claimInfoRequired, limit); err != nil {
			return fmt.Errorf("casefile: request claimant info: %w", err)
		}
	}
	if responseInfoNeeded {
		if !c.HasRespondant() {
			return fmt.Errorf("%w: case %d has no respondant", ErrBadStatus, caseID)
		}
		if respondantDays <= 0 || responseInfoRequired == "" {
			return fmt.Errorf("casefile: respondant request needs a description and a positive deadline")
		}
		limit := now.Add(time.Duration(respondantDays) * 24 * time.Hour)
		if _, err = tx.Exec(ctx, `
			UPDATE claims SET response_info_needed = true, response_info_required = $3, respondant_limit_time = $4
			WHERE id = $1 AND case_id = $2
		`, claimID, caseID, responseInfoRequired, limit); err != nil {
			return fmt.Errorf("casefile: request respondant info: %w", err)
		}
	}

	if err = s.repo.appendEvent(ctx, tx, caseID, EventClaimReviewed, actorID, map[string]any{
		"claim_id":             claimID,
		"claim_info_needed":    claimInfoNeeded,
		"response_info_needed": responseInfoNeeded,
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit reviewClaim: %w", err)
	}
	return nil
}

// SettleClaim records the arbitrator's decision on one claim. A claim with
// an outstanding information request cannot settle until its deadline has
// elapsed, so the party keeps their full window.
func (s *Service) SettleClaim(ctx context.Context, actorID string, caseID, claimID int64, accept bool, decisionLink string) (err error) {
	defer s.track("settleClaim", s.now(), &err)

	if err := docref.Validate(decisionLink); err != nil {
		return fmt.Errorf("casefile: decision link: %w", err)
	}

	tx, err := s.begin(ctx, "settleClaim")
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
	cl, err := s.repo.GetClaimForUpdate(ctx, tx, caseID, claimID)
	if err != nil {
		return err
	}
	if cl.Status.Settled() {
		return fmt.Errorf("%w: claim %d is already %s", ErrBadStatus, claimID, cl.Status)
	}

	now := s.now()
	if cl.ClaimInfoNeeded && cl.ClaimantLimitTime != nil && now.Before(*cl.ClaimantLimitTime) {
		return fmt.Errorf("%w: the claimant still has time to answer on claim %d", ErrBadStatus, claimID)
	}
	if cl.ResponseInfoNeeded && cl.RespondantLimitTime != nil && now.Before(*cl.RespondantLimitTime) {
		return fmt.Errorf("%w: the respondant still has time to answer on claim %d", ErrBadStatus, claimID)
	}

	verdict := ClaimDismissed
	if accept {
		verdict = ClaimAccepted
	}
	if _, err = tx.Exec(ctx, `
		UPDATE claims SET status = $3, decision_link = $4 WHERE id = $1 AND case_id = $2
	`, claimID, caseID, string(verdict), decisionLink); err != nil {
		return fmt.Errorf("casefile: settle claim %d: %w", claimID, err)
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventClaimSettled, actorID, map[string]any{
		"claim_id": claimID,
		"verdict":  string(verdict),
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit settleClaim: %w", err)
	}
	return nil
}
