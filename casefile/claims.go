package casefile

import (
	"context"
	"fmt"

	"arbflow/docref"
)

// FileCase opens a new case in setup with its first claim. A respondant is
// optional; when named it must be a registered account distinct from the
// claimant.
func (s *Service) FileCase(ctx context.Context, actorID string, respondantID *string, claimLink string, category int) (c CaseFile, err error) {
	defer s.track("fileCase", s.now(), &err)

	if err := docref.Validate(claimLink); err != nil {
		return CaseFile{}, fmt.Errorf("casefile: claim link: %w", err)
	}
	if !ValidCategory(category) {
		return CaseFile{}, fmt.Errorf("casefile: unknown claim category %d", category)
	}
	if respondantID != nil && *respondantID != "" {
		if *respondantID == actorID {
			return CaseFile{}, fmt.Errorf("%w: cannot file a case against yourself", ErrForbidden)
		}
		ok, err := s.users.Exists(ctx, *respondantID)
		if err != nil {
			return CaseFile{}, fmt.Errorf("casefile: check respondant: %w", err)
		}
		if !ok {
			return CaseFile{}, fmt.Errorf("casefile: respondant: %w", ErrNotFound)
		}
	} else {
		respondantID = nil
	}

	tx, err := s.begin(ctx, "fileCase")
	if err != nil {
		return CaseFile{}, err
	}
	defer tx.Rollback(ctx)

	c, err = s.repo.Create(ctx, tx, actorID, respondantID)
	if err != nil {
		return CaseFile{}, err
	}
	if _, err = s.repo.InsertClaim(ctx, tx, c.ID, category, claimLink); err != nil {
		return CaseFile{}, err
	}
	c.NumberClaims = 1

	if err = s.repo.appendEvent(ctx, tx, c.ID, EventCaseFiled, actorID, map[string]any{
		"category": category,
	}); err != nil {
		return CaseFile{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return CaseFile{}, fmt.Errorf("casefile: commit fileCase: %w", err)
	}
	return c, nil
}

// AddClaim files another claim on a setup-stage case, up to the configured
// per-case maximum. Summaries are unique within the case.
func (s *Service) AddClaim(ctx context.Context, actorID string, caseID int64, claimLink string, category int) (cl Claim, err error) {
	defer s.track("addClaim", s.now(), &err)

	if err := docref.Validate(claimLink); err != nil {
		return Claim{}, fmt.Errorf("casefile: claim link: %w", err)
	}
	if !ValidCategory(category) {
		return Claim{}, fmt.Errorf("casefile: unknown claim category %d", category)
	}

	tx, err := s.begin(ctx, "addClaim")
	if err != nil {
		return Claim{}, err
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, caseID)
	if err != nil {
		return Claim{}, err
	}
	if err = requireClaimant(c, actorID); err != nil {
		return Claim{}, err
	}
	if c.Status != StatusSetup {
		return Claim{}, fmt.Errorf("%w: claims may only be added during setup", ErrBadStatus)
	}
	conf, err := s.cfg.Get(ctx)
	if err != nil {
		return Claim{}, err
	}
	if c.NumberClaims >= conf.MaxClaimsPerCase {
		return Claim{}, fmt.Errorf("%w: case %d holds %d claims", ErrClaimLimit, caseID, c.NumberClaims)
	}

	cl, err = s.repo.InsertClaim(ctx, tx, caseID, category, claimLink)
	if err != nil {
		return Claim{}, err
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventClaimAdded, actorID, map[string]any{
		"claim_id": cl.ID,
		"category": category,
	}); err != nil {
		return Claim{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return Claim{}, fmt.Errorf("casefile: commit addClaim: %w", err)
	}
	return cl, nil
}

// UpdateClaim replaces the claim's summary document. Allowed during setup,
// and during investigation while the claim is still filed or when the
// arbitrator has asked the claimant for more information on a responded
// claim; answering clears the request flag.
func (s *Service) UpdateClaim(ctx context.Context, actorID string, caseID, claimID int64, claimLink string) (err error) {
	defer s.track("updateClaim", s.now(), &err)

	if err := docref.Validate(claimLink); err != nil {
		return fmt.Errorf("casefile: claim link: %w", err)
	}

	tx, err := s.begin(ctx, "updateClaim")
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
	cl, err := s.repo.GetClaimForUpdate(ctx, tx, caseID, claimID)
	if err != nil {
		return err
	}
	switch c.Status {
	case StatusSetup:
		if cl.Status != ClaimFiled {
			return fmt.Errorf("%w: claim %d is %s", ErrBadStatus, claimID, cl.Status)
		}
	case StatusInvestigation:
		if cl.Status.Settled() {
			return fmt.Errorf("%w: claim %d is %s", ErrBadStatus, claimID, cl.Status)
		}
		// A filed claim is still the claimant's to amend. Once responded it
		// only reopens when the arbitrator asks for more information.
		if cl.Status == ClaimResponded && !cl.ClaimInfoNeeded {
			return fmt.Errorf("%w: no claimant information was requested on claim %d", ErrBadStatus, claimID)
		}
	default:
		return fmt.Errorf("%w: claims cannot change while case %d is %s", ErrBadStatus, caseID, c.Status)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE claims SET claim_summary = $3, claim_info_needed = false, claim_info_required = ''
		WHERE id = $1 AND case_id = $2
	`, claimID, caseID, claimLink); err != nil {
		return fmt.Errorf("casefile: update claim %d: %w", claimID, err)
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventClaimUpdated, actorID, map[string]any{
		"claim_id": claimID,
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit updateClaim: %w", err)
	}
	return nil
}

// RemoveClaim withdraws a claim while the case is still in setup.
func (s *Service) RemoveClaim(ctx context.Context, actorID string, caseID, claimID int64) (err error) {
	defer s.track("removeClaim", s.now(), &err)

	tx, err := s.begin(ctx, "removeClaim")
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
		return fmt.Errorf("%w: claims may only be removed during setup", ErrBadStatus)
	}
	if err = s.repo.DeleteClaim(ctx, tx, caseID, claimID); err != nil {
		return err
	}
	if err = s.repo.appendEvent(ctx, tx, caseID, EventClaimRemoved, actorID, map[string]any{
		"claim_id": claimID,
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit removeClaim: %w", err)
	}
	return nil
}

// ShredCase deletes a setup-stage case and its claims. No funds have moved
// yet in setup, so nothing is refunded.
func (s *Service) ShredCase(ctx context.Context, actorID string, caseID int64) (err error) {
	defer s.track("shredCase", s.now(), &err)

	tx, err := s.begin(ctx, "shredCase")
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
		return fmt.Errorf("%w: only setup-stage cases can be shredded", ErrBadStatus)
	}
	if err = s.repo.Delete(ctx, tx, caseID); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit shredCase: %w", err)
	}
	return nil
}
