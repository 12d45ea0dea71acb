package casefile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Event types recorded on the case audit trail.
const (
	EventCaseFiled     = "CASE_FILED"
	EventClaimAdded    = "CLAIM_ADDED"
	EventClaimUpdated  = "CLAIM_UPDATED"
	EventClaimRemoved  = "CLAIM_REMOVED"
	EventCaseReadied   = "CASE_READIED"
	EventCaseCancelled = "CASE_CANCELLED"
	EventOfferAccepted = "OFFER_ACCEPTED"
	EventOfferRejected = "OFFER_REJECTED"
	EventCaseStarted   = "CASE_STARTED"
	EventClaimAnswered = "CLAIM_ANSWERED"
	EventClaimReviewed = "CLAIM_REVIEWED"
	EventClaimSettled  = "CLAIM_SETTLED"
	EventRulingSet     = "RULING_SET"
	EventCaseValidated = "CASE_VALIDATED"
	EventCaseClosed    = "CASE_CLOSED"
	EventRecusal       = "RECUSAL"
	EventArbDismissed  = "ARBITRATOR_DISMISSED"
)

// OutboxTopicRulingReady notifies the governance collaborator that a ruling
// is staged and a leaderboard vote should open.
const OutboxTopicRulingReady = "case.ruling_ready"

// appendEvent writes the next audit-trail entry for the case inside tx. The
// (case_id, seq) unique constraint makes concurrent appends collide instead
// of interleaving.
func (r *Repository) appendEvent(ctx context.Context, tx pgx.Tx, caseID int64, eventType, actorID string, payload map[string]any) error {
	body := []byte(`{}`)
	if len(payload) > 0 {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("casefile: marshal event payload: %w", err)
		}
	}
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO case_events (case_id, seq, type, actor_id, payload)
		VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM case_events WHERE case_id = $1), $2, $3, $4)
	`, caseID, eventType, actor, body); err != nil {
		return fmt.Errorf("casefile: append event %s: %w", eventType, err)
	}
	return nil
}

// enqueueOutbox stages a notification that commits or rolls back with the
// rest of the operation.
func (r *Repository) enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("casefile: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (topic, payload) VALUES ($1, $2)
	`, topic, body); err != nil {
		return fmt.Errorf("casefile: enqueue %s: %w", topic, err)
	}
	return nil
}

// ballotCharset is the alphabet accepted by the external governance system
// for ballot names.
const ballotCharset = "12345abcdefghijklmnopqrstuvwxyz"

// RandomBallotName derives a 12-character ballot name from fresh UUID bytes.
func RandomBallotName() string {
	id := uuid.New()
	name := make([]byte, 12)
	for i := range name {
		name[i] = ballotCharset[int(id[i])%len(ballotCharset)]
	}
	return string(name)
}
