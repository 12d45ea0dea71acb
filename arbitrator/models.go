package arbitrator

import "time"

// Status tracks an arbitrator's standing in the registry.
type Status string

const (
	// StatusUnavailable is the post-registration state: credentials are on
	// file but the election collaborator has not seated the arbitrator yet.
	StatusUnavailable Status = "unavailable"
	StatusActive      Status = "active"
	StatusSeatExpired Status = "seat_expired"
	StatusRemoved     Status = "removed"
)

// Bucket partitions the cases ever assigned to an arbitrator. A case id sits
// in exactly one bucket per arbitrator at any time.
type Bucket string

const (
	BucketOpen    Bucket = "open"
	BucketClosed  Bucket = "closed"
	BucketRecused Bucket = "recused"
)

// Arbitrator mirrors the arbitrators table.
type Arbitrator struct {
	UserID          string
	Status          Status
	TermExpiration  time.Time
	CredentialsLink string
	Languages       []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Eligible reports whether the arbitrator may take new assignments at now:
// seated, not removed, and inside the elected term.
func (a Arbitrator) Eligible(now time.Time) bool {
	return a.Status == StatusActive && now.Before(a.TermExpiration)
}
