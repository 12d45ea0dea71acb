package offer

import "time"

// Status is the lifecycle of an arbitrator's bid on a case.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Offer mirrors the offers table. EstimatedHours and HourlyRate are quoted in
// the reference currency; the settlement cost is computed once, at
// acceptance, through the price oracle.
type Offer struct {
	ID             int64
	CaseID         int64
	ArbitratorID   string
	EstimatedHours int64
	HourlyRate     int64
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Cost is the reference-currency total of the bid.
func (o Offer) Cost() int64 {
	return o.EstimatedHours * o.HourlyRate
}
