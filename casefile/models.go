package casefile

import "time"

// Status is the case lifecycle. The happy path is linear from Setup to
// Resolved; Cancelled, Dismissed and Mistrial are escape branches and, like
// Resolved, terminal.
type Status string

const (
	StatusSetup         Status = "setup"
	StatusAwaitingArbs  Status = "awaiting_arbs"
	StatusArbsAssigned  Status = "arbs_assigned"
	StatusInvestigation Status = "investigation"
	StatusDecision      Status = "decision"
	StatusEnforcement   Status = "enforcement"
	StatusResolved      Status = "resolved"
	StatusDismissed     Status = "dismissed"
	StatusCancelled     Status = "cancelled"
	StatusMistrial      Status = "mistrial"
)

// Terminal reports whether no further status mutation is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusDismissed, StatusCancelled, StatusMistrial:
		return true
	default:
		return false
	}
}

// transitions is the full edge set of the case state machine. Shredding is
// not listed: it removes the case instead of moving it.
var transitions = map[Status][]Status{
	StatusSetup:         {StatusAwaitingArbs},
	StatusAwaitingArbs:  {StatusArbsAssigned, StatusCancelled},
	StatusArbsAssigned:  {StatusInvestigation, StatusMistrial},
	StatusInvestigation: {StatusDecision, StatusMistrial},
	StatusDecision:      {StatusEnforcement, StatusDismissed, StatusMistrial},
	StatusEnforcement:   {StatusResolved},
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ClaimStatus is the per-claim sub-state machine.
type ClaimStatus string

const (
	ClaimFiled     ClaimStatus = "filed"
	ClaimResponded ClaimStatus = "responded"
	ClaimAccepted  ClaimStatus = "accepted"
	ClaimDismissed ClaimStatus = "dismissed"
)

// Settled reports whether the claim has been decided either way.
func (s ClaimStatus) Settled() bool {
	return s == ClaimAccepted || s == ClaimDismissed
}

// Claim categories, a closed enumeration.
const (
	CategoryLostKeyRecovery   = 1
	CategoryTrxReversal       = 2
	CategoryEmergencyInter    = 3
	CategoryContestedOwner    = 4
	CategoryUnexecutedRelief  = 5
	CategoryContractBreach    = 6
	CategoryMisusedCrIP       = 7
	CategoryATort             = 8
	CategoryBPPenaltyReversal = 9
	CategoryWrongfulArbAct    = 10
	CategoryActExecRelief     = 11
	CategoryWPProjFailure     = 12
	CategoryTBNOABreach       = 13
	CategoryMisc              = 14
)

// ValidCategory reports whether c falls inside the enumeration.
func ValidCategory(c int) bool {
	return c >= CategoryLostKeyRecovery && c <= CategoryMisc
}

// CaseFile mirrors the casefiles table plus the ordered arbitrator list.
type CaseFile struct {
	ID                 int64
	Status             Status
	ClaimantID         string
	RespondantID       *string
	Arbitrators        []string
	Approvals          []string
	NumberClaims       int
	NumberOffers       int
	RulingLink         string
	FeePaid            int64
	ArbitratorCost     int64
	SendingOffersUntil *time.Time
	UpdateTS           time.Time
	CreatedAt          time.Time
}

// HasRespondant reports whether a respondant was named on filing.
func (c CaseFile) HasRespondant() bool {
	return c.RespondantID != nil && *c.RespondantID != ""
}

// Assigned reports whether arbID sits on the case.
func (c CaseFile) Assigned(arbID string) bool {
	for _, id := range c.Arbitrators {
		if id == arbID {
			return true
		}
	}
	return false
}

// Escrowed is the total settlement value reserved against the case.
func (c CaseFile) Escrowed() int64 {
	return c.FeePaid + c.ArbitratorCost
}

// Claim mirrors the claims table.
type Claim struct {
	ID                   int64
	CaseID               int64
	Status               ClaimStatus
	Category             int
	Summary              string
	ResponseLink         string
	DecisionLink         string
	ClaimInfoNeeded      bool
	ClaimInfoRequired    string
	ClaimantLimitTime    *time.Time
	ResponseInfoNeeded   bool
	ResponseInfoRequired string
	RespondantLimitTime  *time.Time
	CreatedAt            time.Time
}
