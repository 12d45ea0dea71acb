package config

import "time"

// Config is the single global record of tunable parameters and the two
// escrow pool totals. ReservedFunds is value committed to live cases and may
// still be refunded; AvailableFunds is earned and no longer contingent.
type Config struct {
	AdminID          string
	Version          string
	MaxClaimsPerCase int
	FeeAmount        int64 // reference currency, fixed-point
	ReservedFunds    int64 // settlement currency
	AvailableFunds   int64 // settlement currency
	ArbTermDays      int
	UpdatedAt        time.Time
}
