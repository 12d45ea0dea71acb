package ledger

import "time"

// Account mirrors the ledger_accounts table: one withdrawable settlement
// currency balance per owner. Rows only exist while the balance is positive.
type Account struct {
	OwnerID   string
	Balance   int64
	UpdatedAt time.Time
}
