package model

import "time"

type EntryDirection string

const (
	DirectionCredit EntryDirection = "credit"
	DirectionDebit  EntryDirection = "debit"
)

// LedgerEntry is the immutable audit record of one financial effect. Exactly
// one credit entry exists per settled PaymentIntent; corrections are new,
// compensating entries, never updates.
type LedgerEntry struct {
	ID          string // UUID
	IntentID    string
	AccountRef  string // wallet owner / order account
	Direction   EntryDirection
	AmountToman int64
	PrevBalance int64
	NewBalance  int64
	Cause       string // free-text audit label, e.g. "Wallet Topup"
	AppliedAt   time.Time
}

// WalletBalance is the running balance for one account. First credit for an
// account starts from a zero baseline.
type WalletBalance struct {
	AccountRef string
	Balance    int64
	UpdatedAt  time.Time
}
