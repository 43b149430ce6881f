package models

import (
	"time"

	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

// EntryKind names the bucket an entry touches and the side it moves it.
type EntryKind string

const (
	CreditAvailable EntryKind = "CREDIT_AVAILABLE"
	DebitAvailable  EntryKind = "DEBIT_AVAILABLE"
	CreditPending   EntryKind = "CREDIT_PENDING"
	DebitPending    EntryKind = "DEBIT_PENDING"
	CreditBlocked   EntryKind = "CREDIT_BLOCKED"
	DebitBlocked    EntryKind = "DEBIT_BLOCKED"
)

// Bucket is one of the three balance buckets of an account.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketPending   Bucket = "pending"
	BucketBlocked   Bucket = "blocked"
)

// Bucket returns the bucket the kind applies to.
func (k EntryKind) Bucket() Bucket {
	switch k {
	case CreditAvailable, DebitAvailable:
		return BucketAvailable
	case CreditPending, DebitPending:
		return BucketPending
	default:
		return BucketBlocked
	}
}

// IsDebit reports whether the kind decreases its bucket.
func (k EntryKind) IsDebit() bool {
	return k == DebitAvailable || k == DebitPending || k == DebitBlocked
}

// Valid reports whether k is one of the six known kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case CreditAvailable, DebitAvailable, CreditPending, DebitPending, CreditBlocked, DebitBlocked:
		return true
	}

	return false
}

// LedgerEntry is a single append-only ledger record for an account.
// Amount is always positive; the kind carries the sign.
type LedgerEntry struct {
	ID                   string      `json:"id"`
	AccountID            string      `json:"account_id"`
	Sequence             int64       `json:"sequence"`
	Kind                 EntryKind   `json:"kind"`
	Amount               money.Money `json:"amount"`
	RelatedTransactionID string      `json:"related_transaction_id,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
}

// Signed returns the amount with the sign of the kind applied.
func (e LedgerEntry) Signed() money.Money {
	if e.Kind.IsDebit() {
		return e.Amount.Neg()
	}

	return e.Amount
}
