package models

import (
	"fmt"
	"time"

	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

// BalanceSnapshot is the three-bucket balance of an account at a point in time.
type BalanceSnapshot struct {
	AccountID string      `json:"account_id"`
	Currency  string      `json:"currency"`
	Available money.Money `json:"available"`
	Pending   money.Money `json:"pending"`
	Blocked   money.Money `json:"blocked"`
	Version   int64       `json:"version"`
	AsOf      time.Time   `json:"as_of"`
}

// NewBalanceSnapshot returns the all-zero snapshot of a freshly provisioned account.
func NewBalanceSnapshot(accountID, currency string, at time.Time) BalanceSnapshot {
	return BalanceSnapshot{
		AccountID: accountID,
		Currency:  currency,
		Available: money.Zero(currency),
		Pending:   money.Zero(currency),
		Blocked:   money.Zero(currency),
		AsOf:      at,
	}
}

// Bucket returns the amount held in b.
func (s BalanceSnapshot) Bucket(b Bucket) money.Money {
	switch b {
	case BucketAvailable:
		return s.Available
	case BucketPending:
		return s.Pending
	default:
		return s.Blocked
	}
}

// Total returns available + pending + blocked.
func (s BalanceSnapshot) Total() (money.Money, error) {
	return money.Sum(s.Currency, s.Available, s.Pending, s.Blocked)
}

// Apply returns the snapshot with one entry applied. It does not check for
// negative buckets.
func (s BalanceSnapshot) Apply(e LedgerEntry) (BalanceSnapshot, error) {
	if e.Amount.Currency() != s.Currency {
		return s, fmt.Errorf("%w: entry %s in %s on %s account", money.ErrCurrencyMismatch, e.ID, e.Amount.Currency(), s.Currency)
	}

	delta := e.Signed()

	var err error

	switch e.Kind.Bucket() {
	case BucketAvailable:
		s.Available, err = s.Available.Add(delta)
	case BucketPending:
		s.Pending, err = s.Pending.Add(delta)
	default:
		s.Blocked, err = s.Blocked.Add(delta)
	}

	return s, err
}

// Negative returns the first bucket below zero, if any.
func (s BalanceSnapshot) Negative() (Bucket, bool) {
	for _, b := range []Bucket{BucketAvailable, BucketPending, BucketBlocked} {
		if s.Bucket(b).IsNegative() {
			return b, true
		}
	}

	return "", false
}

// SameBalances reports whether both snapshots hold identical bucket amounts.
func (s BalanceSnapshot) SameBalances(other BalanceSnapshot) bool {
	return s.Currency == other.Currency &&
		s.Available == other.Available &&
		s.Pending == other.Pending &&
		s.Blocked == other.Blocked
}
