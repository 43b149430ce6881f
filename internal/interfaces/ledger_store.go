package interfaces

import (
	"context"
	"errors"

	"github.com/sheikh-saqib/merchant-ledger/internal/models"
)

var (
	// ErrNotFound is returned by stores when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write lost to a concurrent one.
	ErrConflict = errors.New("conflict")
)

// WithdrawalTransition is a status change of a withdrawal written together
// with ledger entries. It only applies while the stored status equals From.
type WithdrawalTransition struct {
	Request models.WithdrawalRequest
	From    models.WithdrawalStatus
}

// Change is what an UpdateFunc asks the store to write in one step.
type Change struct {
	Snapshot   models.BalanceSnapshot
	Entries    []models.LedgerEntry
	Withdrawal *WithdrawalTransition
}

// Empty reports whether the change writes nothing.
func (c Change) Empty() bool {
	return len(c.Entries) == 0 && c.Withdrawal == nil
}

// UpdateFunc receives the current snapshot of an account and returns the
// change to persist. Returning an error, or an empty change, leaves the store
// untouched. The snapshot is only written when the change carries entries.
type UpdateFunc func(current models.BalanceSnapshot) (Change, error)

// LedgerStore persists balance snapshots and their append-only entries.
type LedgerStore interface {
	// CreateAccount stores a new snapshot. If the account exists the stored
	// snapshot is returned with created=false.
	CreateAccount(ctx context.Context, snapshot models.BalanceSnapshot) (stored models.BalanceSnapshot, created bool, err error)
	GetSnapshot(ctx context.Context, accountID string) (models.BalanceSnapshot, error)
	// Update holds the account exclusively while fn runs and writes the
	// returned snapshot, entries and withdrawal transition atomically. A lost
	// withdrawal compare-and-swap fails the whole update with ErrConflict.
	Update(ctx context.Context, accountID string, fn UpdateFunc) (Change, error)
	GetEntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error)
	GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error)
}
