package ledger

import (
	"errors"
	"fmt"

	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/models"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

var (
	ErrAccountNotFound     = interfaces.ErrNotFound
	ErrMissingAccountID    = errors.New("account id is required")
	ErrAccountExists       = errors.New("account already exists with a different currency")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientBlocked = errors.New("insufficient blocked balance")
	ErrInsufficientPending = errors.New("insufficient pending balance")
	ErrNonPositiveAmount   = errors.New("amount must be greater than zero")
	ErrInvariantViolation  = errors.New("ledger invariant violated")
)

// BalanceError describes a bucket that cannot cover a requested amount.
type BalanceError struct {
	AccountID string
	Bucket    models.Bucket
	Have      money.Money
	Want      money.Money
	Err       error
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("%v: account %s %s has %s, needs %s", e.Err, e.AccountID, e.Bucket, e.Have, e.Want)
}

func (e *BalanceError) Unwrap() error { return e.Err }

func shortfallErr(bucket models.Bucket) error {
	switch bucket {
	case models.BucketAvailable:
		return ErrInsufficientBalance
	case models.BucketPending:
		return ErrInsufficientPending
	default:
		return ErrInsufficientBlocked
	}
}
