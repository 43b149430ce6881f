package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/models"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

// CommitHook runs after the entries are stored, while the account lock is
// still held.
type CommitHook func(ctx context.Context, snapshot models.BalanceSnapshot) error

// Tx stages mutations against one account. Every operation either applies
// all of its entries or none of them. Nothing is persisted until Do returns.
type Tx struct {
	ledger  *Ledger
	before  models.BalanceSnapshot
	current models.BalanceSnapshot
	entries []models.LedgerEntry
	hooks   []CommitHook

	withdrawal *interfaces.WithdrawalTransition
}

// Snapshot returns the balance as seen by this transaction, including staged
// operations.
func (tx *Tx) Snapshot() models.BalanceSnapshot {
	return tx.current
}

// TransitionWithdrawal stages a status change of w from the given status. It
// is written in the same store transaction as the staged entries, and a lost
// compare-and-swap on the status discards both. One withdrawal per Tx.
func (tx *Tx) TransitionWithdrawal(w models.WithdrawalRequest, from models.WithdrawalStatus) error {
	if w.AccountID != tx.current.AccountID {
		return fmt.Errorf("withdrawal %s belongs to %s, not %s", w.ID, w.AccountID, tx.current.AccountID)
	}

	if tx.withdrawal != nil {
		return fmt.Errorf("withdrawal %s already staged in this transaction", tx.withdrawal.Request.ID)
	}

	tx.withdrawal = &interfaces.WithdrawalTransition{Request: w, From: from}

	return nil
}

// OnCommit registers fn to run after a successful commit.
func (tx *Tx) OnCommit(fn CommitHook) {
	tx.hooks = append(tx.hooks, fn)
}

// CreditAvailable records a completed incoming payment.
func (tx *Tx) CreditAvailable(amount money.Money, relatedID string) error {
	return tx.apply(amount, relatedID, models.CreditAvailable)
}

// CreditPending records an incoming payment still inside its settlement window.
func (tx *Tx) CreditPending(amount money.Money, relatedID string) error {
	return tx.apply(amount, relatedID, models.CreditPending)
}

// ReserveForWithdrawal moves amount from available to blocked.
func (tx *Tx) ReserveForWithdrawal(amount money.Money, relatedID string) error {
	return tx.apply(amount, relatedID, models.DebitAvailable, models.CreditBlocked)
}

// SettleWithdrawal removes amount from blocked once the payout is confirmed.
func (tx *Tx) SettleWithdrawal(amount money.Money, relatedID string) error {
	return tx.apply(amount, relatedID, models.DebitBlocked)
}

// ReverseWithdrawal returns amount from blocked to available.
func (tx *Tx) ReverseWithdrawal(amount money.Money, relatedID string) error {
	return tx.apply(amount, relatedID, models.DebitBlocked, models.CreditAvailable)
}

// PromotePending moves amount from pending to available.
func (tx *Tx) PromotePending(amount money.Money, relatedID string) error {
	return tx.apply(amount, relatedID, models.DebitPending, models.CreditAvailable)
}

func (tx *Tx) apply(amount money.Money, relatedID string, kinds ...models.EntryKind) error {
	accountID := tx.current.AccountID

	if !amount.IsPositive() {
		return fmt.Errorf("%w: account %s amount %s", ErrNonPositiveAmount, accountID, amount)
	}

	if amount.Currency() != tx.current.Currency {
		return fmt.Errorf("%w: account %s holds %s, got %s", money.ErrCurrencyMismatch, accountID, tx.current.Currency, amount)
	}

	next := tx.current
	staged := make([]models.LedgerEntry, 0, len(kinds))

	for _, kind := range kinds {
		entry := models.LedgerEntry{
			ID:                   tx.ledger.newID(),
			AccountID:            accountID,
			Kind:                 kind,
			Amount:               amount,
			RelatedTransactionID: relatedID,
		}

		applied, err := next.Apply(entry)
		if err != nil {
			return err
		}

		if bucket, negative := applied.Negative(); negative {
			err := &BalanceError{
				AccountID: accountID,
				Bucket:    bucket,
				Have:      next.Bucket(bucket),
				Want:      amount,
				Err:       shortfallErr(bucket),
			}

			if errors.Is(err, ErrInsufficientBlocked) {
				tx.ledger.logger.Error("critical ledger inconsistency",
					zap.String("account_id", accountID),
					zap.String("kind", string(kind)),
					zap.Stringer("blocked", next.Blocked),
					zap.Stringer("amount", amount),
					zap.String("related_transaction_id", relatedID),
				)
			}

			return err
		}

		next = applied
		staged = append(staged, entry)
	}

	tx.current = next
	tx.entries = append(tx.entries, staged...)

	return nil
}

// verify replays the staged entries over the starting snapshot and checks the
// result against the staged balance and the non-negative rule.
func (tx *Tx) verify() error {
	replayed := tx.before

	for _, e := range tx.entries {
		var err error
		if replayed, err = replayed.Apply(e); err != nil {
			return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		}
	}

	if !replayed.SameBalances(tx.current) {
		return fmt.Errorf("%w: account %s entries do not reconstruct the snapshot", ErrInvariantViolation, tx.current.AccountID)
	}

	if bucket, negative := tx.current.Negative(); negative {
		return fmt.Errorf("%w: account %s %s is negative", ErrInvariantViolation, tx.current.AccountID, bucket)
	}

	return nil
}
