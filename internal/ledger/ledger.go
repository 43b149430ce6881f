package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/lock"
	"github.com/sheikh-saqib/merchant-ledger/internal/metrics"
	"github.com/sheikh-saqib/merchant-ledger/internal/models"
	"github.com/sheikh-saqib/merchant-ledger/internal/models/events"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

// Ledger owns the three-bucket balance of every merchant account.
// All mutations of one account are serialized through the locker; the store
// writes the new snapshot and its entries in one step.
type Ledger struct {
	store     interfaces.LedgerStore
	locker    interfaces.Locker
	publisher interfaces.EventPublisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
}

type Option func(*Ledger)

// WithLocker replaces the default in-process locker, e.g. with a Redis lock
// shared between instances.
func WithLocker(locker interfaces.Locker) Option {
	return func(l *Ledger) { l.locker = locker }
}

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// NewLedger creates a Ledger on top of store.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		locker: lock.NewMutexLocker(),
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LockKey is the key under which an account is serialized.
func LockKey(accountID string) string {
	return "lock:ledger:" + accountID
}

func (l *Ledger) lockAccount(ctx context.Context, accountID string) (func(), error) {
	start := time.Now()

	handle, err := l.locker.Lock(ctx, LockKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", accountID, err)
	}

	l.metrics.ObserveLockWait(time.Since(start).Seconds())

	return func() {
		// The context may already be canceled; the lock must still be released.
		if err := handle.Unlock(context.WithoutCancel(ctx)); err != nil {
			l.logger.Warn("release account lock", zap.String("account_id", accountID), zap.Error(err))
		}
	}, nil
}

// OpenAccount provisions an all-zero account. Opening an existing account with
// the same currency returns its current snapshot.
func (l *Ledger) OpenAccount(ctx context.Context, accountID, currency string) (models.BalanceSnapshot, error) {
	if accountID == "" {
		return models.BalanceSnapshot{}, ErrMissingAccountID
	}

	if err := money.ValidateCurrency(currency); err != nil {
		return models.BalanceSnapshot{}, err
	}

	stored, created, err := l.store.CreateAccount(ctx, models.NewBalanceSnapshot(accountID, currency, l.now()))
	if err != nil {
		return models.BalanceSnapshot{}, err
	}

	if !created && stored.Currency != currency {
		return models.BalanceSnapshot{}, fmt.Errorf("%w: %s holds %s", ErrAccountExists, accountID, stored.Currency)
	}

	if created {
		l.logger.Info("account opened", zap.String("account_id", accountID), zap.String("currency", currency))
	}

	return stored, nil
}

// Do runs fn against the account under its lock and commits every staged
// entry, together with a staged withdrawal transition, atomically. If fn
// returns an error nothing is written. Hooks registered with Tx.OnCommit run
// after the write, before the lock is released; the first hook error is
// returned alongside the committed snapshot.
func (l *Ledger) Do(ctx context.Context, accountID string, fn func(tx *Tx) error) (models.BalanceSnapshot, error) {
	unlock, err := l.lockAccount(ctx, accountID)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	defer unlock()

	var tx *Tx

	change, err := l.store.Update(ctx, accountID, func(current models.BalanceSnapshot) (interfaces.Change, error) {
		tx = &Tx{ledger: l, before: current, current: current}

		if err := fn(tx); err != nil {
			return interfaces.Change{}, err
		}

		change := interfaces.Change{Snapshot: current, Withdrawal: tx.withdrawal}
		if len(tx.entries) == 0 {
			return change, nil
		}

		if err := tx.verify(); err != nil {
			l.logger.Error("ledger invariant check failed", zap.String("account_id", accountID), zap.Error(err))
			return interfaces.Change{}, err
		}

		at := l.now()
		next := tx.current
		next.Version = current.Version + 1
		next.AsOf = at

		for i := range tx.entries {
			tx.entries[i].CreatedAt = at
		}

		change.Snapshot = next
		change.Entries = tx.entries

		return change, nil
	})
	if err != nil {
		l.metrics.LedgerOperation("rejected", 0)
		return models.BalanceSnapshot{}, err
	}

	snapshot, entries := change.Snapshot, change.Entries

	l.metrics.LedgerOperation("committed", len(entries))

	if len(entries) > 0 {
		l.publish(ctx, snapshot, entries)
	}

	if tx == nil {
		return snapshot, nil
	}

	for _, hook := range tx.hooks {
		if err := hook(ctx, snapshot); err != nil {
			return snapshot, fmt.Errorf("after commit on account %s: %w", accountID, err)
		}
	}

	return snapshot, nil
}

func (l *Ledger) publish(ctx context.Context, snapshot models.BalanceSnapshot, entries []models.LedgerEntry) {
	if l.publisher == nil {
		return
	}

	event := events.LedgerEntriesAppended{
		AccountID:  snapshot.AccountID,
		Entries:    entries,
		Snapshot:   snapshot,
		OccurredAt: snapshot.AsOf,
	}

	if err := l.publisher.Publish(ctx, events.TopicLedgerEntries, snapshot.AccountID, event); err != nil {
		l.metrics.PublishFailed(events.TopicLedgerEntries)
		l.logger.Warn("publish ledger entries",
			zap.String("account_id", snapshot.AccountID),
			zap.Int("entries", len(entries)),
			zap.Error(err),
		)
	}
}

// CreditAvailable records a completed incoming payment.
func (l *Ledger) CreditAvailable(ctx context.Context, accountID string, amount money.Money, relatedID string) (models.BalanceSnapshot, error) {
	return l.Do(ctx, accountID, func(tx *Tx) error { return tx.CreditAvailable(amount, relatedID) })
}

// CreditPending records an incoming payment that has not settled yet.
func (l *Ledger) CreditPending(ctx context.Context, accountID string, amount money.Money, relatedID string) (models.BalanceSnapshot, error) {
	return l.Do(ctx, accountID, func(tx *Tx) error { return tx.CreditPending(amount, relatedID) })
}

// ReserveForWithdrawal moves amount from available to blocked.
func (l *Ledger) ReserveForWithdrawal(ctx context.Context, accountID string, amount money.Money, withdrawalID string) (models.BalanceSnapshot, error) {
	return l.Do(ctx, accountID, func(tx *Tx) error { return tx.ReserveForWithdrawal(amount, withdrawalID) })
}

// SettleWithdrawal consumes blocked funds after the payout succeeded.
func (l *Ledger) SettleWithdrawal(ctx context.Context, accountID string, amount money.Money, withdrawalID string) (models.BalanceSnapshot, error) {
	return l.Do(ctx, accountID, func(tx *Tx) error { return tx.SettleWithdrawal(amount, withdrawalID) })
}

// ReverseWithdrawal releases blocked funds back to available.
func (l *Ledger) ReverseWithdrawal(ctx context.Context, accountID string, amount money.Money, withdrawalID string) (models.BalanceSnapshot, error) {
	return l.Do(ctx, accountID, func(tx *Tx) error { return tx.ReverseWithdrawal(amount, withdrawalID) })
}

// PromotePending moves settled funds from pending to available.
func (l *Ledger) PromotePending(ctx context.Context, accountID string, amount money.Money, relatedID string) (models.BalanceSnapshot, error) {
	return l.Do(ctx, accountID, func(tx *Tx) error { return tx.PromotePending(amount, relatedID) })
}

// Snapshot returns the latest committed balance.
func (l *Ledger) Snapshot(ctx context.Context, accountID string) (models.BalanceSnapshot, error) {
	return l.store.GetSnapshot(ctx, accountID)
}

// Entries returns the account's entries in commit order.
func (l *Ledger) Entries(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	if _, err := l.store.GetSnapshot(ctx, accountID); err != nil {
		return nil, err
	}

	return l.store.GetEntriesByAccount(ctx, accountID)
}

// AllEntries returns the entries of every account in commit order.
func (l *Ledger) AllEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	return l.store.GetLedgerEntries(ctx)
}

// AuditReport compares a stored snapshot with the replay of its entries.
type AuditReport struct {
	AccountID  string                 `json:"account_id"`
	Stored     models.BalanceSnapshot `json:"stored"`
	Replayed   models.BalanceSnapshot `json:"replayed"`
	Entries    int                    `json:"entries"`
	Consistent bool                   `json:"consistent"`
	Problem    string                 `json:"problem,omitempty"`
}

// Audit replays every entry of the account from zero and compares the result
// with the stored snapshot.
func (l *Ledger) Audit(ctx context.Context, accountID string) (AuditReport, error) {
	unlock, err := l.lockAccount(ctx, accountID)
	if err != nil {
		return AuditReport{}, err
	}
	defer unlock()

	stored, err := l.store.GetSnapshot(ctx, accountID)
	if err != nil {
		return AuditReport{}, err
	}

	entries, err := l.store.GetEntriesByAccount(ctx, accountID)
	if err != nil {
		return AuditReport{}, err
	}

	report := AuditReport{AccountID: accountID, Stored: stored, Entries: len(entries)}
	replayed := models.NewBalanceSnapshot(accountID, stored.Currency, stored.AsOf)

	for _, e := range entries {
		next, err := replayed.Apply(e)
		if err != nil {
			report.Problem = fmt.Sprintf("entry %s: %v", e.ID, err)
			break
		}

		if bucket, negative := next.Negative(); negative {
			report.Problem = fmt.Sprintf("entry %s drives %s negative", e.ID, bucket)
			break
		}

		replayed = next
	}

	report.Replayed = replayed

	if report.Problem == "" && !replayed.SameBalances(stored) {
		report.Problem = "replayed balances differ from the stored snapshot"
	}

	report.Consistent = report.Problem == ""

	if !report.Consistent {
		l.logger.Error("ledger audit failed",
			zap.String("account_id", accountID),
			zap.String("problem", report.Problem),
			zap.Int("entries", len(entries)),
		)
	}

	return report, nil
}
