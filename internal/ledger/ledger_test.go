package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/models"
	"github.com/sheikh-saqib/merchant-ledger/internal/models/events"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
	"github.com/sheikh-saqib/merchant-ledger/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func brl(minor int64) money.Money { return money.MustNew(minor, "BRL") }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LedgerEntriesAppended
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	if e, ok := event.(events.LedgerEntriesAppended); ok && topic == events.TopicLedgerEntries && key == e.AccountID {
		p.events = append(p.events, e)
	}

	return nil
}

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *memory.MemoryLedgerStore) {
	t.Helper()

	var n atomic.Int64

	store := memory.NewMemoryLedgerStore()
	opts = append([]Option{
		WithClock(func() time.Time { return t0 }),
		WithIDGenerator(func() string { return fmt.Sprintf("e-%d", n.Add(1)) }),
	}, opts...)

	l := NewLedger(store, opts...)

	_, err := l.OpenAccount(context.Background(), "acct-1", "BRL")
	require.NoError(t, err)

	return l, store
}

func TestOpenAccount(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	snap, err := l.OpenAccount(ctx, "acct-1", "BRL")
	require.NoError(t, err)
	assert.True(t, snap.Available.IsZero())

	_, err = l.OpenAccount(ctx, "acct-1", "USD")
	assert.ErrorIs(t, err, ErrAccountExists)

	_, err = l.OpenAccount(ctx, "", "BRL")
	assert.ErrorIs(t, err, ErrMissingAccountID)

	_, err = l.OpenAccount(ctx, "acct-2", "brl")
	assert.ErrorIs(t, err, money.ErrInvalidCurrency)
}

func TestCreditAndReserve(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreditAvailable(ctx, "acct-1", brl(100000), "pay-1")
	require.NoError(t, err)

	snap, err := l.ReserveForWithdrawal(ctx, "acct-1", brl(30000), "wd-1")
	require.NoError(t, err)
	assert.Equal(t, brl(70000), snap.Available)
	assert.Equal(t, brl(30000), snap.Blocked)
	assert.Equal(t, int64(2), snap.Version)
	assert.Equal(t, t0, snap.AsOf)

	entries, err := l.Entries(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.DebitAvailable, entries[1].Kind)
	assert.Equal(t, models.CreditBlocked, entries[2].Kind)
	assert.Equal(t, "wd-1", entries[2].RelatedTransactionID)
	assert.Less(t, entries[1].Sequence, entries[2].Sequence)
}

func TestReserve_InsufficientLeavesSnapshotUnchanged(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	before, err := l.CreditAvailable(ctx, "acct-1", brl(500), "pay-1")
	require.NoError(t, err)

	_, err = l.ReserveForWithdrawal(ctx, "acct-1", brl(501), "wd-1")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	var balErr *BalanceError
	require.True(t, errors.As(err, &balErr))
	assert.Equal(t, models.BucketAvailable, balErr.Bucket)
	assert.Equal(t, brl(500), balErr.Have)
	assert.Equal(t, brl(501), balErr.Want)

	after, err := l.Snapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := l.Entries(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSettleAndReverse(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreditAvailable(ctx, "acct-1", brl(1000), "pay-1")
	require.NoError(t, err)
	_, err = l.ReserveForWithdrawal(ctx, "acct-1", brl(600), "wd-1")
	require.NoError(t, err)

	snap, err := l.ReverseWithdrawal(ctx, "acct-1", brl(200), "wd-1")
	require.NoError(t, err)
	assert.Equal(t, brl(600), snap.Available)
	assert.Equal(t, brl(400), snap.Blocked)

	snap, err = l.SettleWithdrawal(ctx, "acct-1", brl(400), "wd-1")
	require.NoError(t, err)
	assert.Equal(t, brl(600), snap.Available)
	assert.True(t, snap.Blocked.IsZero())
}

func TestSettle_InsufficientBlockedLogsCritical(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	l, _ := newTestLedger(t, WithLogger(zap.New(core)))
	ctx := context.Background()

	_, err := l.SettleWithdrawal(ctx, "acct-1", brl(1), "wd-ghost")
	require.ErrorIs(t, err, ErrInsufficientBlocked)

	_, err = l.ReverseWithdrawal(ctx, "acct-1", brl(1), "wd-ghost")
	require.ErrorIs(t, err, ErrInsufficientBlocked)

	critical := logs.FilterMessage("critical ledger inconsistency").All()
	require.Len(t, critical, 2)
	assert.Equal(t, "acct-1", critical[0].ContextMap()["account_id"])
	assert.Equal(t, "wd-ghost", critical[0].ContextMap()["related_transaction_id"])
}

func TestPromotePending(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreditPending(ctx, "acct-1", brl(300), "pay-1")
	require.NoError(t, err)

	_, err = l.PromotePending(ctx, "acct-1", brl(301), "pay-1")
	require.ErrorIs(t, err, ErrInsufficientPending)

	snap, err := l.PromotePending(ctx, "acct-1", brl(300), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, brl(300), snap.Available)
	assert.True(t, snap.Pending.IsZero())
}

func TestOperations_RejectBadAmounts(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreditAvailable(ctx, "acct-1", brl(0), "x")
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = l.CreditAvailable(ctx, "acct-1", brl(-5), "x")
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = l.CreditAvailable(ctx, "acct-1", money.MustNew(5, "USD"), "x")
	assert.ErrorIs(t, err, money.ErrCurrencyMismatch)

	_, err = l.CreditAvailable(ctx, "missing", brl(5), "x")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDo_IsAllOrNothing(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreditAvailable(ctx, "acct-1", brl(1000), "pay-1")
	require.NoError(t, err)

	hookRan := false
	_, err = l.Do(ctx, "acct-1", func(tx *Tx) error {
		tx.OnCommit(func(context.Context, models.BalanceSnapshot) error {
			hookRan = true
			return nil
		})

		if err := tx.ReserveForWithdrawal(brl(600), "wd-1"); err != nil {
			return err
		}

		return tx.ReserveForWithdrawal(brl(600), "wd-2")
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.False(t, hookRan)

	snap, err := l.Snapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, brl(1000), snap.Available)
	assert.True(t, snap.Blocked.IsZero())
}

func TestDo_HooksSeeCommittedSnapshot(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	var seen models.BalanceSnapshot

	snap, err := l.Do(ctx, "acct-1", func(tx *Tx) error {
		tx.OnCommit(func(_ context.Context, s models.BalanceSnapshot) error {
			seen = s
			return nil
		})

		if err := tx.CreditAvailable(brl(700), "pay-1"); err != nil {
			return err
		}

		// Staged state is visible inside the transaction.
		assert.Equal(t, brl(700), tx.Snapshot().Available)

		return tx.ReserveForWithdrawal(brl(200), "wd-1")
	})
	require.NoError(t, err)
	assert.Equal(t, snap, seen)
	assert.Equal(t, int64(1), snap.Version)

	boom := errors.New("hook failed")
	_, err = l.Do(ctx, "acct-1", func(tx *Tx) error {
		tx.OnCommit(func(context.Context, models.BalanceSnapshot) error { return boom })
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestDo_PublishesAfterCommit(t *testing.T) {
	pub := &recordingPublisher{}
	l, _ := newTestLedger(t, WithPublisher(pub))
	ctx := context.Background()

	_, err := l.CreditAvailable(ctx, "acct-1", brl(1000), "pay-1")
	require.NoError(t, err)

	_, err = l.ReserveForWithdrawal(ctx, "acct-1", brl(5000), "wd-1")
	require.Error(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "acct-1", pub.events[0].AccountID)
	assert.Len(t, pub.events[0].Entries, 1)
	assert.Equal(t, brl(1000), pub.events[0].Snapshot.Available)
}

func TestDo_PublishFailureDoesNotUndoCommit(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &recordingPublisher{err: errors.New("broker down")}
	l, _ := newTestLedger(t, WithPublisher(pub), WithLogger(zap.New(core)))
	ctx := context.Background()

	snap, err := l.CreditAvailable(ctx, "acct-1", brl(1000), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, brl(1000), snap.Available)
	assert.Equal(t, 1, logs.FilterMessage("publish ledger entries").Len())
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreditAvailable(ctx, "acct-1", brl(10000), "pay-1")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		approved atomic.Int64
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			_, err := l.ReserveForWithdrawal(ctx, "acct-1", brl(300), fmt.Sprintf("wd-%d", i))
			if err == nil {
				approved.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}(i)
	}
	wg.Wait()

	// 10000 / 300 = 33 reservations fit.
	assert.Equal(t, int64(33), approved.Load())

	snap, err := l.Snapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, brl(100), snap.Available)
	assert.Equal(t, brl(9900), snap.Blocked)
}

// requireConserved checks that the bucket total equals the signed sum of the
// account's entries and that no bucket is negative.
func requireConserved(t *testing.T, l *Ledger) {
	t.Helper()

	ctx := context.Background()

	snap, err := l.Snapshot(ctx, "acct-1")
	require.NoError(t, err)

	_, negative := snap.Negative()
	require.False(t, negative)

	entries, err := l.Entries(ctx, "acct-1")
	require.NoError(t, err)

	signed := money.Zero("BRL")
	for _, e := range entries {
		signed, err = signed.Add(e.Signed())
		require.NoError(t, err)
	}

	total, err := snap.Total()
	require.NoError(t, err)
	require.Equal(t, signed, total)
}

// Random operation sequences keep available+pending+blocked equal to the
// signed sum of every entry, and no bucket ever goes negative.
func TestConservation_RandomSequences(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 20; run++ {
		l, _ := newTestLedger(t)

		for step := 0; step < 200; step++ {
			amount := brl(rng.Int63n(5000) + 1)
			id := fmt.Sprintf("op-%d", step)

			var err error

			switch rng.Intn(6) {
			case 0:
				_, err = l.CreditAvailable(ctx, "acct-1", amount, id)
			case 1:
				_, err = l.CreditPending(ctx, "acct-1", amount, id)
			case 2:
				_, err = l.ReserveForWithdrawal(ctx, "acct-1", amount, id)
			case 3:
				_, err = l.SettleWithdrawal(ctx, "acct-1", amount, id)
			case 4:
				_, err = l.ReverseWithdrawal(ctx, "acct-1", amount, id)
			case 5:
				_, err = l.PromotePending(ctx, "acct-1", amount, id)
			}

			if err != nil {
				var balErr *BalanceError
				require.True(t, errors.As(err, &balErr), "unexpected error: %v", err)
			}

			requireConserved(t, l)
		}

		report, err := l.Audit(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, report.Consistent, report.Problem)
	}
}

func TestAudit_DetectsDrift(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreditAvailable(ctx, "acct-1", brl(1000), "pay-1")
	require.NoError(t, err)

	// Write a snapshot that no entry explains.
	_, err = store.Update(ctx, "acct-1", func(cur models.BalanceSnapshot) (interfaces.Change, error) {
		cur.Available = brl(5000)
		e := models.LedgerEntry{ID: "rogue", AccountID: "acct-1", Kind: models.CreditPending, Amount: brl(1)}
		return interfaces.Change{Snapshot: cur, Entries: []models.LedgerEntry{e}}, nil
	})
	require.NoError(t, err)

	report, err := l.Audit(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, brl(1000), report.Replayed.Available)
	assert.Equal(t, 2, report.Entries)
}

func TestAllEntries_SpansAccounts(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.OpenAccount(ctx, "acct-2", "BRL")
	require.NoError(t, err)

	_, err = l.CreditAvailable(ctx, "acct-1", brl(100), "pay-1")
	require.NoError(t, err)
	_, err = l.CreditPending(ctx, "acct-2", brl(200), "pay-2")
	require.NoError(t, err)

	all, err := l.AllEntries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "acct-1", all[0].AccountID)
	assert.Equal(t, "acct-2", all[1].AccountID)
	assert.Less(t, all[0].Sequence, all[1].Sequence)
}

func TestDo_WithdrawalTransitionCommitsWithEntries(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreditAvailable(ctx, "acct-1", brl(1000), "pay-1")
	require.NoError(t, err)

	w := models.WithdrawalRequest{ID: "wd-1", AccountID: "acct-1", Status: models.WithdrawalPending, RequestedAt: t0}
	require.NoError(t, store.SaveWithdrawal(ctx, w))

	approved := w
	approved.Status = models.WithdrawalApproved

	reserve := func(tx *Tx) error {
		if err := tx.ReserveForWithdrawal(brl(400), w.ID); err != nil {
			return err
		}
		return tx.TransitionWithdrawal(approved, models.WithdrawalPending)
	}

	_, err = l.Do(ctx, "acct-1", reserve)
	require.NoError(t, err)

	// the request is no longer PENDING, so the same change is refused whole
	_, err = l.Do(ctx, "acct-1", reserve)
	require.ErrorIs(t, err, interfaces.ErrConflict)

	snap, err := l.Snapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, brl(400), snap.Blocked)
	assert.Equal(t, int64(2), snap.Version)

	_, err = l.Do(ctx, "acct-1", func(tx *Tx) error {
		other := approved
		other.AccountID = "acct-2"
		return tx.TransitionWithdrawal(other, models.WithdrawalApproved)
	})
	assert.Error(t, err)
}
