package payments

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/ledger"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
	"github.com/sheikh-saqib/merchant-ledger/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func brl(minor int64) money.Money { return money.MustNew(minor, "BRL") }

func newService(t *testing.T) (*Service, *ledger.Ledger) {
	t.Helper()

	store := memory.NewMemoryLedgerStore()
	now := func() time.Time { return t0 }

	l := ledger.NewLedger(store, ledger.WithClock(now))
	_, err := l.OpenAccount(context.Background(), "acct-1", "BRL")
	require.NoError(t, err)

	var n atomic.Int64

	return NewService(l, store, fees.NewRegistry(fees.DefaultSchedule()),
		WithClock(now),
		WithIDGenerator(func() string { return fmt.Sprintf("tx-%d", n.Add(1)) }),
	), l
}

func TestRecord_PendingThenSettle(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()

	// CREDIT_CARD inbound: 4.99% + 50.
	res, err := svc.Record(ctx, Payment{IdempotencyKey: "k-1", AccountID: "acct-1", Method: fees.MethodCreditCard, Gross: brl(10000)})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, brl(549), res.Transaction.Fee)
	assert.Equal(t, brl(9451), res.Transaction.Net)
	assert.Equal(t, brl(9451), res.Snapshot.Pending)
	assert.True(t, res.Snapshot.Available.IsZero())

	res, err = svc.Settle(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.True(t, res.Transaction.Settled)
	assert.Equal(t, brl(9451), res.Snapshot.Available)
	assert.True(t, res.Snapshot.Pending.IsZero())

	_, err = svc.Settle(ctx, res.Transaction.ID)
	assert.ErrorIs(t, err, ErrAlreadySettled)

	snap, err := l.Snapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, brl(9451), snap.Available)
}

func TestRecord_SettledGoesToAvailable(t *testing.T) {
	svc, _ := newService(t)

	// PIX inbound 0.99% of 100000 = 990.
	res, err := svc.Record(context.Background(), Payment{IdempotencyKey: "k-1", AccountID: "acct-1", Method: fees.MethodPIX, Gross: brl(100000), Settled: true})
	require.NoError(t, err)
	assert.Equal(t, brl(99010), res.Snapshot.Available)
	require.NotNil(t, res.Transaction.SettledAt)
}

func TestRecord_IdempotentReplay(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()

	p := Payment{IdempotencyKey: "k-1", AccountID: "acct-1", Method: fees.MethodPIX, Gross: brl(10000), Settled: true}

	first, err := svc.Record(ctx, p)
	require.NoError(t, err)

	second, err := svc.Record(ctx, p)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, first.Snapshot.Available, second.Snapshot.Available)

	entries, err := l.Entries(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecord_KeyReuse(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()

	_, err := l.OpenAccount(ctx, "acct-2", "BRL")
	require.NoError(t, err)

	p := Payment{IdempotencyKey: "order-1", AccountID: "acct-1", Method: fees.MethodPIX, Gross: brl(10000), Settled: true}

	first, err := svc.Record(ctx, p)
	require.NoError(t, err)

	// same key, different amount
	changed := p
	changed.Gross = brl(20000)
	_, err = svc.Record(ctx, changed)
	assert.ErrorIs(t, err, ErrIdempotencyMismatch)
	assert.ErrorIs(t, err, interfaces.ErrConflict)

	// same key on another account is a separate payment
	other := p
	other.AccountID = "acct-2"
	res, err := svc.Record(ctx, other)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.NotEqual(t, first.Transaction.ID, res.Transaction.ID)
	assert.Equal(t, brl(9901), res.Snapshot.Available)

	snap, err := l.Snapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, brl(9901), snap.Available)
}

func TestRecord_ConcurrentReplaysCreditOnce(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()

	p := Payment{IdempotencyKey: "k-1", AccountID: "acct-1", Method: fees.MethodPIX, Gross: brl(10000), Settled: true}

	var (
		wg       sync.WaitGroup
		replayed atomic.Int64
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, err := svc.Record(ctx, p)
			if assert.NoError(t, err) && res.Replayed {
				replayed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(9), replayed.Load())

	snap, err := l.Snapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, brl(9901), snap.Available)
}

func TestRecord_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, Payment{AccountID: "acct-1", Method: fees.MethodPIX, Gross: brl(0)})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Record(ctx, Payment{Method: fees.MethodPIX, Gross: brl(10)})
	assert.ErrorIs(t, err, ledger.ErrMissingAccountID)

	// BOLETO inbound has a fixed R$3.50 fee.
	_, err = svc.Record(ctx, Payment{AccountID: "acct-1", Method: fees.MethodBoleto, Gross: brl(200)})
	assert.ErrorIs(t, err, fees.ErrNetAmountNegative)

	_, err = svc.Record(ctx, Payment{AccountID: "acct-1", Method: fees.MethodPIX, Gross: money.MustNew(100, "USD")})
	assert.ErrorIs(t, err, money.ErrCurrencyMismatch)

	_, err = svc.Record(ctx, Payment{AccountID: "ghost", Method: fees.MethodPIX, Gross: brl(100)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecord_FailedCreditStoresNothing(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, Payment{IdempotencyKey: "k-usd", AccountID: "acct-1", Method: fees.MethodPIX, Gross: money.MustNew(100, "USD")})
	require.Error(t, err)

	_, err = svc.Get(ctx, "tx-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecord_AccountOverrideSchedule(t *testing.T) {
	store := memory.NewMemoryLedgerStore()
	l := ledger.NewLedger(store)
	_, err := l.OpenAccount(context.Background(), "acct-vip", "BRL")
	require.NoError(t, err)

	reg := fees.NewRegistry(fees.DefaultSchedule())
	require.NoError(t, reg.SetAccountRules("acct-vip", fees.Rule{
		Method: fees.MethodPIX, Direction: fees.Inbound, Percent: decimal.RequireFromString("0.5"),
	}))

	svc := NewService(l, store, reg)

	res, err := svc.Record(context.Background(), Payment{AccountID: "acct-vip", Method: fees.MethodPIX, Gross: brl(10000), Settled: true})
	require.NoError(t, err)
	assert.Equal(t, brl(50), res.Transaction.Fee)
}
