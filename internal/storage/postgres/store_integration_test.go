//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/models"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}

	ctx := context.Background()

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))

	return db
}

func brl(minor int64) money.Money { return money.MustNew(minor, "BRL") }

func TestLedgerStore_CreateUpdateEntries(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresLedgerStore(db)
	ctx := context.Background()

	accountID := "acct-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)

	snap, created, err := store.CreateAccount(ctx, models.NewBalanceSnapshot(accountID, "BRL", now))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = store.CreateAccount(ctx, models.NewBalanceSnapshot(accountID, "BRL", now))
	require.NoError(t, err)
	assert.False(t, created)

	entry := models.LedgerEntry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Kind:      models.CreditAvailable,
		Amount:    brl(1500),
		CreatedAt: now,
	}

	change, err := store.Update(ctx, accountID, func(current models.BalanceSnapshot) (interfaces.Change, error) {
		current.Available = brl(1500)
		current.Version++
		return interfaces.Change{Snapshot: current, Entries: []models.LedgerEntry{entry}}, nil
	})
	require.NoError(t, err)
	require.Len(t, change.Entries, 1)
	assert.Positive(t, change.Entries[0].Sequence)
	assert.Equal(t, brl(1500), change.Snapshot.Available)

	stored, err := store.GetSnapshot(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, brl(1500), stored.Available)
	assert.Equal(t, snap.Version+1, stored.Version)

	entries, err := store.GetEntriesByAccount(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)

	_, err = store.GetSnapshot(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestTransactionStore_Idempotency(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresTransactionStore(db)
	ctx := context.Background()

	key := uuid.NewString()
	tx := models.Transaction{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		AccountID:      "acct-1",
		Method:         fees.MethodPIX,
		Gross:          brl(10000),
		Fee:            brl(99),
		Net:            brl(9901),
		CreatedAt:      time.Now().UTC(),
	}

	_, created, err := store.SaveTransaction(ctx, tx)
	require.NoError(t, err)
	assert.True(t, created)

	dup := tx
	dup.ID = uuid.NewString()

	stored, created, err := store.SaveTransaction(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, tx.ID, stored.ID)

	require.NoError(t, store.MarkTransactionSettled(ctx, tx.ID, time.Now().UTC()))
	assert.ErrorIs(t, store.MarkTransactionSettled(ctx, tx.ID, time.Now().UTC()), interfaces.ErrConflict)
}

func TestWithdrawalStore_CompareAndSwap(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresWithdrawalStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	w := models.WithdrawalRequest{
		ID:          uuid.NewString(),
		AccountID:   "acct-" + uuid.NewString(),
		Method:      fees.MethodPIX,
		GrossAmount: brl(5000),
		Fee:         brl(0),
		Net:         brl(5000),
		PixKey:      "merchant@example.com",
		RequestedAt: now,
		UpdatedAt:   now,
		Status:      models.WithdrawalPending,
	}
	require.NoError(t, store.SaveWithdrawal(ctx, w))
	assert.ErrorIs(t, store.SaveWithdrawal(ctx, w), interfaces.ErrConflict)

	approved := w
	approved.Status = models.WithdrawalApproved
	require.NoError(t, store.UpdateWithdrawal(ctx, approved, models.WithdrawalPending))
	assert.ErrorIs(t, store.UpdateWithdrawal(ctx, approved, models.WithdrawalPending), interfaces.ErrConflict)

	listed, err := store.ListWithdrawalsSince(ctx, w.AccountID, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, models.WithdrawalApproved, listed[0].Status)
}

func TestLedgerStore_UpdateRollsBackOnLostWithdrawalSwap(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresLedgerStore(db)
	withdrawals := NewPostgresWithdrawalStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	accountID := "acct-" + uuid.NewString()

	_, _, err := store.CreateAccount(ctx, models.NewBalanceSnapshot(accountID, "BRL", now))
	require.NoError(t, err)

	w := models.WithdrawalRequest{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Method:      fees.MethodPIX,
		GrossAmount: brl(100),
		Fee:         brl(0),
		Net:         brl(100),
		PixKey:      "k",
		RequestedAt: now,
		UpdatedAt:   now,
		Status:      models.WithdrawalApproved,
	}
	require.NoError(t, withdrawals.SaveWithdrawal(ctx, w))

	completed := w
	completed.Status = models.WithdrawalCompleted

	// the stored status is APPROVED, so a swap from PENDING loses
	_, err = store.Update(ctx, accountID, func(current models.BalanceSnapshot) (interfaces.Change, error) {
		current.Available = brl(100)
		current.Version++

		return interfaces.Change{
			Snapshot: current,
			Entries: []models.LedgerEntry{{
				ID: uuid.NewString(), AccountID: accountID, Kind: models.CreditAvailable, Amount: brl(100), CreatedAt: now,
			}},
			Withdrawal: &interfaces.WithdrawalTransition{Request: completed, From: models.WithdrawalPending},
		}, nil
	})
	require.ErrorIs(t, err, interfaces.ErrConflict)

	snap, err := store.GetSnapshot(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, snap.Available.IsZero())

	entries, err := store.GetEntriesByAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
