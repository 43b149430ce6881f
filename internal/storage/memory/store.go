package memory

import (
	"context" // request-scoped context (timeouts, cancellation)
	"fmt"
	"sort"
	"sync" // Mutex for concurrent access
	"time"

	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/models"
)

// MemoryLedgerStore is an in-memory implementation of the ledger, withdrawal
// and transaction stores. It is safe for concurrent use.
type MemoryLedgerStore struct {
	mu        sync.Mutex                        // protects snapshots, entries and seq
	snapshots map[string]models.BalanceSnapshot // latest snapshot per account
	entries   []models.LedgerEntry              // append-only log of every account
	seq       int64                             // last assigned entry sequence

	recMu        sync.Mutex                          // protects withdrawals and transactions
	withdrawals  map[string]models.WithdrawalRequest // by withdrawal id
	transactions map[string]models.Transaction       // by transaction id
	idempotency  map[string]string                   // account id + idempotency key -> transaction id
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		snapshots:    make(map[string]models.BalanceSnapshot),
		entries:      make([]models.LedgerEntry, 0),
		withdrawals:  make(map[string]models.WithdrawalRequest),
		transactions: make(map[string]models.Transaction),
		idempotency:  make(map[string]string),
	}
}

func (m *MemoryLedgerStore) CreateAccount(_ context.Context, snapshot models.BalanceSnapshot) (models.BalanceSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.snapshots[snapshot.AccountID]; ok {
		return existing, false, nil // provisioning is idempotent
	}

	m.snapshots[snapshot.AccountID] = snapshot
	return snapshot, true, nil
}

func (m *MemoryLedgerStore) GetSnapshot(_ context.Context, accountID string) (models.BalanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[accountID]
	if !ok {
		return models.BalanceSnapshot{}, fmt.Errorf("account %s: %w", accountID, interfaces.ErrNotFound)
	}
	return snap, nil
}

// Update runs fn with the store locked, so the snapshot cannot change under it,
// and applies the result only if fn succeeds and the change is not empty.
func (m *MemoryLedgerStore) Update(ctx context.Context, accountID string, fn interfaces.UpdateFunc) (interfaces.Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.snapshots[accountID]
	if !ok {
		return interfaces.Change{}, fmt.Errorf("account %s: %w", accountID, interfaces.ErrNotFound)
	}

	if err := ctx.Err(); err != nil {
		return interfaces.Change{}, err
	}

	change, err := fn(current)
	if err != nil {
		return interfaces.Change{}, err
	}

	if change.Empty() {
		return interfaces.Change{Snapshot: current}, nil // nothing to write
	}

	if len(change.Entries) == 0 {
		change.Snapshot = current
	} else if change.Snapshot.AccountID != accountID {
		return interfaces.Change{}, fmt.Errorf("update of %s returned snapshot for %s", accountID, change.Snapshot.AccountID)
	}

	// the withdrawal swap is checked first so a lost race writes nothing
	if change.Withdrawal != nil {
		m.recMu.Lock()
		err := m.swapWithdrawal(change.Withdrawal.Request, change.Withdrawal.From)
		m.recMu.Unlock()

		if err != nil {
			return interfaces.Change{}, err
		}
	}

	// copy before stamping so the caller's slice is not shared with the log
	committed := make([]models.LedgerEntry, len(change.Entries))
	for i, e := range change.Entries {
		m.seq++
		e.Sequence = m.seq
		committed[i] = e
	}

	m.entries = append(m.entries, committed...)
	m.snapshots[accountID] = change.Snapshot

	out := make([]models.LedgerEntry, len(committed))
	copy(out, committed)
	change.Entries = out
	return change, nil
}

// GetLedgerEntries returns a copy of all ledger entries in commit order.
func (m *MemoryLedgerStore) GetLedgerEntries(_ context.Context) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]models.LedgerEntry, len(m.entries))
	copy(copied, m.entries) // return a copy so callers can't modify internal state
	return copied, nil
}

func (m *MemoryLedgerStore) GetEntriesByAccount(_ context.Context, accountID string) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]models.LedgerEntry, 0)

	for _, e := range m.entries {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MemoryLedgerStore) SaveWithdrawal(_ context.Context, w models.WithdrawalRequest) error {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	if _, exists := m.withdrawals[w.ID]; exists {
		return fmt.Errorf("withdrawal %s: %w", w.ID, interfaces.ErrConflict)
	}

	m.withdrawals[w.ID] = w
	return nil
}

// UpdateWithdrawal is a compare-and-swap on the stored status.
func (m *MemoryLedgerStore) UpdateWithdrawal(_ context.Context, w models.WithdrawalRequest, from models.WithdrawalStatus) error {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	return m.swapWithdrawal(w, from)
}

// swapWithdrawal expects recMu to be held.
func (m *MemoryLedgerStore) swapWithdrawal(w models.WithdrawalRequest, from models.WithdrawalStatus) error {
	stored, ok := m.withdrawals[w.ID]
	if !ok {
		return fmt.Errorf("withdrawal %s: %w", w.ID, interfaces.ErrNotFound)
	}

	if stored.Status != from {
		return fmt.Errorf("withdrawal %s is %s, expected %s: %w", w.ID, stored.Status, from, interfaces.ErrConflict)
	}

	m.withdrawals[w.ID] = w
	return nil
}

func (m *MemoryLedgerStore) GetWithdrawal(_ context.Context, id string) (models.WithdrawalRequest, error) {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	w, ok := m.withdrawals[id]
	if !ok {
		return models.WithdrawalRequest{}, fmt.Errorf("withdrawal %s: %w", id, interfaces.ErrNotFound)
	}
	return w, nil
}

func (m *MemoryLedgerStore) ListWithdrawalsSince(_ context.Context, accountID string, since time.Time) ([]models.WithdrawalRequest, error) {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	result := make([]models.WithdrawalRequest, 0)

	for _, w := range m.withdrawals {
		if w.AccountID == accountID && w.RequestedAt.After(since) {
			result = append(result, w)
		}
	}

	// map iteration order is random; keep the listing stable
	sort.Slice(result, func(i, j int) bool {
		if result[i].RequestedAt.Equal(result[j].RequestedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].RequestedAt.Before(result[j].RequestedAt)
	})
	return result, nil
}

func (m *MemoryLedgerStore) SaveTransaction(_ context.Context, tx models.Transaction) (models.Transaction, bool, error) {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	key := idempotencyKey(tx)
	if key != "" {
		if id, seen := m.idempotency[key]; seen {
			return m.transactions[id], false, nil
		}
	}

	if _, exists := m.transactions[tx.ID]; exists {
		return models.Transaction{}, false, fmt.Errorf("transaction %s: %w", tx.ID, interfaces.ErrConflict)
	}

	m.transactions[tx.ID] = tx
	if key != "" {
		m.idempotency[key] = tx.ID
	}
	return tx, true, nil
}

// idempotencyKey scopes the caller's key to the account.
func idempotencyKey(tx models.Transaction) string {
	if tx.IdempotencyKey == "" {
		return ""
	}
	return tx.AccountID + "\x00" + tx.IdempotencyKey
}

func (m *MemoryLedgerStore) GetTransaction(_ context.Context, id string) (models.Transaction, error) {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", id, interfaces.ErrNotFound)
	}
	return tx, nil
}

func (m *MemoryLedgerStore) MarkTransactionSettled(_ context.Context, id string, at time.Time) error {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return fmt.Errorf("transaction %s: %w", id, interfaces.ErrNotFound)
	}

	if tx.Settled {
		return fmt.Errorf("transaction %s already settled: %w", id, interfaces.ErrConflict)
	}

	tx.Settled = true
	tx.SettledAt = &at
	m.transactions[id] = tx
	return nil
}

// Compile-time checks: MemoryLedgerStore implements every store interface
var (
	_ interfaces.LedgerStore      = (*MemoryLedgerStore)(nil)
	_ interfaces.WithdrawalStore  = (*MemoryLedgerStore)(nil)
	_ interfaces.TransactionStore = (*MemoryLedgerStore)(nil)
)
