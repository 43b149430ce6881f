package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/models"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

// PostgresLedgerStore keeps snapshots in accounts and the append-only log in
// ledger_entries. Update holds a row lock on the account for its whole
// transaction.
type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const snapshotColumns = `account_id, currency, available, pending, blocked, version, as_of`

func scanSnapshot(row rowScanner) (models.BalanceSnapshot, error) {
	var (
		snap                        models.BalanceSnapshot
		available, pending, blocked int64
	)

	if err := row.Scan(&snap.AccountID, &snap.Currency, &available, &pending, &blocked, &snap.Version, &snap.AsOf); err != nil {
		return models.BalanceSnapshot{}, err
	}

	var err error
	if snap.Available, err = money.New(available, snap.Currency); err != nil {
		return models.BalanceSnapshot{}, err
	}

	snap.Pending = money.MustNew(pending, snap.Currency)
	snap.Blocked = money.MustNew(blocked, snap.Currency)
	snap.AsOf = snap.AsOf.UTC()

	return snap, nil
}

func notFound(what, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, interfaces.ErrNotFound)
	}

	return err
}

func (p *PostgresLedgerStore) CreateAccount(ctx context.Context, snap models.BalanceSnapshot) (models.BalanceSnapshot, bool, error) {
	const query = `INSERT INTO accounts (account_id, currency, available, pending, blocked, version, as_of)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (account_id) DO NOTHING
	RETURNING ` + snapshotColumns

	stored, err := scanSnapshot(p.db.QueryRowContext(ctx, query,
		snap.AccountID, snap.Currency,
		snap.Available.MinorUnits(), snap.Pending.MinorUnits(), snap.Blocked.MinorUnits(),
		snap.Version, snap.AsOf,
	))
	if err == nil {
		return stored, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return models.BalanceSnapshot{}, false, err
	}

	// conflict: the account already exists
	existing, err := p.GetSnapshot(ctx, snap.AccountID)
	if err != nil {
		return models.BalanceSnapshot{}, false, err
	}

	return existing, false, nil
}

func (p *PostgresLedgerStore) GetSnapshot(ctx context.Context, accountID string) (models.BalanceSnapshot, error) {
	const query = `SELECT ` + snapshotColumns + ` FROM accounts WHERE account_id = $1`

	snap, err := scanSnapshot(p.db.QueryRowContext(ctx, query, accountID))
	if err != nil {
		return models.BalanceSnapshot{}, notFound("account", accountID, err)
	}

	return snap, nil
}

// Update locks the account row with SELECT ... FOR UPDATE, runs fn, and writes
// the entries, the new snapshot and the withdrawal transition in the same
// transaction.
func (p *PostgresLedgerStore) Update(ctx context.Context, accountID string, fn interfaces.UpdateFunc) (_ interfaces.Change, err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return interfaces.Change{}, err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	const lockQuery = `SELECT ` + snapshotColumns + ` FROM accounts WHERE account_id = $1 FOR UPDATE`

	current, err := scanSnapshot(dbTx.QueryRowContext(ctx, lockQuery, accountID))
	if err != nil {
		return interfaces.Change{}, notFound("account", accountID, err)
	}

	change, err := fn(current)
	if err != nil {
		return interfaces.Change{}, err
	}

	if change.Empty() {
		return interfaces.Change{Snapshot: current}, dbTx.Rollback()
	}

	if change.Withdrawal != nil {
		if err = swapWithdrawal(ctx, dbTx, change.Withdrawal.Request, change.Withdrawal.From); err != nil {
			return interfaces.Change{}, err
		}
	}

	if len(change.Entries) == 0 {
		change.Snapshot = current
	} else if change, err = p.writeEntries(ctx, dbTx, current, change); err != nil {
		return interfaces.Change{}, err
	}

	if err = dbTx.Commit(); err != nil {
		return interfaces.Change{}, err
	}

	return change, nil
}

func (p *PostgresLedgerStore) writeEntries(ctx context.Context, dbTx *sql.Tx, current models.BalanceSnapshot, change interfaces.Change) (interfaces.Change, error) {
	accountID := current.AccountID

	committed := make([]models.LedgerEntry, len(change.Entries))
	for i, e := range change.Entries {
		var err error
		if e.Sequence, err = p.saveEntry(ctx, dbTx, e); err != nil {
			return interfaces.Change{}, fmt.Errorf("save entry %s: %w", e.ID, err)
		}
		committed[i] = e
	}

	const updateQuery = `UPDATE accounts
	SET available = $2, pending = $3, blocked = $4, version = $5, as_of = $6
	WHERE account_id = $1 AND version = $7`

	next := change.Snapshot
	res, err := dbTx.ExecContext(ctx, updateQuery, accountID,
		next.Available.MinorUnits(), next.Pending.MinorUnits(), next.Blocked.MinorUnits(),
		next.Version, next.AsOf, current.Version,
	)
	if err != nil {
		return interfaces.Change{}, err
	}

	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return interfaces.Change{}, fmt.Errorf("account %s: %w", accountID, interfaces.ErrConflict)
	}

	change.Entries = committed
	return change, nil
}

func (p *PostgresLedgerStore) saveEntry(ctx context.Context, dbTx *sql.Tx, e models.LedgerEntry) (int64, error) {
	const query = `INSERT INTO ledger_entries (id, account_id, kind, amount, currency, related_transaction_id, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	RETURNING sequence`

	var seq int64
	err := dbTx.QueryRowContext(ctx, query,
		e.ID, e.AccountID, string(e.Kind), e.Amount.MinorUnits(), e.Amount.Currency(),
		e.RelatedTransactionID, e.CreatedAt,
	).Scan(&seq)

	return seq, err
}

const entryColumns = `id, account_id, sequence, kind, amount, currency, related_transaction_id, created_at`

func (p *PostgresLedgerStore) queryEntries(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)

	for rows.Next() {
		var (
			entry    models.LedgerEntry
			kind     string
			amount   int64
			currency string
		)

		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Sequence, &kind, &amount, &currency,
			&entry.RelatedTransactionID, &entry.CreatedAt); err != nil {
			return nil, err
		}

		entry.Kind = models.EntryKind(kind)
		if !entry.Kind.Valid() {
			return nil, fmt.Errorf("entry %s: unknown kind %q", entry.ID, kind)
		}

		if entry.Amount, err = money.New(amount, currency); err != nil {
			return nil, fmt.Errorf("entry %s: %w", entry.ID, err)
		}

		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (p *PostgresLedgerStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries ORDER BY sequence`

	return p.queryEntries(ctx, query)
}

func (p *PostgresLedgerStore) GetEntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE account_id = $1 ORDER BY sequence`

	return p.queryEntries(ctx, query, accountID)
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
