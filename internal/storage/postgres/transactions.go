package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/models"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

// PostgresTransactionStore persists inbound payments. The unique index on
// (account_id, idempotency_key) decides which of two concurrent inserts wins.
type PostgresTransactionStore struct {
	db *sql.DB
}

func NewPostgresTransactionStore(db *sql.DB) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db}
}

const transactionColumns = `id, idempotency_key, account_id, method, gross, fee, net, currency, settled, created_at, settled_at`

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		t                  models.Transaction
		key                sql.NullString
		method, currency   string
		gross, fee, netAmt int64
		settledAt          sql.NullTime
	)

	if err := row.Scan(&t.ID, &key, &t.AccountID, &method, &gross, &fee, &netAmt, &currency,
		&t.Settled, &t.CreatedAt, &settledAt); err != nil {
		return models.Transaction{}, err
	}

	var err error
	if t.Gross, err = money.New(gross, currency); err != nil {
		return models.Transaction{}, err
	}

	t.IdempotencyKey = key.String
	t.Method = fees.Method(method)
	t.Fee = money.MustNew(fee, currency)
	t.Net = money.MustNew(netAmt, currency)
	t.CreatedAt = t.CreatedAt.UTC()

	if settledAt.Valid {
		at := settledAt.Time.UTC()
		t.SettledAt = &at
	}

	return t, nil
}

func (p *PostgresTransactionStore) SaveTransaction(ctx context.Context, t models.Transaction) (models.Transaction, bool, error) {
	const query = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (account_id, idempotency_key) DO NOTHING`

	// NULL keys never collide, so payments without a key are always inserted.
	key := sql.NullString{String: t.IdempotencyKey, Valid: t.IdempotencyKey != ""}

	res, err := p.db.ExecContext(ctx, query,
		t.ID, key, t.AccountID, string(t.Method),
		t.Gross.MinorUnits(), t.Fee.MinorUnits(), t.Net.MinorUnits(), t.Gross.Currency(),
		t.Settled, t.CreatedAt, nullableTime(t.SettledAt),
	)
	if isUniqueViolation(err) {
		return models.Transaction{}, false, fmt.Errorf("transaction %s: %w", t.ID, interfaces.ErrConflict)
	}

	if err != nil {
		return models.Transaction{}, false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return models.Transaction{}, false, err
	}

	if n == 1 {
		return t, true, nil
	}

	existing, err := p.getByKey(ctx, t.AccountID, t.IdempotencyKey)
	if err != nil {
		return models.Transaction{}, false, err
	}

	return existing, false, nil
}

func (p *PostgresTransactionStore) getByKey(ctx context.Context, accountID, key string) (models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = $1 AND idempotency_key = $2`

	t, err := scanTransaction(p.db.QueryRowContext(ctx, query, accountID, key))
	if err != nil {
		return models.Transaction{}, notFound("idempotency key", key, err)
	}

	return t, nil
}

func (p *PostgresTransactionStore) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.Transaction{}, notFound("transaction", id, err)
	}

	return t, nil
}

func (p *PostgresTransactionStore) MarkTransactionSettled(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE transactions SET settled = TRUE, settled_at = $2 WHERE id = $1 AND NOT settled`

	res, err := p.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 1 {
		return nil
	}

	if _, err := p.GetTransaction(ctx, id); err != nil {
		return err
	}

	return fmt.Errorf("transaction %s already settled: %w", id, interfaces.ErrConflict)
}

var _ interfaces.TransactionStore = (*PostgresTransactionStore)(nil)
