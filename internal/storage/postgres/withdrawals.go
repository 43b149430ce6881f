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

// PostgresWithdrawalStore persists withdrawal requests in the withdrawals table.
type PostgresWithdrawalStore struct {
	db *sql.DB
}

func NewPostgresWithdrawalStore(db *sql.DB) *PostgresWithdrawalStore {
	return &PostgresWithdrawalStore{db: db}
}

const withdrawalColumns = `id, account_id, method, gross, fee, net, currency, pix_key, crypto_address,
	requested_at, updated_at, status, rejection_reason`

func scanWithdrawal(row rowScanner) (models.WithdrawalRequest, error) {
	var (
		w                  models.WithdrawalRequest
		method, status     string
		currency           string
		gross, fee, netAmt int64
	)

	if err := row.Scan(&w.ID, &w.AccountID, &method, &gross, &fee, &netAmt, &currency, &w.PixKey, &w.CryptoAddress,
		&w.RequestedAt, &w.UpdatedAt, &status, &w.RejectionReason); err != nil {
		return models.WithdrawalRequest{}, err
	}

	var err error
	if w.GrossAmount, err = money.New(gross, currency); err != nil {
		return models.WithdrawalRequest{}, err
	}

	w.Method = fees.Method(method)
	w.Status = models.WithdrawalStatus(status)
	w.Fee = money.MustNew(fee, currency)
	w.Net = money.MustNew(netAmt, currency)
	w.RequestedAt = w.RequestedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()

	return w, nil
}

func (p *PostgresWithdrawalStore) SaveWithdrawal(ctx context.Context, w models.WithdrawalRequest) error {
	const query = `INSERT INTO withdrawals (` + withdrawalColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err := p.db.ExecContext(ctx, query,
		w.ID, w.AccountID, string(w.Method),
		w.GrossAmount.MinorUnits(), w.Fee.MinorUnits(), w.Net.MinorUnits(), w.GrossAmount.Currency(),
		w.PixKey, w.CryptoAddress, w.RequestedAt, w.UpdatedAt, string(w.Status), w.RejectionReason,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("withdrawal %s: %w", w.ID, interfaces.ErrConflict)
	}

	return err
}

// UpdateWithdrawal only touches the row while its status is still from.
func (p *PostgresWithdrawalStore) UpdateWithdrawal(ctx context.Context, w models.WithdrawalRequest, from models.WithdrawalStatus) error {
	return swapWithdrawal(ctx, p.db, w, from)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func swapWithdrawal(ctx context.Context, q querier, w models.WithdrawalRequest, from models.WithdrawalStatus) error {
	const query = `UPDATE withdrawals
	SET status = $2, rejection_reason = $3, updated_at = $4
	WHERE id = $1 AND status = $5`

	res, err := q.ExecContext(ctx, query, w.ID, string(w.Status), w.RejectionReason, w.UpdatedAt, string(from))
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

	// tell a missing row apart from a lost race
	const exists = `SELECT status FROM withdrawals WHERE id = $1`

	var status string
	if err := q.QueryRowContext(ctx, exists, w.ID).Scan(&status); err != nil {
		return notFound("withdrawal", w.ID, err)
	}

	return fmt.Errorf("withdrawal %s is %s, expected %s: %w", w.ID, status, from, interfaces.ErrConflict)
}

func (p *PostgresWithdrawalStore) GetWithdrawal(ctx context.Context, id string) (models.WithdrawalRequest, error) {
	const query = `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1`

	w, err := scanWithdrawal(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.WithdrawalRequest{}, notFound("withdrawal", id, err)
	}

	return w, nil
}

func (p *PostgresWithdrawalStore) ListWithdrawalsSince(ctx context.Context, accountID string, since time.Time) ([]models.WithdrawalRequest, error) {
	const query = `SELECT ` + withdrawalColumns + ` FROM withdrawals
	WHERE account_id = $1 AND requested_at > $2
	ORDER BY requested_at, id`

	rows, err := p.db.QueryContext(ctx, query, accountID, since)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	result := make([]models.WithdrawalRequest, 0)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}

	return result, rows.Err()
}

var _ interfaces.WithdrawalStore = (*PostgresWithdrawalStore)(nil)
