package interfaces

import (
	"context"
	"time"

	"github.com/sheikh-saqib/merchant-ledger/internal/models"
)

// WithdrawalStore persists withdrawal requests.
type WithdrawalStore interface {
	SaveWithdrawal(ctx context.Context, w models.WithdrawalRequest) error
	// UpdateWithdrawal writes w only if the stored status still equals from,
	// otherwise it returns ErrConflict.
	UpdateWithdrawal(ctx context.Context, w models.WithdrawalRequest, from models.WithdrawalStatus) error
	GetWithdrawal(ctx context.Context, id string) (models.WithdrawalRequest, error)
	// ListWithdrawalsSince returns the account's requests with RequestedAt after since.
	ListWithdrawalsSince(ctx context.Context, accountID string, since time.Time) ([]models.WithdrawalRequest, error)
}

// TransactionStore persists inbound payments keyed by account and idempotency key.
type TransactionStore interface {
	// SaveTransaction inserts tx. If another transaction of the same account
	// already holds the idempotency key, that one is returned with created=false.
	SaveTransaction(ctx context.Context, tx models.Transaction) (stored models.Transaction, created bool, err error)
	GetTransaction(ctx context.Context, id string) (models.Transaction, error)
	MarkTransactionSettled(ctx context.Context, id string, at time.Time) error
}
