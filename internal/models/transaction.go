package models

import (
	"time"

	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

// Transaction is an inbound payment credited to a merchant account.
// Gross is what the payer sent; Net is what the merchant receives after the
// inbound fee.
type Transaction struct {
	ID             string      `json:"id"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	AccountID      string      `json:"account_id"`
	Method         fees.Method `json:"method"`
	Gross          money.Money `json:"gross"`
	Fee            money.Money `json:"fee"`
	Net            money.Money `json:"net"`
	Settled        bool        `json:"settled"`
	CreatedAt      time.Time   `json:"created_at"`
	SettledAt      *time.Time  `json:"settled_at,omitempty"`
}
