package events

import (
	"time"

	"github.com/sheikh-saqib/merchant-ledger/internal/models"
)

// Topic names used by the publisher.
const (
	TopicLedgerEntries = "ledger.entries_appended"
	TopicWithdrawals   = "withdrawals.status_changed"
	TopicPayments      = "payments.recorded"
)

// LedgerEntriesAppended is emitted after a ledger mutation commits.
type LedgerEntriesAppended struct {
	AccountID  string                 `json:"account_id"`
	Entries    []models.LedgerEntry   `json:"entries"`
	Snapshot   models.BalanceSnapshot `json:"snapshot"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// WithdrawalStatusChanged is emitted on every withdrawal transition.
type WithdrawalStatusChanged struct {
	WithdrawalID string                  `json:"withdrawal_id"`
	AccountID    string                  `json:"account_id"`
	From         models.WithdrawalStatus `json:"from,omitempty"`
	To           models.WithdrawalStatus `json:"to"`
	Reason       string                  `json:"reason,omitempty"`
	OccurredAt   time.Time               `json:"occurred_at"`
}

// PaymentRecorded is emitted when an inbound payment is credited.
type PaymentRecorded struct {
	Transaction models.Transaction `json:"transaction"`
	OccurredAt  time.Time          `json:"occurred_at"`
}
