package models

import (
	"time"

	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

// WithdrawalStatus is the lifecycle state of a withdrawal request.
//
//	PENDING  -> APPROVED | REJECTED | CANCELED
//	APPROVED -> COMPLETED | REJECTED | CANCELED
//
// COMPLETED, REJECTED and CANCELED are terminal.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalApproved  WithdrawalStatus = "APPROVED"
	WithdrawalRejected  WithdrawalStatus = "REJECTED"
	WithdrawalCompleted WithdrawalStatus = "COMPLETED"
	WithdrawalCanceled  WithdrawalStatus = "CANCELED"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:  {WithdrawalApproved, WithdrawalRejected, WithdrawalCanceled},
	WithdrawalApproved: {WithdrawalCompleted, WithdrawalRejected, WithdrawalCanceled},
}

// IsTerminal reports whether no further transition is allowed.
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalRejected || s == WithdrawalCanceled
}

// CanTransitionTo reports whether s -> next is a legal move.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// CountsTowardLimit reports whether a withdrawal in this status consumes the
// daily limit.
func (s WithdrawalStatus) CountsTowardLimit() bool {
	return s == WithdrawalPending || s == WithdrawalApproved || s == WithdrawalCompleted
}

// WithdrawalRequest is a merchant's request to move available funds out.
type WithdrawalRequest struct {
	ID              string           `json:"id"`
	AccountID       string           `json:"account_id"`
	Method          fees.Method      `json:"method"`
	GrossAmount     money.Money      `json:"gross_amount"`
	Fee             money.Money      `json:"fee"`
	Net             money.Money      `json:"net"`
	PixKey          string           `json:"pix_key,omitempty"`
	CryptoAddress   string           `json:"crypto_address,omitempty"`
	RequestedAt     time.Time        `json:"requested_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Status          WithdrawalStatus `json:"status"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
}
