package api

import (
	"errors"
	"net/http"

	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/ledger"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
	"github.com/sheikh-saqib/merchant-ledger/internal/payments"
	"github.com/sheikh-saqib/merchant-ledger/internal/withdrawal"
)

// errBadRequest marks malformed input found by the handlers themselves.
var errBadRequest = errors.New("bad request")

var (
	notFoundErrors = []error{interfaces.ErrNotFound}

	conflictErrors = []error{
		interfaces.ErrConflict,
		withdrawal.ErrInvalidTransition,
		payments.ErrAlreadySettled,
		ledger.ErrAccountExists,
	}

	businessErrors = []error{
		ledger.ErrInsufficientBalance,
		ledger.ErrInsufficientBlocked,
		ledger.ErrInsufficientPending,
		fees.ErrNetAmountNegative,
		fees.ErrUnknownFeeRule,
		money.ErrCurrencyMismatch,
		money.ErrAmountOverflow,
	}

	inputErrors = []error{
		errBadRequest,
		ledger.ErrMissingAccountID,
		ledger.ErrNonPositiveAmount,
		withdrawal.ErrInvalidAmount,
		withdrawal.ErrMissingPixKey,
		withdrawal.ErrMissingCryptoAddress,
		payments.ErrInvalidAmount,
		money.ErrInvalidCurrency,
		money.ErrFractionalMinorUnits,
		money.ErrNegativePercent,
		fees.ErrUnknownMethod,
		fees.ErrUnknownDirection,
		fees.ErrNegativeGross,
	}
)

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case isAny(err, notFoundErrors):
		return http.StatusNotFound
	case isAny(err, conflictErrors):
		return http.StatusConflict
	case isAny(err, businessErrors):
		return http.StatusUnprocessableEntity
	case isAny(err, inputErrors):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
