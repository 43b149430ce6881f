// Package withdrawal decides and drives merchant withdrawals: a pure policy
// that approves or rejects a request, and a service that reserves funds and
// moves the request through its lifecycle.
package withdrawal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/models"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

// Window is the trailing period the daily limit covers.
const Window = 24 * time.Hour

// Reason explains a rejection. Rejections are values, not errors.
type Reason string

const (
	ReasonBelowMinimum        Reason = "BelowMinimum"
	ReasonInsufficientBalance Reason = "InsufficientBalance"
	ReasonDailyLimitExceeded  Reason = "DailyLimitExceeded"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   Reason `json:"reason,omitempty"`
}

func Approve() Decision { return Decision{Approved: true} }

func Reject(r Reason) Decision { return Decision{Reason: r} }

func (d Decision) String() string {
	if d.Approved {
		return "APPROVE"
	}

	return fmt.Sprintf("REJECT(%s)", d.Reason)
}

var ErrInvalidLimits = errors.New("invalid withdrawal limits")

// Limits configures the policy for one account. A method without a minimum
// has minimum zero; a zero DailyLimit disables the daily check.
type Limits struct {
	Currency   string
	Minimum    map[fees.Method]money.Money
	DailyLimit money.Money
}

// Validate checks that every amount is non-negative and in Currency.
func (l Limits) Validate() error {
	if err := money.ValidateCurrency(l.Currency); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLimits, err)
	}

	check := func(name string, m money.Money) error {
		if m.Currency() != l.Currency {
			return fmt.Errorf("%w: %s is %s, limits are in %s", ErrInvalidLimits, name, m, l.Currency)
		}

		if m.IsNegative() {
			return fmt.Errorf("%w: %s is negative", ErrInvalidLimits, name)
		}

		return nil
	}

	if err := check("daily limit", l.DailyLimit); err != nil {
		return err
	}

	for method, min := range l.Minimum {
		if err := check("minimum for "+string(method), min); err != nil {
			return err
		}
	}

	return nil
}

func (l Limits) minimumFor(method fees.Method) money.Money {
	if min, ok := l.Minimum[method]; ok {
		return min
	}

	return money.Zero(l.Currency)
}

// Evaluate applies, in order, the minimum amount, the available balance and
// the trailing 24h limit. The first failing check decides. Evaluate never
// mutates its arguments; an error means the inputs are inconsistent.
func Evaluate(request models.WithdrawalRequest, snapshot models.BalanceSnapshot, recent []models.WithdrawalRequest, limits Limits) (Decision, error) {
	gross := request.GrossAmount

	if gross.Currency() != snapshot.Currency || gross.Currency() != limits.Currency {
		return Decision{}, fmt.Errorf("%w: request %s, account %s, limits %s",
			money.ErrCurrencyMismatch, gross.Currency(), snapshot.Currency, limits.Currency)
	}

	below, err := gross.Compare(limits.minimumFor(request.Method))
	if err != nil {
		return Decision{}, err
	}

	if below < 0 {
		return Reject(ReasonBelowMinimum), nil
	}

	over, err := gross.Compare(snapshot.Available)
	if err != nil {
		return Decision{}, err
	}

	if over > 0 {
		return Reject(ReasonInsufficientBalance), nil
	}

	if limits.DailyLimit.IsZero() {
		return Approve(), nil
	}

	used, err := UsedInWindow(request, recent)
	if err != nil {
		return Decision{}, err
	}

	total, err := used.Add(gross)
	if err != nil {
		return Decision{}, err
	}

	exceeded, err := total.Compare(limits.DailyLimit)
	if err != nil {
		return Decision{}, err
	}

	if exceeded > 0 {
		return Reject(ReasonDailyLimitExceeded), nil
	}

	return Approve(), nil
}

// UsedInWindow sums the gross amounts of recent requests that still count
// toward the limit and fall in (requestedAt-24h, requestedAt]. The request
// itself is skipped by id so re-evaluating a stored request does not count it
// twice.
func UsedInWindow(request models.WithdrawalRequest, recent []models.WithdrawalRequest) (money.Money, error) {
	end := request.RequestedAt
	start := end.Add(-Window)
	used := money.Zero(request.GrossAmount.Currency())

	for _, w := range recent {
		if w.ID == request.ID || w.AccountID != request.AccountID {
			continue
		}

		if !w.Status.CountsTowardLimit() {
			continue
		}

		if !w.RequestedAt.After(start) || w.RequestedAt.After(end) {
			continue
		}

		var err error
		if used, err = used.Add(w.GrossAmount); err != nil {
			return money.Money{}, fmt.Errorf("withdrawal %s: %w", w.ID, err)
		}
	}

	return used, nil
}

// LimitsRegistry resolves the limits of an account: a per-account entry if
// one exists, otherwise the global default.
type LimitsRegistry struct {
	mu        sync.RWMutex
	global    Limits
	overrides map[string]Limits
}

func NewLimitsRegistry(global Limits) (*LimitsRegistry, error) {
	if err := global.Validate(); err != nil {
		return nil, err
	}

	return &LimitsRegistry{global: global, overrides: make(map[string]Limits)}, nil
}

func (r *LimitsRegistry) SetAccountLimits(accountID string, limits Limits) error {
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("account %s: %w", accountID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.overrides[accountID] = limits

	return nil
}

func (r *LimitsRegistry) LimitsFor(accountID string) Limits {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if l, ok := r.overrides[accountID]; ok {
		return l
	}

	return r.global
}
