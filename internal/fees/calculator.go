package fees

import (
	"errors"
	"fmt"

	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

var (
	// ErrUnknownFeeRule means the schedule has no rule for the method/direction.
	ErrUnknownFeeRule = errors.New("unknown fee rule")
	// ErrNetAmountNegative means the fee exceeds the gross amount.
	ErrNetAmountNegative = errors.New("net amount negative")
	// ErrNegativeGross is returned for gross amounts below zero.
	ErrNegativeGross = errors.New("gross amount negative")
)

// RuleError carries the rule key and amounts involved in a fee failure.
type RuleError struct {
	Key   Key
	Gross money.Money
	Fee   money.Money
	Err   error
}

func (e *RuleError) Error() string {
	if e.Fee.Currency() == "" {
		return fmt.Sprintf("%v: %s gross=%s", e.Err, e.Key, e.Gross)
	}

	return fmt.Sprintf("%v: %s gross=%s fee=%s", e.Err, e.Key, e.Gross, e.Fee)
}

func (e *RuleError) Unwrap() error { return e.Err }

// Quote is the result of applying a rule to a gross amount.
// Fee + Net == Gross always holds.
type Quote struct {
	Gross money.Money `json:"gross"`
	Fee   money.Money `json:"fee"`
	Net   money.Money `json:"net"`
	Rule  Rule        `json:"rule"`
}

// Calculator applies one schedule. It holds no mutable state.
type Calculator struct {
	schedule *Schedule
}

func NewCalculator(schedule *Schedule) *Calculator {
	return &Calculator{schedule: schedule}
}

// ComputeFee returns fee and net for gross under the (method, direction) rule.
func (c *Calculator) ComputeFee(gross money.Money, method Method, direction Direction) (Quote, error) {
	key := Key{Method: method, Direction: direction}

	if gross.IsNegative() {
		return Quote{}, &RuleError{Key: key, Gross: gross, Err: ErrNegativeGross}
	}

	rule, ok := c.schedule.Lookup(method, direction)
	if !ok {
		return Quote{}, &RuleError{Key: key, Gross: gross, Err: ErrUnknownFeeRule}
	}

	variable, err := gross.MultiplyByPercent(rule.Percent)
	if err != nil {
		return Quote{}, fmt.Errorf("fee rule %s: %w", key, err)
	}

	fixed, err := money.New(rule.FixedMinorUnits, gross.Currency())
	if err != nil {
		return Quote{}, fmt.Errorf("fee rule %s: %w", key, err)
	}

	fee, err := variable.Add(fixed)
	if err != nil {
		return Quote{}, err
	}

	net, err := gross.Subtract(fee)
	if err != nil {
		return Quote{}, err
	}

	if net.IsNegative() {
		return Quote{}, &RuleError{Key: key, Gross: gross, Fee: fee, Err: ErrNetAmountNegative}
	}

	return Quote{Gross: gross, Fee: fee, Net: net, Rule: rule}, nil
}
