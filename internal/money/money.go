// Package money holds the fixed-point amount type used everywhere a monetary
// value crosses the ledger. Amounts are integer minor units (cents for BRL)
// tagged with an ISO 4217 currency code.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrCurrencyMismatch is returned when two operands carry different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrInvalidCurrency is returned for currency tags that are not three upper-case letters.
	ErrInvalidCurrency = errors.New("invalid currency code")
	// ErrNegativePercent is returned when a percentage below zero is applied.
	ErrNegativePercent = errors.New("percent must not be negative")
	// ErrFractionalMinorUnits is returned when a parsed amount has more
	// decimal places than the currency allows.
	ErrFractionalMinorUnits = errors.New("amount has fractional minor units")
	// ErrAmountOverflow is returned when a result does not fit in int64 minor units.
	ErrAmountOverflow = errors.New("amount out of range")
)

// Amounts stay within [-MaxInt64, MaxInt64] so Neg and Abs never wrap.
const (
	maxMinor = math.MaxInt64
	minMinor = -math.MaxInt64
)

var (
	hundred    = decimal.NewFromInt(100)
	maxDecimal = decimal.NewFromInt(maxMinor)
	minDecimal = decimal.NewFromInt(minMinor)
)

// Money is an immutable amount in minor units.
type Money struct {
	minor    int64
	currency string
}

// New builds a Money after validating the currency tag.
func New(minorUnits int64, currency string) (Money, error) {
	if err := ValidateCurrency(currency); err != nil {
		return Money{}, err
	}

	if minorUnits < minMinor {
		return Money{}, fmt.Errorf("%w: %d", ErrAmountOverflow, minorUnits)
	}

	return Money{minor: minorUnits, currency: currency}, nil
}

// MustNew is New for literals known to be valid. It panics on a bad currency.
func MustNew(minorUnits int64, currency string) Money {
	m, err := New(minorUnits, currency)
	if err != nil {
		panic(err)
	}

	return m
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return Money{currency: currency}
}

// ValidateCurrency checks the tag is three upper-case ASCII letters.
func ValidateCurrency(currency string) error {
	if len(currency) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}

	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
		}
	}

	return nil
}

// MinorUnits returns the raw integer amount.
func (m Money) MinorUnits() int64 { return m.minor }

// Currency returns the currency tag.
func (m Money) Currency() string { return m.currency }

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.minor == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.minor < 0 }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.minor > 0 }

// Neg returns the amount with its sign flipped.
func (m Money) Neg() Money {
	return Money{minor: -m.minor, currency: m.currency}
}

// Abs returns the absolute amount.
func (m Money) Abs() Money {
	if m.minor < 0 {
		return m.Neg()
	}

	return m
}

// SameCurrency reports whether both amounts carry the same tag.
func (m Money) SameCurrency(other Money) bool {
	return m.currency == other.currency
}

func (m Money) check(other Money, op string) error {
	if !m.SameCurrency(other) {
		return fmt.Errorf("%w: cannot %s %s and %s", ErrCurrencyMismatch, op, m.currency, other.currency)
	}

	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.check(other, "add"); err != nil {
		return Money{}, err
	}

	if (other.minor > 0 && m.minor > maxMinor-other.minor) || (other.minor < 0 && m.minor < minMinor-other.minor) {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrAmountOverflow, m, other)
	}

	return Money{minor: m.minor + other.minor, currency: m.currency}, nil
}

// Subtract returns m - other. The result may be negative; callers decide
// whether that is an error.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.check(other, "subtract"); err != nil {
		return Money{}, err
	}

	if (other.minor < 0 && m.minor > maxMinor+other.minor) || (other.minor > 0 && m.minor < minMinor+other.minor) {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrAmountOverflow, m, other)
	}

	return Money{minor: m.minor - other.minor, currency: m.currency}, nil
}

// Compare returns -1, 0 or 1 as m is less than, equal to or greater than other.
func (m Money) Compare(other Money) (int, error) {
	if err := m.check(other, "compare"); err != nil {
		return 0, err
	}

	switch {
	case m.minor < other.minor:
		return -1, nil
	case m.minor > other.minor:
		return 1, nil
	default:
		return 0, nil
	}
}

// MultiplyByPercent computes m * percent / 100 rounded half-up to the nearest
// minor unit. Ties round away from zero. This is the only place a percentage
// of an amount is computed.
func (m Money) MultiplyByPercent(percent decimal.Decimal) (Money, error) {
	if percent.IsNegative() {
		return Money{}, fmt.Errorf("%w: %s", ErrNegativePercent, percent)
	}

	rounded := decimal.NewFromInt(m.minor).Mul(percent).Div(hundred).Round(0)

	minor, err := toMinor(rounded)
	if err != nil {
		return Money{}, fmt.Errorf("%s x %s%%: %w", m, percent, err)
	}

	return Money{minor: minor, currency: m.currency}, nil
}

// toMinor converts an integral decimal, failing instead of wrapping.
func toMinor(d decimal.Decimal) (int64, error) {
	if d.GreaterThan(maxDecimal) || d.LessThan(minDecimal) {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, d)
	}

	return d.IntPart(), nil
}

// Sum adds all amounts. An empty list yields zero in the given currency.
func Sum(currency string, amounts ...Money) (Money, error) {
	total := Zero(currency)

	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return Money{}, err
		}
	}

	return total, nil
}

// String renders the amount for logs, e.g. "1000.00 BRL".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(Exponent(m.currency)), m.currency)
}

// Decimal returns the amount in major units. Presentation only.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.minor, -Exponent(m.currency))
}

// Parse converts a major-unit string such as "1000.50" into Money. Values with
// more decimal places than the currency supports are rejected rather than rounded.
func Parse(amount, currency string) (Money, error) {
	if err := ValidateCurrency(currency); err != nil {
		return Money{}, err
	}

	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}

	scaled := d.Shift(Exponent(currency))
	if !scaled.Equal(scaled.Truncate(0)) {
		return Money{}, fmt.Errorf("%w: %s %s", ErrFractionalMinorUnits, amount, currency)
	}

	minor, err := toMinor(scaled)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}

	return Money{minor: minor, currency: currency}, nil
}

type jsonMoney struct {
	MinorUnits int64  `json:"minor_units"`
	Currency   string `json:"currency"`
}

// MarshalJSON encodes the amount as {"minor_units":..,"currency":..}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonMoney{MinorUnits: m.minor, Currency: m.currency})
}

// UnmarshalJSON decodes and validates the currency tag.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw jsonMoney
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := New(raw.MinorUnits, raw.Currency)
	if err != nil {
		return err
	}

	*m = parsed

	return nil
}
