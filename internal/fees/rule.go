// Package fees turns a gross amount into a fee and a net amount according to
// a merchant's fee schedule.
package fees

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Method is the payment rail a fee applies to.
type Method string

const (
	MethodPIX        Method = "PIX"
	MethodCreditCard Method = "CREDIT_CARD"
	MethodBoleto     Method = "BOLETO"
	MethodCrypto     Method = "CRYPTO"
	MethodOther      Method = "OTHER"
)

// Methods lists every supported method in a stable order.
var Methods = []Method{MethodPIX, MethodCreditCard, MethodBoleto, MethodCrypto, MethodOther}

// Direction distinguishes merchant inbound payments from outbound withdrawals.
type Direction string

const (
	Inbound  Direction = "INBOUND"
	Outbound Direction = "OUTBOUND"
)

var (
	ErrUnknownMethod    = errors.New("unknown payment method")
	ErrUnknownDirection = errors.New("unknown fee direction")
	ErrInvalidRule      = errors.New("invalid fee rule")
)

// ParseMethod accepts the canonical names case-insensitively.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// ParseDirection accepts INBOUND or OUTBOUND case-insensitively.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	if d == Inbound || d == Outbound {
		return d, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownDirection, s)
}

// Key identifies a rule inside a schedule.
type Key struct {
	Method    Method    `json:"method"`
	Direction Direction `json:"direction"`
}

func (k Key) String() string {
	return string(k.Method) + "/" + string(k.Direction)
}

// Rule is a percentage plus a fixed component, both optional.
// Percent is expressed in percent units: 0.15 means 0.15%.
type Rule struct {
	Method          Method          `json:"method" toml:"method"`
	Direction       Direction       `json:"direction" toml:"direction"`
	Percent         decimal.Decimal `json:"percent" toml:"percent"`
	FixedMinorUnits int64           `json:"fixed_minor_units" toml:"fixed_minor_units"`
}

// Key returns the schedule key of the rule.
func (r Rule) Key() Key {
	return Key{Method: r.Method, Direction: r.Direction}
}

// Validate checks the rule's enums and non-negative components.
func (r Rule) Validate() error {
	if m, err := ParseMethod(string(r.Method)); err != nil || m != r.Method {
		return fmt.Errorf("%w: method %q", ErrInvalidRule, r.Method)
	}

	if d, err := ParseDirection(string(r.Direction)); err != nil || d != r.Direction {
		return fmt.Errorf("%w: direction %q", ErrInvalidRule, r.Direction)
	}

	if r.Percent.IsNegative() {
		return fmt.Errorf("%w: %s percent %s is negative", ErrInvalidRule, r.Key(), r.Percent)
	}

	if r.FixedMinorUnits < 0 {
		return fmt.Errorf("%w: %s fixed %d is negative", ErrInvalidRule, r.Key(), r.FixedMinorUnits)
	}

	return nil
}
