package fees

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

func brl(minor int64) money.Money { return money.MustNew(minor, "BRL") }

func mustSchedule(t *testing.T, rules ...Rule) *Schedule {
	t.Helper()

	s, err := NewSchedule(rules...)
	require.NoError(t, err)

	return s
}

func TestComputeFee_PixOutbound(t *testing.T) {
	calc := NewCalculator(mustSchedule(t, Rule{
		Method: MethodPIX, Direction: Outbound, Percent: decimal.RequireFromString("0.15"),
	}))

	q, err := calc.ComputeFee(brl(100000), MethodPIX, Outbound)
	require.NoError(t, err)
	assert.Equal(t, brl(150), q.Fee)
	assert.Equal(t, brl(99850), q.Net)
	assert.Equal(t, brl(100000), q.Gross)
}

func TestComputeFee_PercentPlusFixed(t *testing.T) {
	calc := NewCalculator(mustSchedule(t, Rule{
		Method: MethodCreditCard, Direction: Inbound,
		Percent: decimal.RequireFromString("4.99"), FixedMinorUnits: 50,
	}))

	// 10000 * 4.99% = 499, + 50 fixed
	q, err := calc.ComputeFee(brl(10000), MethodCreditCard, Inbound)
	require.NoError(t, err)
	assert.Equal(t, brl(549), q.Fee)
	assert.Equal(t, brl(9451), q.Net)
}

func TestComputeFee_UnknownRule(t *testing.T) {
	calc := NewCalculator(mustSchedule(t))

	_, err := calc.ComputeFee(brl(100), MethodBoleto, Outbound)
	require.ErrorIs(t, err, ErrUnknownFeeRule)

	var ruleErr *RuleError
	require.True(t, errors.As(err, &ruleErr))
	assert.Equal(t, Key{Method: MethodBoleto, Direction: Outbound}, ruleErr.Key)
	assert.Contains(t, err.Error(), "BOLETO/OUTBOUND")
}

func TestComputeFee_NetNegativeIsRejected(t *testing.T) {
	calc := NewCalculator(mustSchedule(t, Rule{
		Method: MethodBoleto, Direction: Inbound, FixedMinorUnits: 350,
	}))

	_, err := calc.ComputeFee(brl(200), MethodBoleto, Inbound)
	require.ErrorIs(t, err, ErrNetAmountNegative)

	var ruleErr *RuleError
	require.True(t, errors.As(err, &ruleErr))
	assert.Equal(t, brl(350), ruleErr.Fee)

	// Fee equal to gross is allowed: net is exactly zero.
	q, err := calc.ComputeFee(brl(350), MethodBoleto, Inbound)
	require.NoError(t, err)
	assert.True(t, q.Net.IsZero())
}

func TestComputeFee_NegativeGross(t *testing.T) {
	calc := NewCalculator(DefaultSchedule())

	_, err := calc.ComputeFee(brl(-1), MethodPIX, Outbound)
	assert.ErrorIs(t, err, ErrNegativeGross)
}

func TestComputeFee_FeePlusNetEqualsGross(t *testing.T) {
	rates := []string{"0", "0.15", "0.99", "1", "2.5", "3", "4.99"}
	fixed := []int64{0, 1, 50, 350}

	for _, r := range rates {
		for _, f := range fixed {
			calc := NewCalculator(mustSchedule(t, Rule{
				Method: MethodOther, Direction: Outbound,
				Percent: decimal.RequireFromString(r), FixedMinorUnits: f,
			}))

			for gross := int64(0); gross <= 20000; gross += 173 {
				q, err := calc.ComputeFee(brl(gross), MethodOther, Outbound)
				if errors.Is(err, ErrNetAmountNegative) {
					continue
				}
				require.NoError(t, err)

				sum, err := q.Fee.Add(q.Net)
				require.NoError(t, err)
				require.Equal(t, brl(gross), sum, "rate=%s fixed=%d gross=%d", r, f, gross)
			}
		}
	}
}

func TestComputeFee_Deterministic(t *testing.T) {
	calc := NewCalculator(DefaultSchedule())

	a, err := calc.ComputeFee(brl(123457), MethodCrypto, Outbound)
	require.NoError(t, err)
	b, err := calc.ComputeFee(brl(123457), MethodCrypto, Outbound)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, brl(3704), a.Fee)
}

func TestComputeFee_KeepsCurrency(t *testing.T) {
	calc := NewCalculator(DefaultSchedule())

	q, err := calc.ComputeFee(money.MustNew(1000, "USD"), MethodPIX, Outbound)
	require.NoError(t, err)
	assert.Equal(t, "USD", q.Fee.Currency())
	assert.Equal(t, "USD", q.Net.Currency())
}
