// Package reconciliation classifies (bank, system) amount pairs as matched,
// pending or divergent. Everything here is pure and safe for concurrent use.
package reconciliation

import (
	"fmt"

	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

type Classification string

const (
	Matched   Classification = "MATCHED"
	Pending   Classification = "PENDING"
	Divergent Classification = "DIVERGENT"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Thresholds bound the absolute difference, in minor units, of LOW and
// MEDIUM divergences. Anything above Medium is HIGH.
type Thresholds struct {
	Low    int64 `json:"low" toml:"low_minor_units"`
	Medium int64 `json:"medium" toml:"medium_minor_units"`
}

// DefaultThresholds are R$100.00 and R$500.00.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 10000, Medium: 50000}
}

func (t Thresholds) severity(absDiff int64) Severity {
	switch {
	case absDiff <= t.Low:
		return SeverityLow
	case absDiff <= t.Medium:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// Input is one transaction as reported by the bank and as recorded by the
// system. A nil amount has not been reported or recorded yet.
type Input struct {
	TransactionID string       `json:"transaction_id"`
	Bank          *money.Money `json:"bank_amount"`
	System        *money.Money `json:"system_amount"`
}

// Pair is the classified result. DifferenceMinorUnits is bank minus system:
// positive means the bank reported more.
type Pair struct {
	TransactionID        string         `json:"transaction_id"`
	BankAmount           *money.Money   `json:"bank_amount"`
	SystemAmount         *money.Money   `json:"system_amount"`
	Classification       Classification `json:"classification"`
	DifferenceMinorUnits int64          `json:"difference_minor_units"`
	Severity             Severity       `json:"severity,omitempty"`
}

// Classify compares bank against system. A missing side makes the pair
// PENDING. A difference within tolerance is MATCHED; anything else is
// DIVERGENT. Swapping bank and system yields the same classification with
// the difference negated.
func Classify(transactionID string, bank, system *money.Money, tolerance money.Money) (Pair, error) {
	return Matcher{Tolerance: tolerance, Thresholds: DefaultThresholds()}.Classify(Input{
		TransactionID: transactionID,
		Bank:          bank,
		System:        system,
	})
}

// Matcher holds the tolerance and severity thresholds of a run.
type Matcher struct {
	Tolerance  money.Money
	Thresholds Thresholds
}

func NewMatcher(tolerance money.Money) Matcher {
	return Matcher{Tolerance: tolerance, Thresholds: DefaultThresholds()}
}

func (m Matcher) Classify(in Input) (Pair, error) {
	pair := Pair{TransactionID: in.TransactionID, BankAmount: in.Bank, SystemAmount: in.System}

	if m.Tolerance.IsNegative() {
		return Pair{}, fmt.Errorf("transaction %s: tolerance %s is negative", in.TransactionID, m.Tolerance)
	}

	if in.Bank == nil || in.System == nil {
		pair.Classification = Pending
		return pair, nil
	}

	diff, err := in.Bank.Subtract(*in.System)
	if err != nil {
		return Pair{}, fmt.Errorf("transaction %s: %w", in.TransactionID, err)
	}

	pair.DifferenceMinorUnits = diff.MinorUnits()

	if diff.IsZero() {
		pair.Classification = Matched
		return pair, nil
	}

	within, err := diff.Abs().Compare(m.Tolerance)
	if err != nil {
		return Pair{}, fmt.Errorf("transaction %s tolerance: %w", in.TransactionID, err)
	}

	if within <= 0 {
		pair.Classification = Matched
		return pair, nil
	}

	pair.Classification = Divergent
	pair.Severity = m.Thresholds.severity(diff.Abs().MinorUnits())

	return pair, nil
}

// ClassifyBatch classifies every input independently and returns the pairs
// in input order with a summary of the run.
func (m Matcher) ClassifyBatch(inputs []Input) ([]Pair, Summary, error) {
	pairs := make([]Pair, 0, len(inputs))
	summary := newSummary()

	for i, in := range inputs {
		pair, err := m.Classify(in)
		if err != nil {
			return nil, Summary{}, fmt.Errorf("pair %d: %w", i, err)
		}

		if err := summary.add(pair); err != nil {
			return nil, Summary{}, fmt.Errorf("pair %d: %w", i, err)
		}

		pairs = append(pairs, pair)
	}

	return pairs, summary, nil
}

// Summary counts one run. Divergence totals are kept per currency.
type Summary struct {
	Total      int                    `json:"total"`
	Matched    int                    `json:"matched"`
	Pending    int                    `json:"pending"`
	Divergent  int                    `json:"divergent"`
	BySeverity map[Severity]int       `json:"by_severity"`
	Divergence map[string]money.Money `json:"absolute_divergence"`
}

func newSummary() Summary {
	return Summary{
		BySeverity: make(map[Severity]int),
		Divergence: make(map[string]money.Money),
	}
}

func (s *Summary) add(p Pair) error {
	s.Total++

	switch p.Classification {
	case Matched:
		s.Matched++
	case Pending:
		s.Pending++
	case Divergent:
		s.Divergent++
		s.BySeverity[p.Severity]++

		currency := p.BankAmount.Currency()
		abs := money.MustNew(p.DifferenceMinorUnits, currency).Abs()

		total, ok := s.Divergence[currency]
		if !ok {
			total = money.Zero(currency)
		}

		sum, err := total.Add(abs)
		if err != nil {
			return fmt.Errorf("divergence total: %w", err)
		}

		s.Divergence[currency] = sum
	}

	return nil
}
