package fees

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrDuplicateRule is returned when a schedule defines the same key twice.
var ErrDuplicateRule = errors.New("duplicate fee rule")

// Schedule maps (method, direction) to exactly one rule. It is immutable once
// built and safe for concurrent use.
type Schedule struct {
	rules map[Key]Rule
}

// NewSchedule validates the rules and rejects duplicate keys.
func NewSchedule(rules ...Rule) (*Schedule, error) {
	s := &Schedule{rules: make(map[Key]Rule, len(rules))}

	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}

		if _, exists := s.rules[r.Key()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r.Key())
		}

		s.rules[r.Key()] = r
	}

	return s, nil
}

// Lookup returns the rule for a key.
func (s *Schedule) Lookup(method Method, direction Direction) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}

	r, ok := s.rules[Key{Method: method, Direction: direction}]

	return r, ok
}

// Rules returns the rules sorted by method then direction.
func (s *Schedule) Rules() []Rule {
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Method != out[j].Method {
			return out[i].Method < out[j].Method
		}

		return out[i].Direction < out[j].Direction
	})

	return out
}

// WithOverrides returns a new schedule where each override replaces the
// default rule with the same key. Keys without an override keep the default.
func (s *Schedule) WithOverrides(overrides ...Rule) (*Schedule, error) {
	own, err := NewSchedule(overrides...)
	if err != nil {
		return nil, err
	}

	merged := &Schedule{rules: make(map[Key]Rule, len(s.rules)+len(own.rules))}
	for k, r := range s.rules {
		merged.rules[k] = r
	}

	for k, r := range own.rules {
		merged.rules[k] = r
	}

	return merged, nil
}

// DefaultSchedule is the platform-wide schedule used when no file is
// configured.
func DefaultSchedule() *Schedule {
	rules := []Rule{
		{Method: MethodPIX, Direction: Inbound, Percent: decimal.RequireFromString("0.99")},
		{Method: MethodPIX, Direction: Outbound, Percent: decimal.RequireFromString("0.15")},
		{Method: MethodCreditCard, Direction: Inbound, Percent: decimal.RequireFromString("4.99"), FixedMinorUnits: 50},
		{Method: MethodBoleto, Direction: Inbound, FixedMinorUnits: 350},
		{Method: MethodCrypto, Direction: Inbound, Percent: decimal.RequireFromString("1")},
		{Method: MethodCrypto, Direction: Outbound, Percent: decimal.RequireFromString("3")},
		{Method: MethodOther, Direction: Inbound, Percent: decimal.RequireFromString("2")},
	}

	s, err := NewSchedule(rules...)
	if err != nil {
		panic(err)
	}

	return s
}

// Registry resolves the effective schedule of an account: the global default
// with the account's own rules layered on top.
type Registry struct {
	mu        sync.RWMutex
	global    *Schedule
	overrides map[string]*Schedule
}

// NewRegistry creates a registry around a global schedule.
func NewRegistry(global *Schedule) *Registry {
	return &Registry{
		global:    global,
		overrides: make(map[string]*Schedule),
	}
}

// SetAccountRules replaces the override rules of one account.
func (r *Registry) SetAccountRules(accountID string, rules ...Rule) error {
	merged, err := r.global.WithOverrides(rules...)
	if err != nil {
		return fmt.Errorf("account %s: %w", accountID, err)
	}

	r.mu.Lock()
	r.overrides[accountID] = merged
	r.mu.Unlock()

	return nil
}

// ScheduleFor returns the effective schedule of an account.
func (r *Registry) ScheduleFor(accountID string) *Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.overrides[accountID]; ok {
		return s
	}

	return r.global
}

// CalculatorFor returns a calculator bound to the account's effective schedule.
func (r *Registry) CalculatorFor(accountID string) *Calculator {
	return NewCalculator(r.ScheduleFor(accountID))
}
