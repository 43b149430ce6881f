package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
	"github.com/sheikh-saqib/merchant-ledger/internal/reconciliation"
	"github.com/sheikh-saqib/merchant-ledger/internal/withdrawal"
)

// Policy is the fee, limit and reconciliation configuration. A document
// looks like:
//
//	currency = "BRL"
//
//	[[rule]]
//	method = "PIX"
//	direction = "OUTBOUND"
//	percent = "0.15"
//
//	[limits]
//	daily_limit_minor_units = 500000
//	minimum_minor_units = { PIX = 1000 }
//
//	[[account]]
//	id = "acct-vip"
//	[[account.rule]]
//	method = "PIX"
//	direction = "OUTBOUND"
//	percent = "0"
type Policy struct {
	Currency       string                    `toml:"currency"`
	Rules          []fees.Rule               `toml:"rule"`
	Limits         LimitsDoc                 `toml:"limits"`
	Reconciliation reconciliation.Thresholds `toml:"reconciliation"`
	Accounts       []AccountDoc              `toml:"account"`
}

type LimitsDoc struct {
	DailyLimitMinorUnits int64            `toml:"daily_limit_minor_units"`
	MinimumMinorUnits    map[string]int64 `toml:"minimum_minor_units"`
}

// AccountDoc overrides the global policy for one account. Rules replace the
// global rule with the same method and direction; Limits, when present,
// replace the global limits as a whole.
type AccountDoc struct {
	ID     string      `toml:"id"`
	Rules  []fees.Rule `toml:"rule"`
	Limits *LimitsDoc  `toml:"limits"`
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy(currency string) *Policy {
	return &Policy{
		Currency:       currency,
		Rules:          fees.DefaultSchedule().Rules(),
		Reconciliation: reconciliation.DefaultThresholds(),
	}
}

// LoadPolicy decodes the TOML document at path. An empty path yields the
// default policy.
func LoadPolicy(path, defaultCurrency string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(defaultCurrency), nil
	}

	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: policy %s: %w", ErrInvalidConfig, path, err)
	}

	p, err := DecodePolicy(string(doc), defaultCurrency)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}

	return p, nil
}

// DecodePolicy parses a TOML policy document. Unknown keys are rejected and a
// document without rules keeps the built-in schedule.
func DecodePolicy(doc, defaultCurrency string) (*Policy, error) {
	p := &Policy{Currency: defaultCurrency, Reconciliation: reconciliation.DefaultThresholds()}

	md, err := toml.Decode(doc, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v", ErrInvalidConfig, undecoded)
	}

	if !md.IsDefined("rule") {
		p.Rules = fees.DefaultSchedule().Rules()
	}

	if err := money.ValidateCurrency(p.Currency); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return p, nil
}

// FeeRegistry builds the global schedule and every account override.
func (p *Policy) FeeRegistry() (*fees.Registry, error) {
	global, err := fees.NewSchedule(p.Rules...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	reg := fees.NewRegistry(global)

	for _, acct := range p.Accounts {
		if acct.ID == "" {
			return nil, fmt.Errorf("%w: account override without id", ErrInvalidConfig)
		}

		if len(acct.Rules) == 0 {
			continue
		}

		if err := reg.SetAccountRules(acct.ID, acct.Rules...); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	return reg, nil
}

// LimitsRegistry builds the global withdrawal limits and account overrides.
func (p *Policy) LimitsRegistry() (*withdrawal.LimitsRegistry, error) {
	global, err := p.Limits.toLimits(p.Currency)
	if err != nil {
		return nil, err
	}

	reg, err := withdrawal.NewLimitsRegistry(global)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for _, acct := range p.Accounts {
		if acct.Limits == nil {
			continue
		}

		limits, err := acct.Limits.toLimits(p.Currency)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", acct.ID, err)
		}

		if err := reg.SetAccountLimits(acct.ID, limits); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	return reg, nil
}

func (d LimitsDoc) toLimits(currency string) (withdrawal.Limits, error) {
	daily, err := money.New(d.DailyLimitMinorUnits, currency)
	if err != nil {
		return withdrawal.Limits{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	limits := withdrawal.Limits{
		Currency:   currency,
		DailyLimit: daily,
		Minimum:    make(map[fees.Method]money.Money, len(d.MinimumMinorUnits)),
	}

	for name, minor := range d.MinimumMinorUnits {
		method, err := fees.ParseMethod(name)
		if err != nil {
			return withdrawal.Limits{}, fmt.Errorf("%w: minimum: %w", ErrInvalidConfig, err)
		}

		limits.Minimum[method] = money.MustNew(minor, currency)
	}

	return limits, nil
}
