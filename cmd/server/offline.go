package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sheikh-saqib/merchant-ledger/internal/config"
	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
	"github.com/sheikh-saqib/merchant-ledger/internal/reconciliation"
)

func newQuoteCmd() *cobra.Command {
	var (
		method, direction, gross, account, policyPath string
	)

	cmd := &cobra.Command{
		Use:     "quote",
		Short:   "Compute the fee and net of an amount",
		Example: "  server quote --method PIX --direction OUTBOUND --gross 1000.00",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy, err := loadPolicy(policyPath)
			if err != nil {
				return err
			}

			registry, err := policy.FeeRegistry()
			if err != nil {
				return err
			}

			m, err := fees.ParseMethod(method)
			if err != nil {
				return err
			}

			d, err := fees.ParseDirection(direction)
			if err != nil {
				return err
			}

			amount, err := money.Parse(gross, policy.Currency)
			if err != nil {
				return err
			}

			quote, err := registry.CalculatorFor(account).ComputeFee(amount, m, d)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), quote)
		},
	}

	f := cmd.Flags()
	f.StringVar(&method, "method", "", "payment method (PIX, CREDIT_CARD, BOLETO, CRYPTO, OTHER)")
	f.StringVar(&direction, "direction", string(fees.Outbound), "INBOUND or OUTBOUND")
	f.StringVar(&gross, "gross", "", "gross amount in major units, e.g. 1000.00")
	f.StringVar(&account, "account", "", "account id whose fee overrides apply")
	f.StringVar(&policyPath, "policy", "", "TOML policy file (defaults to FEE_SCHEDULE_PATH)")
	cmd.MarkFlagRequired("method")
	cmd.MarkFlagRequired("gross")

	return cmd
}

// reconcileFile is the input of the reconcile command. A bare JSON array of
// pairs is accepted as well.
type reconcileFile struct {
	Pairs []reconciliation.Input `json:"pairs"`
}

func newReconcileCmd() *cobra.Command {
	var (
		file, tolerance, policyPath string
	)

	cmd := &cobra.Command{
		Use:     "reconcile",
		Short:   "Classify bank against system amounts",
		Example: "  server reconcile --file pairs.json --tolerance 0",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy, err := loadPolicy(policyPath)
			if err != nil {
				return err
			}

			tol, err := money.Parse(tolerance, policy.Currency)
			if err != nil {
				return fmt.Errorf("tolerance: %w", err)
			}

			inputs, err := readPairs(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			matcher := reconciliation.Matcher{Tolerance: tol, Thresholds: policy.Reconciliation}

			pairs, summary, err := matcher.ClassifyBatch(inputs)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), map[string]any{
				"pairs":   pairs,
				"summary": summary,
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&file, "file", "-", "JSON file with the pairs, - for stdin")
	f.StringVar(&tolerance, "tolerance", "0", "tolerance in major units")
	f.StringVar(&policyPath, "policy", "", "TOML policy file (defaults to FEE_SCHEDULE_PATH)")

	return cmd
}

func loadPolicy(path string) (*config.Policy, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = cfg.PolicyPath
	}

	return config.LoadPolicy(path, cfg.DefaultCurrency)
}

func readPairs(stdin io.Reader, path string) ([]reconciliation.Input, error) {
	var (
		data []byte
		err  error
	)

	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return nil, fmt.Errorf("read pairs: %w", err)
	}

	if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
		var inputs []reconciliation.Input
		if err := json.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("decode pairs: %w", err)
		}
		return inputs, nil
	}

	var doc reconcileFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode pairs: %w", err)
	}

	return doc.Pairs, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
