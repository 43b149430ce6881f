package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sheikh-saqib/merchant-ledger/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "server",
		Short:        "Merchant balance ledger",
		Long:         "Runs the merchant ledger HTTP API and offers offline fee quotes and reconciliation runs.",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newQuoteCmd(), newReconcileCmd())

	return root
}

// newLogger builds a JSON zap logger: development settings outside
// production, LOG_LEVEL overriding the default level.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if !cfg.IsProduction() {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.Encoding = "json"
	}

	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if lvl := strings.TrimSpace(cfg.LogLevel); lvl != "" {
		var level zapcore.Level
		if err := level.Set(lvl); err != nil {
			return nil, fmt.Errorf("%w: LOG_LEVEL %q: %w", config.ErrInvalidConfig, lvl, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	return zcfg.Build()
}
