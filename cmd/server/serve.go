package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/merchant-ledger/internal/api"
	"github.com/sheikh-saqib/merchant-ledger/internal/config"
	"github.com/sheikh-saqib/merchant-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/ledger"
	"github.com/sheikh-saqib/merchant-ledger/internal/lock"
	"github.com/sheikh-saqib/merchant-ledger/internal/metrics"
	"github.com/sheikh-saqib/merchant-ledger/internal/payments"
	"github.com/sheikh-saqib/merchant-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/merchant-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/merchant-ledger/internal/withdrawal"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

// stores groups the three persistence roles; both backends implement all of them.
type stores struct {
	ledger       interfaces.LedgerStore
	withdrawals  interfaces.WithdrawalStore
	transactions interfaces.TransactionStore
	close        func() error
}

func openStores(ctx context.Context, cfg *config.Config) (stores, error) {
	if cfg.Store == config.StoreMemory {
		mem := memory.NewMemoryLedgerStore()
		return stores{ledger: mem, withdrawals: mem, transactions: mem, close: func() error { return nil }}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, err
	}

	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return stores{}, err
	}

	return stores{
		ledger:       postgres.NewPostgresLedgerStore(db),
		withdrawals:  postgres.NewPostgresWithdrawalStore(db),
		transactions: postgres.NewPostgresTransactionStore(db),
		close:        db.Close,
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting merchant ledger",
		zap.String("env", cfg.Env),
		zap.String("store", cfg.Store),
		zap.Bool("dotenv", cfg.DotenvLoaded),
	)

	policy, err := config.LoadPolicy(cfg.PolicyPath, cfg.DefaultCurrency)
	if err != nil {
		return err
	}

	feeRegistry, err := policy.FeeRegistry()
	if err != nil {
		return err
	}

	limits, err := policy.LimitsRegistry()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer st.close()

	var locker interfaces.Locker = lock.NewMutexLocker()
	if cfg.RedisAddr != "" {
		client := goredislib.NewClient(&goredislib.Options{Addr: cfg.RedisAddr})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}

		locker = lock.NewRedisLocker(client, lock.DefaultRedisOptions(), logger.Named("lock"))
		logger.Info("using redis account locks", zap.String("addr", cfg.RedisAddr))
	}

	ledgerOpts := []ledger.Option{ledger.WithLocker(locker), ledger.WithLogger(logger.Named("ledger")), ledger.WithMetrics(m)}
	paymentOpts := []payments.Option{payments.WithLogger(logger.Named("payments")), payments.WithMetrics(m)}
	withdrawalOpts := []withdrawal.Option{withdrawal.WithLogger(logger.Named("withdrawals")), withdrawal.WithMetrics(m)}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		defer publisher.Close()

		ledgerOpts = append(ledgerOpts, ledger.WithPublisher(publisher))
		paymentOpts = append(paymentOpts, payments.WithPublisher(publisher))
		withdrawalOpts = append(withdrawalOpts, withdrawal.WithPublisher(publisher))
		logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	l := ledger.NewLedger(st.ledger, ledgerOpts...)

	router := api.NewRouter(api.Deps{
		Ledger:      l,
		Payments:    payments.NewService(l, st.transactions, feeRegistry, paymentOpts...),
		Withdrawals: withdrawal.NewService(l, st.withdrawals, feeRegistry, limits, withdrawalOpts...),
		Fees:        feeRegistry,
		Thresholds:  policy.Reconciliation,
		Metrics:     m,
		Gatherer:    reg,
		Logger:      logger.Named("http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
