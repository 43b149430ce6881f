// Package api exposes the ledger, payments, withdrawals, fee quotes and
// reconciliation over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/ledger"
	"github.com/sheikh-saqib/merchant-ledger/internal/metrics"
	"github.com/sheikh-saqib/merchant-ledger/internal/payments"
	"github.com/sheikh-saqib/merchant-ledger/internal/reconciliation"
	"github.com/sheikh-saqib/merchant-ledger/internal/withdrawal"
)

// Deps are the services the handlers call. Gatherer may be nil, in which case
// /metrics is not mounted.
type Deps struct {
	Ledger      *ledger.Ledger
	Payments    *payments.Service
	Withdrawals *withdrawal.Service
	Fees        *fees.Registry
	Thresholds  reconciliation.Thresholds
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

// NewRouter creates the chi router with all routes mounted.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	thresholds := d.Thresholds
	if thresholds == (reconciliation.Thresholds{}) {
		thresholds = reconciliation.DefaultThresholds()
	}

	h := &Handlers{
		ledger:      d.Ledger,
		payments:    d.Payments,
		withdrawals: d.Withdrawals,
		fees:        d.Fees,
		thresholds:  thresholds,
		metrics:     d.Metrics,
		logger:      logger,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.OpenAccount)
		r.Get("/{id}/balance", h.GetBalance)
		r.Get("/{id}/entries", h.ListEntries)
		r.Get("/{id}/audit", h.AuditAccount)
		r.Post("/{id}/promotions", h.PromotePending)
	})

	r.Get("/entries", h.ListAllEntries)

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.RecordPayment)
		r.Get("/{id}", h.GetPayment)
		r.Post("/{id}/settle", h.SettlePayment)
	})

	r.Post("/fees/quote", h.QuoteFee)

	r.Route("/withdrawals", func(r chi.Router) {
		r.Post("/", h.CreateWithdrawal)
		r.Get("/{id}", h.GetWithdrawal)
		r.Post("/{id}/settle", h.SettleWithdrawal)
		r.Post("/{id}/reverse", h.ReverseWithdrawal)
		r.Post("/{id}/cancel", h.CancelWithdrawal)
	})

	r.Post("/reconciliation/classify", h.Classify)

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
