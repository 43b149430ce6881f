package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/ledger"
	"github.com/sheikh-saqib/merchant-ledger/internal/metrics"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
	"github.com/sheikh-saqib/merchant-ledger/internal/payments"
	"github.com/sheikh-saqib/merchant-ledger/internal/reconciliation"
	"github.com/sheikh-saqib/merchant-ledger/internal/withdrawal"
)

const maxBodyBytes = 1 << 20

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	ledger      *ledger.Ledger
	payments    *payments.Service
	withdrawals *withdrawal.Service
	fees        *fees.Registry
	thresholds  reconciliation.Thresholds
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}

	return nil
}

// --- accounts ---

func (h *Handlers) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		Currency  string `json:"currency"`
	}

	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	snap, err := h.ledger.OpenAccount(r.Context(), req.AccountID, strings.ToUpper(req.Currency))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ledger.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.ledger.Entries(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"entries":    entries,
		"total":      len(entries),
	})
}

func (h *Handlers) AuditAccount(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) PromotePending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount               money.Money `json:"amount"`
		RelatedTransactionID string      `json:"related_transaction_id"`
	}

	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	snap, err := h.ledger.PromotePending(r.Context(), chi.URLParam(r, "id"), req.Amount, req.RelatedTransactionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// ListAllEntries returns the entries of every account in commit order.
func (h *Handlers) ListAllEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.AllEntries(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}

// --- payments ---

func (h *Handlers) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var p payments.Payment
	if err := decode(r, &p); err != nil {
		h.writeError(w, r, err)
		return
	}

	if key := r.Header.Get("Idempotency-Key"); key != "" {
		p.IdempotencyKey = key
	}

	res, err := h.payments.Record(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}

	writeJSON(w, status, res)
}

func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	t, err := h.payments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) SettlePayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.Settle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// --- fees ---

// QuoteFee runs the same calculation the withdrawal and payment services use,
// so previews always agree with what is charged.
func (h *Handlers) QuoteFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string      `json:"account_id"`
		Method    string      `json:"method"`
		Direction string      `json:"direction"`
		Gross     money.Money `json:"gross"`
	}

	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	method, err := fees.ParseMethod(req.Method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	direction, err := fees.ParseDirection(req.Direction)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	quote, err := h.fees.CalculatorFor(req.AccountID).ComputeFee(req.Gross, method, direction)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// --- withdrawals ---

func (h *Handlers) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawal.Request
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	wr, err := h.withdrawals.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, wr)
}

func (h *Handlers) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	wr, err := h.withdrawals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wr)
}

func (h *Handlers) SettleWithdrawal(w http.ResponseWriter, r *http.Request) {
	wr, err := h.withdrawals.Settle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wr)
}

func (h *Handlers) ReverseWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}

	// the body is optional
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	wr, err := h.withdrawals.Reverse(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wr)
}

func (h *Handlers) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	wr, err := h.withdrawals.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wr)
}

// --- reconciliation ---

func (h *Handlers) Classify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tolerance *money.Money           `json:"tolerance"`
		Pairs     []reconciliation.Input `json:"pairs"`
	}

	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	tolerance := defaultTolerance(req.Pairs)
	if req.Tolerance != nil {
		tolerance = *req.Tolerance
	}

	if tolerance.IsNegative() {
		h.writeError(w, r, fmt.Errorf("%w: tolerance must not be negative", errBadRequest))
		return
	}

	if len(req.Pairs) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: no pairs to classify", errBadRequest))
		return
	}

	m := reconciliation.Matcher{Tolerance: tolerance, Thresholds: h.thresholds}

	pairs, summary, err := m.ClassifyBatch(req.Pairs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	for _, p := range pairs {
		h.metrics.ReconciliationPair(string(p.Classification))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pairs":   pairs,
		"summary": summary,
	})
}

// defaultTolerance is zero in the currency of the first known amount.
func defaultTolerance(pairs []reconciliation.Input) money.Money {
	for _, p := range pairs {
		switch {
		case p.System != nil:
			return money.Zero(p.System.Currency())
		case p.Bank != nil:
			return money.Zero(p.Bank.Currency())
		}
	}

	return money.Money{}
}
