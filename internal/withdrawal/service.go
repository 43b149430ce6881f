package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/merchant-ledger/internal/fees"
	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
	"github.com/sheikh-saqib/merchant-ledger/internal/ledger"
	"github.com/sheikh-saqib/merchant-ledger/internal/metrics"
	"github.com/sheikh-saqib/merchant-ledger/internal/models"
	"github.com/sheikh-saqib/merchant-ledger/internal/models/events"
	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

var (
	ErrNotFound             = interfaces.ErrNotFound
	ErrInvalidTransition    = errors.New("invalid withdrawal transition")
	ErrMissingPixKey        = errors.New("pix key is required for PIX withdrawals")
	ErrMissingCryptoAddress = errors.New("crypto address is required for CRYPTO withdrawals")
	ErrInvalidAmount        = errors.New("withdrawal amount must be greater than zero")
)

const (
	reasonReservationFailed = "reservation failed"
	reasonCanceled          = "canceled by merchant"
	reasonPayoutReversed    = "payout reversed"
)

// Request is what a merchant submits to withdraw funds.
type Request struct {
	AccountID     string      `json:"account_id"`
	Method        fees.Method `json:"method"`
	Gross         money.Money `json:"gross"`
	PixKey        string      `json:"pix_key,omitempty"`
	CryptoAddress string      `json:"crypto_address,omitempty"`
}

func (r Request) validate() error {
	if r.AccountID == "" {
		return ledger.ErrMissingAccountID
	}

	if !r.Gross.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, r.Gross)
	}

	switch r.Method {
	case fees.MethodPIX:
		if strings.TrimSpace(r.PixKey) == "" {
			return ErrMissingPixKey
		}
	case fees.MethodCrypto:
		if strings.TrimSpace(r.CryptoAddress) == "" {
			return ErrMissingCryptoAddress
		}
	}

	return nil
}

// Service creates withdrawals and applies their settlement outcome to the
// ledger. A status change that moves funds is written in the same store
// transaction as its ledger entries.
type Service struct {
	ledger    *ledger.Ledger
	store     interfaces.WithdrawalStore
	fees      *fees.Registry
	limits    *LimitsRegistry
	publisher interfaces.EventPublisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(l *ledger.Ledger, store interfaces.WithdrawalStore, feeRegistry *fees.Registry, limits *LimitsRegistry, opts ...Option) *Service {
	s := &Service{
		ledger: l,
		store:  store,
		fees:   feeRegistry,
		limits: limits,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create quotes the outbound fee, stores the request as PENDING and evaluates
// it against a snapshot taken under the account lock. An approved request has
// its gross amount reserved and is APPROVED in the same store transaction; a
// rejected one is REJECTED with the policy reason. If that write fails the
// request is CANCELED.
func (s *Service) Create(ctx context.Context, req Request) (models.WithdrawalRequest, error) {
	if err := req.validate(); err != nil {
		return models.WithdrawalRequest{}, err
	}

	quote, err := s.fees.CalculatorFor(req.AccountID).ComputeFee(req.Gross, req.Method, fees.Outbound)
	if err != nil {
		return models.WithdrawalRequest{}, err
	}

	if _, err := s.ledger.Snapshot(ctx, req.AccountID); err != nil {
		return models.WithdrawalRequest{}, err
	}

	now := s.now()
	w := models.WithdrawalRequest{
		ID:            s.newID(),
		AccountID:     req.AccountID,
		Method:        req.Method,
		GrossAmount:   req.Gross,
		Fee:           quote.Fee,
		Net:           quote.Net,
		PixKey:        req.PixKey,
		CryptoAddress: req.CryptoAddress,
		RequestedAt:   now,
		UpdatedAt:     now,
		Status:        models.WithdrawalPending,
	}

	if err := s.store.SaveWithdrawal(ctx, w); err != nil {
		return models.WithdrawalRequest{}, fmt.Errorf("save withdrawal: %w", err)
	}

	s.publishStatus(ctx, w, "")

	logger := s.logger.With(
		zap.String("withdrawal_id", w.ID),
		zap.String("account_id", w.AccountID),
		zap.Stringer("amount", w.GrossAmount),
	)

	var (
		decision Decision
		staged   models.WithdrawalRequest
	)

	_, err = s.ledger.Do(ctx, w.AccountID, func(tx *ledger.Tx) error {
		recent, err := s.store.ListWithdrawalsSince(ctx, w.AccountID, w.RequestedAt.Add(-Window))
		if err != nil {
			return fmt.Errorf("load recent withdrawals: %w", err)
		}

		decision, err = Evaluate(w, tx.Snapshot(), recent, s.limits.LimitsFor(w.AccountID))
		if err != nil {
			return err
		}

		next, reason := models.WithdrawalApproved, ""

		if decision.Approved {
			if err := tx.ReserveForWithdrawal(w.GrossAmount, w.ID); err != nil {
				return err
			}
		} else {
			next, reason = models.WithdrawalRejected, string(decision.Reason)
		}

		// the reservation and the new status commit together or not at all
		staged, err = s.stage(tx, w, next, reason)

		return err
	})
	if err != nil {
		logger.Warn("withdrawal evaluation failed", zap.Error(err))
		s.cancelQuietly(ctx, &w, reasonReservationFailed, logger)

		return w, err
	}

	s.applied(ctx, &w, staged)
	s.recordDecision(decision)
	logger.Info("withdrawal evaluated", zap.Stringer("decision", decision))

	return w, nil
}

func (s *Service) cancelQuietly(ctx context.Context, w *models.WithdrawalRequest, reason string, logger *zap.Logger) {
	if err := s.transition(ctx, w, models.WithdrawalCanceled, reason); err != nil {
		logger.Error("cancel withdrawal", zap.Error(err))
	}
}

func (s *Service) recordDecision(d Decision) {
	if d.Approved {
		s.metrics.WithdrawalDecision("approved", "")
		return
	}

	s.metrics.WithdrawalDecision("rejected", string(d.Reason))
}

// Get returns a stored withdrawal.
func (s *Service) Get(ctx context.Context, id string) (models.WithdrawalRequest, error) {
	return s.store.GetWithdrawal(ctx, id)
}

// Settle confirms the payout of an APPROVED withdrawal: blocked funds leave
// the account and the request becomes COMPLETED.
func (s *Service) Settle(ctx context.Context, id string) (models.WithdrawalRequest, error) {
	return s.resolve(ctx, id, models.WithdrawalCompleted, "", func(tx *ledger.Tx, w models.WithdrawalRequest) error {
		if w.Status != models.WithdrawalApproved {
			return invalidTransition(w, models.WithdrawalCompleted)
		}

		return tx.SettleWithdrawal(w.GrossAmount, w.ID)
	})
}

// Reverse records a failed payout of an APPROVED withdrawal: blocked funds
// return to available and the request becomes REJECTED.
func (s *Service) Reverse(ctx context.Context, id, reason string) (models.WithdrawalRequest, error) {
	if strings.TrimSpace(reason) == "" {
		reason = reasonPayoutReversed
	}

	return s.resolve(ctx, id, models.WithdrawalRejected, reason, func(tx *ledger.Tx, w models.WithdrawalRequest) error {
		if w.Status != models.WithdrawalApproved {
			return invalidTransition(w, models.WithdrawalRejected)
		}

		return tx.ReverseWithdrawal(w.GrossAmount, w.ID)
	})
}

// Cancel withdraws a request on the merchant's behalf. Funds reserved for an
// APPROVED request are released.
func (s *Service) Cancel(ctx context.Context, id string) (models.WithdrawalRequest, error) {
	return s.resolve(ctx, id, models.WithdrawalCanceled, reasonCanceled, func(tx *ledger.Tx, w models.WithdrawalRequest) error {
		switch w.Status {
		case models.WithdrawalPending:
			return nil
		case models.WithdrawalApproved:
			return tx.ReverseWithdrawal(w.GrossAmount, w.ID)
		default:
			return invalidTransition(w, models.WithdrawalCanceled)
		}
	})
}

// resolve re-reads the request under the account lock and stages the ledger
// change and the move to next in one store transaction.
func (s *Service) resolve(ctx context.Context, id string, next models.WithdrawalStatus, reason string, move func(*ledger.Tx, models.WithdrawalRequest) error) (models.WithdrawalRequest, error) {
	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return models.WithdrawalRequest{}, err
	}

	if w.Status.IsTerminal() {
		return w, invalidTransition(w, next)
	}

	var staged models.WithdrawalRequest

	_, err = s.ledger.Do(ctx, w.AccountID, func(tx *ledger.Tx) error {
		current, err := s.store.GetWithdrawal(ctx, id)
		if err != nil {
			return err
		}

		w = current

		if err := move(tx, current); err != nil {
			return err
		}

		staged, err = s.stage(tx, current, next, reason)

		return err
	})
	if err != nil {
		s.logger.Warn("withdrawal transition failed",
			zap.String("withdrawal_id", id),
			zap.String("account_id", w.AccountID),
			zap.String("to", string(next)),
			zap.Error(err),
		)

		return w, err
	}

	s.applied(ctx, &w, staged)

	s.logger.Info("withdrawal transitioned",
		zap.String("withdrawal_id", id),
		zap.String("account_id", w.AccountID),
		zap.String("status", string(w.Status)),
	)

	return w, nil
}

func invalidTransition(w models.WithdrawalRequest, to models.WithdrawalStatus) error {
	return fmt.Errorf("%w: withdrawal %s is %s, cannot become %s", ErrInvalidTransition, w.ID, w.Status, to)
}

// next builds the request as it looks after moving to status to.
func (s *Service) next(w models.WithdrawalRequest, to models.WithdrawalStatus, reason string) (models.WithdrawalRequest, error) {
	if !w.Status.CanTransitionTo(to) {
		return models.WithdrawalRequest{}, invalidTransition(w, to)
	}

	updated := w
	updated.Status = to
	updated.UpdatedAt = s.now()

	if reason != "" {
		updated.RejectionReason = reason
	}

	return updated, nil
}

// stage registers the status change on tx so it is written with tx's entries.
func (s *Service) stage(tx *ledger.Tx, w models.WithdrawalRequest, to models.WithdrawalStatus, reason string) (models.WithdrawalRequest, error) {
	updated, err := s.next(w, to, reason)
	if err != nil {
		return models.WithdrawalRequest{}, err
	}

	if err := tx.TransitionWithdrawal(updated, w.Status); err != nil {
		return models.WithdrawalRequest{}, err
	}

	return updated, nil
}

// applied records a committed status change on w and announces it.
func (s *Service) applied(ctx context.Context, w *models.WithdrawalRequest, updated models.WithdrawalRequest) {
	from := w.Status
	*w = updated
	s.publishStatus(ctx, updated, from)
}

// transition changes the status outside any ledger transaction. Only used
// for moves that touch no balance.
func (s *Service) transition(ctx context.Context, w *models.WithdrawalRequest, to models.WithdrawalStatus, reason string) error {
	updated, err := s.next(*w, to, reason)
	if err != nil {
		return err
	}

	if err := s.store.UpdateWithdrawal(ctx, updated, w.Status); err != nil {
		return fmt.Errorf("withdrawal %s %s -> %s: %w", w.ID, w.Status, to, err)
	}

	s.applied(ctx, w, updated)

	return nil
}

func (s *Service) publishStatus(ctx context.Context, w models.WithdrawalRequest, from models.WithdrawalStatus) {
	if s.publisher == nil {
		return
	}

	event := events.WithdrawalStatusChanged{
		WithdrawalID: w.ID,
		AccountID:    w.AccountID,
		From:         from,
		To:           w.Status,
		Reason:       w.RejectionReason,
		OccurredAt:   w.UpdatedAt,
	}

	if err := s.publisher.Publish(ctx, events.TopicWithdrawals, w.AccountID, event); err != nil {
		s.metrics.PublishFailed(events.TopicWithdrawals)
		s.logger.Warn("publish withdrawal status",
			zap.String("withdrawal_id", w.ID),
			zap.String("status", string(w.Status)),
			zap.Error(err),
		)
	}
}
