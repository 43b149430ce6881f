// Package payments credits inbound payments to merchant accounts net of the
// inbound fee, at most once per idempotency key.
package payments

import (
	"context"
	"errors"
	"fmt"
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
	ErrNotFound       = interfaces.ErrNotFound
	ErrInvalidAmount  = errors.New("payment amount must be greater than zero")
	ErrAlreadySettled = errors.New("payment already settled")
	// ErrIdempotencyMismatch is returned when a key is reused for a different payment.
	ErrIdempotencyMismatch = fmt.Errorf("idempotency key reused with a different payment: %w", interfaces.ErrConflict)
)

// errReplay aborts the ledger transaction when the idempotency key is taken.
var errReplay = errors.New("idempotency key already used")

// Payment is an inbound payment as reported by the acquirer.
type Payment struct {
	IdempotencyKey string      `json:"idempotency_key"`
	AccountID      string      `json:"account_id"`
	Method         fees.Method `json:"method"`
	Gross          money.Money `json:"gross"`
	// Settled payments are credited to available; others wait in pending.
	Settled bool `json:"settled"`
}

// Result is the stored transaction and whether this call created it.
type Result struct {
	Transaction models.Transaction     `json:"transaction"`
	Replayed    bool                   `json:"replayed"`
	Snapshot    models.BalanceSnapshot `json:"snapshot"`
}

type Service struct {
	ledger    *ledger.Ledger
	store     interfaces.TransactionStore
	fees      *fees.Registry
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

func NewService(l *ledger.Ledger, store interfaces.TransactionStore, feeRegistry *fees.Registry, opts ...Option) *Service {
	s := &Service{
		ledger: l,
		store:  store,
		fees:   feeRegistry,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Record credits the net of an inbound payment. The transaction is stored
// inside the account's ledger transaction, so a replayed idempotency key finds
// the first transaction and credits nothing.
func (s *Service) Record(ctx context.Context, p Payment) (Result, error) {
	if p.AccountID == "" {
		return Result{}, ledger.ErrMissingAccountID
	}

	if !p.Gross.IsPositive() {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidAmount, p.Gross)
	}

	quote, err := s.fees.CalculatorFor(p.AccountID).ComputeFee(p.Gross, p.Method, fees.Inbound)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	candidate := models.Transaction{
		ID:             s.newID(),
		IdempotencyKey: p.IdempotencyKey,
		AccountID:      p.AccountID,
		Method:         p.Method,
		Gross:          quote.Gross,
		Fee:            quote.Fee,
		Net:            quote.Net,
		Settled:        p.Settled,
		CreatedAt:      now,
	}

	if p.Settled {
		candidate.SettledAt = &now
	}

	var stored models.Transaction

	snapshot, err := s.ledger.Do(ctx, p.AccountID, func(tx *ledger.Tx) error {
		// A zero net (fee equals gross) leaves nothing to credit.
		if quote.Net.IsPositive() {
			credit := tx.CreditPending
			if p.Settled {
				credit = tx.CreditAvailable
			}

			if err := credit(quote.Net, candidate.ID); err != nil {
				return err
			}
		}

		saved, created, err := s.store.SaveTransaction(ctx, candidate)
		if err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}

		stored = saved
		if !created {
			return errReplay
		}

		return nil
	})

	switch {
	case errors.Is(err, errReplay):
		if !samePayment(stored, candidate) {
			return Result{}, fmt.Errorf("%w: key %s holds transaction %s", ErrIdempotencyMismatch, p.IdempotencyKey, stored.ID)
		}

		s.logger.Info("payment replayed",
			zap.String("account_id", p.AccountID),
			zap.String("idempotency_key", p.IdempotencyKey),
			zap.String("transaction_id", stored.ID),
		)

		current, snapErr := s.ledger.Snapshot(ctx, p.AccountID)
		if snapErr != nil {
			return Result{}, snapErr
		}

		return Result{Transaction: stored, Replayed: true, Snapshot: current}, nil

	case err != nil:
		return Result{}, err
	}

	s.metrics.PaymentRecorded(string(p.Method))
	s.logger.Info("payment recorded",
		zap.String("account_id", p.AccountID),
		zap.String("transaction_id", stored.ID),
		zap.Stringer("gross", stored.Gross),
		zap.Stringer("net", stored.Net),
		zap.Bool("settled", stored.Settled),
	)
	s.publish(ctx, stored)

	return Result{Transaction: stored, Snapshot: snapshot}, nil
}

// Settle promotes the net of a pending payment to available.
func (s *Service) Settle(ctx context.Context, transactionID string) (Result, error) {
	t, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return Result{}, err
	}

	snapshot, err := s.ledger.Do(ctx, t.AccountID, func(tx *ledger.Tx) error {
		current, err := s.store.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}

		if current.Settled {
			return fmt.Errorf("%w: %s", ErrAlreadySettled, transactionID)
		}

		if current.Net.IsPositive() {
			if err := tx.PromotePending(current.Net, current.ID); err != nil {
				return err
			}
		}

		settledAt := s.now()
		if err := s.store.MarkTransactionSettled(ctx, current.ID, settledAt); err != nil {
			return err
		}

		current.Settled = true
		current.SettledAt = &settledAt
		t = current

		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("payment settled", zap.String("account_id", t.AccountID), zap.String("transaction_id", t.ID))

	return Result{Transaction: t, Snapshot: snapshot}, nil
}

// samePayment reports whether a replayed request describes the stored payment.
// Settlement is ignored since a pending payment may have settled since.
func samePayment(stored, candidate models.Transaction) bool {
	return stored.AccountID == candidate.AccountID &&
		stored.Method == candidate.Method &&
		stored.Gross == candidate.Gross
}

func (s *Service) Get(ctx context.Context, transactionID string) (models.Transaction, error) {
	return s.store.GetTransaction(ctx, transactionID)
}

func (s *Service) publish(ctx context.Context, t models.Transaction) {
	if s.publisher == nil {
		return
	}

	event := events.PaymentRecorded{Transaction: t, OccurredAt: t.CreatedAt}
	if err := s.publisher.Publish(ctx, events.TopicPayments, t.AccountID, event); err != nil {
		s.metrics.PublishFailed(events.TopicPayments)
		s.logger.Warn("publish payment", zap.String("transaction_id", t.ID), zap.Error(err))
	}
}
