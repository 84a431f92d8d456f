package checkout

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/processor"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrAttemptNotFound      = errors.New("payment attempt not found")
	ErrOrderAlreadyPaid     = errors.New("order already paid")
	ErrCurrencyNotSupported = errors.New("currency not supported by provider")
	ErrAmountExceedsBalance = errors.New("amount exceeds outstanding balance")
	ErrDuplicateDelivery    = errors.New("duplicate webhook delivery")
)

// EventPublisher emits payment outcome events for the other services.
type EventPublisher interface {
	PublishPaymentSucceeded(ctx context.Context, a *payment.Attempt, userID string) error
	PublishPaymentFailed(ctx context.Context, a *payment.Attempt, userID, reason string) error
}

// DeliveryStore deduplicates provider webhook deliveries by event id. It is
// a fast path only; the row lock in ApplyStatus stays authoritative.
type DeliveryStore interface {
	Seen(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) error
}

// Service coordinates checkout payments: it owns the invariants around
// attempt amounts and status transitions, and routes provider traffic
// through the processor registry. Attempt statuses are only ever derived
// from normalized processor results.
type Service struct {
	payments   payment.Repository
	orders     order.Repository
	registry   *processor.Registry
	publisher  EventPublisher
	deliveries DeliveryStore
	logger     *log.Logger
}

func NewService(payments payment.Repository, orders order.Repository, registry *processor.Registry, publisher EventPublisher, deliveries DeliveryStore, logger *log.Logger) *Service {
	return &Service{
		payments:   payments,
		orders:     orders,
		registry:   registry,
		publisher:  publisher,
		deliveries: deliveries,
		logger:     logger,
	}
}

// Initiate opens a hosted-payment session for the order. amount <= 0 pays
// the full outstanding balance; a positive amount must not exceed it.
func (s *Service) Initiate(ctx context.Context, orderID, providerName string, amount float64, extra map[string]string) (*payment.Attempt, *processor.CreateResult, error) {
	proc, err := s.registry.Get(providerName)
	if err != nil {
		return nil, nil, err
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if o == nil {
		return nil, nil, ErrOrderNotFound
	}

	if !proc.SupportsCurrency(o.Currency) {
		return nil, nil, fmt.Errorf("%w: %s does not accept %s", ErrCurrencyNotSupported, providerName, o.Currency)
	}

	completed, err := s.payments.CompletedTotal(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	outstanding := o.TotalAmount - completed
	if outstanding <= 0 {
		return nil, nil, ErrOrderAlreadyPaid
	}
	if amount <= 0 {
		amount = outstanding
	}
	if amount > outstanding+0.01 {
		return nil, nil, fmt.Errorf("%w: %.2f > %.2f", ErrAmountExceedsBalance, amount, outstanding)
	}

	// The session is opened for the attempt amount, not the order total.
	po := *o
	po.TotalAmount = amount

	res, err := proc.CreatePayment(ctx, &po, extra)
	if err != nil {
		return nil, nil, err
	}
	if !res.Success {
		s.logger.Printf("create payment for order %s via %s failed: %s", orderID, providerName, res.Error)
		return nil, res, nil
	}

	a := &payment.Attempt{
		OrderID:     orderID,
		Provider:    providerName,
		ExternalID:  res.PaymentID,
		VerifyToken: res.VerifyToken,
		Amount:      amount,
		Currency:    o.Currency,
		Status:      payment.StatusPending,
		RawResponse: res.RawResponse,
	}
	if err := s.payments.Create(ctx, a); err != nil {
		return nil, nil, err
	}

	s.logger.Printf("opened %s payment %s for order %s (%.2f %s)", providerName, a.ID, orderID, amount, o.Currency)
	return a, res, nil
}

// CheckStatus returns the attempt's status, polling the provider when the
// attempt is not yet terminal.
func (s *Service) CheckStatus(ctx context.Context, paymentID string) (*payment.Attempt, error) {
	a, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAttemptNotFound
	}
	if a.Status.IsTerminal() {
		return a, nil
	}

	proc, err := s.registry.Get(a.Provider)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.GetByID(ctx, a.OrderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	// Poll with the attempt amount, some providers echo it back for matching.
	po := *o
	po.TotalAmount = a.Amount

	res, err := proc.CheckPaymentStatus(ctx, a.ExternalID, &po)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		s.logger.Printf("status poll for payment %s via %s failed: %s", a.ID, a.Provider, res.Error)
		return a, nil
	}

	return s.apply(ctx, a, res)
}

// HandleCallback processes a user-redirect return. data carries the query
// parameters; when our payment_id parameter is present the stored attempt
// fills in the provider-specific fields the redirect does not carry.
func (s *Service) HandleCallback(ctx context.Context, providerName string, data map[string]string) (*payment.Attempt, *processor.StatusResult, error) {
	proc, err := s.registry.Get(providerName)
	if err != nil {
		return nil, nil, err
	}

	var known *payment.Attempt
	if id := data["payment_id"]; id != "" {
		known, err = s.payments.GetByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if known != nil && known.Provider == providerName {
			setDefault(data, "session_id", known.ExternalID)
			setDefault(data, "pay_token", known.ExternalID)
			setDefault(data, "order_id", known.OrderID)
			setDefault(data, "amount", strconv.FormatFloat(known.Amount, 'f', -1, 64))
		}
	}

	res, err := proc.HandleCallback(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	if !res.Success {
		s.logger.Printf("%s callback rejected: %s", providerName, res.Error)
		return nil, res, nil
	}

	a, err := s.resolveAttempt(ctx, providerName, known, res)
	if err != nil {
		return nil, nil, err
	}

	a, err = s.apply(ctx, a, res)
	if err != nil {
		return nil, nil, err
	}
	return a, res, nil
}

// HandleWebhook processes a server-to-server notification. The processor
// verifies the payload's signature before anything is trusted; deliveries
// carrying an event id are deduplicated.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, req processor.WebhookRequest) (*payment.Attempt, *processor.StatusResult, error) {
	proc, err := s.registry.Get(providerName)
	if err != nil {
		return nil, nil, err
	}

	res, err := proc.HandleWebhook(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if !res.Success {
		s.logger.Printf("%s webhook rejected: %s", providerName, res.Error)
		return nil, res, nil
	}

	if res.EventID != "" && s.deliveries != nil {
		seen, err := s.deliveries.Seen(ctx, providerName, res.EventID)
		if err != nil {
			s.logger.Printf("webhook dedup check failed for %s/%s: %v", providerName, res.EventID, err)
		} else if seen {
			return nil, res, ErrDuplicateDelivery
		}
	}

	a, err := s.resolveAttempt(ctx, providerName, nil, res)
	if err != nil {
		return nil, nil, err
	}

	a, err = s.apply(ctx, a, res)
	if err != nil {
		return nil, nil, err
	}

	if res.EventID != "" && s.deliveries != nil {
		if err := s.deliveries.MarkProcessed(ctx, providerName, res.EventID); err != nil {
			s.logger.Printf("webhook dedup mark failed for %s/%s: %v", providerName, res.EventID, err)
		}
	}
	return a, res, nil
}

// Refund refunds a completed attempt. Providers without a refund API report
// ManualProcessRequired; callers branch on that to open an ops task.
func (s *Service) Refund(ctx context.Context, paymentID string, amount float64, reason string) (*processor.RefundResult, error) {
	a, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAttemptNotFound
	}
	if a.Status != payment.StatusCompleted {
		return nil, fmt.Errorf("payment %s is %s, only completed payments can be refunded", paymentID, a.Status)
	}
	if amount > a.Amount+0.01 {
		return nil, fmt.Errorf("%w: %.2f > %.2f", ErrAmountExceedsBalance, amount, a.Amount)
	}

	proc, err := s.registry.Get(a.Provider)
	if err != nil {
		return nil, err
	}

	res, err := proc.RefundPayment(ctx, a, amount, reason)
	if err != nil {
		return nil, err
	}
	if res.ManualProcessRequired {
		s.logger.Printf("refund of payment %s requires manual processing (%s)", paymentID, a.Provider)
	}
	return res, nil
}

func setDefault(data map[string]string, key, value string) {
	if data[key] == "" && value != "" {
		data[key] = value
	}
}

// resolveAttempt finds the attempt a normalized result refers to, by the
// provider payment id or, for token-authenticated providers, by the verify
// token. A result presenting a verify token must match the stored one.
func (s *Service) resolveAttempt(ctx context.Context, providerName string, known *payment.Attempt, res *processor.StatusResult) (*payment.Attempt, error) {
	a := known
	var err error
	if a == nil && res.PaymentID != "" {
		a, err = s.payments.GetByExternalID(ctx, providerName, res.PaymentID)
		if err != nil {
			return nil, err
		}
	}
	if a == nil && res.VerifyToken != "" {
		a, err = s.payments.GetByVerifyToken(ctx, providerName, res.VerifyToken)
		if err != nil {
			return nil, err
		}
	}
	if a == nil {
		return nil, ErrAttemptNotFound
	}

	// A payload presenting a verify token must match the one issued at
	// session creation.
	if res.VerifyToken != "" {
		if subtle.ConstantTimeCompare([]byte(res.VerifyToken), []byte(a.VerifyToken)) != 1 {
			return nil, fmt.Errorf("verify token mismatch for payment %s", a.ID)
		}
	}
	return a, nil
}

// apply transitions the attempt to the normalized status and, on entry into
// a terminal state, updates the order and emits the outcome event. Applying
// a result to an already-terminal attempt is a no-op.
func (s *Service) apply(ctx context.Context, a *payment.Attempt, res *processor.StatusResult) (*payment.Attempt, error) {
	updated, applied, err := s.payments.ApplyStatus(ctx, a.ID, res.Status, res.TransactionID, res.RawResponse)
	if err != nil {
		return nil, err
	}
	if !applied || !updated.Status.IsTerminal() {
		return updated, nil
	}

	o, err := s.orders.GetByID(ctx, updated.OrderID)
	if err != nil {
		return nil, err
	}
	userID := ""
	if o != nil {
		userID = o.UserID
	}

	switch updated.Status {
	case payment.StatusCompleted:
		if err := s.orders.MarkPaid(ctx, updated.OrderID); err != nil {
			return nil, err
		}
		if s.publisher != nil {
			if err := s.publisher.PublishPaymentSucceeded(ctx, updated, userID); err != nil {
				s.logger.Printf("publish payment.succeeded for order %s: %v", updated.OrderID, err)
			}
		}
		s.logger.Printf("payment %s completed for order %s via %s", updated.ID, updated.OrderID, updated.Provider)
	case payment.StatusFailed, payment.StatusExpired, payment.StatusCancelled:
		if err := s.orders.MarkPaymentFailed(ctx, updated.OrderID); err != nil {
			return nil, err
		}
		if s.publisher != nil {
			reason := string(updated.Status)
			if err := s.publisher.PublishPaymentFailed(ctx, updated, userID, reason); err != nil {
				s.logger.Printf("publish payment.failed for order %s: %v", updated.OrderID, err)
			}
		}
		s.logger.Printf("payment %s %s for order %s via %s", updated.ID, updated.Status, updated.OrderID, updated.Provider)
	}

	return updated, nil
}
