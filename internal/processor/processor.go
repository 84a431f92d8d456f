package processor

import (
	"context"
	"encoding/json"

	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/payment"
)

// CreateResult is the normalized outcome of opening a hosted-payment session.
// Provider-side failures come back as Success=false with Error set; the
// method's error return is reserved for configuration problems.
type CreateResult struct {
	Success     bool            `json:"success"`
	PaymentID   string          `json:"paymentId,omitempty"`
	RedirectURL string          `json:"redirectUrl,omitempty"`
	RawResponse json.RawMessage `json:"rawResponse,omitempty"`
	Error       string          `json:"error,omitempty"`

	// VerifyToken is a provider-issued secret tied to this payment that later
	// notifications must present (Orange Money notif_token). Empty for
	// providers with header-based signatures.
	VerifyToken string `json:"-"`
}

// StatusResult is the normalized outcome of a status poll or an inbound
// callback/webhook. Status is always a normalized payment.Status produced by
// the owning processor's mapping table, never a raw provider string.
type StatusResult struct {
	Success       bool            `json:"success"`
	Status        payment.Status  `json:"status,omitempty"`
	PaymentID     string          `json:"paymentId,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	OrderID       string          `json:"orderId,omitempty"`
	Amount        float64         `json:"amount,omitempty"`
	RawResponse   json.RawMessage `json:"rawResponse,omitempty"`
	Error         string          `json:"error,omitempty"`

	// EventID identifies the provider's notification delivery, when the
	// payload carries one. Used for webhook dedup.
	EventID string `json:"-"`
	// VerifyToken echoes the payment-bound secret presented by the payload
	// (Orange Money notif_token). The caller matches it against the stored
	// attempt before trusting the result.
	VerifyToken string `json:"-"`
}

// RefundResult is the normalized outcome of a refund request.
// ManualProcessRequired marks providers without a refund API; it is a
// declared capability, not an error path.
type RefundResult struct {
	Success               bool   `json:"success"`
	RefundID              string `json:"refundId,omitempty"`
	ManualProcessRequired bool   `json:"manualProcessRequired,omitempty"`
	Error                 string `json:"error,omitempty"`
}

// WebhookRequest carries an inbound provider notification: the raw body for
// signature verification plus the transport headers the signature lives in.
type WebhookRequest struct {
	Body    []byte
	Headers map[string]string
}

// Processor is the uniform contract every payment provider adapter satisfies.
//
// Error discipline: only configuration errors (ConfigError) may come back
// through the error return. Network and provider-side failures are recovered
// and reported as Success=false results so callers can render deterministic
// user-facing messages.
type Processor interface {
	// Name returns the provider key used for routing ("paypal", "wave", ...).
	Name() string

	// IsAvailable reports whether required configuration is present.
	// It performs no network I/O.
	IsAvailable() bool

	// CreatePayment opens a hosted-payment session for the order's amount and
	// currency and returns the URL the customer must be redirected to.
	CreatePayment(ctx context.Context, o *order.Order, extra map[string]string) (*CreateResult, error)

	// CheckPaymentStatus polls the provider for the session identified by the
	// external payment id.
	CheckPaymentStatus(ctx context.Context, paymentID string, o *order.Order) (*StatusResult, error)

	// HandleCallback validates a user-redirect callback (query parameters)
	// and returns the normalized status. It never mutates order state.
	HandleCallback(ctx context.Context, data map[string]string) (*StatusResult, error)

	// HandleWebhook verifies the server-to-server notification signature and
	// returns the normalized status. It never mutates order state.
	HandleWebhook(ctx context.Context, req WebhookRequest) (*StatusResult, error)

	// RefundPayment refunds the given amount against the attempt; amount <= 0
	// means full refund where the provider supports it. Each provider picks
	// the reference it needs from the attempt (session id or transaction id).
	RefundPayment(ctx context.Context, a *payment.Attempt, amount float64, reason string) (*RefundResult, error)

	// SupportedCurrencies returns the ISO currency codes the provider accepts.
	SupportedCurrencies() []string

	// FormatAmount converts a major-unit amount into the provider's wire
	// representation. Conventions differ per provider; callers must never
	// assume one.
	FormatAmount(amount float64, currency string) string

	// SupportsCurrency reports whether the provider accepts the currency.
	SupportsCurrency(currency string) bool
}
