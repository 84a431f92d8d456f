package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/payment"
)

const (
	paymentSucceededEventName    = "PaymentSucceeded"
	paymentSucceededEventVersion = 1
	paymentSucceededSchema       = "contracts/events/payment/PaymentSucceeded.v1.payload.schema.json"
)

// PaymentSucceeded is the legacy bare event consumed by the order-service.
type PaymentSucceeded struct {
	EventType string    `json:"eventType"`
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	PaymentID string    `json:"paymentId"`
	Provider  string    `json:"provider"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentSucceededPayload represents the v1 payload schema.
type PaymentSucceededPayload struct {
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	PaymentID     string    `json:"paymentId"`
	Provider      string    `json:"provider"`
	TransactionID string    `json:"transactionId,omitempty"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaymentSucceededEnvelope is the enveloped event structure.
type PaymentSucceededEnvelope = EventEnvelope[PaymentSucceededPayload]

// BuildPaymentSucceededEnvelope builds an enveloped PaymentSucceeded event,
// partitioned by order id.
func BuildPaymentSucceededEnvelope(a *payment.Attempt, userID string, seq int64, meta EnvelopeMetadata) PaymentSucceededEnvelope {
	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.NewString()
	}

	return PaymentSucceededEnvelope{
		EventName:     paymentSucceededEventName,
		EventVersion:  paymentSucceededEventVersion,
		EventID:       uuid.NewString(),
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		Producer:      paymentServiceName,
		PartitionKey:  a.OrderID,
		Sequence:      &seq,
		OccurredAt:    time.Now().UTC(),
		Schema:        paymentSucceededSchema,
		Payload: PaymentSucceededPayload{
			OrderID:       a.OrderID,
			UserID:        userID,
			PaymentID:     a.ID,
			Provider:      a.Provider,
			TransactionID: a.TransactionID,
			Amount:        a.Amount,
			Currency:      a.Currency,
			Timestamp:     time.Now().UTC(),
		},
	}
}
