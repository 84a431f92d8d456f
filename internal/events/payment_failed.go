package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/payment"
)

const (
	paymentFailedEventName    = "PaymentFailed"
	paymentFailedEventVersion = 1
	paymentFailedSchema       = "contracts/events/payment/PaymentFailed.v1.payload.schema.json"
)

// PaymentFailed is the legacy bare event consumed by the order-service.
type PaymentFailed struct {
	EventType string    `json:"eventType"`
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	PaymentID string    `json:"paymentId"`
	Provider  string    `json:"provider"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentFailedPayload represents the v1 payload schema.
type PaymentFailedPayload struct {
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	PaymentID string    `json:"paymentId"`
	Provider  string    `json:"provider"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentFailedEnvelope is the enveloped event structure.
type PaymentFailedEnvelope = EventEnvelope[PaymentFailedPayload]

// BuildPaymentFailedEnvelope builds an enveloped PaymentFailed event,
// partitioned by order id.
func BuildPaymentFailedEnvelope(a *payment.Attempt, userID, reason string, seq int64, meta EnvelopeMetadata) PaymentFailedEnvelope {
	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.NewString()
	}

	return PaymentFailedEnvelope{
		EventName:     paymentFailedEventName,
		EventVersion:  paymentFailedEventVersion,
		EventID:       uuid.NewString(),
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		Producer:      paymentServiceName,
		PartitionKey:  a.OrderID,
		Sequence:      &seq,
		OccurredAt:    time.Now().UTC(),
		Schema:        paymentFailedSchema,
		Payload: PaymentFailedPayload{
			OrderID:   a.OrderID,
			UserID:    userID,
			PaymentID: a.ID,
			Provider:  a.Provider,
			Reason:    reason,
			Timestamp: time.Now().UTC(),
		},
	}
}
