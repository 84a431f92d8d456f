package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/sequence"
)

// Publisher emits payment outcome events. It publishes the legacy bare
// payloads to the durable queues the other services still consume, and the
// enveloped v1 events to the topic exchange when enveloped is enabled.
type Publisher struct {
	ch        *amqp.Channel
	seq       sequence.Repository
	enveloped bool
}

func NewPublisher(conn *amqp.Connection, seq sequence.Repository, enveloped bool) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// Declare targets so publish never fails due to missing infra
	for _, q := range []string{PaymentSucceededQueue, PaymentFailedQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("declare %s: %w", q, err)
		}
	}
	if enveloped {
		if err := declareEventsExchange(ch); err != nil {
			return nil, fmt.Errorf("declare exchange: %w", err)
		}
	}

	return &Publisher{ch: ch, seq: seq, enveloped: enveloped}, nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) PublishPaymentSucceeded(ctx context.Context, a *payment.Attempt, userID string) error {
	ev := PaymentSucceeded{
		EventType: paymentSucceededEventName,
		OrderID:   a.OrderID,
		UserID:    userID,
		PaymentID: a.ID,
		Provider:  a.Provider,
		Amount:    a.Amount,
		Currency:  a.Currency,
		Timestamp: time.Now().UTC(),
	}
	if err := p.publishJSON(ctx, "", PaymentSucceededQueue, ev); err != nil {
		return fmt.Errorf("publish PaymentSucceeded: %w", err)
	}

	if !p.enveloped {
		return nil
	}
	seq, err := p.seq.NextSequence(ctx, a.OrderID)
	if err != nil {
		return fmt.Errorf("sequence for order %s: %w", a.OrderID, err)
	}
	env := BuildPaymentSucceededEnvelope(a, userID, seq, EnvelopeMetadata{})
	if err := p.publishJSON(ctx, EventsExchange, PaymentSucceededRoutingKey, env); err != nil {
		return fmt.Errorf("publish PaymentSucceeded envelope: %w", err)
	}
	return nil
}

func (p *Publisher) PublishPaymentFailed(ctx context.Context, a *payment.Attempt, userID, reason string) error {
	ev := PaymentFailed{
		EventType: paymentFailedEventName,
		OrderID:   a.OrderID,
		UserID:    userID,
		PaymentID: a.ID,
		Provider:  a.Provider,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if err := p.publishJSON(ctx, "", PaymentFailedQueue, ev); err != nil {
		return fmt.Errorf("publish PaymentFailed: %w", err)
	}

	if !p.enveloped {
		return nil
	}
	seq, err := p.seq.NextSequence(ctx, a.OrderID)
	if err != nil {
		return fmt.Errorf("sequence for order %s: %w", a.OrderID, err)
	}
	env := BuildPaymentFailedEnvelope(a, userID, reason, seq, EnvelopeMetadata{})
	if err := p.publishJSON(ctx, EventsExchange, PaymentFailedRoutingKey, env); err != nil {
		return fmt.Errorf("publish PaymentFailed envelope: %w", err)
	}
	return nil
}

func (p *Publisher) publishJSON(ctx context.Context, exchange, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
