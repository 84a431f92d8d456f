package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	orderCreatedEventName    = "OrderCreated"
	orderCreatedEventVersion = 1
)

type CartItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Discount  float64 `json:"discount,omitempty"`
}

// OrderCreated is the legacy bare event shape published by the
// order-service before envelopes were introduced.
type OrderCreated struct {
	EventType   string     `json:"eventType"`
	OrderID     string     `json:"orderId"`
	CartID      string     `json:"cartId"`
	UserID      string     `json:"userId"`
	Items       []CartItem `json:"items"`
	TotalAmount float64    `json:"totalAmount"`
	Currency    string     `json:"currency,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// OrderCreatedPayload represents the v1 payload schema.
type OrderCreatedPayload struct {
	OrderID     string     `json:"orderId"`
	CartID      string     `json:"cartId"`
	UserID      string     `json:"userId"`
	Items       []CartItem `json:"items"`
	TotalAmount float64    `json:"totalAmount"`
	Currency    string     `json:"currency,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// OrderCreatedEnvelope is the enveloped event structure.
type OrderCreatedEnvelope = EventEnvelope[OrderCreatedPayload]

// parseOrderCreated parses an incoming OrderCreated message. If
// allowEnveloped is true it first tries the v1 envelope format and falls
// back to the legacy bare payload.
func parseOrderCreated(body []byte, allowEnveloped bool) (OrderCreatedPayload, *OrderCreatedEnvelope, error) {
	if allowEnveloped {
		var env OrderCreatedEnvelope
		if err := json.Unmarshal(body, &env); err == nil && env.EventName != "" {
			if err := env.Validate(orderCreatedEventName, orderCreatedEventVersion); err != nil {
				return OrderCreatedPayload{}, nil, fmt.Errorf("invalid envelope: %w", err)
			}
			if env.Payload.OrderID == "" || env.Payload.UserID == "" {
				return OrderCreatedPayload{}, nil, fmt.Errorf("invalid payload: missing orderId or userId")
			}
			return env.Payload, &env, nil
		}
	}

	var legacy OrderCreated
	if err := json.Unmarshal(body, &legacy); err != nil {
		return OrderCreatedPayload{}, nil, fmt.Errorf("unmarshal legacy OrderCreated: %w", err)
	}

	payload := OrderCreatedPayload{
		OrderID:     legacy.OrderID,
		CartID:      legacy.CartID,
		UserID:      legacy.UserID,
		Items:       legacy.Items,
		TotalAmount: legacy.TotalAmount,
		Currency:    legacy.Currency,
		Timestamp:   legacy.Timestamp,
	}
	if payload.OrderID == "" || payload.UserID == "" {
		return OrderCreatedPayload{}, nil, fmt.Errorf("invalid payload: missing orderId or userId")
	}

	return payload, nil, nil
}
