package payment

import (
	"encoding/json"
	"time"
)

// Attempt is one tracked try to collect payment for an order via a provider.
type Attempt struct {
	ID            string          `json:"paymentId"`
	OrderID       string          `json:"orderId"`
	Provider      string          `json:"provider"`
	ExternalID    string          `json:"externalId"`
	VerifyToken   string          `json:"-"`
	TransactionID string          `json:"transactionId,omitempty"`
	Amount        float64         `json:"amount"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	RawResponse   json.RawMessage `json:"-"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
