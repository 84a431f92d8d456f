package wave

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/httpclient"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/processor"
)

const (
	Name = "wave"

	apiBase = "https://api.wave.com"

	// Webhook deliveries older than this are rejected to limit replays.
	signatureMaxAge = 5 * time.Minute
)

// statusMap covers both Wave session checkout_status and payment_status
// vocabularies. Unknown statuses map to pending.
var statusMap = map[string]payment.Status{
	"open":       payment.StatusPending,
	"processing": payment.StatusProcessing,
	"complete":   payment.StatusCompleted,
	"succeeded":  payment.StatusCompleted,
	"failed":     payment.StatusFailed,
	"cancelled":  payment.StatusCancelled,
	"expired":    payment.StatusExpired,
}

var supportedCurrencies = []string{"XOF"}

// Processor implements the payment contract against the Wave checkout API.
type Processor struct {
	cfg     config.WaveConfig
	client  *httpclient.Client
	logger  *log.Logger
	baseURL string
	now     func() time.Time
}

func New(cfg config.WaveConfig, logger *log.Logger) (*Processor, error) {
	if cfg.APIKey == "" {
		return nil, processor.NewConfigError(Name, "WAVE_API_KEY")
	}

	return &Processor{
		cfg:     cfg,
		client:  httpclient.New(Name, 30*time.Second),
		logger:  logger,
		baseURL: apiBase,
		now:     time.Now,
	}, nil
}

func (p *Processor) Name() string { return Name }

func (p *Processor) IsAvailable() bool { return p.cfg.APIKey != "" }

func (p *Processor) SupportedCurrencies() []string { return supportedCurrencies }

func (p *Processor) SupportsCurrency(currency string) bool {
	for _, c := range supportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// FormatAmount renders integer minor units (amount x100), the Wave wire
// convention.
func (p *Processor) FormatAmount(amount float64, currency string) string {
	return strconv.FormatInt(minorUnits(amount), 10)
}

func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func mapStatus(s string) payment.Status {
	if st, ok := statusMap[s]; ok {
		return st
	}
	return payment.StatusPending
}

func (p *Processor) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
}

type checkoutSession struct {
	ID              string `json:"id"`
	WaveLaunchURL   string `json:"wave_launch_url"`
	CheckoutStatus  string `json:"checkout_status"`
	PaymentStatus   string `json:"payment_status"`
	TransactionID   string `json:"transaction_id"`
	ClientReference string `json:"client_reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

// normalizedStatus prefers payment_status over checkout_status: a session
// can be complete while the payment itself failed.
func (s *checkoutSession) normalizedStatus() payment.Status {
	if s.PaymentStatus != "" {
		return mapStatus(s.PaymentStatus)
	}
	return mapStatus(s.CheckoutStatus)
}

func (p *Processor) CreatePayment(ctx context.Context, o *order.Order, extra map[string]string) (*processor.CreateResult, error) {
	body := map[string]any{
		"amount":           minorUnits(o.TotalAmount),
		"currency":         o.Currency,
		"success_url":      p.cfg.SuccessURL,
		"error_url":        p.cfg.ErrorURL,
		"client_reference": o.ID,
	}

	resp, err := p.client.PostJSON(ctx, p.baseURL+"/v1/checkout/sessions", body, p.authHeaders())
	if err != nil {
		p.logger.Printf("wave: create session for order %s: %v", o.ID, err)
		return &processor.CreateResult{Success: false, Error: err.Error()}, nil
	}
	if !resp.OK() {
		p.logger.Printf("wave: create session for order %s: status %d body %s", o.ID, resp.StatusCode, resp.Body)
		return &processor.CreateResult{Success: false, Error: fmt.Sprintf("wave returned status %d", resp.StatusCode), RawResponse: resp.Body}, nil
	}

	var s checkoutSession
	if err := resp.Decode(&s); err != nil {
		return &processor.CreateResult{Success: false, Error: err.Error(), RawResponse: resp.Body}, nil
	}
	if s.ID == "" || s.WaveLaunchURL == "" {
		return &processor.CreateResult{Success: false, Error: "wave response missing session id or wave_launch_url", RawResponse: resp.Body}, nil
	}

	return &processor.CreateResult{
		Success:     true,
		PaymentID:   s.ID,
		RedirectURL: s.WaveLaunchURL,
		RawResponse: resp.Body,
	}, nil
}

func (p *Processor) CheckPaymentStatus(ctx context.Context, paymentID string, o *order.Order) (*processor.StatusResult, error) {
	resp, err := p.client.Get(ctx, p.baseURL+"/v1/checkout/sessions/"+url.PathEscape(paymentID), p.authHeaders())
	if err != nil {
		p.logger.Printf("wave: check session %s: %v", paymentID, err)
		return &processor.StatusResult{Success: false, Error: err.Error()}, nil
	}
	if !resp.OK() {
		p.logger.Printf("wave: check session %s: status %d body %s", paymentID, resp.StatusCode, resp.Body)
		return &processor.StatusResult{Success: false, Error: fmt.Sprintf("wave returned status %d", resp.StatusCode), RawResponse: resp.Body}, nil
	}

	var s checkoutSession
	if err := resp.Decode(&s); err != nil {
		return &processor.StatusResult{Success: false, Error: err.Error(), RawResponse: resp.Body}, nil
	}

	return &processor.StatusResult{
		Success:       true,
		Status:        s.normalizedStatus(),
		PaymentID:     s.ID,
		TransactionID: s.TransactionID,
		OrderID:       s.ClientReference,
		Amount:        float64(s.Amount) / 100,
		RawResponse:   resp.Body,
	}, nil
}

// HandleCallback runs on the success/error redirect. Wave appends nothing
// trustworthy to the redirect, so the session status is fetched from the
// API using the stored session id the caller supplies.
func (p *Processor) HandleCallback(ctx context.Context, data map[string]string) (*processor.StatusResult, error) {
	sessionID := data["session_id"]
	if sessionID == "" {
		return &processor.StatusResult{Success: false, Error: "callback validation failed: missing session_id"}, nil
	}
	return p.CheckPaymentStatus(ctx, sessionID, nil)
}

type webhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data checkoutSession `json:"data"`
}

// HandleWebhook verifies the Wave-Signature header (HMAC-SHA256 of
// "<timestamp>.<body>" keyed with the webhook secret) before trusting the
// payload.
func (p *Processor) HandleWebhook(ctx context.Context, req processor.WebhookRequest) (*processor.StatusResult, error) {
	if p.cfg.WebhookSecret == "" {
		return nil, processor.NewConfigError(Name, "WAVE_WEBHOOK_SECRET")
	}

	if err := p.verifySignature(req.Headers["Wave-Signature"], req.Body); err != nil {
		return &processor.StatusResult{Success: false, Error: "webhook validation failed: " + err.Error()}, nil
	}

	var ev webhookEvent
	if err := json.Unmarshal(req.Body, &ev); err != nil {
		return &processor.StatusResult{Success: false, Error: "webhook validation failed: malformed body"}, nil
	}
	if ev.ID == "" || ev.Type == "" || ev.Data.ID == "" {
		return &processor.StatusResult{Success: false, Error: "webhook validation failed: missing required fields"}, nil
	}

	return &processor.StatusResult{
		Success:       true,
		Status:        ev.Data.normalizedStatus(),
		PaymentID:     ev.Data.ID,
		TransactionID: ev.Data.TransactionID,
		OrderID:       ev.Data.ClientReference,
		Amount:        float64(ev.Data.Amount) / 100,
		EventID:       ev.ID,
		RawResponse:   req.Body,
	}, nil
}

func (p *Processor) verifySignature(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("missing Wave-Signature header")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("malformed Wave-Signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed signature timestamp")
	}
	age := p.now().Sub(time.Unix(ts, 0))
	if age > signatureMaxAge || age < -signatureMaxAge {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return fmt.Errorf("signature mismatch")
}

// RefundPayment refunds a completed checkout session in full. Wave does not
// expose partial refunds; any requested amount is refunded as the whole
// session.
func (p *Processor) RefundPayment(ctx context.Context, a *payment.Attempt, amount float64, reason string) (*processor.RefundResult, error) {
	if amount > 0 && amount < a.Amount {
		p.logger.Printf("wave: partial refund of %s %s requested for session %s, refunding full session", p.FormatAmount(amount, a.Currency), a.Currency, a.ExternalID)
	}

	resp, err := p.client.PostJSON(ctx, p.baseURL+"/v1/checkout/sessions/"+url.PathEscape(a.ExternalID)+"/refund", map[string]any{}, p.authHeaders())
	if err != nil {
		p.logger.Printf("wave: refund session %s: %v", a.ExternalID, err)
		return &processor.RefundResult{Success: false, Error: err.Error()}, nil
	}
	if !resp.OK() {
		p.logger.Printf("wave: refund session %s: status %d body %s", a.ExternalID, resp.StatusCode, resp.Body)
		return &processor.RefundResult{Success: false, Error: fmt.Sprintf("wave returned status %d", resp.StatusCode)}, nil
	}

	return &processor.RefundResult{Success: true, RefundID: a.ExternalID}, nil
}
