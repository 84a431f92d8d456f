package paypal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/httpclient"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/processor"
)

const (
	Name = "paypal"

	sandboxBase = "https://api-m.sandbox.paypal.com"
	liveBase    = "https://api-m.paypal.com"
)

// statusMap translates PayPal payment states into normalized statuses.
// Anything not listed maps to pending; an unknown provider state must never
// be treated as completed.
var statusMap = map[string]payment.Status{
	"created":     payment.StatusPending,
	"approved":    payment.StatusCompleted,
	"completed":   payment.StatusCompleted,
	"in_progress": payment.StatusProcessing,
	"pending":     payment.StatusPending,
	"failed":      payment.StatusFailed,
	"denied":      payment.StatusFailed,
	"canceled":    payment.StatusCancelled,
	"cancelled":   payment.StatusCancelled,
	"voided":      payment.StatusCancelled,
	"expired":     payment.StatusExpired,
}

var supportedCurrencies = []string{"USD", "EUR", "GBP", "CAD", "AUD", "CHF", "JPY"}

// Processor implements the payment contract against the PayPal REST API
// (v1 payments with hosted approval redirect).
type Processor struct {
	cfg     config.PayPalConfig
	client  *httpclient.Client
	logger  *log.Logger
	baseURL string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New validates the configuration and builds the processor. Missing
// credentials are a fail-fast ConfigError; no network call is made here.
func New(cfg config.PayPalConfig, logger *log.Logger) (*Processor, error) {
	if cfg.ClientID == "" {
		return nil, processor.NewConfigError(Name, "PAYPAL_CLIENT_ID")
	}
	if cfg.Secret == "" {
		return nil, processor.NewConfigError(Name, "PAYPAL_SECRET")
	}

	base := sandboxBase
	if cfg.Mode == config.ModeLive {
		base = liveBase
	}

	return &Processor{
		cfg:     cfg,
		client:  httpclient.New(Name, 30*time.Second),
		logger:  logger,
		baseURL: base,
	}, nil
}

func (p *Processor) Name() string { return Name }

func (p *Processor) IsAvailable() bool {
	return p.cfg.ClientID != "" && p.cfg.Secret != ""
}

func (p *Processor) SupportedCurrencies() []string { return supportedCurrencies }

func (p *Processor) SupportsCurrency(currency string) bool {
	for _, c := range supportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// FormatAmount renders the amount as a decimal string with two places, the
// PayPal wire convention.
func (p *Processor) FormatAmount(amount float64, currency string) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func mapStatus(state string) payment.Status {
	if s, ok := statusMap[state]; ok {
		return s
	}
	return payment.StatusPending
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (p *Processor) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	basic := base64.StdEncoding.EncodeToString([]byte(p.cfg.ClientID + ":" + p.cfg.Secret))
	resp, err := p.client.PostForm(ctx, p.baseURL+"/v1/oauth2/token", form, map[string]string{
		"Authorization": "Basic " + basic,
	})
	if err != nil {
		return "", fmt.Errorf("paypal oauth: %w", err)
	}
	if !resp.OK() {
		return "", fmt.Errorf("paypal oauth: status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil {
		return "", fmt.Errorf("paypal oauth: %w", err)
	}

	p.accessToken = tr.AccessToken
	// Renew a minute early so in-flight calls never race expiry.
	p.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - time.Minute)
	return p.accessToken, nil
}

func (p *Processor) authHeader(ctx context.Context) (map[string]string, error) {
	tok, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + tok}, nil
}

type paymentResource struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Links        []link `json:"links"`
	Transactions []struct {
		InvoiceNumber    string `json:"invoice_number"`
		Amount           amount `json:"amount"`
		RelatedResources []struct {
			Sale *struct {
				ID    string `json:"id"`
				State string `json:"state"`
			} `json:"sale"`
		} `json:"related_resources"`
	} `json:"transactions"`
}

type amount struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func (r *paymentResource) approvalURL() string {
	for _, l := range r.Links {
		if l.Rel == "approval_url" {
			return l.Href
		}
	}
	return ""
}

func (r *paymentResource) saleID() string {
	for _, t := range r.Transactions {
		for _, rr := range t.RelatedResources {
			if rr.Sale != nil {
				return rr.Sale.ID
			}
		}
	}
	return ""
}

func (r *paymentResource) total() float64 {
	if len(r.Transactions) == 0 {
		return 0
	}
	f, _ := strconv.ParseFloat(r.Transactions[0].Amount.Total, 64)
	return f
}

func (p *Processor) CreatePayment(ctx context.Context, o *order.Order, extra map[string]string) (*processor.CreateResult, error) {
	headers, err := p.authHeader(ctx)
	if err != nil {
		p.logger.Printf("paypal: create payment for order %s: %v", o.ID, err)
		return &processor.CreateResult{Success: false, Error: err.Error()}, nil
	}

	description := extra["description"]
	if description == "" {
		description = "Order " + o.ID
	}

	body := map[string]any{
		"intent": "sale",
		"payer":  map[string]string{"payment_method": "paypal"},
		"transactions": []map[string]any{{
			"amount": map[string]string{
				"total":    p.FormatAmount(o.TotalAmount, o.Currency),
				"currency": o.Currency,
			},
			"description":    description,
			"invoice_number": o.ID,
		}},
		"redirect_urls": map[string]string{
			"return_url": p.cfg.ReturnURL,
			"cancel_url": p.cfg.CancelURL,
		},
	}

	resp, err := p.client.PostJSON(ctx, p.baseURL+"/v1/payments/payment", body, headers)
	if err != nil {
		p.logger.Printf("paypal: create payment for order %s: %v", o.ID, err)
		return &processor.CreateResult{Success: false, Error: err.Error()}, nil
	}
	if !resp.OK() {
		p.logger.Printf("paypal: create payment for order %s: status %d body %s", o.ID, resp.StatusCode, resp.Body)
		return &processor.CreateResult{Success: false, Error: fmt.Sprintf("paypal returned status %d", resp.StatusCode), RawResponse: resp.Body}, nil
	}

	var res paymentResource
	if err := resp.Decode(&res); err != nil {
		p.logger.Printf("paypal: create payment for order %s: %v", o.ID, err)
		return &processor.CreateResult{Success: false, Error: err.Error(), RawResponse: resp.Body}, nil
	}

	approval := res.approvalURL()
	if res.ID == "" || approval == "" {
		return &processor.CreateResult{Success: false, Error: "paypal response missing payment id or approval url", RawResponse: resp.Body}, nil
	}

	return &processor.CreateResult{
		Success:     true,
		PaymentID:   res.ID,
		RedirectURL: approval,
		RawResponse: resp.Body,
	}, nil
}

func (p *Processor) CheckPaymentStatus(ctx context.Context, paymentID string, o *order.Order) (*processor.StatusResult, error) {
	headers, err := p.authHeader(ctx)
	if err != nil {
		p.logger.Printf("paypal: check status of %s: %v", paymentID, err)
		return &processor.StatusResult{Success: false, Error: err.Error()}, nil
	}

	resp, err := p.client.Get(ctx, p.baseURL+"/v1/payments/payment/"+url.PathEscape(paymentID), headers)
	if err != nil {
		p.logger.Printf("paypal: check status of %s: %v", paymentID, err)
		return &processor.StatusResult{Success: false, Error: err.Error()}, nil
	}
	if !resp.OK() {
		p.logger.Printf("paypal: check status of %s: status %d body %s", paymentID, resp.StatusCode, resp.Body)
		return &processor.StatusResult{Success: false, Error: fmt.Sprintf("paypal returned status %d", resp.StatusCode), RawResponse: resp.Body}, nil
	}

	var res paymentResource
	if err := resp.Decode(&res); err != nil {
		return &processor.StatusResult{Success: false, Error: err.Error(), RawResponse: resp.Body}, nil
	}

	return &processor.StatusResult{
		Success:       true,
		Status:        mapStatus(res.State),
		PaymentID:     res.ID,
		TransactionID: res.saleID(),
		Amount:        res.total(),
		RawResponse:   resp.Body,
	}, nil
}

// HandleCallback executes the approved payment after the buyer returns from
// the PayPal redirect. The redirect carries paymentId and PayerID; both are
// required.
func (p *Processor) HandleCallback(ctx context.Context, data map[string]string) (*processor.StatusResult, error) {
	paymentID := data["paymentId"]
	payerID := data["PayerID"]
	if paymentID == "" || payerID == "" {
		return &processor.StatusResult{Success: false, Error: "callback validation failed: missing paymentId or PayerID"}, nil
	}

	headers, err := p.authHeader(ctx)
	if err != nil {
		p.logger.Printf("paypal: execute payment %s: %v", paymentID, err)
		return &processor.StatusResult{Success: false, Error: err.Error()}, nil
	}

	body := map[string]string{"payer_id": payerID}
	resp, err := p.client.PostJSON(ctx, p.baseURL+"/v1/payments/payment/"+url.PathEscape(paymentID)+"/execute", body, headers)
	if err != nil {
		p.logger.Printf("paypal: execute payment %s: %v", paymentID, err)
		return &processor.StatusResult{Success: false, Error: err.Error()}, nil
	}
	if !resp.OK() {
		p.logger.Printf("paypal: execute payment %s: status %d body %s", paymentID, resp.StatusCode, resp.Body)
		return &processor.StatusResult{Success: false, Error: fmt.Sprintf("paypal returned status %d", resp.StatusCode), RawResponse: resp.Body}, nil
	}

	var res paymentResource
	if err := resp.Decode(&res); err != nil {
		return &processor.StatusResult{Success: false, Error: err.Error(), RawResponse: resp.Body}, nil
	}

	orderID := ""
	if len(res.Transactions) > 0 {
		orderID = res.Transactions[0].InvoiceNumber
	}

	return &processor.StatusResult{
		Success:       true,
		Status:        mapStatus(res.State),
		PaymentID:     res.ID,
		TransactionID: res.saleID(),
		OrderID:       orderID,
		Amount:        res.total(),
		RawResponse:   resp.Body,
	}, nil
}

type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID            string `json:"id"`
		State         string `json:"state"`
		ParentPayment string `json:"parent_payment"`
		InvoiceNumber string `json:"invoice_number"`
		Amount        amount `json:"amount"`
	} `json:"resource"`
}

// HandleWebhook verifies the notification against PayPal's
// verify-webhook-signature endpoint before trusting the payload.
func (p *Processor) HandleWebhook(ctx context.Context, req processor.WebhookRequest) (*processor.StatusResult, error) {
	var event webhookEvent
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return &processor.StatusResult{Success: false, Error: "webhook validation failed: malformed body"}, nil
	}
	if event.ID == "" || event.EventType == "" || event.Resource.ID == "" {
		return &processor.StatusResult{Success: false, Error: "webhook validation failed: missing required fields"}, nil
	}

	ok, err := p.verifyWebhookSignature(ctx, req, &event)
	if err != nil {
		var cfgErr *processor.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		p.logger.Printf("paypal: verify webhook %s: %v", event.ID, err)
		return &processor.StatusResult{Success: false, Error: err.Error()}, nil
	}
	if !ok {
		return &processor.StatusResult{Success: false, Error: "webhook validation failed: signature mismatch"}, nil
	}

	total, _ := strconv.ParseFloat(event.Resource.Amount.Total, 64)
	return &processor.StatusResult{
		Success:       true,
		Status:        mapStatus(event.Resource.State),
		PaymentID:     event.Resource.ParentPayment,
		EventID:       event.ID,
		TransactionID: event.Resource.ID,
		OrderID:       event.Resource.InvoiceNumber,
		Amount:        total,
		RawResponse:   req.Body,
	}, nil
}

func (p *Processor) verifyWebhookSignature(ctx context.Context, req processor.WebhookRequest, event *webhookEvent) (bool, error) {
	if p.cfg.WebhookID == "" {
		return false, processor.NewConfigError(Name, "PAYPAL_WEBHOOK_ID")
	}

	headers, err := p.authHeader(ctx)
	if err != nil {
		return false, err
	}

	body := map[string]any{
		"auth_algo":         req.Headers["Paypal-Auth-Algo"],
		"cert_url":          req.Headers["Paypal-Cert-Url"],
		"transmission_id":   req.Headers["Paypal-Transmission-Id"],
		"transmission_sig":  req.Headers["Paypal-Transmission-Sig"],
		"transmission_time": req.Headers["Paypal-Transmission-Time"],
		"webhook_id":        p.cfg.WebhookID,
		"webhook_event":     json.RawMessage(req.Body),
	}

	resp, err := p.client.PostJSON(ctx, p.baseURL+"/v1/notifications/verify-webhook-signature", body, headers)
	if err != nil {
		return false, err
	}
	if !resp.OK() {
		return false, fmt.Errorf("paypal verify-webhook-signature returned %d", resp.StatusCode)
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := resp.Decode(&out); err != nil {
		return false, err
	}
	return out.VerificationStatus == "SUCCESS", nil
}

// RefundPayment refunds the captured sale recorded on the attempt.
// amount <= 0 requests a full refund.
func (p *Processor) RefundPayment(ctx context.Context, a *payment.Attempt, amount float64, reason string) (*processor.RefundResult, error) {
	if a.TransactionID == "" {
		return &processor.RefundResult{Success: false, Error: "no captured transaction to refund"}, nil
	}

	headers, err := p.authHeader(ctx)
	if err != nil {
		p.logger.Printf("paypal: refund %s: %v", a.TransactionID, err)
		return &processor.RefundResult{Success: false, Error: err.Error()}, nil
	}

	body := map[string]any{}
	if amount > 0 {
		body["amount"] = map[string]string{
			"total":    p.FormatAmount(amount, a.Currency),
			"currency": a.Currency,
		}
	}
	if reason != "" {
		body["description"] = reason
	}

	resp, err := p.client.PostJSON(ctx, p.baseURL+"/v1/payments/sale/"+url.PathEscape(a.TransactionID)+"/refund", body, headers)
	if err != nil {
		p.logger.Printf("paypal: refund %s: %v", a.TransactionID, err)
		return &processor.RefundResult{Success: false, Error: err.Error()}, nil
	}
	if !resp.OK() {
		p.logger.Printf("paypal: refund %s: status %d body %s", a.TransactionID, resp.StatusCode, resp.Body)
		return &processor.RefundResult{Success: false, Error: fmt.Sprintf("paypal returned status %d", resp.StatusCode)}, nil
	}

	var out struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := resp.Decode(&out); err != nil {
		return &processor.RefundResult{Success: false, Error: err.Error()}, nil
	}

	return &processor.RefundResult{Success: true, RefundID: out.ID}, nil
}
