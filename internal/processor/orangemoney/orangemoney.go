package orangemoney

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
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
	Name = "orange_money"

	sandboxBase = "https://api.orange.com/orange-money-webpay/dev/v1"
	liveBase    = "https://api.orange.com/orange-money-webpay/v1"
	oauthURL    = "https://api.orange.com/oauth/v3/token"
)

// statusMap translates Orange Money WebPay statuses. PENDING means the
// customer is mid-flight in the USSD confirmation, hence processing.
// Unknown statuses map to pending.
var statusMap = map[string]payment.Status{
	"INITIATED": payment.StatusPending,
	"PENDING":   payment.StatusProcessing,
	"SUCCESS":   payment.StatusCompleted,
	"FAILED":    payment.StatusFailed,
	"EXPIRED":   payment.StatusExpired,
}

// Processor implements the payment contract against the Orange Money WebPay
// API. Orange Money has no refund API; refunds are flagged for manual
// processing.
type Processor struct {
	cfg      config.OrangeMoneyConfig
	client   *httpclient.Client
	logger   *log.Logger
	baseURL  string
	tokenURL string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func New(cfg config.OrangeMoneyConfig, logger *log.Logger) (*Processor, error) {
	if cfg.MerchantKey == "" {
		return nil, processor.NewConfigError(Name, "ORANGE_MONEY_MERCHANT_KEY")
	}
	if cfg.AuthHeader == "" {
		return nil, processor.NewConfigError(Name, "ORANGE_MONEY_AUTH_HEADER")
	}

	base := sandboxBase
	if cfg.Mode == config.ModeLive {
		base = liveBase
	}

	return &Processor{
		cfg:      cfg,
		client:   httpclient.New(Name, 30*time.Second),
		logger:   logger,
		baseURL:  base,
		tokenURL: oauthURL,
	}, nil
}

func (p *Processor) Name() string { return Name }

func (p *Processor) IsAvailable() bool {
	return p.cfg.MerchantKey != "" && p.cfg.AuthHeader != ""
}

func (p *Processor) SupportedCurrencies() []string {
	if p.cfg.Mode == config.ModeLive {
		return []string{"XOF"}
	}
	// The sandbox only accepts Orange's test currency.
	return []string{"OUV", "XOF"}
}

func (p *Processor) SupportsCurrency(currency string) bool {
	for _, c := range p.SupportedCurrencies() {
		if c == currency {
			return true
		}
	}
	return false
}

// FormatAmount renders integer major units; Orange Money accepts no decimals
// and fractions are truncated.
func (p *Processor) FormatAmount(amount float64, currency string) string {
	return strconv.FormatInt(int64(math.Trunc(amount)), 10)
}

func mapStatus(s string) payment.Status {
	if st, ok := statusMap[s]; ok {
		return st
	}
	return payment.StatusPending
}

func (p *Processor) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	resp, err := p.client.PostForm(ctx, p.tokenURL, form, map[string]string{
		"Authorization": "Basic " + p.cfg.AuthHeader,
	})
	if err != nil {
		return "", fmt.Errorf("orange money oauth: %w", err)
	}
	if !resp.OK() {
		return "", fmt.Errorf("orange money oauth: status %d", resp.StatusCode)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := resp.Decode(&tr); err != nil {
		return "", fmt.Errorf("orange money oauth: %w", err)
	}

	p.accessToken = tr.AccessToken
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

func (p *Processor) currency(c string) string {
	if p.cfg.Mode != config.ModeLive {
		return "OUV"
	}
	return c
}

type webPaymentResponse struct {
	Status     int    `json:"status"`
	Message    string `json:"message"`
	PayToken   string `json:"pay_token"`
	PaymentURL string `json:"payment_url"`
	NotifToken string `json:"notif_token"`
}

func (p *Processor) CreatePayment(ctx context.Context, o *order.Order, extra map[string]string) (*processor.CreateResult, error) {
	headers, err := p.authHeader(ctx)
	if err != nil {
		p.logger.Printf("orange money: create payment for order %s: %v", o.ID, err)
		return &processor.CreateResult{Success: false, Error: err.Error()}, nil
	}

	reference := extra["reference"]
	if reference == "" {
		reference = o.ID
	}

	body := map[string]any{
		"merchant_key": p.cfg.MerchantKey,
		"currency":     p.currency(o.Currency),
		"order_id":     o.ID,
		"amount":       int64(math.Trunc(o.TotalAmount)),
		"return_url":   p.cfg.ReturnURL,
		"cancel_url":   p.cfg.CancelURL,
		"notif_url":    p.cfg.NotifURL,
		"lang":         "fr",
		"reference":    reference,
	}

	resp, err := p.client.PostJSON(ctx, p.baseURL+"/webpayment", body, headers)
	if err != nil {
		p.logger.Printf("orange money: create payment for order %s: %v", o.ID, err)
		return &processor.CreateResult{Success: false, Error: err.Error()}, nil
	}
	if !resp.OK() {
		p.logger.Printf("orange money: create payment for order %s: status %d body %s", o.ID, resp.StatusCode, resp.Body)
		return &processor.CreateResult{Success: false, Error: fmt.Sprintf("orange money returned status %d", resp.StatusCode), RawResponse: resp.Body}, nil
	}

	var res webPaymentResponse
	if err := resp.Decode(&res); err != nil {
		return &processor.CreateResult{Success: false, Error: err.Error(), RawResponse: resp.Body}, nil
	}
	if res.PayToken == "" || res.PaymentURL == "" {
		return &processor.CreateResult{Success: false, Error: "orange money response missing pay_token or payment_url", RawResponse: resp.Body}, nil
	}

	return &processor.CreateResult{
		Success:     true,
		PaymentID:   res.PayToken,
		RedirectURL: res.PaymentURL,
		VerifyToken: res.NotifToken,
		RawResponse: resp.Body,
	}, nil
}

type transactionStatusResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
	TxnID   string `json:"txnid"`
}

func (p *Processor) CheckPaymentStatus(ctx context.Context, paymentID string, o *order.Order) (*processor.StatusResult, error) {
	headers, err := p.authHeader(ctx)
	if err != nil {
		p.logger.Printf("orange money: check status of %s: %v", paymentID, err)
		return &processor.StatusResult{Success: false, Error: err.Error()}, nil
	}

	body := map[string]any{
		"order_id":  o.ID,
		"amount":    int64(math.Trunc(o.TotalAmount)),
		"pay_token": paymentID,
	}

	resp, err := p.client.PostJSON(ctx, p.baseURL+"/transactionstatus", body, headers)
	if err != nil {
		p.logger.Printf("orange money: check status of %s: %v", paymentID, err)
		return &processor.StatusResult{Success: false, Error: err.Error()}, nil
	}
	if !resp.OK() {
		p.logger.Printf("orange money: check status of %s: status %d body %s", paymentID, resp.StatusCode, resp.Body)
		return &processor.StatusResult{Success: false, Error: fmt.Sprintf("orange money returned status %d", resp.StatusCode), RawResponse: resp.Body}, nil
	}

	var res transactionStatusResponse
	if err := resp.Decode(&res); err != nil {
		return &processor.StatusResult{Success: false, Error: err.Error(), RawResponse: resp.Body}, nil
	}

	return &processor.StatusResult{
		Success:       true,
		Status:        mapStatus(res.Status),
		PaymentID:     paymentID,
		TransactionID: res.TxnID,
		OrderID:       res.OrderID,
		Amount:        o.TotalAmount,
		RawResponse:   resp.Body,
	}, nil
}

// HandleCallback runs when the customer returns from the Orange payment
// page. The redirect carries nothing trustworthy, so the status is fetched
// from the API using the stored pay_token the caller supplies.
func (p *Processor) HandleCallback(ctx context.Context, data map[string]string) (*processor.StatusResult, error) {
	orderID := data["order_id"]
	payToken := data["pay_token"]
	amountStr := data["amount"]
	if orderID == "" || payToken == "" || amountStr == "" {
		return &processor.StatusResult{Success: false, Error: "callback validation failed: missing order_id, pay_token or amount"}, nil
	}
	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return &processor.StatusResult{Success: false, Error: "callback validation failed: malformed amount"}, nil
	}

	o := &order.Order{ID: orderID, TotalAmount: amount}
	return p.CheckPaymentStatus(ctx, payToken, o)
}

type notification struct {
	Status     string `json:"status"`
	NotifToken string `json:"notif_token"`
	TxnID      string `json:"txnid"`
}

// HandleWebhook validates the server-to-server notification. Orange Money
// has no signature header; authenticity rests on the notif_token issued at
// session creation, which the caller matches against the stored attempt.
func (p *Processor) HandleWebhook(ctx context.Context, req processor.WebhookRequest) (*processor.StatusResult, error) {
	var n notification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return &processor.StatusResult{Success: false, Error: "webhook validation failed: malformed body"}, nil
	}
	if n.Status == "" || n.NotifToken == "" || n.TxnID == "" {
		return &processor.StatusResult{Success: false, Error: "webhook validation failed: missing status, notif_token or txnid"}, nil
	}

	return &processor.StatusResult{
		Success:       true,
		Status:        mapStatus(n.Status),
		TransactionID: n.TxnID,
		VerifyToken:   n.NotifToken,
		RawResponse:   req.Body,
	}, nil
}

// RefundPayment always reports manual processing: the WebPay API exposes no
// refund operation, so ops must reverse the transfer out of band.
func (p *Processor) RefundPayment(ctx context.Context, a *payment.Attempt, amount float64, reason string) (*processor.RefundResult, error) {
	p.logger.Printf("orange money: refund requested for %s (%.0f %s, reason %q): manual process required", a.ExternalID, amount, a.Currency, reason)
	return &processor.RefundResult{
		Success:               false,
		ManualProcessRequired: true,
		Error:                 "orange money does not support API refunds",
	}, nil
}
