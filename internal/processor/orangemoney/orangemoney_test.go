package orangemoney

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/processor"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestProcessor(t *testing.T, handler http.HandlerFunc) *Processor {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(config.OrangeMoneyConfig{
		MerchantKey: "mk-1",
		AuthHeader:  "YmFzaWM=",
		ReturnURL:   "https://shop.example/return",
		CancelURL:   "https://shop.example/cancel",
		NotifURL:    "https://shop.example/notify",
	}, testLogger())
	require.NoError(t, err)
	p.baseURL = srv.URL
	p.tokenURL = srv.URL + "/oauth/v3/token"
	return p
}

func writeToken(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": "om-tok",
		"expires_in":   3600,
	})
}

func TestNew_MissingMerchantKey(t *testing.T) {
	_, err := New(config.OrangeMoneyConfig{AuthHeader: "x"}, testLogger())
	require.Error(t, err)

	var cfgErr *processor.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "orange_money", cfgErr.Provider)
	assert.Equal(t, "ORANGE_MONEY_MERCHANT_KEY", cfgErr.Key)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, payment.StatusPending, mapStatus("INITIATED"))
	assert.Equal(t, payment.StatusProcessing, mapStatus("PENDING"))
	assert.Equal(t, payment.StatusCompleted, mapStatus("SUCCESS"))
	assert.Equal(t, payment.StatusFailed, mapStatus("FAILED"))
	assert.Equal(t, payment.StatusExpired, mapStatus("EXPIRED"))
	assert.Equal(t, payment.StatusPending, mapStatus("NEW_STATUS"))
}

func TestFormatAmount_TruncatesFractions(t *testing.T) {
	p := &Processor{}
	assert.Equal(t, "100", p.FormatAmount(100.4, "XOF"))
	assert.Equal(t, "100", p.FormatAmount(100.9, "XOF"))
	assert.Equal(t, "5000", p.FormatAmount(5000, "XOF"))
}

func TestSupportedCurrencies_SandboxUsesTestCurrency(t *testing.T) {
	sandbox := &Processor{cfg: config.OrangeMoneyConfig{Mode: config.ModeSandbox}}
	assert.Contains(t, sandbox.SupportedCurrencies(), "OUV")
	assert.True(t, sandbox.SupportsCurrency("XOF"))

	live := &Processor{cfg: config.OrangeMoneyConfig{Mode: config.ModeLive}}
	assert.Equal(t, []string{"XOF"}, live.SupportedCurrencies())
	assert.False(t, live.SupportsCurrency("OUV"))
}

func TestCreatePayment_Success(t *testing.T) {
	var createBody map[string]any
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v3/token":
			assert.Equal(t, "Basic YmFzaWM=", r.Header.Get("Authorization"))
			writeToken(w)
		case "/webpayment":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createBody))
			assert.Equal(t, "Bearer om-tok", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{
				"status":      201,
				"message":     "OK",
				"pay_token":   "pt-1",
				"payment_url": "https://webpayment.orange/pt-1",
				"notif_token": "nt-1",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	o := &order.Order{ID: "order-1", TotalAmount: 5000.75, Currency: "XOF"}
	res, err := p.CreatePayment(context.Background(), o, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "pt-1", res.PaymentID)
	assert.Equal(t, "https://webpayment.orange/pt-1", res.RedirectURL)
	assert.Equal(t, "nt-1", res.VerifyToken)

	assert.Equal(t, "mk-1", createBody["merchant_key"])
	assert.Equal(t, float64(5000), createBody["amount"])
	// sandbox swaps the order currency for Orange's test currency
	assert.Equal(t, "OUV", createBody["currency"])
	assert.Equal(t, "order-1", createBody["order_id"])
}

func TestCreatePayment_MissingPayToken(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v3/token" {
			writeToken(w)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": 400, "message": "bad request"})
	})

	o := &order.Order{ID: "order-1", TotalAmount: 100, Currency: "XOF"}
	res, err := p.CreatePayment(context.Background(), o, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "pay_token")
}

func TestCheckPaymentStatus(t *testing.T) {
	var statusBody map[string]any
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v3/token":
			writeToken(w)
		case "/transactionstatus":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&statusBody))
			json.NewEncoder(w).Encode(map[string]string{
				"status":   "SUCCESS",
				"order_id": "order-1",
				"txnid":    "MP123",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	o := &order.Order{ID: "order-1", TotalAmount: 5000, Currency: "XOF"}
	res, err := p.CheckPaymentStatus(context.Background(), "pt-1", o)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, payment.StatusCompleted, res.Status)
	assert.Equal(t, "pt-1", res.PaymentID)
	assert.Equal(t, "MP123", res.TransactionID)
	assert.Equal(t, "order-1", res.OrderID)

	assert.Equal(t, "pt-1", statusBody["pay_token"])
	assert.Equal(t, float64(5000), statusBody["amount"])
}

func TestHandleCallback_MissingParams(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected before params are validated")
	})

	res, err := p.HandleCallback(context.Background(), map[string]string{"order_id": "order-1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "pay_token")
}

func TestHandleCallback_PollsTransactionStatus(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v3/token":
			writeToken(w)
		case "/transactionstatus":
			json.NewEncoder(w).Encode(map[string]string{
				"status":   "PENDING",
				"order_id": "order-1",
				"txnid":    "",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	res, err := p.HandleCallback(context.Background(), map[string]string{
		"order_id":  "order-1",
		"pay_token": "pt-1",
		"amount":    "5000",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, payment.StatusProcessing, res.Status)
}

func TestHandleWebhook_Success(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("webhook handling makes no provider call")
	})

	body := []byte(`{"status":"SUCCESS","notif_token":"nt-1","txnid":"MP123"}`)
	res, err := p.HandleWebhook(context.Background(), processor.WebhookRequest{Body: body})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, payment.StatusCompleted, res.Status)
	assert.Equal(t, "nt-1", res.VerifyToken)
	assert.Equal(t, "MP123", res.TransactionID)
}

func TestHandleWebhook_MissingFields(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("webhook handling makes no provider call")
	})

	res, err := p.HandleWebhook(context.Background(), processor.WebhookRequest{Body: []byte(`{"status":"SUCCESS"}`)})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "notif_token")
}

func TestRefundPayment_ManualProcessRequired(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no refund API exists")
	})

	a := &payment.Attempt{ID: "pa-1", ExternalID: "pt-1", Amount: 5000, Currency: "XOF"}
	res, err := p.RefundPayment(context.Background(), a, 5000, "customer request")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.ManualProcessRequired)
}
