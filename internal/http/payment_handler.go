package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/processor"
)

// Raw provider error bodies go to the logs only; clients get these.
const (
	msgCreateFailed = "payment could not be created, please retry or choose another method"
	msgInvalid      = "invalid payment notification"
)

// PaymentService is the surface of checkout.Service the handlers consume.
type PaymentService interface {
	Initiate(ctx context.Context, orderID, provider string, amount float64, extra map[string]string) (*payment.Attempt, *processor.CreateResult, error)
	CheckStatus(ctx context.Context, paymentID string) (*payment.Attempt, error)
	HandleCallback(ctx context.Context, provider string, data map[string]string) (*payment.Attempt, *processor.StatusResult, error)
	HandleWebhook(ctx context.Context, provider string, req processor.WebhookRequest) (*payment.Attempt, *processor.StatusResult, error)
	Refund(ctx context.Context, paymentID string, amount float64, reason string) (*processor.RefundResult, error)
}

type PaymentHandler struct {
	svc      PaymentService
	registry *processor.Registry
	logger   *log.Logger
}

func NewPaymentHandler(svc PaymentService, registry *processor.Registry, logger *log.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, registry: registry, logger: logger}
}

type initiateRequest struct {
	OrderID  string  `json:"orderId"`
	Provider string  `json:"provider"`
	Amount   float64 `json:"amount,omitempty"`
}

type initiateResponse struct {
	PaymentID   string `json:"paymentId"`
	Provider    string `json:"provider"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirectUrl"`
}

func (h *PaymentHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" || req.Provider == "" {
		writeError(w, http.StatusBadRequest, "missing orderId or provider")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 35*time.Second)
	defer cancel()

	a, res, err := h.svc.Initiate(ctx, req.OrderID, req.Provider, req.Amount, nil)
	if err != nil {
		h.writeServiceError(w, r, err, "initiate payment")
		return
	}
	if !res.Success {
		// Provider-side failure; details are already logged.
		writeError(w, http.StatusBadGateway, msgCreateFailed)
		return
	}

	writeJSON(w, http.StatusCreated, initiateResponse{
		PaymentID:   a.ID,
		Provider:    a.Provider,
		Status:      string(a.Status),
		RedirectURL: res.RedirectURL,
	})
}

func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentId")
	if paymentID == "" {
		writeError(w, http.StatusBadRequest, "missing paymentId")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 35*time.Second)
	defer cancel()

	a, err := h.svc.CheckStatus(ctx, paymentID)
	if err != nil {
		h.writeServiceError(w, r, err, "check payment status")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (h *PaymentHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"providers": h.registry.Available(),
	})
}

func (h *PaymentHandler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	data := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			data[k] = vs[0]
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 35*time.Second)
	defer cancel()

	a, res, err := h.svc.HandleCallback(ctx, provider, data)
	if err != nil {
		h.writeServiceError(w, r, err, "handle callback")
		return
	}
	if !res.Success {
		h.logger.Printf("rejected %s callback from %s: %s (params %v)", provider, r.RemoteAddr, res.Error, data)
		writeError(w, http.StatusBadRequest, msgInvalid)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"paymentId": a.ID,
		"orderId":   a.OrderID,
		"status":    a.Status,
	})
}

func (h *PaymentHandler) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalid)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[http.CanonicalHeaderKey(k)] = r.Header.Get(k)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 35*time.Second)
	defer cancel()

	a, res, err := h.svc.HandleWebhook(ctx, provider, processor.WebhookRequest{Body: body, Headers: headers})
	if errors.Is(err, checkout.ErrDuplicateDelivery) {
		// Already processed; acknowledge so the provider stops retrying.
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err, "handle webhook")
		return
	}
	if !res.Success {
		h.logger.Printf("rejected %s webhook from %s: %s (body %s)", provider, r.RemoteAddr, res.Error, body)
		writeError(w, http.StatusBadRequest, msgInvalid)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"paymentId": a.ID,
		"status":    a.Status,
	})
}

type refundRequest struct {
	Amount float64 `json:"amount,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentId")
	if paymentID == "" {
		writeError(w, http.StatusBadRequest, "missing paymentId")
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 35*time.Second)
	defer cancel()

	res, err := h.svc.Refund(ctx, paymentID, req.Amount, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err, "refund payment")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *PaymentHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, checkout.ErrOrderNotFound),
		errors.Is(err, checkout.ErrAttemptNotFound),
		errors.Is(err, processor.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, processor.ErrProviderUnavailable),
		errors.Is(err, checkout.ErrCurrencyNotSupported):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, checkout.ErrOrderAlreadyPaid),
		errors.Is(err, checkout.ErrAmountExceedsBalance):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Printf("%s from %s: %v", op, r.RemoteAddr, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
