package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	d "github.com/ecofinds/storefront/checkout/domain"
	"github.com/ecofinds/storefront/pkg/apperrors"
)

type CheckoutHandler struct {
	sessions *SessionRegistry
	timeout  time.Duration
}

func NewCheckoutHandler(sessions *SessionRegistry, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		sessions: sessions,
		timeout:  timeout,
	}
}

type CheckoutRequestDTO struct {
	ShippingAddress string `json:"shipping_address"`
	PaymentMethod   string `json:"payment_method"`
}

type CheckoutResponseDTO struct {
	Status         string           `json:"status"`
	OrderNumber    string           `json:"order_number"`
	IdempotencyKey string           `json:"idempotency_key"`
	Order          OrderResponseDTO `json:"order"`
	CartCleared    bool             `json:"cart_cleared"`
}

type CheckoutStateDTO struct {
	Status      string `json:"status"`
	OrderNumber string `json:"order_number,omitempty"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := sessionFromRequest(h.sessions, w, r)
	if !ok {
		return
	}

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	res, err := sess.Checkout.Checkout(ctx, d.CheckoutInput{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   d.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	if res.ClearErr != nil {
		slog.WarnContext(ctx, "order placed but cart not cleared",
			slog.String("order_number", res.OrderNumber), slog.Any("error", res.ClearErr))
	}

	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{
		Status:         d.CheckoutStatusSucceeded.String(),
		OrderNumber:    res.OrderNumber,
		IdempotencyKey: res.IdempotencyKey,
		Order:          convertOrder(res.Order),
		CartCleared:    res.ClearErr == nil,
	})
}

// GET /api/v1/checkout
func (h *CheckoutHandler) GetState(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromRequest(h.sessions, w, r)
	if !ok {
		return
	}

	state := sess.Checkout.State()
	dto := CheckoutStateDTO{
		Status:      state.Status.String(),
		OrderNumber: state.OrderNumber,
	}
	if state.Err != nil {
		dto.Error = apperrors.Message(state.Err)
		dto.Code = apperrors.Code(state.Err)
	}
	respondJSON(w, http.StatusOK, dto)
}
