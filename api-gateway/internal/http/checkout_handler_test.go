package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ecofinds/storefront/pkg/apperrors"
)

func TestCheckout_Success(t *testing.T) {
	fb := newFakeBackend().seed()
	h, _ := newTestRouter(fb)

	// warm the session's cart view first
	doRequest(h, http.MethodGet, "/api/v1/cart", nil)

	rec := doRequest(h, http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{
		ShippingAddress: "123 Main St",
		PaymentMethod:   "credit_card",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status code %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	var resp CheckoutResponseDTO
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.OrderNumber != "ORD-0001" {
		t.Errorf("Expected order number ORD-0001, got %s", resp.OrderNumber)
	}
	if resp.Order.TotalAmount != "25.00" {
		t.Errorf("Expected total_amount 25.00, got %s", resp.Order.TotalAmount)
	}
	if !resp.CartCleared {
		t.Errorf("Expected cart_cleared true")
	}
	if resp.IdempotencyKey == "" {
		t.Errorf("Expected an idempotency key")
	}
	if got := fb.lastOrder.TotalAmount.StringFixed(2); got != "25.00" {
		t.Errorf("Expected submitted total 25.00, got %s", got)
	}

	cartRec := doRequest(h, http.MethodGet, "/api/v1/cart", nil)
	if c := decodeCart(t, cartRec); len(c.Items) != 0 || c.TotalPrice != "0.00" {
		t.Errorf("Expected empty cart after checkout, got %+v", c)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	fb := newFakeBackend()
	h, _ := newTestRouter(fb)

	rec := doRequest(h, http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{
		ShippingAddress: "123 Main St",
		PaymentMethod:   "credit_card",
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != "empty_cart" {
		t.Errorf("Expected code 'empty_cart', got '%s'", resp.Code)
	}
	if fb.purchases != 0 {
		t.Errorf("Expected no create-order call, got %d", fb.purchases)
	}
}

func TestCheckout_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     CheckoutRequestDTO
		code    string
		details string
	}{
		{"blank address", CheckoutRequestDTO{ShippingAddress: "   ", PaymentMethod: "paypal"}, "missing_address", ""},
		{"unknown payment method", CheckoutRequestDTO{ShippingAddress: "1 Elm St", PaymentMethod: "cash"}, "invalid_payment_method",
			"accepted payment methods: credit_card, paypal, bank_transfer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend().seed()
			h, _ := newTestRouter(fb)

			rec := doRequest(h, http.MethodPost, "/api/v1/checkout", tt.req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, rec.Code)
			}
			resp := decodeError(t, rec)
			if resp.Code != tt.code {
				t.Errorf("Expected code '%s', got '%s'", tt.code, resp.Code)
			}
			if resp.Details != tt.details {
				t.Errorf("Expected details '%s', got '%s'", tt.details, resp.Details)
			}
			if fb.purchases != 0 {
				t.Errorf("Expected no create-order call, got %d", fb.purchases)
			}
		})
	}
}

func TestCheckout_BackendRejectionLeavesCart(t *testing.T) {
	fb := newFakeBackend().seed()
	fb.purchaseErr = apperrors.New(apperrors.ErrRejected, "create purchase", "Total amount mismatch")
	h, _ := newTestRouter(fb)

	before := decodeCart(t, doRequest(h, http.MethodGet, "/api/v1/cart", nil))

	rec := doRequest(h, http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{
		ShippingAddress: "123 Main St",
		PaymentMethod:   "credit_card",
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status code %d, got %d", http.StatusUnprocessableEntity, rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Code != "rejected" || resp.Error != "Total amount mismatch" {
		t.Errorf("Unexpected error body: %+v", resp)
	}

	after := decodeCart(t, doRequest(h, http.MethodGet, "/api/v1/cart", nil))
	if after.TotalItems != before.TotalItems || after.TotalPrice != before.TotalPrice {
		t.Errorf("Expected cart unchanged, before %+v after %+v", before, after)
	}
}

func TestCheckout_PaymentDeclined(t *testing.T) {
	fb := newFakeBackend().seed()
	fb.purchaseErr = apperrors.New(apperrors.ErrPaymentDeclined, "create purchase", "Card declined")
	h, _ := newTestRouter(fb)

	rec := doRequest(h, http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{
		ShippingAddress: "123 Main St",
		PaymentMethod:   "credit_card",
	})

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected status code %d, got %d", http.StatusPaymentRequired, rec.Code)
	}
}

func TestCheckout_InvalidJSON(t *testing.T) {
	handler := NewCheckoutHandler(newTestRegistry(newFakeBackend()), 5*time.Second)

	req := withBearer(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("not json")))
	rec := httptest.NewRecorder()
	handler.Checkout(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestCheckoutState(t *testing.T) {
	fb := newFakeBackend().seed()
	fb.purchaseErr = apperrors.New(apperrors.ErrRejected, "create purchase", "Total amount mismatch")
	h, _ := newTestRouter(fb)

	rec := doRequest(h, http.MethodGet, "/api/v1/checkout", nil)
	var state CheckoutStateDTO
	_ = json.NewDecoder(rec.Body).Decode(&state)
	if state.Status != "IDLE" {
		t.Errorf("Expected status IDLE, got %s", state.Status)
	}

	doRequest(h, http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{ShippingAddress: "1 Elm St", PaymentMethod: "paypal"})

	rec = doRequest(h, http.MethodGet, "/api/v1/checkout", nil)
	state = CheckoutStateDTO{}
	_ = json.NewDecoder(rec.Body).Decode(&state)
	if state.Status != "FAILED" {
		t.Errorf("Expected status FAILED, got %s", state.Status)
	}
	if state.Code != "rejected" {
		t.Errorf("Expected code 'rejected', got '%s'", state.Code)
	}
}
