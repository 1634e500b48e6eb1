package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	cart "github.com/ecofinds/storefront/cart/domain"
	"github.com/ecofinds/storefront/cart/store"
	d "github.com/ecofinds/storefront/checkout/domain"
	"github.com/ecofinds/storefront/checkout/service"
	"github.com/ecofinds/storefront/pkg/apperrors"
	"github.com/go-chi/chi/v5"
)

type CartHandler struct {
	sessions *SessionRegistry
	timeout  time.Duration
}

func NewCartHandler(sessions *SessionRegistry, timeout time.Duration) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		timeout:  timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type ProductDTO struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Price  string `json:"price"`
	Seller string `json:"seller,omitempty"`
	IsSold bool   `json:"is_sold"`
}

type CartLineDTO struct {
	ID        int64      `json:"id"`
	Product   ProductDTO `json:"product"`
	Quantity  int        `json:"quantity"`
	UnitPrice string     `json:"unit_price"`
	Subtotal  string     `json:"subtotal"`
	Available bool       `json:"available"`
	AddedAt   *time.Time `json:"added_at,omitempty"`
}

type CartResponseDTO struct {
	ID         int64         `json:"id"`
	UserID     int64         `json:"user_id"`
	Items      []CartLineDTO `json:"items"`
	TotalItems int           `json:"total_items"`
	TotalPrice string        `json:"total_price"`
	UpdatedAt  *time.Time    `json:"updated_at,omitempty"`
}

func convertCart(c *cart.Cart) CartResponseDTO {
	dto := CartResponseDTO{
		ID:         c.ID,
		UserID:     c.UserID,
		Items:      make([]CartLineDTO, 0, len(c.Lines)),
		TotalItems: c.TotalItems(),
		TotalPrice: c.TotalPrice().StringFixed(2),
		UpdatedAt:  optionalTime(c.UpdatedAt),
	}
	for _, l := range c.Lines {
		dto.Items = append(dto.Items, CartLineDTO{
			ID: l.ID,
			Product: ProductDTO{
				ID:     l.Product.ID,
				Title:  l.Product.Title,
				Price:  l.Product.Price.StringFixed(2),
				Seller: l.Product.Seller,
				IsSold: l.Product.IsSold,
			},
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Subtotal:  l.Subtotal().StringFixed(2),
			Available: l.Available(),
			AddedAt:   optionalTime(l.AddedAt),
		})
	}
	return dto
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	c, err := sess.Cart.Fetch(ctx)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, convertCart(c))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	if err := sess.Cart.AddLine(ctx, req.ProductID, req.Quantity); err != nil {
		handleError(w, r, err)
		return
	}

	respondView(ctx, w, sess, http.StatusCreated)
}

// PATCH /api/v1/cart/items/{line_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	lineID, ok := lineIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := sess.Cart.UpdateQuantity(ctx, lineID, req.Quantity); err != nil {
		handleError(w, r, err)
		return
	}

	respondView(ctx, w, sess, http.StatusOK)
}

// DELETE /api/v1/cart/items/{line_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	lineID, ok := lineIDParam(w, r)
	if !ok {
		return
	}

	if err := sess.Cart.RemoveLine(ctx, lineID); err != nil {
		handleError(w, r, err)
		return
	}

	respondView(ctx, w, sess, http.StatusOK)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := sess.Cart.Clear(ctx); err != nil {
		handleError(w, r, err)
		return
	}

	respondView(ctx, w, sess, http.StatusOK)
}

func (h *CartHandler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	return sessionFromRequest(h.sessions, w, r)
}

func sessionFromRequest(sessions *SessionRegistry, w http.ResponseWriter, r *http.Request) (*Session, bool) {
	token := getBearerToken(r.Context())
	if token == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	return sessions.Get(token), true
}

func lineIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "line_id"), 10, 64)
	if err != nil || lineID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_line_id", "line_id must be a positive integer")
		return 0, false
	}
	return lineID, true
}

// respondView writes the cart view left by a mutation. If the follow-up
// fetch failed and the view was dropped, one more fetch is tried; when that
// fails too the mutation still succeeded and 204 is returned.
func respondView(ctx context.Context, w http.ResponseWriter, sess *Session, status int) {
	c, ok := sess.Cart.View()
	if !ok {
		var err error
		if c, err = sess.Cart.Snapshot(ctx); err != nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	respondJSON(w, status, convertCart(c))
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError converts a domain error into an HTTP status and error body.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var httpStatus int
	code := apperrors.Code(err)
	message := apperrors.Message(err)

	switch {
	case errors.Is(err, service.ErrCheckoutInProgress):
		httpStatus = http.StatusConflict
		code = "checkout_in_progress"
		message = "A checkout is already in progress."
	case errors.Is(err, store.ErrStoreClosed):
		httpStatus = http.StatusServiceUnavailable
		code = "session_closed"
		message = "Your session was closed. Please retry."
	case apperrors.IsLocal(err):
		httpStatus = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		httpStatus = http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrPaymentDeclined):
		httpStatus = http.StatusPaymentRequired
	case errors.Is(err, apperrors.ErrNotFound):
		httpStatus = http.StatusNotFound
	case errors.Is(err, apperrors.ErrProductUnavailable):
		httpStatus = http.StatusConflict
	case errors.Is(err, apperrors.ErrRejected):
		httpStatus = http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrUnavailable):
		httpStatus = http.StatusServiceUnavailable
	default:
		httpStatus = http.StatusInternalServerError
	}

	if httpStatus >= 500 {
		slog.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.String("code", code), slog.Any("error", err))
	}
	respondJSON(w, httpStatus, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: errorDetails(err),
	})
}

func errorDetails(err error) string {
	if errors.Is(err, apperrors.ErrInvalidPaymentMethod) {
		methods := make([]string, 0, len(d.PaymentMethods()))
		for _, m := range d.PaymentMethods() {
			methods = append(methods, string(m))
		}
		return "accepted payment methods: " + strings.Join(methods, ", ")
	}
	return ""
}
