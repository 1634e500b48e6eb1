package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	d "github.com/ecofinds/storefront/checkout/domain"
	"github.com/go-chi/chi/v5"
)

type OrdersHandler struct {
	sessions *SessionRegistry
	timeout  time.Duration
}

func NewOrdersHandler(sessions *SessionRegistry, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		sessions: sessions,
		timeout:  timeout,
	}
}

type OrderItemDTO struct {
	ID              int64  `json:"id"`
	ProductID       int64  `json:"product_id"`
	ProductTitle    string `json:"product_title"`
	Quantity        int    `json:"quantity"`
	PriceAtPurchase string `json:"price_at_purchase"`
}

type OrderResponseDTO struct {
	ID              int64          `json:"id"`
	OrderNumber     string         `json:"order_number"`
	TotalAmount     string         `json:"total_amount"`
	Status          string         `json:"status"`
	ShippingAddress string         `json:"shipping_address,omitempty"`
	PaymentMethod   string         `json:"payment_method,omitempty"`
	Items           []OrderItemDTO `json:"items"`
	CreatedAt       *time.Time     `json:"created_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

type OrderPageDTO struct {
	Count   int                `json:"count"`
	Page    int                `json:"page"`
	HasNext bool               `json:"has_next"`
	HasPrev bool               `json:"has_previous"`
	Results []OrderResponseDTO `json:"results"`
}

func convertOrder(o *d.Order) OrderResponseDTO {
	if o == nil {
		return OrderResponseDTO{Items: []OrderItemDTO{}}
	}
	dto := OrderResponseDTO{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		TotalAmount:     o.TotalAmount.StringFixed(2),
		Status:          string(o.Status),
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   string(o.PaymentMethod),
		Items:           make([]OrderItemDTO, 0, len(o.Items)),
		CreatedAt:       optionalTime(o.CreatedAt),
		CompletedAt:     o.CompletedAt,
	}
	for _, item := range o.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ID:              item.ID,
			ProductID:       item.ProductID,
			ProductTitle:    item.ProductTitle,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase.StringFixed(2),
		})
	}
	return dto
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := sessionFromRequest(h.sessions, w, r)
	if !ok {
		return
	}

	filter, ok := parseHistoryFilter(w, r)
	if !ok {
		return
	}

	page, err := sess.Orders.PurchaseHistory(ctx, filter)
	if err != nil {
		handleError(w, r, err)
		return
	}

	dto := OrderPageDTO{
		Count:   page.Count,
		Page:    max(filter.Page, 1),
		HasNext: page.Next != "",
		HasPrev: page.Previous != "",
		Results: make([]OrderResponseDTO, 0, len(page.Results)),
	}
	for i := range page.Results {
		dto.Results = append(dto.Results, convertOrder(&page.Results[i]))
	}
	respondJSON(w, http.StatusOK, dto)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := sessionFromRequest(h.sessions, w, r)
	if !ok {
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a positive integer")
		return
	}

	order, err := sess.Orders.Purchase(ctx, orderID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, convertOrder(order))
}

func parseHistoryFilter(w http.ResponseWriter, r *http.Request) (d.HistoryFilter, bool) {
	q := r.URL.Query()
	var f d.HistoryFilter

	intParam := func(name string, limit int) (int, bool) {
		raw := q.Get(name)
		if raw == "" {
			return 0, true
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > limit {
			respondError(w, http.StatusBadRequest, "invalid_"+name, name+" must be between 1 and "+strconv.Itoa(limit))
			return 0, false
		}
		return n, true
	}
	dateParam := func(name string) (time.Time, bool) {
		raw := q.Get(name)
		if raw == "" {
			return time.Time{}, true
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a YYYY-MM-DD date")
			return time.Time{}, false
		}
		return t, true
	}

	var ok bool
	if f.Page, ok = intParam("page", 1<<20); !ok {
		return f, false
	}
	if f.PageSize, ok = intParam("page_size", 100); !ok {
		return f, false
	}
	if status := q.Get("status"); status != "" {
		switch d.OrderStatus(status) {
		case d.OrderStatusPending, d.OrderStatusCompleted, d.OrderStatusCancelled:
			f.Status = d.OrderStatus(status)
		default:
			respondError(w, http.StatusBadRequest, "invalid_status", "status must be pending, completed or cancelled")
			return f, false
		}
	}
	if f.DateFrom, ok = dateParam("date_from"); !ok {
		return f, false
	}
	if f.DateTo, ok = dateParam("date_to"); !ok {
		return f, false
	}
	return f, true
}
