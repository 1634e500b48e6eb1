package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	cart "github.com/ecofinds/storefront/cart/domain"
	checkout "github.com/ecofinds/storefront/checkout/domain"
	"github.com/shopspring/decimal"
)

// timestamp accepts RFC 3339 with or without a zone offset. Null and empty
// strings decode to the zero time.
type timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02",
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

func (t timestamp) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

type sellerDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type productDTO struct {
	ID     int64           `json:"id"`
	Title  string          `json:"title"`
	Price  decimal.Decimal `json:"price"`
	IsSold bool            `json:"is_sold"`
	Seller *sellerDTO      `json:"seller"`
}

func (p productDTO) toDomain() cart.ProductRef {
	ref := cart.ProductRef{
		ID:     p.ID,
		Title:  p.Title,
		Price:  p.Price,
		IsSold: p.IsSold,
	}
	if p.Seller != nil {
		ref.Seller = p.Seller.Username
	}
	return ref
}

type cartItemDTO struct {
	ID       int64      `json:"id"`
	Product  productDTO `json:"product"`
	Quantity int        `json:"quantity"`
	AddedAt  timestamp  `json:"added_at"`
}

// cartDTO is the cart as the API serializes it. Older deployments send the
// owner as "user", newer ones as "user_id".
type cartDTO struct {
	ID         int64            `json:"id"`
	User       *int64           `json:"user"`
	UserID     *int64           `json:"user_id"`
	Items      []cartItemDTO    `json:"items"`
	TotalItems *int             `json:"total_items"`
	TotalPrice *decimal.Decimal `json:"total_price"`
	UpdatedAt  timestamp        `json:"updated_at"`
}

func (d cartDTO) toDomain() *cart.Cart {
	c := &cart.Cart{
		ID:        d.ID,
		Lines:     make([]cart.CartLine, 0, len(d.Items)),
		UpdatedAt: d.UpdatedAt.Time,
	}
	switch {
	case d.UserID != nil:
		c.UserID = *d.UserID
	case d.User != nil:
		c.UserID = *d.User
	}
	for _, it := range d.Items {
		c.Lines = append(c.Lines, cart.CartLine{
			ID:        it.ID,
			Product:   it.Product.toDomain(),
			Quantity:  it.Quantity,
			UnitPrice: it.Product.Price,
			AddedAt:   it.AddedAt.Time,
		})
	}
	return c
}

type addToCartRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type purchaseItemRequest struct {
	ProductID       int64  `json:"product_id"`
	Quantity        int    `json:"quantity"`
	PriceAtPurchase string `json:"price_at_purchase"`
}

type createPurchaseRequest struct {
	CartID          int64                 `json:"cart_id,omitempty"`
	Items           []purchaseItemRequest `json:"items"`
	ShippingAddress string                `json:"shipping_address"`
	PaymentMethod   string                `json:"payment_method"`
	TotalAmount     string                `json:"total_amount"`
}

func newCreatePurchaseRequest(req *checkout.OrderRequest) createPurchaseRequest {
	out := createPurchaseRequest{
		CartID:          req.CartID,
		Items:           make([]purchaseItemRequest, 0, len(req.Lines)),
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   string(req.PaymentMethod),
		TotalAmount:     req.TotalAmount.StringFixed(2),
	}
	for _, l := range req.Lines {
		out.Items = append(out.Items, purchaseItemRequest{
			ProductID:       l.ProductID,
			Quantity:        l.Quantity,
			PriceAtPurchase: l.PriceAtPurchase.StringFixed(2),
		})
	}
	return out
}

type purchaseItemDTO struct {
	ID              int64           `json:"id"`
	Product         productDTO      `json:"product"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

type purchaseDTO struct {
	ID              int64             `json:"id"`
	OrderNumber     string            `json:"order_number"`
	Items           []purchaseItemDTO `json:"items"`
	ShippingAddress string            `json:"shipping_address"`
	PaymentMethod   string            `json:"payment_method"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	Status          string            `json:"status"`
	CreatedAt       timestamp         `json:"created_at"`
	CompletedAt     timestamp         `json:"completed_at"`
}

func (d purchaseDTO) toDomain() *checkout.Order {
	o := &checkout.Order{
		ID:              d.ID,
		OrderNumber:     d.OrderNumber,
		Items:           make([]checkout.OrderItem, 0, len(d.Items)),
		ShippingAddress: d.ShippingAddress,
		PaymentMethod:   checkout.PaymentMethod(d.PaymentMethod),
		TotalAmount:     d.TotalAmount,
		Status:          checkout.OrderStatus(d.Status),
		CreatedAt:       d.CreatedAt.Time,
		CompletedAt:     d.CompletedAt.ptr(),
	}
	if o.Status == "" {
		o.Status = checkout.OrderStatusPending
	}
	for _, it := range d.Items {
		o.Items = append(o.Items, checkout.OrderItem{
			ID:              it.ID,
			ProductID:       it.Product.ID,
			ProductTitle:    it.Product.Title,
			Quantity:        it.Quantity,
			PriceAtPurchase: it.PriceAtPurchase,
		})
	}
	return o
}

type purchasePageDTO struct {
	Count    int           `json:"count"`
	Next     *string       `json:"next"`
	Previous *string       `json:"previous"`
	Results  []purchaseDTO `json:"results"`
}

func (d purchasePageDTO) toDomain() *checkout.OrderPage {
	page := &checkout.OrderPage{
		Count:   d.Count,
		Results: make([]checkout.Order, 0, len(d.Results)),
	}
	if d.Next != nil {
		page.Next = *d.Next
	}
	if d.Previous != nil {
		page.Previous = *d.Previous
	}
	for _, p := range d.Results {
		page.Results = append(page.Results, *p.toDomain())
	}
	return page
}
