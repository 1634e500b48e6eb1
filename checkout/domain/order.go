package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type OrderItem struct {
	ID              int64
	ProductID       int64
	ProductTitle    string
	Quantity        int
	PriceAtPurchase decimal.Decimal
}

// Order is the backend's confirmation of a purchase. OrderNumber is always
// assigned by the backend.
type Order struct {
	ID              int64
	OrderNumber     string
	Items           []OrderItem
	ShippingAddress string
	PaymentMethod   PaymentMethod
	TotalAmount     decimal.Decimal
	Status          OrderStatus
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

type OrderPage struct {
	Count    int
	Next     string
	Previous string
	Results  []Order
}

// HistoryFilter narrows the order history. Zero values are omitted from the
// request.
type HistoryFilter struct {
	Page     int
	PageSize int
	Status   OrderStatus
	DateFrom time.Time
	DateTo   time.Time
}
