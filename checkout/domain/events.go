package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const OrderPlacedTopic = "storefront.order-placed"

// OrderPlacedEvent tells every gateway replica that a session's cart was
// consumed by an order.
type OrderPlacedEvent struct {
	SessionKey  string          `json:"session_key"`
	OrderNumber string          `json:"order_number"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PlacedAt    time.Time       `json:"placed_at"`
}
