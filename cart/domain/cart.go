package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductRef is the part of a catalog product a cart line needs.
type ProductRef struct {
	ID     int64           `json:"id"`
	Title  string          `json:"title"`
	Price  decimal.Decimal `json:"price"`
	Seller string          `json:"seller,omitempty"`
	IsSold bool            `json:"is_sold"`
}

type CartLine struct {
	ID        int64           `json:"id"`
	Product   ProductRef      `json:"product"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	AddedAt   time.Time       `json:"added_at"`
}

// Subtotal is quantity times the unit price snapshot.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Available reports whether the line's product can still be purchased.
func (l CartLine) Available() bool {
	return !l.Product.IsSold
}

// Cart is the client-side view of the server-held cart. It is replaced as a
// whole after each fetch and never patched field by field, except by the
// optional optimistic helpers below.
type Cart struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Lines     []CartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c *Cart) TotalItems() int {
	total := 0
	for _, l := range c.Lines {
		total += l.Quantity
	}
	return total
}

func (c *Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

func (c *Cart) Line(lineID int64) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.ID == lineID {
			return l, true
		}
	}
	return CartLine{}, false
}

// Clone returns a deep copy so callers may hold a snapshot while the store
// replaces its view.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Lines = make([]CartLine, len(c.Lines))
	copy(out.Lines, c.Lines)
	return &out
}

// WithQuantity returns a copy with lineID set to quantity. The receiver is
// returned unchanged when the line is absent.
func (c *Cart) WithQuantity(lineID int64, quantity int) *Cart {
	if _, ok := c.Line(lineID); !ok {
		return c
	}
	out := c.Clone()
	for i := range out.Lines {
		if out.Lines[i].ID == lineID {
			out.Lines[i].Quantity = quantity
		}
	}
	return out
}

// WithoutLine returns a copy with lineID removed.
func (c *Cart) WithoutLine(lineID int64) *Cart {
	if _, ok := c.Line(lineID); !ok {
		return c
	}
	out := c.Clone()
	lines := out.Lines[:0]
	for _, l := range out.Lines {
		if l.ID != lineID {
			lines = append(lines, l)
		}
	}
	out.Lines = lines
	return out
}

// EmptyCart is the view used after a successful clear, before the re-fetch lands.
func EmptyCart(from *Cart) *Cart {
	c := &Cart{Lines: []CartLine{}, UpdatedAt: time.Now()}
	if from != nil {
		c.ID = from.ID
		c.UserID = from.UserID
	}
	return c
}
