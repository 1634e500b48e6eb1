package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	cart "github.com/ecofinds/storefront/cart/domain"
	"github.com/ecofinds/storefront/pkg/apperrors"
	"github.com/shopspring/decimal"
)

type OrderLine struct {
	ProductID       int64
	Quantity        int
	PriceAtPurchase decimal.Decimal
}

// OrderRequest is the order submission built from a cart snapshot. It lives
// only for the duration of one checkout attempt.
type OrderRequest struct {
	CartID          int64
	Lines           []OrderLine
	ShippingAddress string
	PaymentMethod   PaymentMethod
	TotalAmount     decimal.Decimal
}

type CheckoutInput struct {
	ShippingAddress string
	PaymentMethod   PaymentMethod
}

// Validate checks the input against the cart without any I/O.
func Validate(c *cart.Cart, in CheckoutInput) error {
	if c.IsEmpty() {
		return apperrors.New(apperrors.ErrEmptyCart, "validate checkout", "")
	}
	if strings.TrimSpace(in.ShippingAddress) == "" {
		return apperrors.New(apperrors.ErrMissingAddress, "validate checkout", "")
	}
	if !in.PaymentMethod.Valid() {
		return apperrors.New(apperrors.ErrInvalidPaymentMethod, "validate checkout", string(in.PaymentMethod))
	}
	return nil
}

// BuildOrderRequest validates and snapshots the cart. Prices come from the
// cart lines, never from the catalog.
func BuildOrderRequest(c *cart.Cart, in CheckoutInput) (*OrderRequest, error) {
	if err := Validate(c, in); err != nil {
		return nil, err
	}

	req := &OrderRequest{
		CartID:          c.ID,
		Lines:           make([]OrderLine, 0, len(c.Lines)),
		ShippingAddress: strings.TrimSpace(in.ShippingAddress),
		PaymentMethod:   in.PaymentMethod,
		TotalAmount:     decimal.Zero,
	}
	for _, l := range c.Lines {
		req.Lines = append(req.Lines, OrderLine{
			ProductID:       l.Product.ID,
			Quantity:        l.Quantity,
			PriceAtPurchase: l.UnitPrice,
		})
		req.TotalAmount = req.TotalAmount.Add(l.Subtotal())
	}
	return req, nil
}

// Fingerprint identifies the request's content. Two attempts with the same
// fingerprint would create the same order.
func (r *OrderRequest) Fingerprint() string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(strconv.FormatInt(r.CartID, 10))
	for _, l := range r.Lines {
		write(strconv.FormatInt(l.ProductID, 10))
		write(strconv.Itoa(l.Quantity))
		write(l.PriceAtPurchase.StringFixed(2))
	}
	write(r.ShippingAddress)
	write(string(r.PaymentMethod))
	write(r.TotalAmount.StringFixed(2))
	return hex.EncodeToString(h.Sum(nil))
}
