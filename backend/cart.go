package backend

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ecofinds/storefront/cart/domain"
	"github.com/ecofinds/storefront/pkg/apperrors"
)

func (s *SessionClient) GetCart(ctx context.Context) (*domain.Cart, error) {
	var dto cartDTO
	if err := s.do(ctx, call{op: "get cart", method: http.MethodGet, path: "/cart/"}, &dto); err != nil {
		return nil, err
	}

	c := dto.toDomain()
	s.checkTotals(ctx, dto, c)
	return c, nil
}

// AddToCart adds quantity of a product. The API answers 404 for a product that
// is missing or already sold.
func (s *SessionClient) AddToCart(ctx context.Context, productID int64, quantity int) error {
	err := s.do(ctx, call{
		op:     "add to cart",
		method: http.MethodPost,
		path:   "/cart/",
		body:   addToCartRequest{ProductID: productID, Quantity: quantity},
	}, nil)
	return remap(err, apperrors.ErrNotFound, apperrors.ErrProductUnavailable)
}

func (s *SessionClient) UpdateCartItem(ctx context.Context, lineID int64, quantity int) error {
	return s.do(ctx, call{
		op:     "update cart item",
		method: http.MethodPatch,
		path:   "/cart/items/" + strconv.FormatInt(lineID, 10) + "/",
		body:   updateCartItemRequest{Quantity: quantity},
	}, nil)
}

func (s *SessionClient) RemoveCartItem(ctx context.Context, lineID int64) error {
	return s.do(ctx, call{
		op:     "remove cart item",
		method: http.MethodDelete,
		path:   "/cart/items/" + strconv.FormatInt(lineID, 10) + "/",
	}, nil)
}

func (s *SessionClient) ClearCart(ctx context.Context) error {
	return s.do(ctx, call{op: "clear cart", method: http.MethodDelete, path: "/cart/clear/"}, nil)
}

// checkTotals logs when the backend's derived totals disagree with the ones
// computed from the lines. The computed totals win.
func (s *SessionClient) checkTotals(ctx context.Context, dto cartDTO, c *domain.Cart) {
	if dto.TotalItems != nil && *dto.TotalItems != c.TotalItems() {
		s.client.log.WarnContext(ctx, "cart total_items drift",
			slog.Int64("cart_id", c.ID),
			slog.Int("backend", *dto.TotalItems),
			slog.Int("computed", c.TotalItems()))
	}
	if dto.TotalPrice != nil && !dto.TotalPrice.Equal(c.TotalPrice()) {
		s.client.log.WarnContext(ctx, "cart total_price drift",
			slog.Int64("cart_id", c.ID),
			slog.String("backend", dto.TotalPrice.StringFixed(2)),
			slog.String("computed", c.TotalPrice().StringFixed(2)))
	}
}
