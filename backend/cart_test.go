package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	"github.com/ecofinds/storefront/pkg/apperrors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cartBody = `{
  "id": 11,
  "user": 3,
  "items": [
    {"id": 101, "product": {"id": 1, "title": "Desk lamp", "price": "10.00", "is_sold": false,
      "seller": {"id": 9, "username": "maria"}}, "quantity": 2, "added_at": "2025-03-01T10:00:00.123456Z"},
    {"id": 102, "product": {"id": 2, "title": "Mug", "price": "5.00", "is_sold": true, "seller": null},
      "quantity": 1, "added_at": "2025-03-01T10:05:00"}
  ],
  "total_items": 3,
  "total_price": 25.0,
  "updated_at": "2025-03-01T10:05:00+00:00"
}`

func TestGetCart_DecodesCart(t *testing.T) {
	var method, path string
	sc, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_, _ = w.Write([]byte(cartBody))
	})

	c, err := sc.GetCart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, method)
	assert.Equal(t, "/api/v1/cart/", path)
	assert.Equal(t, int64(11), c.ID)
	assert.Equal(t, int64(3), c.UserID)
	require.Len(t, c.Lines, 2)

	first := c.Lines[0]
	assert.Equal(t, int64(101), first.ID)
	assert.Equal(t, "Desk lamp", first.Product.Title)
	assert.Equal(t, "maria", first.Product.Seller)
	assert.True(t, first.UnitPrice.Equal(decimal.RequireFromString("10.00")))
	assert.False(t, first.AddedAt.IsZero())

	second := c.Lines[1]
	assert.Empty(t, second.Product.Seller)
	assert.False(t, second.Available())
	assert.False(t, second.AddedAt.IsZero())

	assert.Equal(t, 3, c.TotalItems())
	assert.Equal(t, "25.00", c.TotalPrice().StringFixed(2))
}

func TestGetCart_AcceptsUserID(t *testing.T) {
	sc, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 4, "user_id": 8, "items": null, "updated_at": null}`))
	})

	c, err := sc.GetCart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(8), c.UserID)
	assert.True(t, c.IsEmpty())
	assert.True(t, c.UpdatedAt.IsZero())
}

func TestGetCart_LogsTotalsDrift(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	sc, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 1, "user": 1, "items": [
			{"id": 5, "product": {"id": 1, "title": "A", "price": "10.00"}, "quantity": 1}
		], "total_items": 4, "total_price": "99.00"}`))
	}, WithLogger(log))

	c, err := sc.GetCart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "10.00", c.TotalPrice().StringFixed(2))
	assert.Contains(t, buf.String(), "cart total_items drift")
	assert.Contains(t, buf.String(), "cart total_price drift")
}

func TestAddToCart_SendsBody(t *testing.T) {
	var body addToCartRequest
	var method, path string
	sc, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, sc.AddToCart(context.Background(), 42, 2))

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/api/v1/cart/", path)
	assert.Equal(t, addToCartRequest{ProductID: 42, Quantity: 2}, body)
}

func TestAddToCart_SoldProductIsUnavailable(t *testing.T) {
	sc, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Product not found or already sold"}`))
	})

	err := sc.AddToCart(context.Background(), 42, 1)

	assert.ErrorIs(t, err, apperrors.ErrProductUnavailable)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, "Product not found or already sold", apperrors.Message(err))
}

func TestUpdateCartItem_Path(t *testing.T) {
	var body updateCartItemRequest
	var method, path string
	sc, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"id": 101, "product_id": 1, "quantity": 5}`))
	})

	require.NoError(t, sc.UpdateCartItem(context.Background(), 101, 5))

	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "/api/v1/cart/items/101/", path)
	assert.Equal(t, 5, body.Quantity)
}

func TestRemoveCartItem(t *testing.T) {
	t.Run("no content", func(t *testing.T) {
		var method, path string
		sc, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			method, path = r.Method, r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		})

		require.NoError(t, sc.RemoveCartItem(context.Background(), 7))
		assert.Equal(t, http.MethodDelete, method)
		assert.Equal(t, "/api/v1/cart/items/7/", path)
	})

	t.Run("missing line", func(t *testing.T) {
		sc, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Not found."}`))
		})

		err := sc.RemoveCartItem(context.Background(), 7)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestClearCart(t *testing.T) {
	var method, path string
	sc, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_, _ = w.Write([]byte(`{"message":"Cart cleared successfully"}`))
	})

	require.NoError(t, sc.ClearCart(context.Background()))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/api/v1/cart/clear/", path)
}
