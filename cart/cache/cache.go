package cache

import (
	"context"
	"errors"

	"github.com/ecofinds/storefront/cart/domain"
)

// CartCache holds the cart view of a session. Keys are session keys, not user
// ids: one user may hold several sessions.
type CartCache interface {
	Get(ctx context.Context, sessionKey string) (*domain.Cart, error)
	Set(ctx context.Context, sessionKey string, cart *domain.Cart) error
	Delete(ctx context.Context, sessionKey string) error
}

var ErrCacheMiss = errors.New("cache miss")
