package repository

import (
	"context"
	"errors"

	"github.com/ecofinds/storefront/checkout/domain"
)

var (
	ErrAttemptNotFound        = errors.New("checkout attempt not found")
	ErrIdempotencyKeyConflict = errors.New("idempotency key already recorded")
)

// AttemptRepository is the checkout attempt journal.
type AttemptRepository interface {
	CreateAttempt(ctx context.Context, attempt *domain.CheckoutAttempt) error
	UpdateAttempt(ctx context.Context, id string, status domain.AttemptStatus, orderNumber, reason string) error
	// FindUnresolvedAttempt returns the newest attempt of the session with the
	// given fingerprint whose outcome was never learned.
	FindUnresolvedAttempt(ctx context.Context, sessionKey, fingerprint string) (*domain.CheckoutAttempt, error)
}
