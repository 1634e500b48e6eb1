package repository

import (
	"context"
	"sync"
	"time"

	"github.com/ecofinds/storefront/checkout/domain"
)

// MemoryRepository keeps the journal in process. It is used when no database
// is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	attempts map[string]*domain.CheckoutAttempt
	byKey    map[string]string
}

var _ AttemptRepository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		attempts: make(map[string]*domain.CheckoutAttempt),
		byKey:    make(map[string]string),
	}
}

func (r *MemoryRepository) CreateAttempt(_ context.Context, a *domain.CheckoutAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byKey[a.IdempotencyKey]; ok {
		return ErrIdempotencyKeyConflict
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	stored := *a
	r.attempts[a.ID] = &stored
	r.byKey[a.IdempotencyKey] = a.ID
	return nil
}

func (r *MemoryRepository) UpdateAttempt(_ context.Context, id string, status domain.AttemptStatus, orderNumber, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[id]
	if !ok {
		return ErrAttemptNotFound
	}
	a.Status = status
	a.OrderNumber = orderNumber
	a.FailureReason = reason
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) FindUnresolvedAttempt(_ context.Context, sessionKey, fingerprint string) (*domain.CheckoutAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var newest *domain.CheckoutAttempt
	for _, a := range r.attempts {
		if a.SessionKey != sessionKey || a.Fingerprint != fingerprint {
			continue
		}
		if a.Status != domain.AttemptStatusUnknown && a.Status != domain.AttemptStatusSubmitting {
			continue
		}
		if newest == nil || a.CreatedAt.After(newest.CreatedAt) {
			newest = a
		}
	}
	if newest == nil {
		return nil, ErrAttemptNotFound
	}
	out := *newest
	return &out, nil
}
