package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ecofinds/storefront/cart/domain"
)

type memoryEntry struct {
	cart      *domain.Cart
	expiresAt time.Time
}

// MemoryCache is the default CartCache for a single gateway instance. Entries
// expire after ttl; expired entries are purged at most once per ttl on Set.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	carts     map[string]memoryEntry
	lastSweep time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryCache{
		ttl:       ttl,
		now:       time.Now,
		carts:     make(map[string]memoryEntry),
		lastSweep: time.Now(),
	}
}

func (m *MemoryCache) Get(_ context.Context, sessionKey string) (*domain.Cart, error) {
	m.mu.RLock()
	e, ok := m.carts[sessionKey]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.carts[sessionKey]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.carts, sessionKey)
		}
		m.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return e.cart.Clone(), nil
}

func (m *MemoryCache) Set(_ context.Context, sessionKey string, cart *domain.Cart) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastSweep) >= m.ttl {
		for k, e := range m.carts {
			if !now.Before(e.expiresAt) {
				delete(m.carts, k)
			}
		}
		m.lastSweep = now
	}
	m.carts[sessionKey] = memoryEntry{cart: cart.Clone(), expiresAt: now.Add(m.ttl)}
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, sessionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sessionKey)
	return nil
}

// Len reports the number of entries held, expired ones included.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.carts)
}
