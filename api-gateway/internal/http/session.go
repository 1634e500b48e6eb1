package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecofinds/storefront/cart/store"
	d "github.com/ecofinds/storefront/checkout/domain"
	"github.com/ecofinds/storefront/checkout/service"
	"github.com/ecofinds/storefront/pkg/metrics"
)

// OrderHistory is the read side of the purchases API.
type OrderHistory interface {
	PurchaseHistory(ctx context.Context, f d.HistoryFilter) (*d.OrderPage, error)
	Purchase(ctx context.Context, id int64) (*d.Order, error)
}

// Session is everything the gateway holds for one signed-in client.
type Session struct {
	Key      string
	Cart     *store.CartStore
	Checkout *service.Orchestrator
	Orders   OrderHistory

	lastSeen atomic.Int64
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// SessionFactory builds the per-session components for a bearer token.
type SessionFactory func(key, token string) *Session

// SessionKey derives the session key from a bearer token so the token itself
// is never used as a map or cache key.
func SessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type RegistryOption func(*SessionRegistry)

func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *SessionRegistry) {
		r.metrics = m
	}
}

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *SessionRegistry) {
		r.log = l
	}
}

// SessionRegistry owns the sessions of this gateway instance. Sessions idle
// for longer than the TTL are closed by Run.
type SessionRegistry struct {
	newSession SessionFactory
	idleTTL    time.Duration
	metrics    *metrics.Metrics
	log        *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionRegistry(factory SessionFactory, idleTTL time.Duration, opts ...RegistryOption) *SessionRegistry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	r := &SessionRegistry{
		newSession: factory,
		idleTTL:    idleTTL,
		log:        slog.Default(),
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the session for token, creating it on first use.
func (r *SessionRegistry) Get(token string) *Session {
	key := SessionKey(token)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		s = r.newSession(key, token)
		s.Key = key
		r.sessions[key] = s
		if r.metrics != nil {
			r.metrics.Sessions.Inc()
		}
		r.log.Debug("session created", slog.String("session", key[:12]))
	}
	s.touch(now)
	return s
}

func (r *SessionRegistry) Lookup(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Invalidate drops the cart view of a session held here. Order-placed events
// from other instances arrive through this method.
func (r *SessionRegistry) Invalidate(ctx context.Context, sessionKey string) {
	if s, ok := r.Lookup(sessionKey); ok {
		s.Cart.Invalidate(ctx)
	}
}

// Run evicts idle sessions until ctx is done.
func (r *SessionRegistry) Run(ctx context.Context) {
	interval := r.idleTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.evictIdle(); n > 0 {
				r.log.Info("evicted idle sessions", slog.Int("count", n))
			}
		}
	}
}

func (r *SessionRegistry) evictIdle() int {
	now := r.now()

	r.mu.Lock()
	var idle []*Session
	for key, s := range r.sessions {
		if s.idleSince(now) >= r.idleTTL && s.Checkout.Status() != d.CheckoutStatusSubmitting {
			idle = append(idle, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		r.release(s)
	}
	return len(idle)
}

// release closes the store and drops its cached cart so a returning client
// starts from the backend. Close goes first: a closed store writes nothing
// back to the cache.
func (r *SessionRegistry) release(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Cart.Close()
	s.Cart.Invalidate(ctx)
	if r.metrics != nil {
		r.metrics.Sessions.Dec()
	}
}

// CloseAll closes every session. Used on shutdown.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		r.release(s)
	}
}
