package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ecofinds/storefront/cart/cache"
	"github.com/ecofinds/storefront/cart/domain"
	"github.com/ecofinds/storefront/pkg/apperrors"
	"golang.org/x/sync/singleflight"
)

var ErrStoreClosed = errors.New("cart store is closed")

const maxFetchAttempts = 3

// CartBackend is the server-held cart as seen by the store.
type CartBackend interface {
	GetCart(ctx context.Context) (*domain.Cart, error)
	AddToCart(ctx context.Context, productID int64, quantity int) error
	UpdateCartItem(ctx context.Context, lineID int64, quantity int) error
	RemoveCartItem(ctx context.Context, lineID int64) error
	ClearCart(ctx context.Context) error
}

type Option func(*CartStore)

// WithOptimisticUpdates patches the cached view as soon as a quantity update
// or removal is acknowledged, before the re-fetch lands.
func WithOptimisticUpdates() Option {
	return func(s *CartStore) {
		s.optimistic = true
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *CartStore) {
		s.log = l
	}
}

// CartStore is the session's view of its server-held cart. Every mutation is
// followed by a full re-fetch that replaces the view. Fetch results are
// ordered by a sequence counter shared with mutations: a result is applied
// only if it is newer than the applied view and no mutation was issued after
// the fetch started.
type CartStore struct {
	backend    CartBackend
	cache      cache.CartCache
	key        string
	log        *slog.Logger
	optimistic bool

	sfg singleflight.Group // coalesces plain fetches

	mu           sync.Mutex
	seq          uint64
	applied      uint64
	lastMutation uint64
	dirty        bool // a result was dropped in favour of a mutation's re-fetch
	closed       bool
	current      *domain.Cart
}

func NewCartStore(backend CartBackend, c cache.CartCache, sessionKey string, opts ...Option) *CartStore {
	if c == nil {
		c = cache.NewMemoryCache(0)
	}
	s := &CartStore{
		backend: backend,
		cache:   c,
		key:     sessionKey,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "cart_store"))
	return s
}

// Fetch retrieves the authoritative cart and returns the resulting view.
// Concurrent calls share one request.
func (s *CartStore) Fetch(ctx context.Context) (*domain.Cart, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}

	v, err, _ := s.sfg.Do("fetch", func() (interface{}, error) {
		return s.refetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart).Clone(), nil
}

// Snapshot returns the cached view, fetching it when nothing is cached or a
// fetch result was dropped in favour of a mutation that has since failed.
func (s *CartStore) Snapshot(ctx context.Context) (*domain.Cart, error) {
	s.mu.Lock()
	var cart *domain.Cart
	if s.current != nil && !s.dirty {
		cart = s.current.Clone()
	}
	s.mu.Unlock()
	if cart != nil {
		return cart, nil
	}
	if s.isClosed() {
		return nil, ErrStoreClosed
	}

	if s.isDirty() {
		return s.Fetch(ctx)
	}

	cached, err := s.cache.Get(ctx, s.key)
	switch {
	case err == nil:
		s.mu.Lock()
		if s.current == nil && !s.closed {
			s.current = cached
		}
		s.mu.Unlock()
		return cached.Clone(), nil
	case !errors.Is(err, cache.ErrCacheMiss):
		s.log.WarnContext(ctx, "cache get error", slog.Any("error", err))
	}

	return s.Fetch(ctx)
}

// View returns the in-memory view without touching the network.
func (s *CartStore) View() (*domain.Cart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, false
	}
	return s.current.Clone(), true
}

func (s *CartStore) AddLine(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		return apperrors.New(apperrors.ErrInvalidQuantity, "add line", "")
	}
	if err := s.beginMutation(); err != nil {
		return err
	}

	if err := s.backend.AddToCart(ctx, productID, quantity); err != nil {
		s.log.WarnContext(ctx, "add line failed",
			slog.Int64("product_id", productID), slog.Any("error", err))
		s.resync(ctx)
		return err
	}

	s.refresh(ctx, false)
	return nil
}

func (s *CartStore) UpdateQuantity(ctx context.Context, lineID int64, quantity int) error {
	if quantity < 1 {
		return apperrors.New(apperrors.ErrInvalidQuantity, "update quantity", "")
	}
	if err := s.beginMutation(); err != nil {
		return err
	}

	if err := s.backend.UpdateCartItem(ctx, lineID, quantity); err != nil {
		s.log.WarnContext(ctx, "update quantity failed",
			slog.Int64("line_id", lineID), slog.Any("error", err))
		s.resync(ctx)
		return err
	}

	if s.optimistic {
		s.patch(ctx, func(c *domain.Cart) *domain.Cart { return c.WithQuantity(lineID, quantity) })
	}
	s.refresh(ctx, s.optimistic)
	return nil
}

// RemoveLine is idempotent: removing a line the backend no longer has is not
// an error.
func (s *CartStore) RemoveLine(ctx context.Context, lineID int64) error {
	if err := s.beginMutation(); err != nil {
		return err
	}

	err := s.backend.RemoveCartItem(ctx, lineID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		s.log.WarnContext(ctx, "remove line failed",
			slog.Int64("line_id", lineID), slog.Any("error", err))
		s.resync(ctx)
		return err
	}
	if err != nil {
		s.log.DebugContext(ctx, "line already gone", slog.Int64("line_id", lineID))
	}

	if s.optimistic {
		s.patch(ctx, func(c *domain.Cart) *domain.Cart { return c.WithoutLine(lineID) })
	}
	s.refresh(ctx, s.optimistic)
	return nil
}

// Clear empties the server-held cart and the view.
func (s *CartStore) Clear(ctx context.Context) error {
	if err := s.beginMutation(); err != nil {
		return err
	}

	if err := s.backend.ClearCart(ctx); err != nil {
		s.log.WarnContext(ctx, "clear cart failed", slog.Any("error", err))
		s.resync(ctx)
		return err
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	empty := domain.EmptyCart(s.current)
	s.mu.Unlock()
	s.apply(ctx, seq, empty)

	s.refresh(ctx, true)
	return nil
}

// Invalidate drops the view so the next Snapshot goes to the backend.
func (s *CartStore) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.current = nil
	s.dirty = false
	s.mu.Unlock()

	if err := s.cache.Delete(ctx, s.key); err != nil {
		s.log.WarnContext(ctx, "cache invalidate error", slog.Any("error", err))
	}
}

// Close tears the store down. Requests already in flight run to completion
// but their responses are no longer applied.
func (s *CartStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *CartStore) SessionKey() string {
	return s.key
}

func (s *CartStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *CartStore) isDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *CartStore) beginMutation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.seq++
	s.lastMutation = s.seq
	return nil
}

// refetch issues a fetch with a fresh sequence number and applies the result
// if it is still current. It returns the view after the attempt.
func (s *CartStore) refetch(ctx context.Context) (*domain.Cart, error) {
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		s.mu.Lock()
		s.seq++
		seq := s.seq
		s.mu.Unlock()

		cart, err := s.backend.GetCart(ctx)
		if err != nil {
			s.log.WarnContext(ctx, "fetch cart failed", slog.Any("error", err))
			return nil, err
		}
		if s.apply(ctx, seq, cart) {
			return cart, nil
		}

		// The result was dropped. Serve the view only if it is newer than
		// what we fetched; otherwise fetch again.
		s.mu.Lock()
		closed := s.closed
		var view *domain.Cart
		if s.current != nil && !s.dirty {
			view = s.current.Clone()
		}
		s.mu.Unlock()

		switch {
		case view != nil:
			return view, nil
		case closed:
			return nil, ErrStoreClosed
		}
		s.log.DebugContext(ctx, "refetching after dropped result", slog.Int("attempt", attempt+1))
	}
	return nil, apperrors.New(apperrors.ErrUnavailable, "fetch cart", "cart changed while loading")
}

// refresh is the re-fetch that follows an acknowledged mutation. On failure
// the view is invalidated unless it already reflects the mutation.
func (s *CartStore) refresh(ctx context.Context, viewIsCurrent bool) {
	if _, err := s.refetch(ctx); err != nil && !viewIsCurrent {
		s.Invalidate(ctx)
	}
}

// resync re-fetches after a failed mutation only if an earlier result was
// dropped while waiting for it.
func (s *CartStore) resync(ctx context.Context) {
	s.mu.Lock()
	dirty := s.dirty && !s.closed
	s.mu.Unlock()
	if dirty {
		s.refresh(ctx, false)
	}
}

func (s *CartStore) apply(ctx context.Context, seq uint64, cart *domain.Cart) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.log.DebugContext(ctx, "store closed, dropping fetch result", slog.Uint64("seq", seq))
		return false
	}
	if seq <= s.applied {
		s.log.DebugContext(ctx, "stale fetch result dropped",
			slog.Uint64("seq", seq), slog.Uint64("applied", s.applied))
		return false
	}
	if seq < s.lastMutation {
		s.dirty = true
		s.log.DebugContext(ctx, "fetch result superseded by mutation",
			slog.Uint64("seq", seq), slog.Uint64("mutation", s.lastMutation))
		return false
	}

	s.applied = seq
	s.current = cart.Clone()
	s.dirty = false
	if err := s.cache.Set(ctx, s.key, s.current); err != nil {
		s.log.WarnContext(ctx, "cache set error", slog.Any("error", err))
	}
	return true
}

func (s *CartStore) patch(ctx context.Context, fn func(*domain.Cart) *domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.current == nil {
		return
	}
	s.current = fn(s.current)
	if err := s.cache.Set(ctx, s.key, s.current); err != nil {
		s.log.WarnContext(ctx, "cache set error", slog.Any("error", err))
	}
}
