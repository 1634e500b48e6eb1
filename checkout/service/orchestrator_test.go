package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cart "github.com/ecofinds/storefront/cart/domain"
	d "github.com/ecofinds/storefront/checkout/domain"
	"github.com/ecofinds/storefront/checkout/gate"
	r "github.com/ecofinds/storefront/checkout/repository"
	"github.com/ecofinds/storefront/pkg/apperrors"
	"github.com/ecofinds/storefront/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockCart implements CartSource for testing
type MockCart struct {
	mu          sync.Mutex
	cart        *cart.Cart
	fetchErr    error
	fetches     int
	clearErr    error
	clears      int
	invalidates int
}

func (m *MockCart) Fetch(context.Context) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.cart.Clone(), nil
}

func (m *MockCart) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	return m.clearErr
}

func (m *MockCart) Invalidate(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidates++
}

func (m *MockCart) SessionKey() string {
	return "session-1234567890abcdef"
}

// MockOrders implements OrderBackend for testing
type MockOrders struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}

	mu       sync.Mutex
	requests []*d.OrderRequest
	keys     []string
	errs     []error
}

func (m *MockOrders) CreatePurchase(ctx context.Context, req *d.OrderRequest, key string) (*d.Order, error) {
	n := int(m.calls.Add(1))
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.keys = append(m.keys, key)
	var err error
	if n <= len(m.errs) {
		err = m.errs[n-1]
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &d.Order{
		ID:          int64(n),
		OrderNumber: "ORD-" + key[:8],
		TotalAmount: req.TotalAmount,
		Status:      d.OrderStatusPending,
	}, nil
}

type MockPublisher struct {
	mu     sync.Mutex
	events []d.OrderPlacedEvent
	err    error
}

func (m *MockPublisher) PublishOrderPlaced(_ context.Context, e d.OrderPlacedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

type brokenGate struct{}

func (brokenGate) Acquire(context.Context, string) (gate.ReleaseFunc, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func testCart() *cart.Cart {
	return &cart.Cart{
		ID:     11,
		UserID: 3,
		Lines: []cart.CartLine{
			{ID: 1, Product: cart.ProductRef{ID: 100, Title: "A"}, Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
			{ID: 2, Product: cart.ProductRef{ID: 200, Title: "B"}, Quantity: 1, UnitPrice: decimal.RequireFromString("5.00")},
		},
	}
}

var validInput = d.CheckoutInput{ShippingAddress: "123 Main St", PaymentMethod: d.PaymentMethodCreditCard}

func TestCheckout_Success(t *testing.T) {
	mc := &MockCart{cart: testCart()}
	orders := &MockOrders{}
	pub := &MockPublisher{}
	m := metrics.New("test")
	o := NewOrchestrator(mc, orders, WithPublisher(pub), WithMetrics(m))

	res, err := o.Checkout(context.Background(), validInput)

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.OrderNumber)
	assert.NotEmpty(t, res.IdempotencyKey)
	assert.NoError(t, res.ClearErr)

	require.Len(t, orders.requests, 1)
	req := orders.requests[0]
	assert.Equal(t, "25.00", req.TotalAmount.StringFixed(2))
	assert.Equal(t, int64(11), req.CartID)
	assert.Equal(t, "123 Main St", req.ShippingAddress)
	assert.Len(t, req.Lines, 2)

	assert.Equal(t, 1, mc.fetches, "order is built from a fresh fetch")
	assert.Equal(t, 1, mc.clears)
	assert.Zero(t, mc.invalidates)
	require.Len(t, pub.events, 1)
	assert.Equal(t, res.OrderNumber, pub.events[0].OrderNumber)
	assert.Equal(t, mc.SessionKey(), pub.events[0].SessionKey)

	state := o.State()
	assert.Equal(t, d.CheckoutStatusSucceeded, state.Status)
	assert.Equal(t, res.OrderNumber, state.OrderNumber)
	assert.NoError(t, state.Err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Checkouts.WithLabelValues("SUCCEEDED")))
}

func TestCheckout_ValidationFailsWithoutRequest(t *testing.T) {
	tests := []struct {
		name  string
		cart  *cart.Cart
		input d.CheckoutInput
		want  error
	}{
		{"empty cart", &cart.Cart{ID: 1}, validInput, apperrors.ErrEmptyCart},
		{"blank address", testCart(), d.CheckoutInput{ShippingAddress: "  \t ", PaymentMethod: d.PaymentMethodPayPal}, apperrors.ErrMissingAddress},
		{"unknown payment", testCart(), d.CheckoutInput{ShippingAddress: "1 Elm St", PaymentMethod: "bitcoin"}, apperrors.ErrInvalidPaymentMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := &MockCart{cart: tt.cart}
			orders := &MockOrders{}
			o := NewOrchestrator(mc, orders)

			_, err := o.Checkout(context.Background(), tt.input)

			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, orders.calls.Load())
			assert.Zero(t, mc.clears)
			assert.Equal(t, d.CheckoutStatusRejected, o.Status())
		})
	}
}

func TestCheckout_CartFetchFailure(t *testing.T) {
	mc := &MockCart{fetchErr: apperrors.New(apperrors.ErrUnavailable, "get cart", "")}
	orders := &MockOrders{}
	o := NewOrchestrator(mc, orders)

	_, err := o.Checkout(context.Background(), validInput)

	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Zero(t, orders.calls.Load())
	assert.Equal(t, d.CheckoutStatusRejected, o.Status())
}

func TestCheckout_BackendFailureLeavesCart(t *testing.T) {
	mc := &MockCart{cart: testCart()}
	orders := &MockOrders{errs: []error{apperrors.New(apperrors.ErrRejected, "create purchase", "Total amount mismatch")}}
	pub := &MockPublisher{}
	o := NewOrchestrator(mc, orders, WithPublisher(pub))

	res, err := o.Checkout(context.Background(), validInput)

	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrRejected)
	assert.Equal(t, "Total amount mismatch", apperrors.Message(err))
	assert.Zero(t, mc.clears)
	assert.Zero(t, mc.invalidates)
	assert.Empty(t, pub.events)

	state := o.State()
	assert.Equal(t, d.CheckoutStatusFailed, state.Status)
	assert.ErrorIs(t, state.Err, apperrors.ErrRejected)
}

func TestCheckout_ClearFailureIsSoft(t *testing.T) {
	mc := &MockCart{cart: testCart(), clearErr: apperrors.New(apperrors.ErrUnavailable, "clear cart", "")}
	o := NewOrchestrator(mc, &MockOrders{})

	res, err := o.Checkout(context.Background(), validInput)

	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderNumber)
	assert.ErrorIs(t, res.ClearErr, apperrors.ErrUnavailable)
	assert.Equal(t, 1, mc.invalidates)
	assert.Equal(t, d.CheckoutStatusSucceeded, o.Status())
}

func TestCheckout_PublishFailureIsSoft(t *testing.T) {
	mc := &MockCart{cart: testCart()}
	o := NewOrchestrator(mc, &MockOrders{}, WithPublisher(&MockPublisher{err: errors.New("broker down")}))

	res, err := o.Checkout(context.Background(), validInput)

	require.NoError(t, err)
	assert.NoError(t, res.ClearErr)
	assert.Equal(t, 1, mc.clears)
}

func TestCheckout_DuplicateWhileSubmitting(t *testing.T) {
	mc := &MockCart{cart: testCart()}
	orders := &MockOrders{started: make(chan struct{}, 1), release: make(chan struct{})}
	o := NewOrchestrator(mc, orders)

	done := make(chan error, 1)
	go func() {
		_, err := o.Checkout(context.Background(), validInput)
		done <- err
	}()

	<-orders.started
	assert.Equal(t, d.CheckoutStatusSubmitting, o.Status())

	_, err := o.Checkout(context.Background(), validInput)
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	close(orders.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), orders.calls.Load())
	assert.Equal(t, d.CheckoutStatusSucceeded, o.Status())
}

func TestCheckout_ConcurrentDuplicatesSubmitOnce(t *testing.T) {
	mc := &MockCart{cart: testCart()}
	orders := &MockOrders{started: make(chan struct{}, 1), release: make(chan struct{})}
	o := NewOrchestrator(mc, orders)

	const n = 20
	var wg sync.WaitGroup
	var inProgress atomic.Int32
	var succeeded atomic.Int32

	first := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(first)
		if _, err := o.Checkout(context.Background(), validInput); err == nil {
			succeeded.Add(1)
		}
	}()
	<-first
	<-orders.started

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Checkout(context.Background(), validInput)
			if errors.Is(err, ErrCheckoutInProgress) {
				inProgress.Add(1)
			}
		}()
	}

	// let the duplicates bounce off before the first submission finishes
	require.Eventually(t, func() bool { return inProgress.Load() == n }, time.Second, 5*time.Millisecond)
	close(orders.release)
	wg.Wait()

	assert.Equal(t, int32(1), orders.calls.Load())
	assert.Equal(t, int32(1), succeeded.Load())
}

func TestCheckout_GateHeldElsewhere(t *testing.T) {
	mc := &MockCart{cart: testCart()}
	orders := &MockOrders{}
	g := gate.NewLocalGate()
	release, err := g.Acquire(context.Background(), mc.SessionKey())
	require.NoError(t, err)

	o := NewOrchestrator(mc, orders, WithGate(g))

	_, err = o.Checkout(context.Background(), validInput)
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.Zero(t, orders.calls.Load())
	assert.Equal(t, d.CheckoutStatusIdle, o.Status())

	require.NoError(t, release(context.Background()))
	_, err = o.Checkout(context.Background(), validInput)
	assert.NoError(t, err)
	assert.Equal(t, int32(1), orders.calls.Load())
}

func TestCheckout_GateReleasedAfterAttempt(t *testing.T) {
	mc := &MockCart{cart: testCart()}
	g := gate.NewLocalGate()
	o := NewOrchestrator(mc, &MockOrders{}, WithGate(g))

	_, err := o.Checkout(context.Background(), validInput)
	require.NoError(t, err)

	release, err := g.Acquire(context.Background(), mc.SessionKey())
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))
}

func TestCheckout_BrokenGateDoesNotBlock(t *testing.T) {
	orders := &MockOrders{}
	o := NewOrchestrator(&MockCart{cart: testCart()}, orders, WithGate(brokenGate{}))

	_, err := o.Checkout(context.Background(), validInput)

	assert.NoError(t, err)
	assert.Equal(t, int32(1), orders.calls.Load())
}

func TestCheckout_UnknownOutcomeReusesKey(t *testing.T) {
	mc := &MockCart{cart: testCart()}
	orders := &MockOrders{errs: []error{
		apperrors.Wrap(apperrors.ErrUnavailable, "create purchase", context.DeadlineExceeded),
	}}
	journal := r.NewMemoryRepository()
	o := NewOrchestrator(mc, orders, WithAttemptJournal(journal))

	_, err := o.Checkout(context.Background(), validInput)
	require.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Equal(t, d.CheckoutStatusFailed, o.Status())

	firstKey := orders.keys[0]
	fingerprint := orders.requests[0].Fingerprint()
	attempt, err := journal.FindUnresolvedAttempt(context.Background(), mc.SessionKey(), fingerprint)
	require.NoError(t, err)
	assert.Equal(t, d.AttemptStatusUnknown, attempt.Status)
	assert.Equal(t, firstKey, attempt.IdempotencyKey)

	res, err := o.Checkout(context.Background(), validInput)
	require.NoError(t, err)

	assert.Equal(t, firstKey, orders.keys[1])
	assert.Equal(t, firstKey, res.IdempotencyKey)

	_, err = journal.FindUnresolvedAttempt(context.Background(), mc.SessionKey(), fingerprint)
	assert.ErrorIs(t, err, r.ErrAttemptNotFound)
}

func TestCheckout_DefiniteFailureUsesNewKey(t *testing.T) {
	mc := &MockCart{cart: testCart()}
	orders := &MockOrders{errs: []error{
		apperrors.New(apperrors.ErrPaymentDeclined, "create purchase", "Card declined"),
	}}
	journal := r.NewMemoryRepository()
	o := NewOrchestrator(mc, orders, WithAttemptJournal(journal))

	_, err := o.Checkout(context.Background(), validInput)
	require.ErrorIs(t, err, apperrors.ErrPaymentDeclined)

	_, err = journal.FindUnresolvedAttempt(context.Background(), mc.SessionKey(), orders.requests[0].Fingerprint())
	assert.ErrorIs(t, err, r.ErrAttemptNotFound)

	_, err = o.Checkout(context.Background(), validInput)
	require.NoError(t, err)
	assert.NotEqual(t, orders.keys[0], orders.keys[1])
}

func TestCheckout_ChangedCartUsesNewKey(t *testing.T) {
	mc := &MockCart{cart: testCart()}
	orders := &MockOrders{errs: []error{apperrors.Wrap(apperrors.ErrUnavailable, "create purchase", errors.New("EOF"))}}
	o := NewOrchestrator(mc, orders, WithAttemptJournal(r.NewMemoryRepository()))

	_, err := o.Checkout(context.Background(), validInput)
	require.Error(t, err)

	mc.mu.Lock()
	mc.cart.Lines[0].Quantity = 3
	mc.mu.Unlock()

	_, err = o.Checkout(context.Background(), validInput)
	require.NoError(t, err)
	assert.NotEqual(t, orders.keys[0], orders.keys[1])
}

func TestOutcomeUnknown(t *testing.T) {
	assert.True(t, outcomeUnknown(apperrors.Wrap(apperrors.ErrUnavailable, "op", errors.New("EOF"))))
	assert.True(t, outcomeUnknown(context.DeadlineExceeded))
	assert.False(t, outcomeUnknown(apperrors.New(apperrors.ErrRejected, "op", "")))
	assert.False(t, outcomeUnknown(apperrors.New(apperrors.ErrProductUnavailable, "op", "")))
}
