package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cart "github.com/ecofinds/storefront/cart/domain"
	d "github.com/ecofinds/storefront/checkout/domain"
	"github.com/ecofinds/storefront/checkout/gate"
	r "github.com/ecofinds/storefront/checkout/repository"
	"github.com/ecofinds/storefront/pkg/apperrors"
	"github.com/ecofinds/storefront/pkg/metrics"
	"github.com/google/uuid"
)

const followUpTimeout = 5 * time.Second

// CartSource is the part of the cart store the orchestrator relies on. It
// never writes the cart view itself.
type CartSource interface {
	// Fetch returns the backend's cart. Orders are built from it, never from a
	// view another replica may have changed since.
	Fetch(ctx context.Context) (*cart.Cart, error)
	Clear(ctx context.Context) error
	Invalidate(ctx context.Context)
	SessionKey() string
}

type OrderBackend interface {
	CreatePurchase(ctx context.Context, req *d.OrderRequest, idempotencyKey string) (*d.Order, error)
}

type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event d.OrderPlacedEvent) error
}

type Option func(*Orchestrator)

// WithAttemptJournal records every submission so an attempt with an unknown
// outcome is retried under the same idempotency key.
func WithAttemptJournal(repo r.AttemptRepository) Option {
	return func(o *Orchestrator) {
		o.attempts = repo
	}
}

func WithGate(g gate.SubmissionGate) Option {
	return func(o *Orchestrator) {
		o.gate = g
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// Result describes a successful checkout. ClearErr is set when the order was
// placed but the cart could not be emptied; the cart view is then invalidated.
type Result struct {
	Order          *d.Order
	OrderNumber    string
	IdempotencyKey string
	ClearErr       error
}

// State is what the session's last checkout attempt looks like.
type State struct {
	Status      d.CheckoutStatus
	OrderNumber string
	Err         error
}

// Orchestrator drives one session's checkout: validate the cart snapshot,
// submit exactly one order, then clear the cart.
type Orchestrator struct {
	cart      CartSource
	orders    OrderBackend
	attempts  r.AttemptRepository
	gate      gate.SubmissionGate
	publisher EventPublisher
	metrics   *metrics.Metrics
	log       *slog.Logger

	inFlight atomic.Bool

	mu          sync.Mutex
	status      d.CheckoutStatus
	orderNumber string
	lastErr     error
}

func NewOrchestrator(c CartSource, orders OrderBackend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cart:   c,
		orders: orders,
		log:    slog.Default(),
		status: d.CheckoutStatusIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With(slog.String("component", "checkout"), slog.String("session", shortKey(c.SessionKey())))
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return State{Status: o.status, OrderNumber: o.orderNumber, Err: o.lastErr}
}

func (o *Orchestrator) Status() d.CheckoutStatus {
	return o.State().Status
}

// Checkout validates the input against the current cart and places the order.
// While an attempt is in progress further calls return ErrCheckoutInProgress
// without touching the backend.
func (o *Orchestrator) Checkout(ctx context.Context, in d.CheckoutInput) (*Result, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.log.InfoContext(ctx, "checkout already in progress, ignoring")
		return nil, ErrCheckoutInProgress
	}
	defer o.inFlight.Store(false)

	if o.gate != nil {
		release, err := o.gate.Acquire(ctx, o.cart.SessionKey())
		switch {
		case errors.Is(err, gate.ErrHeld):
			o.log.InfoContext(ctx, "checkout in progress on another instance")
			return nil, ErrCheckoutInProgress
		case err != nil:
			o.log.WarnContext(ctx, "submission gate unavailable, continuing", slog.Any("error", err))
		default:
			defer func() {
				relCtx, cancel := followUpContext(ctx)
				defer cancel()
				if err := release(relCtx); err != nil {
					o.log.WarnContext(ctx, "release submission gate failed", slog.Any("error", err))
				}
			}()
		}
	}

	if err := o.transition(d.CheckoutStatusValidating, "", nil); err != nil {
		return nil, err
	}

	req, err := o.validate(ctx, in)
	if err != nil {
		o.finish(ctx, d.CheckoutStatusRejected, "", err)
		return nil, err
	}

	key, attemptID := o.resolveKey(ctx, req)

	if err := o.transition(d.CheckoutStatusSubmitting, "", nil); err != nil {
		return nil, err
	}
	o.log.InfoContext(ctx, "submitting order",
		slog.String("idempotency_key", key),
		slog.Int("lines", len(req.Lines)),
		slog.String("total_amount", req.TotalAmount.StringFixed(2)))

	order, err := o.orders.CreatePurchase(ctx, req, key)
	if err != nil {
		o.recordOutcome(ctx, attemptID, err, "")
		o.finish(ctx, d.CheckoutStatusFailed, "", err)
		return nil, err
	}

	o.recordOutcome(ctx, attemptID, nil, order.OrderNumber)
	o.finish(ctx, d.CheckoutStatusSucceeded, order.OrderNumber, nil)

	res := &Result{
		Order:          order,
		OrderNumber:    order.OrderNumber,
		IdempotencyKey: key,
	}
	res.ClearErr = o.afterSuccess(ctx, order)
	return res, nil
}

func (o *Orchestrator) validate(ctx context.Context, in d.CheckoutInput) (*d.OrderRequest, error) {
	snapshot, err := o.cart.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("cart snapshot: %w", err)
	}
	return d.BuildOrderRequest(snapshot, in)
}

// resolveKey picks the idempotency key for this submission. An unresolved
// attempt with the same content hands its key down; otherwise a fresh key is
// journaled. The journal is best effort.
func (o *Orchestrator) resolveKey(ctx context.Context, req *d.OrderRequest) (key, attemptID string) {
	key = uuid.NewString()
	if o.attempts == nil {
		return key, ""
	}

	sessionKey := o.cart.SessionKey()
	fingerprint := req.Fingerprint()

	prev, err := o.attempts.FindUnresolvedAttempt(ctx, sessionKey, fingerprint)
	switch {
	case err == nil:
		o.log.InfoContext(ctx, "reusing idempotency key of unresolved attempt",
			slog.String("attempt_id", prev.ID),
			slog.String("idempotency_key", prev.IdempotencyKey))
		if err := o.attempts.UpdateAttempt(ctx, prev.ID, d.AttemptStatusSubmitting, "", ""); err != nil {
			o.log.WarnContext(ctx, "journal update failed", slog.Any("error", err))
		}
		return prev.IdempotencyKey, prev.ID
	case !errors.Is(err, r.ErrAttemptNotFound):
		o.log.WarnContext(ctx, "journal lookup failed", slog.Any("error", err))
	}

	attempt := &d.CheckoutAttempt{
		ID:             uuid.NewString(),
		SessionKey:     sessionKey,
		CartID:         req.CartID,
		IdempotencyKey: key,
		Fingerprint:    fingerprint,
		TotalAmount:    req.TotalAmount,
		Status:         d.AttemptStatusSubmitting,
	}
	if err := o.attempts.CreateAttempt(ctx, attempt); err != nil {
		o.log.WarnContext(ctx, "journal create failed", slog.Any("error", err))
		return key, ""
	}
	return key, attempt.ID
}

func (o *Orchestrator) recordOutcome(ctx context.Context, attemptID string, submitErr error, orderNumber string) {
	if o.attempts == nil || attemptID == "" {
		return
	}

	status, reason := d.AttemptStatusSucceeded, ""
	if submitErr != nil {
		status, reason = d.AttemptStatusFailed, submitErr.Error()
		if outcomeUnknown(submitErr) {
			status = d.AttemptStatusUnknown
		}
	}

	jctx, cancel := followUpContext(ctx)
	defer cancel()
	if err := o.attempts.UpdateAttempt(jctx, attemptID, status, orderNumber, reason); err != nil {
		o.log.WarnContext(ctx, "journal update failed",
			slog.String("attempt_id", attemptID), slog.Any("error", err))
	}
}

// afterSuccess empties the cart and announces the order. Neither failure
// undoes the order.
func (o *Orchestrator) afterSuccess(ctx context.Context, order *d.Order) error {
	fctx, cancel := followUpContext(ctx)
	defer cancel()

	clearErr := o.cart.Clear(fctx)
	if clearErr != nil {
		o.log.WarnContext(ctx, "clear cart after order failed, invalidating view",
			slog.String("order_number", order.OrderNumber), slog.Any("error", clearErr))
		o.cart.Invalidate(fctx)
	}

	if o.publisher != nil {
		event := d.OrderPlacedEvent{
			SessionKey:  o.cart.SessionKey(),
			OrderNumber: order.OrderNumber,
			TotalAmount: order.TotalAmount,
			PlacedAt:    time.Now().UTC(),
		}
		if err := o.publisher.PublishOrderPlaced(fctx, event); err != nil {
			o.log.WarnContext(ctx, "publish order placed failed",
				slog.String("order_number", order.OrderNumber), slog.Any("error", err))
		}
	}
	return clearErr
}

func (o *Orchestrator) transition(next d.CheckoutStatus, orderNumber string, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", d.ErrIllegalTransition, o.status, next)
	}
	o.status = next
	o.orderNumber = orderNumber
	o.lastErr = err
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, status d.CheckoutStatus, orderNumber string, err error) {
	if terr := o.transition(status, orderNumber, err); terr != nil {
		o.log.ErrorContext(ctx, "checkout state", slog.Any("error", terr))
	}
	o.metrics.ObserveCheckout(string(status))

	attrs := []any{slog.String("status", status.String())}
	if orderNumber != "" {
		attrs = append(attrs, slog.String("order_number", orderNumber))
	}
	if err != nil {
		attrs = append(attrs, slog.String("code", apperrors.Code(err)), slog.Any("error", err))
	}
	o.log.InfoContext(ctx, "checkout finished", attrs...)
}

// outcomeUnknown reports whether the request may have reached the backend
// without us learning the result.
func outcomeUnknown(err error) bool {
	return errors.Is(err, apperrors.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func followUpContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
}

func shortKey(k string) string {
	if len(k) > 12 {
		return k[:12]
	}
	return k
}
