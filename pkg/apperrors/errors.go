// Package apperrors holds the error taxonomy shared by the cart store, the
// checkout orchestrator, the backend client and the gateway.
//
// Callers match kinds with errors.Is:
//
//	if errors.Is(err, apperrors.ErrUnauthorized) { ... }
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Local validation failures. These never reach the network layer.
var (
	ErrInvalidQuantity      = errors.New("quantity must be a positive integer")
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrMissingAddress       = errors.New("shipping address is required")
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
)

// Failures reported by, or on the way to, the backend.
var (
	ErrProductUnavailable = errors.New("product unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnavailable        = errors.New("backend unavailable")
	ErrNotFound           = errors.New("not found")
	ErrRejected           = errors.New("rejected by backend")
	ErrPaymentDeclined    = errors.New("payment declined")
)

var kinds = []error{
	ErrInvalidQuantity,
	ErrEmptyCart,
	ErrMissingAddress,
	ErrInvalidPaymentMethod,
	ErrProductUnavailable,
	ErrUnauthorized,
	ErrUnavailable,
	ErrNotFound,
	ErrRejected,
	ErrPaymentDeclined,
}

// Error carries a taxonomy kind together with the operation that failed, the
// backend status (zero for local and transport failures) and the backend's
// own message when it sent one.
type Error struct {
	Kind    error
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func New(kind error, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the taxonomy kind of err, or nil when err is not classified.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// As is a shortcut for errors.As with *Error.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Message returns the short text shown to the user for err. Backend
// rejections prefer the backend's own wording.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok && appErr.Message != "" {
		switch appErr.Kind {
		case ErrRejected, ErrProductUnavailable, ErrPaymentDeclined:
			return appErr.Message
		}
	}

	switch KindOf(err) {
	case ErrInvalidQuantity:
		return "Quantity must be at least 1."
	case ErrEmptyCart:
		return "Your cart is empty."
	case ErrMissingAddress:
		return "Please enter a shipping address."
	case ErrInvalidPaymentMethod:
		return "Please choose a supported payment method."
	case ErrProductUnavailable:
		return "This product is no longer available."
	case ErrUnauthorized:
		return "Your session has expired. Please sign in again."
	case ErrUnavailable:
		return "The store is temporarily unavailable. Please try again."
	case ErrNotFound:
		return "The requested item was not found."
	case ErrRejected:
		return "The request was rejected."
	case ErrPaymentDeclined:
		return "Your payment was declined."
	default:
		return "Something went wrong."
	}
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch KindOf(err) {
	case ErrInvalidQuantity:
		return "invalid_quantity"
	case ErrEmptyCart:
		return "empty_cart"
	case ErrMissingAddress:
		return "missing_address"
	case ErrInvalidPaymentMethod:
		return "invalid_payment_method"
	case ErrProductUnavailable:
		return "product_unavailable"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrUnavailable:
		return "service_unavailable"
	case ErrNotFound:
		return "not_found"
	case ErrRejected:
		return "rejected"
	case ErrPaymentDeclined:
		return "payment_declined"
	default:
		return "internal_error"
	}
}

// IsLocal reports whether err is a validation failure raised before any
// request was sent.
func IsLocal(err error) bool {
	switch KindOf(err) {
	case ErrInvalidQuantity, ErrEmptyCart, ErrMissingAddress, ErrInvalidPaymentMethod:
		return true
	}
	return false
}
