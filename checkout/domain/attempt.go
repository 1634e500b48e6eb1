package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AttemptStatus string

const (
	AttemptStatusSubmitting AttemptStatus = "SUBMITTING"
	AttemptStatusSucceeded  AttemptStatus = "SUCCEEDED"
	AttemptStatusFailed     AttemptStatus = "FAILED"
	// The request may or may not have reached the backend.
	AttemptStatusUnknown AttemptStatus = "UNKNOWN"
)

// CheckoutAttempt is one create-order call recorded in the attempt journal.
type CheckoutAttempt struct {
	ID             string
	SessionKey     string
	CartID         int64
	IdempotencyKey string
	Fingerprint    string
	TotalAmount    decimal.Decimal
	Status         AttemptStatus
	OrderNumber    string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
