package domain

import "errors"

var ErrIllegalTransition = errors.New("illegal transition of checkout status")

// CheckoutStatus is the state of a session's checkout flow.
type CheckoutStatus string

const (
	CheckoutStatusIdle       CheckoutStatus = "IDLE"
	CheckoutStatusValidating CheckoutStatus = "VALIDATING"
	CheckoutStatusSubmitting CheckoutStatus = "SUBMITTING"
	CheckoutStatusSucceeded  CheckoutStatus = "SUCCEEDED"
	CheckoutStatusRejected   CheckoutStatus = "REJECTED"
	CheckoutStatusFailed     CheckoutStatus = "FAILED"
)

var transitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusIdle:       {CheckoutStatusValidating},
	CheckoutStatusValidating: {CheckoutStatusSubmitting, CheckoutStatusRejected},
	CheckoutStatusSubmitting: {CheckoutStatusSucceeded, CheckoutStatusFailed},
	CheckoutStatusSucceeded:  {CheckoutStatusValidating},
	CheckoutStatusRejected:   {CheckoutStatusValidating},
	CheckoutStatusFailed:     {CheckoutStatusValidating},
}

func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusSucceeded || s == CheckoutStatusRejected || s == CheckoutStatusFailed
}

func (s CheckoutStatus) CanTransitionTo(next CheckoutStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// String representation (for logging)
func (s CheckoutStatus) String() string {
	return string(s)
}
