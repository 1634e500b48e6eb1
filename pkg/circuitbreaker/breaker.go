// Package circuitbreaker guards outbound HTTP calls with a gobreaker circuit
// breaker. Transport errors and 5xx responses count as failures; a cancelled
// request context does not.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrOpen is returned by the transport while the breaker rejects requests.
var ErrOpen = errors.New("circuit breaker is open")

type Settings struct {
	Name string
	// Consecutive failures that trip the breaker.
	FailureThreshold uint32
	// Time spent open before probing again.
	OpenTimeout time.Duration
	// Requests allowed through while half-open.
	HalfOpenRequests uint32
	Logger           *slog.Logger
}

func DefaultSettings(name string) Settings {
	return Settings{
		Name:             name,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Transport is an http.RoundTripper that runs every request through a breaker.
type Transport struct {
	next http.RoundTripper
	cb   *gobreaker.CircuitBreaker[*http.Response]
}

type serverFailure struct {
	resp *http.Response
}

func (e *serverFailure) Error() string {
	return "server error: " + e.resp.Status
}

func NewTransport(next http.RoundTripper, s Settings) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Transport{next: next, cb: cb}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.cb.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, &serverFailure{resp: resp}
		}
		return resp, nil
	})

	var sf *serverFailure
	if errors.As(err, &sf) {
		return sf.resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(ErrOpen, err)
	}
	return resp, err
}

func (t *Transport) State() gobreaker.State {
	return t.cb.State()
}
