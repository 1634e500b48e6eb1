package backend

import (
	"context"
	"errors"
)

var ErrNoToken = errors.New("no bearer token")

// Credentials supplies the bearer token sent with every request.
type Credentials interface {
	BearerToken(ctx context.Context) (string, error)
}

// Refresher is implemented by credentials that can renew an expired token.
// The client calls Refresh once after a 401 and retries the request.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// StaticToken forwards a token the caller already holds. It cannot refresh.
type StaticToken string

func (t StaticToken) BearerToken(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

type requestIDKey struct{}

// WithRequestID stores the id forwarded to the backend as X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
