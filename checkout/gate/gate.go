// Package gate keeps at most one order submission in flight per session
// across gateway replicas.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrHeld = errors.New("submission already in progress")

// ReleaseFunc gives the slot back. It is safe to call more than once.
type ReleaseFunc func(ctx context.Context) error

type SubmissionGate interface {
	Acquire(ctx context.Context, sessionKey string) (ReleaseFunc, error)
}

// RedisGate holds a session's slot with SET NX and a TTL so a crashed replica
// cannot hold it forever.
type RedisGate struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ SubmissionGate = (*RedisGate)(nil)

func NewRedisGate(client redis.UniversalClient, ttl time.Duration) *RedisGate {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisGate{client: client, ttl: ttl}
}

// deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (g *RedisGate) Acquire(ctx context.Context, sessionKey string) (ReleaseFunc, error) {
	key := gateKey(sessionKey)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			if e := releaseScript.Run(ctx, g.client, []string{key}, token).Err(); e != nil {
				err = fmt.Errorf("redis release failed: %w", e)
			}
		})
		return err
	}, nil
}

func gateKey(sessionKey string) string {
	return fmt.Sprintf("storefront:checkout:%s", sessionKey)
}

// LocalGate is the single-process SubmissionGate.
type LocalGate struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ SubmissionGate = (*LocalGate)(nil)

func NewLocalGate() *LocalGate {
	return &LocalGate{held: make(map[string]struct{})}
}

func (g *LocalGate) Acquire(_ context.Context, sessionKey string) (ReleaseFunc, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[sessionKey]; ok {
		return nil, ErrHeld
	}
	g.held[sessionKey] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, sessionKey)
			g.mu.Unlock()
		})
		return nil
	}, nil
}
