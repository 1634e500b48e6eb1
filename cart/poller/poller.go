package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	checkout "github.com/ecofinds/storefront/checkout/domain"
	"github.com/segmentio/kafka-go"
)

// Invalidator drops the cart view of a session. Unknown sessions are ignored.
type Invalidator interface {
	Invalidate(ctx context.Context, sessionKey string)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Poller consumes order-placed events and drops the cart views they make
// stale. Each gateway replica reads with its own consumer group so every
// replica sees every event.
type Poller struct {
	reader  messageReader
	target  Invalidator
	log     *slog.Logger
	backoff time.Duration
}

func NewPoller(target Invalidator, groupID string, log *slog.Logger, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       checkout.OrderPlacedTopic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MaxBytes:    10e6, // 10MB
	})
	return newPoller(reader, target, log)
}

func newPoller(reader messageReader, target Invalidator, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		reader:  reader,
		target:  target,
		log:     log.With(slog.String("component", "order_poller")),
		backoff: time.Second,
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.handleNext(ctx); err != nil && ctx.Err() == nil {
			p.log.WarnContext(ctx, "read order event failed", slog.Any("error", err))
			select {
			case <-time.After(p.backoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing reader", slog.Any("error", err))
	}
}

// handleNext returns an error only when reading fails; malformed events are
// logged and skipped.
func (p *Poller) handleNext(ctx context.Context) error {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		return err
	}

	var event checkout.OrderPlacedEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		p.log.WarnContext(ctx, "error parsing order event", slog.Any("error", err))
		return nil
	}
	if event.SessionKey == "" {
		p.log.WarnContext(ctx, "order event without session key", slog.Int64("offset", m.Offset))
		return nil
	}

	p.target.Invalidate(ctx, event.SessionKey)
	p.log.DebugContext(ctx, "cart view invalidated",
		slog.String("order_number", event.OrderNumber))
	return nil
}
