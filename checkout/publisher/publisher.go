package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	d "github.com/ecofinds/storefront/checkout/domain"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderPublisher writes order-placed events keyed by session so events of one
// session stay ordered.
type OrderPublisher struct {
	writer messageWriter
}

func NewOrderPublisher(brokers ...string) *OrderPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  d.OrderPlacedTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &OrderPublisher{writer: w}
}

func (p *OrderPublisher) PublishOrderPlaced(ctx context.Context, event d.OrderPlacedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order placed event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.SessionKey),
		Value: payload,
		Time:  event.PlacedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("order_placed")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order placed event: %w", err)
	}
	return nil
}

func (p *OrderPublisher) Close() error {
	return p.writer.Close()
}
