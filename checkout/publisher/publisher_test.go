package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	d "github.com/ecofinds/storefront/checkout/domain"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestPublishOrderPlaced(t *testing.T) {
	w := &mockWriter{}
	p := &OrderPublisher{writer: w}
	placedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := p.PublishOrderPlaced(context.Background(), d.OrderPlacedEvent{
		SessionKey:  "sess-1",
		OrderNumber: "ECO-1A2B3C4D",
		TotalAmount: decimal.RequireFromString("25.00"),
		PlacedAt:    placedAt,
	})
	require.NoError(t, err)

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "sess-1", string(msg.Key))
	assert.Equal(t, "order_placed", string(msg.Headers[0].Value))

	var event d.OrderPlacedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, "ECO-1A2B3C4D", event.OrderNumber)
	assert.True(t, event.TotalAmount.Equal(decimal.RequireFromString("25")))
	assert.True(t, event.PlacedAt.Equal(placedAt))
}

func TestPublishOrderPlaced_WriteError(t *testing.T) {
	p := &OrderPublisher{writer: &mockWriter{err: errors.New("broker down")}}

	err := p.PublishOrderPlaced(context.Background(), d.OrderPlacedEvent{SessionKey: "sess-1"})
	require.ErrorContains(t, err, "broker down")
}

func TestClose(t *testing.T) {
	w := &mockWriter{}
	p := &OrderPublisher{writer: w}
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
