package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alturino/storefront/checkout/pkg/session"
	"github.com/Alturino/storefront/internal/log"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func settlement() session.Settlement {
	return session.Settlement{
		ReferenceCode: "REF-1",
		Method:        "bank-qr",
		Contact:       session.Contact{Name: "Jane Doe", Email: "jane@example.com"},
		Amount:        decimal.NewFromInt(50),
		Currency:      "USD",
		AmountDue:     decimal.NewFromInt(535),
		DueCurrency:   "CNY",
		ExchangeRate:  decimal.RequireFromString("10.7"),
		SettledAt:     time.Date(2024, time.December, 1, 9, 5, 0, 0, time.UTC),
	}
}

func TestKafkaPublish(t *testing.T) {
	writer := &fakeWriter{}
	p := NewKafkaWithWriter(writer, "checkout-settled")
	c := log.AttachRequestIDToContext(context.Background(), "req-1")

	require.NoError(t, p.Publish(c, settlement()))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "REF-1", string(msg.Key))
	assert.Equal(t, []kafka.Header{
		{Key: "event_type", Value: []byte(EventTypeSettled)},
		{Key: "request_id", Value: []byte("req-1")},
	}, msg.Headers)

	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "REF-1", decoded["referenceCode"])
	assert.Equal(t, "535", decoded["amountDue"])
	assert.Equal(t, "CNY", decoded["dueCurrency"])

	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublishWriteFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unavailable")}
	p := NewKafkaWithWriter(writer, "checkout-settled")

	err := p.Publish(context.Background(), settlement())
	assert.ErrorIs(t, err, writer.err)
}
