package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sdbondi/bn-api/notification-service/kafka"
	"github.com/sdbondi/bn-api/order-service/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
)

type fakeHandler struct {
	mu       sync.Mutex
	failures int
	err      error
	events   []models.PurchaseCompletedEvent
	traceIDs []trace.TraceID
	done     chan struct{}
}

func (h *fakeHandler) PurchaseCompleted(ctx context.Context, event models.PurchaseCompletedEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	h.traceIDs = append(h.traceIDs, trace.SpanContextFromContext(ctx).TraceID())
	if h.failures > 0 {
		h.failures--
		return h.err
	}
	if h.done != nil {
		close(h.done)
		h.done = nil
	}
	return nil
}

func (h *fakeHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func purchaseMessage(t *testing.T, event models.PurchaseCompletedEvent) *sarama.ConsumerMessage {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "order_events", Value: body}
}

func newPurchase() models.PurchaseCompletedEvent {
	orderID := uuid.New()
	return models.PurchaseCompletedEvent{
		EventType: "purchase_completed",
		OrderID:   orderID,
		UserID:    uuid.New(),
		FirstName: "Ada",
		Email:     "ada@example.com",
		Order: models.DisplayOrder{
			ID:           orderID,
			Status:       models.OrderStatusPaid,
			TotalInCents: 2300,
		},
	}
}

func newConsumer(t *testing.T, handler kafka.PurchaseHandler, attempts int) *kafka.Consumer {
	return kafka.NewConsumer(nil, "order_events", handler,
		kafka.RetryPolicy{MaxAttempts: attempts, Backoff: time.Millisecond}, zaptest.NewLogger(t))
}

func TestHandleMessage_PurchaseCompleted(t *testing.T) {
	handler := &fakeHandler{}
	consumer := newConsumer(t, handler, 3)
	event := newPurchase()

	require.NoError(t, consumer.HandleMessage(context.Background(), purchaseMessage(t, event)))

	require.Len(t, handler.events, 1)
	assert.Equal(t, event.OrderID, handler.events[0].OrderID)
	assert.Equal(t, "ada@example.com", handler.events[0].Email)
	assert.Equal(t, int64(2300), handler.events[0].Order.TotalInCents)
}

func TestHandleMessage_RetriesUntilDelivered(t *testing.T) {
	handler := &fakeHandler{failures: 2, err: errors.New("smtp unavailable")}
	consumer := newConsumer(t, handler, 3)

	require.NoError(t, consumer.HandleMessage(context.Background(), purchaseMessage(t, newPurchase())))
	assert.Equal(t, 3, handler.calls())
}

func TestHandleMessage_GivesUp(t *testing.T) {
	sendErr := errors.New("smtp unavailable")
	handler := &fakeHandler{failures: 10, err: sendErr}
	consumer := newConsumer(t, handler, 2)

	err := consumer.HandleMessage(context.Background(), purchaseMessage(t, newPurchase()))
	assert.ErrorIs(t, err, sendErr)
	assert.Contains(t, err.Error(), "failed after 2 attempts")
	assert.Equal(t, 2, handler.calls())
}

func TestHandleMessage_StopsRetryingOnCancel(t *testing.T) {
	handler := &fakeHandler{failures: 10, err: errors.New("smtp unavailable")}
	consumer := kafka.NewConsumer(nil, "order_events", handler,
		kafka.RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := consumer.HandleMessage(ctx, purchaseMessage(t, newPurchase()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, handler.calls())
}

func TestHandleMessage_Skipped(t *testing.T) {
	t.Run("other event types", func(t *testing.T) {
		handler := &fakeHandler{}
		msg := &sarama.ConsumerMessage{Value: []byte(`{"event_type":"order_paid","order_id":"x"}`)}
		assert.NoError(t, newConsumer(t, handler, 3).HandleMessage(context.Background(), msg))
		assert.Zero(t, handler.calls())
	})

	t.Run("no email address", func(t *testing.T) {
		handler := &fakeHandler{}
		event := newPurchase()
		event.Email = " "
		assert.NoError(t, newConsumer(t, handler, 3).HandleMessage(context.Background(), purchaseMessage(t, event)))
		assert.Zero(t, handler.calls())
	})

	t.Run("malformed json", func(t *testing.T) {
		handler := &fakeHandler{}
		msg := &sarama.ConsumerMessage{Value: []byte(`{"event_type":`)}
		assert.Error(t, newConsumer(t, handler, 3).HandleMessage(context.Background(), msg))
		assert.Zero(t, handler.calls())
	})

	t.Run("malformed purchase", func(t *testing.T) {
		handler := &fakeHandler{}
		msg := &sarama.ConsumerMessage{Value: []byte(`{"event_type":"purchase_completed","order_id":42}`)}
		assert.Error(t, newConsumer(t, handler, 3).HandleMessage(context.Background(), msg))
		assert.Zero(t, handler.calls())
	})
}

func TestHandleMessage_ContinuesTrace(t *testing.T) {
	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(previous) })

	handler := &fakeHandler{}
	msg := purchaseMessage(t, newPurchase())
	msg.Headers = []*sarama.RecordHeader{{
		Key:   []byte("traceparent"),
		Value: []byte("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"),
	}}

	require.NoError(t, newConsumer(t, handler, 1).HandleMessage(context.Background(), msg))
	require.Len(t, handler.traceIDs, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", handler.traceIDs[0].String())
}

func TestRun(t *testing.T) {
	saramaConsumer := mocks.NewConsumer(t, nil)
	partition := saramaConsumer.ExpectConsumePartition("order_events", 0, sarama.OffsetNewest)
	partition.YieldMessage(purchaseMessage(t, newPurchase()))

	done := make(chan struct{})
	handler := &fakeHandler{done: done}
	consumer := kafka.NewConsumer(saramaConsumer, "order_events", handler,
		kafka.RetryPolicy{MaxAttempts: 1}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- consumer.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("purchase was not delivered")
	}
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, 1, handler.calls())
}
