package mailer

import (
	"context"
	"errors"
	"testing"

	"github.com/sdbondi/bn-api/order-service/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSender struct {
	sent []Message
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func purchase() models.PurchaseCompletedEvent {
	orderID := uuid.MustParse("6f1c2a3b-0000-4000-8000-000000000001")
	return models.PurchaseCompletedEvent{
		EventType: "purchase_completed",
		OrderID:   orderID,
		FirstName: "Ada",
		Email:     "ada@example.com",
		Order: models.DisplayOrder{
			ID: orderID,
			Items: []models.DisplayOrderItem{
				{Quantity: 2, UnitPriceInCents: 1000, FeeInCents: 150},
				{Quantity: 1, UnitPriceInCents: 500},
			},
			FeesInCents:  150,
			TotalInCents: 2650,
		},
	}
}

func TestRender(t *testing.T) {
	msg, err := New(&recordingSender{}, "tickets@bigneon.com").Render(purchase())
	require.NoError(t, err)

	assert.Equal(t, "tickets@bigneon.com", msg.From)
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Your tickets are confirmed (order 6f1c2a3b)", msg.Subject)
	assert.Contains(t, msg.Body, "Hi Ada,")
	assert.Contains(t, msg.Body, "Order 6f1c2a3b-0000-4000-8000-000000000001 is paid")
	assert.Contains(t, msg.Body, "2 x 10.00 + 1.50 fees\n")
	assert.Contains(t, msg.Body, "1 x 5.00\n")
	assert.Contains(t, msg.Body, "Fees:  1.50\n")
	assert.Contains(t, msg.Body, "Total: 26.50\n")
}

func TestRender_NoFirstName(t *testing.T) {
	event := purchase()
	event.FirstName = ""

	msg, err := New(&recordingSender{}, "tickets@bigneon.com").Render(event)
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Hi there,")
}

func TestPurchaseCompleted(t *testing.T) {
	sender := &recordingSender{}
	require.NoError(t, New(sender, "tickets@bigneon.com").PurchaseCompleted(context.Background(), purchase()))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ada@example.com", sender.sent[0].To)
}

func TestPurchaseCompleted_SendFails(t *testing.T) {
	sendErr := errors.New("connection refused")
	err := New(&recordingSender{err: sendErr}, "tickets@bigneon.com").PurchaseCompleted(context.Background(), purchase())
	assert.ErrorIs(t, err, sendErr)
	assert.Contains(t, err.Error(), "ada@example.com")
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sender := NewLogSender(zap.New(core))

	require.NoError(t, sender.Send(context.Background(), Message{
		From:    "tickets@bigneon.com",
		To:      "ada@example.com",
		Subject: "Your tickets",
		Body:    "Hi Ada",
	}))

	entries := logs.FilterMessage("Email sent").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ada@example.com", fields["to"])
	assert.Equal(t, "Your tickets", fields["subject"])
	assert.Equal(t, "Hi Ada", fields["body"])
}
