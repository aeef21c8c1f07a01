package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sdbondi/bn-api/notification-service/config"
	"github.com/sdbondi/bn-api/notification-service/middleware"
	obs "github.com/sdbondi/bn-api/order-service/middleware"
	"github.com/sdbondi/bn-api/order-service/models"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const eventPurchaseCompleted = "purchase_completed"

func InitConsumer(cfg config.KafkaConfig, logger *zap.Logger) (sarama.Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Retry.Backoff = 1 * time.Second

	consumer, err := sarama.NewConsumer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized", zap.Strings("brokers", cfg.Brokers))
	return consumer, nil
}

// PurchaseHandler delivers the confirmation for a completed purchase.
type PurchaseHandler interface {
	PurchaseCompleted(ctx context.Context, event models.PurchaseCompletedEvent) error
}

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

type Consumer struct {
	consumer sarama.Consumer
	topic    string
	handler  PurchaseHandler
	retry    RetryPolicy
	logger   *zap.Logger
}

func NewConsumer(consumer sarama.Consumer, topic string, handler PurchaseHandler, retry RetryPolicy, logger *zap.Logger) *Consumer {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Consumer{
		consumer: consumer,
		topic:    topic,
		handler:  handler,
		retry:    retry,
		logger:   logger,
	}
}

// Run consumes the topic until ctx is cancelled or the partition consumer
// is closed.
func (c *Consumer) Run(ctx context.Context) error {
	partitionConsumer, err := c.consumer.ConsumePartition(c.topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partitionConsumer.Close()

	c.logger.Info("Kafka consumer started", zap.String("topic", c.topic))

	errCh := partitionConsumer.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-partitionConsumer.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(ctx, message); err != nil {
				c.logger.Error("Failed to handle message",
					zap.Int64("offset", message.Offset),
					zap.Error(err),
				)
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			c.logger.Error("Kafka consumer error", zap.Error(err))
		}
	}
}

// HandleMessage decodes one order event and dispatches it. Malformed events
// are dropped without retry; handler failures are retried with a linear
// backoff.
func (c *Consumer) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, saramaHeaderCarrier(message.Headers))

	ctx, span := otel.Tracer("notification-service").Start(ctx, "ProcessNotification")
	defer span.End()

	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		span.RecordError(err)
		middleware.RecordNotificationSent("unknown", "invalid")
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	span.SetAttributes(attribute.String("event.type", envelope.EventType))

	if envelope.EventType != eventPurchaseCompleted {
		c.logger.Debug("Ignoring event", zap.String("event_type", envelope.EventType))
		return nil
	}

	var event models.PurchaseCompletedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		middleware.RecordNotificationSent(eventPurchaseCompleted, "invalid")
		return fmt.Errorf("failed to unmarshal %s event: %w", eventPurchaseCompleted, err)
	}
	span.SetAttributes(attribute.String("order.id", event.OrderID.String()))

	logger := c.logger.With(
		zap.String("trace_id", obs.GetTraceID(ctx)),
		zap.String("order_id", event.OrderID.String()),
	)

	if strings.TrimSpace(event.Email) == "" {
		logger.Warn("Purchase has no email address, skipping confirmation")
		middleware.RecordNotificationSent(eventPurchaseCompleted, "skipped")
		return nil
	}

	if err := c.withRetry(ctx, logger, func(ctx context.Context) error {
		return c.handler.PurchaseCompleted(ctx, event)
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "notification failed")
		middleware.RecordNotificationSent(eventPurchaseCompleted, "failed")
		return err
	}

	middleware.RecordNotificationSent(eventPurchaseCompleted, "sent")
	return nil
}

func (c *Consumer) withRetry(ctx context.Context, logger *zap.Logger, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == c.retry.MaxAttempts {
			break
		}

		backoff := time.Duration(attempt) * c.retry.Backoff
		logger.Warn("Retrying notification",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// saramaHeaderCarrier adapts consumed record headers to a TextMapCarrier.
type saramaHeaderCarrier []*sarama.RecordHeader

func (c saramaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set is a no-op; consumed headers are read-only.
func (c saramaHeaderCarrier) Set(key, value string) {}

func (c saramaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		if h != nil {
			keys = append(keys, string(h.Key))
		}
	}
	return keys
}
