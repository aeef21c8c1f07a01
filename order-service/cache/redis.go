package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/sdbondi/bn-api/order-service/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func InitRedis(cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr()))
	return rdb, nil
}

// NotificationGuard records handled payment notifications so a replayed IPN
// is processed once.
type NotificationGuard struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewNotificationGuard(rdb redis.Cmdable, ttl time.Duration) *NotificationGuard {
	return &NotificationGuard{rdb: rdb, ttl: ttl}
}

// FirstSeen reports whether key has not been seen within the guard's TTL,
// marking it seen.
func (g *NotificationGuard) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, notificationKey(key), time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record notification %s: %w", key, err)
	}
	return ok, nil
}

// Forget drops key so the notification can be processed again.
func (g *NotificationGuard) Forget(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, notificationKey(key)).Err()
}

func notificationKey(key string) string {
	return fmt.Sprintf("notification:%s", key)
}
