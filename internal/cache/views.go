package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arcade-sync/internal/config"
)

// View names invalidated by telemetry mutations
const (
	ViewLibrary      = "library"
	ViewProfile      = "profile"
	ViewAchievements = "achievements"
)

// Views is a Redis-backed cache of rendered view payloads. Mutating
// operations delete the affected keys so the next read rebuilds them.
type Views struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewViews creates a new view cache backed by Redis
func NewViews(cfg *config.RedisConfig, logger *slog.Logger) (*Views, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Views{
		client: client,
		ttl:    cfg.ViewTTL,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (v *Views) Close() error {
	return v.client.Close()
}

// viewKey returns the Redis key for a user's cached view
func (v *Views) viewKey(name string, userID uuid.UUID) string {
	return fmt.Sprintf("view:%s:%s", name, userID)
}

// Get returns the cached payload for a view, or nil when absent
func (v *Views) Get(ctx context.Context, name string, userID uuid.UUID) ([]byte, error) {
	data, err := v.client.Get(ctx, v.viewKey(name, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cached view: %w", err)
	}
	return data, nil
}

// Set stores a rendered view payload with the configured TTL
func (v *Views) Set(ctx context.Context, name string, userID uuid.UUID, payload []byte) error {
	err := v.client.Set(ctx, v.viewKey(name, userID), payload, v.ttl).Err()
	if err != nil {
		return fmt.Errorf("caching view: %w", err)
	}
	return nil
}

// Invalidate marks the named views stale so the next render reflects
// new state. Failures are logged, never surfaced; a stale view expires
// by TTL anyway.
func (v *Views) Invalidate(ctx context.Context, userID uuid.UUID, views ...string) {
	keys := make([]string, 0, len(views))
	for _, name := range views {
		keys = append(keys, v.viewKey(name, userID))
	}
	if len(keys) == 0 {
		return
	}
	if err := v.client.Del(ctx, keys...).Err(); err != nil {
		v.logger.Warn("failed to invalidate views", "views", views, "error", err)
	}
}
