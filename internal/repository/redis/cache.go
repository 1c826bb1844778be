// Package redis provides the Redis cache that publishes consolidation pass
// outcomes and fleet snapshots to readers outside the engine.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/drs"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = fmt.Errorf("cache miss: %w", domain.ErrNotFound)

const (
	lastPassKey     = "consolidation:last_pass"
	fleetKey        = "consolidation:fleet"
	passesChannel   = "consolidation:passes"
	defaultCacheTTL = time.Hour
)

// Ensure Cache implements drs.PassCache
var _ drs.PassCache = (*Cache)(nil)

// Cache wraps a Redis client for caching operations.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a new Redis cache connection.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "redis")),
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Generic Cache Operations
// =============================================================================

// Get retrieves a value from cache and unmarshals it into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get error: %w", err)
	}

	return json.Unmarshal([]byte(val), dest)
}

// Set stores a value in cache with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// =============================================================================
// Pass Cache Operations
// =============================================================================

// SetLastPass stores summary as the latest pass and announces it on the
// passes channel.
func (c *Cache) SetLastPass(ctx context.Context, summary *domain.PassSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal pass summary: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, lastPassKey, data, c.ttl)
	pipe.Publish(ctx, passesChannel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache pass %s: %w", summary.ID, err)
	}
	return nil
}

// GetLastPass returns the latest cached pass summary.
func (c *Cache) GetLastPass(ctx context.Context) (*domain.PassSummary, error) {
	var summary domain.PassSummary
	if err := c.Get(ctx, lastPassKey, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// SetFleetSnapshot stores the fleet state observed after a pass.
func (c *Cache) SetFleetSnapshot(ctx context.Context, snapshot []domain.MachineSnapshot) error {
	return c.Set(ctx, fleetKey, snapshot, c.ttl)
}

// GetFleetSnapshot returns the cached fleet state.
func (c *Cache) GetFleetSnapshot(ctx context.Context) ([]domain.MachineSnapshot, error) {
	var snapshot []domain.MachineSnapshot
	if err := c.Get(ctx, fleetKey, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SubscribePasses streams pass summaries published by any replica.
func (c *Cache) SubscribePasses(ctx context.Context) <-chan *domain.PassSummary {
	summaries := make(chan *domain.PassSummary, 10)
	pubsub := c.client.Subscribe(ctx, passesChannel)

	go func() {
		defer close(summaries)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var summary domain.PassSummary
				if err := json.Unmarshal([]byte(msg.Payload), &summary); err != nil {
					c.logger.Warn("Failed to unmarshal pass summary", zap.Error(err))
					continue
				}
				select {
				case summaries <- &summary:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return summaries
}
