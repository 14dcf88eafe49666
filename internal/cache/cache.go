// Package cache stores prediction responses in Redis keyed by model version
// and a digest of the feature set.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/features"
)

const keyPrefix = "uwml:pred"

// PredictionCache stores serialized predictions
type PredictionCache interface {
	// Get decodes a cached value into dst and reports whether it was present.
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Close() error
}

// New returns a Redis cache when enabled and a no-op cache otherwise
func New(cfg config.RedisConfig, logger *zap.Logger) PredictionCache {
	if !cfg.Enabled {
		return Nop{}
	}
	return NewRedisCache(cfg, logger)
}

// Key derives the cache key for one prediction. Two feature sets with the same
// vector and the same defaulted fields share a key.
func Key(model, version string, set features.Set, schema []string) string {
	h := sha256.New()
	buf := make([]byte, 8)
	for _, name := range schema {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(set.Get(name)))
		h.Write(buf)
	}

	defaulted := make([]string, 0, len(set.Defaulted))
	for name, ok := range set.Defaulted {
		if ok {
			defaulted = append(defaulted, name)
		}
	}
	sort.Strings(defaulted)
	for _, name := range defaulted {
		h.Write([]byte(name))
		h.Write([]byte{0})
	}
	h.Write([]byte(set.Smoking))
	fmt.Fprintf(h, "|%g", set.SumAssured)

	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, model, version, hex.EncodeToString(h.Sum(nil)))
}

// RedisCache is a PredictionCache backed by go-redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(cfg config.RedisConfig, logger *zap.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return &RedisCache{
		client: client,
		ttl:    cfg.PredictionTTL,
		logger: logger.With(zap.String("component", "prediction_cache")),
	}
}

// Ping checks connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Get implements PredictionCache
func (c *RedisCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cached prediction: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode cached prediction: %w", err)
	}
	return true, nil
}

// Set implements PredictionCache
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode prediction: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache prediction: %w", err)
	}
	return nil
}

// Close closes the client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Nop never stores anything
type Nop struct{}

func (Nop) Get(context.Context, string, interface{}) (bool, error) { return false, nil }
func (Nop) Set(context.Context, string, interface{}) error         { return nil }
func (Nop) Close() error                                           { return nil }
