package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"colorstock/backend/internal/domain"
)

const (
	defaultPrefix = "colorstock:sales"
	generationKey = "generation"
)

// RedisReportCache namespaces entries under a generation counter. Bumping the
// counter orphans every older entry, which then expires through its TTL.
type RedisReportCache struct {
	client *redis.Client
	prefix string
}

func NewRedisReportCache(addr string, password string, db int) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReportCache{client: client, prefix: defaultPrefix}
}

// WithPrefix returns a copy writing under a different key namespace.
func (c *RedisReportCache) WithPrefix(prefix string) *RedisReportCache {
	out := *c
	out.prefix = prefix
	return &out
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisReportCache) Get(ctx context.Context, key string) (*domain.SalesReport, Slot, error) {
	slot, err := c.slot(ctx, key)
	if err != nil {
		return nil, "", err
	}
	val, err := c.client.Get(ctx, string(slot)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, slot, nil
	}
	if err != nil {
		return nil, slot, err
	}

	var report domain.SalesReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, slot, err
	}
	return &report, slot, nil
}

// Set writes under slot as resolved by Get; it never re-reads the generation.
func (c *RedisReportCache) Set(ctx context.Context, slot Slot, value *domain.SalesReport, ttl time.Duration) error {
	if value == nil || slot == "" {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, string(slot), payload, ttl).Err()
}

func (c *RedisReportCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.prefix+":"+generationKey).Err()
}

func (c *RedisReportCache) slot(ctx context.Context, key string) (Slot, error) {
	gen, err := c.client.Get(ctx, c.prefix+":"+generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return Slot(fmt.Sprintf("%s:report:%d:%s", c.prefix, gen, key)), nil
}
