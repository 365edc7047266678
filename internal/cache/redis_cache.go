package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pekseg/backend/internal/domain"
)

const (
	catalogKeyPrefix = "catalog:"
	scanKeyPrefix    = "scan:"
)

// RedisCache implements CatalogCache and ScanGuard on one client.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr string, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetCatalog(ctx context.Context, locationID string) ([]domain.Item, bool, error) {
	val, err := c.client.Get(ctx, catalogKeyPrefix+locationID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var items []domain.Item
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		return nil, false, err
	}
	return items, true, nil
}

func (c *RedisCache) SetCatalog(ctx context.Context, locationID string, items []domain.Item, ttl time.Duration) error {
	if items == nil {
		return nil
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, catalogKeyPrefix+locationID, payload, ttl).Err()
}

func (c *RedisCache) InvalidateCatalog(ctx context.Context, locationID string) error {
	return c.client.Del(ctx, catalogKeyPrefix+locationID).Err()
}

func (c *RedisCache) ClaimScan(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, scanKeyPrefix+requestID, 1, ttl).Result()
}

func (c *RedisCache) ReleaseScan(ctx context.Context, requestID string) error {
	return c.client.Del(ctx, scanKeyPrefix+requestID).Err()
}
