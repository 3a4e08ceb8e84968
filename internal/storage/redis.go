package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/arcp-io/arcp/internal/config"
)

// keyPrefix namespaces every ARCP bucket inside the Redis keyspace so a
// shared instance cannot collide with other tenants.
const keyPrefix = "arcp:"

// RedisBackend maps each bucket onto one Redis hash.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend dials Redis with the configured address and credentials.
// The connection is not probed here; the adapter owns availability checks.
func NewRedisBackend(cfg config.RedisConfig) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisBackend{client: client}
}

func bucketKey(bucket string) string { return keyPrefix + bucket }

// HSet implements Backend.
func (r *RedisBackend) HSet(ctx context.Context, bucket, key string, value []byte) error {
	if err := r.client.HSet(ctx, bucketKey(bucket), key, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s/%s: %w", bucket, key, err)
	}
	return nil
}

// HGet implements Backend.
func (r *RedisBackend) HGet(ctx context.Context, bucket, key string) ([]byte, error) {
	v, err := r.client.HGet(ctx, bucketKey(bucket), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget %s/%s: %w", bucket, key, err)
	}
	return v, nil
}

// HKeys implements Backend.
func (r *RedisBackend) HKeys(ctx context.Context, bucket string) ([]string, error) {
	keys, err := r.client.HKeys(ctx, bucketKey(bucket)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys %s: %w", bucket, err)
	}
	return keys, nil
}

// HDel implements Backend.
func (r *RedisBackend) HDel(ctx context.Context, bucket string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, bucketKey(bucket), keys...).Err(); err != nil {
		return fmt.Errorf("redis hdel %s: %w", bucket, err)
	}
	return nil
}

// Exists implements Backend.
func (r *RedisBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	n, err := r.client.HExists(ctx, bucketKey(bucket), key).Result()
	if err != nil {
		return false, fmt.Errorf("redis hexists %s/%s: %w", bucket, key, err)
	}
	return n, nil
}

// Ping implements Backend.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Backend.
func (r *RedisBackend) Close() error { return r.client.Close() }
