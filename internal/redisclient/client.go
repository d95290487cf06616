package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing redis connection
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AcquireLock tries to take a distributed lock for ttl.
// The returned token must be passed to ReleaseLock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, LockKey(lockKey), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases a lock only if it is still held with token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	if _, err := c.releaseScript.Run(ctx, c.rdb, []string{LockKey(lockKey)}, token).Result(); err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// MarkProcessed records an idempotency key with TTL.
// Returns false if the key was already recorded.
func (c *Client) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, IdempotencyKey(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// ForgetProcessed removes an idempotency key so the work can be retried
func (c *Client) ForgetProcessed(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, IdempotencyKey(key)).Err()
}

// LockKey namespaces a lock name
func LockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// IdempotencyKey namespaces an idempotency key
func IdempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}
