package lookup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	versionKey  = "clubpulse:lookup:version"
	bumpChannel = "clubpulse.lookup.bump"
)

// Cache is a shared second-tier cache in front of the reporting API.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Bump invalidates every entry written so far.
	Bump(ctx context.Context) error
	Ping(ctx context.Context) error
}

// RedisCache stores lookup data in Redis under versioned keys. Bumping the
// version orphans old keys, which then expire through their TTL.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache whose entries live for ttl.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising it when missing.
func (c *RedisCache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.SetNX(ctx, versionKey, 1, 0).Err(); err != nil {
			return 0, fmt.Errorf("lookup cache: init version: %w", err)
		}
		return c.client.Get(ctx, versionKey).Int64()
	}
	if err != nil {
		return 0, fmt.Errorf("lookup cache: read version: %w", err)
	}
	return ver, nil
}

func (c *RedisCache) versioned(ctx context.Context, key string) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{"clubpulse", "lookup", key, "v" + strconv.FormatInt(ver, 10)}, ":"), nil
}

// Get returns the value stored under key at the current version.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	k, err := c.versioned(ctx, key)
	if err != nil {
		return nil, false, err
	}
	raw, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup cache: get %q: %w", k, err)
	}
	return raw, true, nil
}

// Set stores value under key at the current version.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	k, err := c.versioned(ctx, key)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, k, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("lookup cache: set %q: %w", k, err)
	}
	return nil
}

// Bump increments the version and announces it to other replicas.
func (c *RedisCache) Bump(ctx context.Context) error {
	ver, err := c.client.Incr(ctx, versionKey).Result()
	if err != nil {
		return fmt.Errorf("lookup cache: bump: %w", err)
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Subscribe calls onBump for every version bump announced by any replica
// until ctx is done.
func Subscribe(ctx context.Context, client *redis.Client, onBump func()) {
	pubsub := client.Subscribe(ctx, bumpChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				onBump()
			}
		}
	}()
}
