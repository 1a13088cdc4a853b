// Package profilecache puts a Redis read-through cache in front of a
// profile store. Role lookups on every admin request hit it.
package profilecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
	"github.com/nazeru/storefront-tx-go/pkg/logging"
)

const keyPrefix = "storefront:profile:"

// Backend is the subset of *redis.Client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Cache struct {
	rdb  Backend
	next store.ProfileStore
	ttl  time.Duration
}

func New(rdb Backend, next store.ProfileStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{rdb: rdb, next: next, ttl: ttl}
}

// Dial connects to redisURL and pings it.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

var _ store.ProfileStore = (*Cache)(nil)

func key(id domain.UserID) string { return keyPrefix + string(id) }

// GetProfile serves from Redis when it can. A Redis failure degrades to the
// backing store; misses in the backing store are not cached.
func (c *Cache) GetProfile(ctx context.Context, id domain.UserID) (domain.UserProfile, error) {
	raw, err := c.rdb.Get(ctx, key(id)).Bytes()
	switch {
	case err == nil:
		var p domain.UserProfile
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return p, nil
		}
	case !errors.Is(err, redis.Nil):
		logging.Err("profilecache", "get", err)
	}

	p, err := c.next.GetProfile(ctx, id)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, key(id), data, c.ttl).Err(); err != nil {
			logging.Err("profilecache", "set", err)
		}
	}
	return p, nil
}

func (c *Cache) PutProfile(ctx context.Context, p domain.UserProfile) error {
	if err := c.next.PutProfile(ctx, p); err != nil {
		return err
	}
	if err := c.rdb.Del(ctx, key(p.UID)).Err(); err != nil {
		logging.Err("profilecache", "invalidate", err)
	}
	return nil
}
