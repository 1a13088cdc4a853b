package profilecache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
	"github.com/nazeru/storefront-tx-go/internal/order/store/memstore"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	down bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

var errDown = errors.New("connection refused")

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStringResult("", errDown)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStatusResult("", errDown)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// countingDir counts lookups that reach the backing store.
type countingDir struct {
	store.ProfileStore
	mu    sync.Mutex
	calls int
}

func (c *countingDir) GetProfile(ctx context.Context, id domain.UserID) (domain.UserProfile, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.ProfileStore.GetProfile(ctx, id)
}

func setup(t *testing.T) (*Cache, *fakeRedis, *countingDir) {
	t.Helper()
	ms := memstore.New()
	require.NoError(t, ms.PutProfile(context.Background(), domain.UserProfile{UID: "u1", DisplayName: "Ada", Role: domain.RoleAdmin}))
	rdb := newFakeRedis()
	dir := &countingDir{ProfileStore: ms}
	return New(rdb, dir, 30*time.Second), rdb, dir
}

func TestGetProfile_ReadThrough(t *testing.T) {
	ctx := context.Background()
	c, rdb, dir := setup(t)

	for i := 0; i < 3; i++ {
		p, err := c.GetProfile(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Ada", p.DisplayName)
		assert.Equal(t, domain.RoleAdmin, p.Role)
	}
	assert.Equal(t, 1, dir.calls)
	assert.Equal(t, 30*time.Second, rdb.ttls[keyPrefix+"u1"])
}

func TestGetProfile_MissIsNotCached(t *testing.T) {
	ctx := context.Background()
	c, rdb, _ := setup(t)

	_, err := c.GetProfile(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NotContains(t, rdb.data, keyPrefix+"ghost")
}

func TestGetProfile_RedisDownFallsBack(t *testing.T) {
	ctx := context.Background()
	c, rdb, dir := setup(t)
	rdb.down = true

	p, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.Equal(t, 1, dir.calls)
}

func TestPutProfile_Invalidates(t *testing.T) {
	ctx := context.Background()
	c, _, dir := setup(t)

	_, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, c.PutProfile(ctx, domain.UserProfile{UID: "u1", DisplayName: "Ada", Role: domain.RoleUser}))

	p, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, p.Role)
	assert.Equal(t, 2, dir.calls)
}
