// Package cache Redis 缓存模块单元测试
package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		s.Close()
	})
	return s, client
}

func TestInit_Success(t *testing.T) {
	s, _ := setupMiniRedis(t)

	client, err := Init(&config.RedisConfig{
		Host:        s.Host(),
		Port:        s.Server().Addr().Port,
		PoolSize:    2,
		DialTimeout: 1,
		ReadTimeout: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, client, GetClient())
	t.Cleanup(func() {
		_ = Close()
		rdb = nil
	})
}

func TestInit_Failure(t *testing.T) {
	_, err := Init(&config.RedisConfig{Host: "127.0.0.1", Port: 1, DialTimeout: 1})
	assert.Error(t, err)
	rdb = nil
}

func TestJSON(t *testing.T) {
	s, client := setupMiniRedis(t)
	ctx := context.Background()

	type payload struct {
		GoodsID string `json:"goods_id"`
		Rate    string `json:"rate"`
	}

	t.Run("未命中", func(t *testing.T) {
		var p payload
		hit, err := GetJSON(ctx, client, "missing", &p)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("写入后命中", func(t *testing.T) {
		require.NoError(t, SetJSON(ctx, client, RuleKey("G1"), payload{GoodsID: "G1", Rate: "10"}, time.Minute))

		var p payload
		hit, err := GetJSON(ctx, client, RuleKey("G1"), &p)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, "10", p.Rate)
		assert.True(t, s.Exists("commission:rules:G1"))
	})

	t.Run("过期后未命中", func(t *testing.T) {
		s.FastForward(2 * time.Minute)
		var p payload
		hit, err := GetJSON(ctx, client, RuleKey("G1"), &p)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("删除", func(t *testing.T) {
		require.NoError(t, SetJSON(ctx, client, "k", payload{}, 0))
		require.NoError(t, Delete(ctx, client, "k"))
		assert.False(t, s.Exists("k"))
	})

	t.Run("损坏数据返回错误", func(t *testing.T) {
		require.NoError(t, s.Set("bad", "{"))
		var p payload
		_, err := GetJSON(ctx, client, "bad", &p)
		assert.Error(t, err)
	})
}

func TestTryLock(t *testing.T) {
	s, client := setupMiniRedis(t)
	ctx := context.Background()
	key := TaskLockKey("settle_due")

	lock, err := TryLock(ctx, client, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "lock:task:settle_due", lock.Key())

	t.Run("重复获取失败", func(t *testing.T) {
		_, err := TryLock(ctx, client, key, time.Minute)
		assert.ErrorIs(t, err, ErrLockHeld)
	})

	t.Run("他人令牌不能释放", func(t *testing.T) {
		other := &Lock{client: client, key: key, token: "other"}
		require.NoError(t, other.Release(ctx))
		assert.True(t, s.Exists(key))
	})

	t.Run("释放后可再次获取", func(t *testing.T) {
		require.NoError(t, lock.Release(ctx))
		assert.False(t, s.Exists(key))

		again, err := TryLock(ctx, client, key, time.Minute)
		require.NoError(t, err)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("过期自动释放", func(t *testing.T) {
		_, err := TryLock(ctx, client, key, time.Second)
		require.NoError(t, err)
		s.FastForward(2 * time.Second)
		_, err = TryLock(ctx, client, key, time.Second)
		assert.NoError(t, err)
	})
}

func TestBuildKey(t *testing.T) {
	assert.Equal(t, "commission:rules:G1", BuildKey(KeyPrefixRule, "G1"))
	assert.Equal(t, "lock:task:a:b", BuildKey(KeyPrefixLock, "a", "b"))
	assert.Equal(t, "ratelimit:withdraw:7", RateLimitKey("withdraw", "7"))
}
