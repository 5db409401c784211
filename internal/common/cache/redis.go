// Package cache 提供 Redis 缓存功能
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var rdb *redis.Client

// ErrLockHeld 锁已被其他实例持有
var ErrLockHeld = errors.New("cache: lock held by another owner")

// Init 初始化 Redis 连接
func Init(cfg *config.RedisConfig) (*redis.Client, error) {
	rdb = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}

	return rdb, nil
}

// GetClient 获取 Redis 客户端
func GetClient() *redis.Client {
	return rdb
}

// Close 关闭 Redis 连接
func Close() error {
	if rdb != nil {
		return rdb.Close()
	}
	return nil
}

// SetJSON 以 JSON 写入缓存
func SetJSON(ctx context.Context, client *redis.Client, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return client.Set(ctx, key, data, expiration).Err()
}

// GetJSON 读取 JSON 缓存，未命中返回 (false, nil)
func GetJSON(ctx context.Context, client *redis.Client, key string, dest interface{}) (bool, error) {
	data, err := client.Get(ctx, key).Bytes()
	if IsNil(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return true, nil
}

// Delete 删除缓存
func Delete(ctx context.Context, client *redis.Client, keys ...string) error {
	return client.Del(ctx, keys...).Err()
}

// IsNil 是否为键不存在
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// releaseScript 仅当锁仍属于自己时删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock 基于 SET NX 的分布式锁
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// TryLock 尝试获取锁，已被持有时返回 ErrLockHeld
func TryLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: client, key: key, token: token}, nil
}

// Release 释放锁
func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// Key 锁的键名
func (l *Lock) Key() string {
	return l.key
}

// 缓存键前缀
const (
	KeyPrefixRule = "commission:rules:"
	KeyPrefixLock = "lock:task:"
	KeyPrefixRate = "ratelimit:"
)

// BuildKey 构建缓存键
func BuildKey(prefix string, parts ...string) string {
	key := prefix
	for _, part := range parts {
		key += part + ":"
	}
	return key[:len(key)-1]
}

// RuleKey 商品佣金规则缓存键
func RuleKey(goodsID string) string {
	return KeyPrefixRule + goodsID
}

// TaskLockKey 定时任务锁键
func TaskLockKey(name string) string {
	return KeyPrefixLock + name
}

// RateLimitKey 限流计数键
func RateLimitKey(scope, subject string) string {
	return KeyPrefixRate + scope + ":" + subject
}
