package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/cache"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/response"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RedisClient *redis.Client
	Scope       string
	Limit       int
	Window      time.Duration
	KeyFunc     func(*gin.Context) string // 限流主体，默认取客户端 IP
	Logger      *zap.Logger
}

// RateLimit 固定窗口限流中间件
// 未配置 Redis 或 Redis 出错时放行
func RateLimit(config *RateLimitConfig) gin.HandlerFunc {
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	log := config.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	return func(c *gin.Context) {
		if config.RedisClient == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := cache.RateLimitKey(config.Scope, keyFunc(c))

		count, err := config.RedisClient.Incr(ctx, key).Result()
		if err != nil {
			log.Warn("限流计数失败，放行请求", logger.String("key", key), logger.Err(err))
			c.Next()
			return
		}
		if count == 1 {
			config.RedisClient.Expire(ctx, key, config.Window)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Limit))
		if int(count) > config.Limit {
			ttl, _ := config.RedisClient.TTL(ctx, key).Result()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			response.TooManyRequests(c, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(config.Limit-int(count)))
		c.Next()
	}
}

// ParamKey 按路径参数限流
func ParamKey(name string) func(*gin.Context) string {
	return func(c *gin.Context) string {
		return c.Param(name)
	}
}
