package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
	adminHandler "github.com/dumeirei/commission-ledger/internal/handler/admin"
	distributionHandler "github.com/dumeirei/commission-ledger/internal/handler/distribution"
	"github.com/dumeirei/commission-ledger/internal/middleware"
)

// 单个分销商每分钟最多提交的提现申请数
const (
	withdrawRateLimit  = 5
	withdrawRateWindow = time.Minute
	maxRequestBody     = 1 << 20
)

// setupRouter 设置路由
func setupRouter(
	r *gin.Engine,
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	redisClient *redis.Client,
	m *metrics.Metrics,
	svc *services,
) {
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	// 全局中间件
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing("/health", "/ready", metricsPath))
	r.Use(middleware.SecureHeaders())
	r.Use(middleware.RequestSizeLimiter(maxRequestBody))
	r.Use(middleware.AccessLog(logger))
	if m != nil {
		r.Use(m.Middleware())
		r.GET(metricsPath, m.Handler())
	}

	// 健康检查
	r.GET("/health", healthHandler)
	r.GET("/ready", readyHandler(db, redisClient))

	withdrawLimiter := middleware.RateLimit(&middleware.RateLimitConfig{
		RedisClient: redisClient,
		Scope:       "withdraw",
		Limit:       withdrawRateLimit,
		Window:      withdrawRateWindow,
		KeyFunc:     middleware.ParamKey("id"),
		Logger:      logger,
	})

	v1 := r.Group("/api/v1")
	distributionHandler.NewHandler(svc.distributor, svc.withdrawal).RegisterRoutes(v1, withdrawLimiter)
	adminHandler.NewDistributionHandler(svc.distributor, svc.withdrawal, svc.rules).RegisterRoutes(v1)
}
