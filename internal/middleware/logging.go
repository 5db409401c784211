package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/logger"
)

// LoggingConfig 日志配置
type LoggingConfig struct {
	Logger    *zap.Logger
	SkipPaths []string // 跳过日志的路径
}

// DefaultLoggingConfig 默认日志配置，跳过探活和指标接口
func DefaultLoggingConfig(log *zap.Logger) *LoggingConfig {
	return &LoggingConfig{
		Logger:    log,
		SkipPaths: []string{"/health", "/ready", "/metrics"},
	}
}

// Logging 请求日志中间件
func Logging(config *LoggingConfig) gin.HandlerFunc {
	skipPaths := make(map[string]struct{}, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := skipPaths[path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		statusCode := c.Writer.Status()
		fields := []zap.Field{
			logger.RequestID(GetRequestID(c)),
			logger.Method(c.Request.Method),
			logger.Path(path),
			logger.String("route", c.FullPath()),
			logger.String("query", c.Request.URL.RawQuery),
			logger.StatusCode(statusCode),
			logger.Latency(time.Since(start)),
			logger.IP(c.ClientIP()),
		}
		if traceID := GetTraceID(c); traceID != "" {
			fields = append(fields, logger.String("trace_id", traceID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.String("errors", c.Errors.String()))
		}

		switch {
		case statusCode >= 500:
			config.Logger.Error("HTTP Request", fields...)
		case statusCode >= 400:
			config.Logger.Warn("HTTP Request", fields...)
		default:
			config.Logger.Info("HTTP Request", fields...)
		}
	}
}

// AccessLog 访问日志中间件
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return Logging(DefaultLoggingConfig(log))
}
