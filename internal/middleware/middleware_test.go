package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dumeirei/commission-ledger/internal/common/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	t.Run("生成新ID", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/ping", nil)
		id := w.Header().Get(HeaderRequestID)
		assert.Len(t, id, 36)
		assert.Equal(t, id, w.Body.String())
	})

	t.Run("沿用请求头", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/ping", map[string]string{HeaderRequestID: "req-1"})
		assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
		assert.Equal(t, "req-1", w.Body.String())
	})
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := gin.New()
	r.Use(RequestID(), Recovery(zap.New(core)))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := perform(r, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1006, resp.Code)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "boom", logs.All()[0].ContextMap()["error"])
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(RequestID(), AccessLog(zap.New(core)))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/distribution/:id/summary", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	perform(r, http.MethodGet, "/health", nil)
	assert.Equal(t, 0, logs.Len())

	perform(r, http.MethodGet, "/api/v1/distribution/7/summary", map[string]string{HeaderRequestID: "req-7"})
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-7", fields["request_id"])
	assert.Equal(t, "/api/v1/distribution/:id/summary", fields["route"])
	assert.Equal(t, int64(200), fields["status_code"])

	perform(r, http.MethodGet, "/boom", nil)
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
}

func TestRequestSizeLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RequestSizeLimiter(8))
	r.POST("/echo", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"amount":"1000000"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(r, http.MethodPost, "/echo", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecureHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecureHeaders())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, http.MethodGet, "/x", nil)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestRateLimit(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	r.POST("/distribution/:id/withdrawals", RateLimit(&RateLimitConfig{
		RedisClient: client,
		Scope:       "withdraw",
		Limit:       2,
		Window:      time.Minute,
		KeyFunc:     ParamKey("id"),
	}), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := perform(r, http.MethodPost, "/distribution/1/withdrawals", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := perform(r, http.MethodPost, "/distribution/1/withdrawals", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// 不同分销商独立计数
	w = perform(r, http.MethodPost, "/distribution/2/withdrawals", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.Exists("ratelimit:withdraw:1"))

	// 窗口过期后恢复
	s.FastForward(time.Minute + time.Second)
	w = perform(r, http.MethodPost, "/distribution/1/withdrawals", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Redis 不可用时放行
	s.Close()
	w = perform(r, http.MethodPost, "/distribution/1/withdrawals", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_NoRedis(t *testing.T) {
	r := gin.New()
	r.GET("/x", RateLimit(&RateLimitConfig{Scope: "x", Limit: 0}), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/x", nil).Code)
}

func TestTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := gin.New()
	r.Use(Tracing("/health"))
	var traceID string
	r.GET("/api/v1/distribution/:id/summary", func(c *gin.Context) {
		traceID = GetTraceID(c)
		c.Status(http.StatusOK)
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	perform(r, http.MethodGet, "/api/v1/distribution/1/summary", nil)
	perform(r, http.MethodGet, "/health", nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/v1/distribution/:id/summary", spans[0].Name)
	assert.Equal(t, spans[0].SpanContext.TraceID().String(), traceID)
}
