// Package metrics 提供 Prometheus 指标收集
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics 指标收集器
// 所有记录方法允许在 nil 接收者上调用
type Metrics struct {
	registry             prometheus.Gatherer
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
	cacheHitsTotal       *prometheus.CounterVec
	cacheMissesTotal     *prometheus.CounterVec
	entriesTotal         *prometheus.CounterVec
	commissionAmount     *prometheus.CounterVec
	chainCyclesTotal     prometheus.Counter
	versionConflicts     *prometheus.CounterVec
	withdrawalsTotal     *prometheus.CounterVec
	eventsTotal          *prometheus.CounterVec
	taskRunsTotal        *prometheus.CounterVec
	taskDuration         *prometheus.HistogramVec
}

var defaultMetrics *Metrics

// Init 在默认注册表上初始化指标收集器，进程内只应调用一次
func Init(namespace string) *Metrics {
	defaultMetrics = New(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	return defaultMetrics
}

// NewRegistry 在独立注册表上创建指标收集器，用于测试
func NewRegistry(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	return New(namespace, reg, reg)
}

// New 创建指标收集器
func New(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	if namespace == "" {
		namespace = "commission_ledger"
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: gatherer,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		cacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),
		cacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),
		entriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_entries_total",
				Help:      "Ledger entry transitions by target status",
			},
			[]string{"status"},
		),
		commissionAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commission_amount_total",
				Help:      "Commission amount moved by operation",
			},
			[]string{"operation"},
		),
		chainCyclesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_cycles_total",
				Help:      "Referral chains truncated because of a cycle",
			},
		),
		versionConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "balance_version_conflicts_total",
				Help:      "Optimistic version conflicts on distributor balances",
			},
			[]string{"operation"},
		),
		withdrawalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "withdrawals_total",
				Help:      "Withdrawal requests by resulting status",
			},
			[]string{"status"},
		),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_events_total",
				Help:      "Order events consumed by topic and result",
			},
			[]string{"topic", "result"},
		),
		taskRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_total",
				Help:      "Scheduled task runs by result",
			},
			[]string{"task", "result"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Scheduled task duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 30, 60, 300},
			},
			[]string{"task"},
		),
	}
}

// Gatherer 指标所在的注册表
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// GetMetrics 获取默认指标收集器
func GetMetrics() *Metrics {
	return defaultMetrics
}

// Middleware 返回 Gin 中间件
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.httpRequestsInFlight.Inc()

		c.Next()

		m.httpRequestsInFlight.Dec()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP 处理器
func (m *Metrics) Handler() gin.HandlerFunc {
	var h http.Handler
	if m == nil || m.registry == nil {
		h = promhttp.Handler()
	} else {
		h = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	}
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordCacheHit 记录缓存命中
func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordEntries 记录佣金记录状态变化
func (m *Metrics) RecordEntries(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.entriesTotal.WithLabelValues(status).Add(float64(n))
}

// RecordAmount 记录资金变动金额
func (m *Metrics) RecordAmount(operation string, amount decimal.Decimal) {
	if m == nil || amount.IsNegative() {
		return
	}
	m.commissionAmount.WithLabelValues(operation).Add(amount.InexactFloat64())
}

// RecordChainCycle 记录推荐链循环
func (m *Metrics) RecordChainCycle() {
	if m == nil {
		return
	}
	m.chainCyclesTotal.Inc()
}

// RecordVersionConflict 记录余额版本冲突
func (m *Metrics) RecordVersionConflict(operation string) {
	if m == nil {
		return
	}
	m.versionConflicts.WithLabelValues(operation).Inc()
}

// RecordWithdrawal 记录提现状态
func (m *Metrics) RecordWithdrawal(status string) {
	if m == nil {
		return
	}
	m.withdrawalsTotal.WithLabelValues(status).Inc()
}

// RecordEvent 记录订单事件处理结果
func (m *Metrics) RecordEvent(topic, result string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(topic, result).Inc()
}

// RecordTask 记录定时任务执行
func (m *Metrics) RecordTask(task, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskRunsTotal.WithLabelValues(task, result).Inc()
	m.taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}
