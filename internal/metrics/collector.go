// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 回合指标
	turnsTotal    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	turnTokens    *prometheus.CounterVec
	busyRejects   *prometheus.CounterVec
	turnEndReason *prometheus.CounterVec

	// 调和指标
	reconcileMismatches *prometheus.CounterVec

	// 浏览器会话指标
	sessionsOpen       *prometheus.GaugeVec
	sessionRecreations *prometheus.CounterVec

	// 登录指标
	loginTransitions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 回合指标
	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns",
		},
		[]string{"provider", "model", "status"},
	)

	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Conversation turn duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "model"},
	)

	c.turnTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_tokens_total",
			Help:      "Estimated tokens processed per turn",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.busyRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_rejections_total",
			Help:      "Turns rejected because the provider gate was held",
		},
		[]string{"provider"},
	)

	c.turnEndReason = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_end_reasons_total",
			Help:      "Completion detection reason per finished turn",
		},
		[]string{"provider", "reason"},
	)

	// 调和指标
	c.reconcileMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_mismatches_total",
			Help:      "Final-text corrections emitted after stream end",
		},
		[]string{"provider"},
	)

	// 浏览器会话指标
	c.sessionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_sessions_open",
			Help:      "Number of live browser sessions",
		},
		[]string{"provider"},
	)

	c.sessionRecreations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_session_recreations_total",
			Help:      "Browser sessions dropped and reopened after a dead-session error",
		},
		[]string{"provider"},
	)

	// 登录指标
	c.loginTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_state_transitions_total",
			Help:      "Login dialog state transitions",
		},
		[]string{"provider", "to_state"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTurn 记录一个完整回合
func (c *Collector) RecordTurn(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.turnsTotal.WithLabelValues(provider, model, status).Inc()
	c.turnDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.turnTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.turnTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// RecordBusyRejection 记录并发闸门拒绝
func (c *Collector) RecordBusyRejection(provider string) {
	c.busyRejects.WithLabelValues(provider).Inc()
}

// RecordEndReason 记录完成判定原因
func (c *Collector) RecordEndReason(provider, reason string) {
	c.turnEndReason.WithLabelValues(provider, reason).Inc()
}

// RecordReconcileMismatch 记录终局校正
func (c *Collector) RecordReconcileMismatch(provider string) {
	c.reconcileMismatches.WithLabelValues(provider).Inc()
}

// SetSessionsOpen 更新存活会话数
func (c *Collector) SetSessionsOpen(provider string, n int) {
	c.sessionsOpen.WithLabelValues(provider).Set(float64(n))
}

// RecordSessionRecreation 记录会话重建
func (c *Collector) RecordSessionRecreation(provider string) {
	c.sessionRecreations.WithLabelValues(provider).Inc()
}

// RecordLoginTransition 记录登录状态迁移
func (c *Collector) RecordLoginTransition(provider, toState string) {
	c.loginTransitions.WithLabelValues(provider, toState).Inc()
}

func statusCode(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
