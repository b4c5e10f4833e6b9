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
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 厂商调用指标
	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec

	// 资源重定位指标
	relocationsTotal   *prometheus.CounterVec
	relocationDuration *prometheus.HistogramVec
	relocationBytes    *prometheus.CounterVec

	// 代理指标
	proxyRequestsTotal *prometheus.CounterVec
	proxyDuration      *prometheus.HistogramVec
	proxyBytes         *prometheus.CounterVec
	proxyRedirects     prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
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

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 厂商调用指标
	c.providerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Total number of video provider calls",
		},
		[]string{"provider", "operation", "outcome"}, // operation: submit, poll
	)

	c.providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Video provider call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "operation"},
	)

	// 资源重定位指标
	c.relocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocations_total",
			Help:      "Total number of asset relocation attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	c.relocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relocation_duration_seconds",
			Help:      "Asset relocation duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"provider"},
	)

	c.relocationBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocation_bytes_total",
			Help:      "Total bytes copied into object storage",
		},
		[]string{"provider"},
	)

	// 代理指标
	c.proxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of proxied asset requests",
		},
		[]string{"outcome", "status"},
	)

	c.proxyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_duration_seconds",
			Help:      "Proxied asset stream duration in seconds",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		},
		[]string{"outcome"},
	)

	c.proxyBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_bytes_total",
			Help:      "Total bytes streamed to proxy clients",
		},
		[]string{"outcome"},
	)

	c.proxyRedirects = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_redirect_hops",
			Help:      "Redirect hops followed per proxied request",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🎬 厂商调用指标记录
// =============================================================================

// ObserveProviderCall 记录一次 submit / poll
func (c *Collector) ObserveProviderCall(provider, operation, outcome string, duration time.Duration) {
	c.providerCallsTotal.WithLabelValues(provider, operation, outcome).Inc()
	c.providerCallDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// =============================================================================
// 📦 资源重定位指标记录
// =============================================================================

// ObserveRelocation 记录一次重定位
func (c *Collector) ObserveRelocation(provider, outcome string, duration time.Duration, bytes int64) {
	c.relocationsTotal.WithLabelValues(provider, outcome).Inc()
	c.relocationDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if bytes > 0 {
		c.relocationBytes.WithLabelValues(provider).Add(float64(bytes))
	}
}

// =============================================================================
// 🔀 代理指标记录
// =============================================================================

// ObserveProxy 记录一次代理请求
func (c *Collector) ObserveProxy(outcome string, status int, bytes int64, redirects int, duration time.Duration) {
	c.proxyRequestsTotal.WithLabelValues(outcome, statusCode(status)).Inc()
	c.proxyDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if bytes > 0 {
		c.proxyBytes.WithLabelValues(outcome).Add(float64(bytes))
	}
	c.proxyRedirects.Observe(float64(redirects))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
