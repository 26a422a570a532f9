package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Metrics 收集 RPC 级别的指标
// 每个实例有自己的 Registry，测试之间互不干扰
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datasafe",
			Name:      "rpc_requests_total",
			Help:      "RPC requests by method and status code.",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datasafe",
			Name:      "rpc_duration_seconds",
			Help:      "RPC latency by method.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"method"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "datasafe",
			Name:      "rpc_inflight",
			Help:      "RPCs currently being served.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.inflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// UnaryInterceptor 统计请求数、耗时和并发数
func (m *Metrics) UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	m.inflight.Inc()
	defer m.inflight.Dec()

	start := time.Now()
	resp, err := handler(ctx, req)

	m.duration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
	m.requests.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
	return resp, err
}

// Handler 返回 /metrics 的 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 暴露给测试
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
