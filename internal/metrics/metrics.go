// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// auth.EventRecorder、email.Recorder、middleware.HTTPRecorderを満たす。
type Collector struct {
	authEvents   *prometheus.CounterVec
	emailEvents  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountman_auth_events_total",
			Help: "認証操作の結果別件数",
		}, []string{"operation", "outcome"}),
		emailEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountman_email_deliveries_total",
			Help: "メール送信の結果別件数",
		}, []string{"kind", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountman_http_requests_total",
			Help: "HTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accountman_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "accountman_email_queue_depth",
			Help: "メール送信キューの状態別件数",
		}, []string{"state"}),
	}

	reg.MustRegister(
		c.authEvents,
		c.emailEvents,
		c.httpRequests,
		c.httpDuration,
		c.queueDepth,
	)

	return c
}

// RecordAuthEvent は認証操作の結果を記録する。
func (c *Collector) RecordAuthEvent(operation, outcome string) {
	c.authEvents.WithLabelValues(operation, outcome).Inc()
}

// RecordEmail はメール送信の結果を記録する。
func (c *Collector) RecordEmail(kind, outcome string) {
	c.emailEvents.WithLabelValues(kind, outcome).Inc()
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
// routeはchiのルートパターンを渡し、パスパラメータによるラベル爆発を避ける。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetEmailQueueDepth はメール送信キューの件数を記録する。
func (c *Collector) SetEmailQueueDepth(pending, retrying, dead int64) {
	c.queueDepth.WithLabelValues("pending").Set(float64(pending))
	c.queueDepth.WithLabelValues("retrying").Set(float64(retrying))
	c.queueDepth.WithLabelValues("dead").Set(float64(dead))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
