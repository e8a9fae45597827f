// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordTrade(side, result string, duration time.Duration)
	RecordQuoteFetch(result string, latency time.Duration)
	RecordSessionCreated()
	RecordSessionsSwept(n int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	trades          *prometheus.CounterVec
	tradeDuration   *prometheus.HistogramVec
	quoteFetch      *prometheus.CounterVec
	quoteLatency    prometheus.Histogram
	sessionsCreated prometheus.Counter
	sessionsSwept   prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockmarket_trades_total",
			Help: "売買区分・結果別の取引数",
		}, []string{"side", "result"}),
		tradeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mockmarket_trade_duration_seconds",
			Help:    "取引処理の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"side"}),
		quoteFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockmarket_quote_fetch_total",
			Help: "結果別の株価取得数",
		}, []string{"result"}),
		quoteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mockmarket_quote_latency_seconds",
			Help:    "株価取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mockmarket_sessions_created_total",
			Help: "作成されたセッションの合計数",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mockmarket_sessions_swept_total",
			Help: "期限切れで削除されたセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockmarket_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.trades,
		c.tradeDuration,
		c.quoteFetch,
		c.quoteLatency,
		c.sessionsCreated,
		c.sessionsSwept,
		c.httpStatus,
	)

	return c
}

// RecordTrade は取引の結果と所要時間を記録する。
func (c *Collector) RecordTrade(side, result string, duration time.Duration) {
	c.trades.WithLabelValues(side, result).Inc()
	c.tradeDuration.WithLabelValues(side).Observe(duration.Seconds())
}

// RecordQuoteFetch は株価取得の結果を記録する。キャッシュヒットはレイテンシに含めない。
func (c *Collector) RecordQuoteFetch(result string, latency time.Duration) {
	c.quoteFetch.WithLabelValues(result).Inc()
	if result != "cached" {
		c.quoteLatency.Observe(latency.Seconds())
	}
}

// RecordSessionCreated はセッション作成を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordSessionsSwept は期限切れセッションの削除件数を記録する。
func (c *Collector) RecordSessionsSwept(n int64) {
	if n > 0 {
		c.sessionsSwept.Add(float64(n))
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
