// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス記録のインターフェース。
// アップデータとリゾルバーから利用する。
type Recorder interface {
	RecordFetchSuccess()
	RecordFetchFailure(reason string)
	RecordParseFailure()
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordItemsInserted(count int)
	RecordPacingWait(duration time.Duration)
	RecordUpdateRun(duration time.Duration)
	RecordResolve(feedsFound int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess  prometheus.Counter
	fetchFail     *prometheus.CounterVec
	parseFail     prometheus.Counter
	httpStatus    *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	itemsInserted prometheus.Counter
	pacingWait    prometheus.Histogram
	updateRun     prometheus.Histogram
	resolves      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_fetch_success_total",
			Help: "フィード取得成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_fetch_fail_total",
			Help: "フィード取得失敗の合計数（原因別）",
		}, []string{"reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_parse_fail_total",
			Help: "フィードパース失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedsync_fetch_latency_seconds",
			Help:    "フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_items_inserted_total",
			Help: "新規保存された記事の合計数",
		}),
		pacingWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedsync_pacing_wait_seconds",
			Help:    "同一ホストへのリクエスト間隔調整で待機した時間（秒）",
			Buckets: []float64{0, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		updateRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedsync_update_run_seconds",
			Help:    "全フィード更新1回あたりの所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_resolve_total",
			Help: "フィード検出の実行数（結果別）",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.parseFail,
		c.httpStatus,
		c.fetchLatency,
		c.itemsInserted,
		c.pacingWait,
		c.updateRun,
		c.resolves,
	)

	return c
}

func (c *Collector) RecordFetchSuccess() {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure は原因（transport, not_found, parse など）ごとに取得失敗を記録する。
func (c *Collector) RecordFetchFailure(reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordParseFailure() {
	c.parseFail.Inc()
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordItemsInserted(count int) {
	c.itemsInserted.Add(float64(count))
}

func (c *Collector) RecordPacingWait(duration time.Duration) {
	c.pacingWait.Observe(duration.Seconds())
}

func (c *Collector) RecordUpdateRun(duration time.Duration) {
	c.updateRun.Observe(duration.Seconds())
}

// RecordResolve はフィード検出の結果（found / not_found）を記録する。
func (c *Collector) RecordResolve(feedsFound int) {
	result := "found"
	if feedsFound == 0 {
		result = "not_found"
	}
	c.resolves.WithLabelValues(result).Inc()
}

// Nop は何も記録しないRecorder。
type Nop struct{}

func (Nop) RecordFetchSuccess() {}
func (Nop) RecordFetchFailure(string) {}
func (Nop) RecordParseFailure() {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordFetchLatency(time.Duration) {}
func (Nop) RecordItemsInserted(int) {}
func (Nop) RecordPacingWait(time.Duration) {}
func (Nop) RecordUpdateRun(time.Duration) {}
func (Nop) RecordResolve(int) {}

var _ Recorder = Nop{}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
