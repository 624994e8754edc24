// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とワーカーから利用する。
type MetricsCollector interface {
	RecordPinCreated(status string)
	RecordPinConfirmed()
	RecordAcceptBatch(lines int, quantity int)
	RecordPinCompleted()
	RecordReconcileHealed()
	RecordFanoutNotifications(count int)
	RecordFanoutFailure()
	RecordGeocodeLatency(duration time.Duration)
	RecordGeocodeFailure()
	RecordGeocodeCacheHit()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	pinsCreated      *prometheus.CounterVec
	pinsConfirmed    prometheus.Counter
	accepts          prometheus.Counter
	acceptedQuantity prometheus.Counter
	pinsCompleted    prometheus.Counter
	reconcileHealed  prometheus.Counter
	fanoutTotal      prometheus.Counter
	fanoutFailures   prometheus.Counter
	geocodeLatency   prometheus.Histogram
	geocodeFailures  prometheus.Counter
	geocodeCacheHits prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pinsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kyuen_pins_created_total",
			Help: "作成された救援要請の合計数（初期ステータス別）",
		}, []string{"status"}),
		pinsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyuen_pins_confirmed_total",
			Help: "トラッカーにより確認された救援要請の合計数",
		}),
		accepts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyuen_accepts_total",
			Help: "受諾されたラインアイテム数の合計",
		}),
		acceptedQuantity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyuen_accepted_quantity_total",
			Help: "受諾された物資数量の合計",
		}),
		pinsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyuen_pins_completed_total",
			Help: "全ラインアイテム充足により削除された救援要請の合計数",
		}),
		reconcileHealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyuen_reconcile_healed_total",
			Help: "reconcileにより回復された救援要請の合計数",
		}),
		fanoutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyuen_notifications_fanout_total",
			Help: "ファンアウトで作成された通知レコードの合計数",
		}),
		fanoutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyuen_notification_fanout_failures_total",
			Help: "通知ファンアウト失敗の合計数",
		}),
		geocodeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kyuen_geocode_latency_seconds",
			Help:    "逆ジオコーディングのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		geocodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyuen_geocode_failures_total",
			Help: "逆ジオコーディング失敗の合計数",
		}),
		geocodeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyuen_geocode_cache_hits_total",
			Help: "地域キャッシュヒットの合計数",
		}),
	}

	reg.MustRegister(
		c.pinsCreated,
		c.pinsConfirmed,
		c.accepts,
		c.acceptedQuantity,
		c.pinsCompleted,
		c.reconcileHealed,
		c.fanoutTotal,
		c.fanoutFailures,
		c.geocodeLatency,
		c.geocodeFailures,
		c.geocodeCacheHits,
	)

	return c
}

// RecordPinCreated は救援要請の作成を初期ステータス別に記録する。
func (c *Collector) RecordPinCreated(status string) {
	c.pinsCreated.WithLabelValues(status).Inc()
}

// RecordPinConfirmed は確認遷移を記録する。
func (c *Collector) RecordPinConfirmed() {
	c.pinsConfirmed.Inc()
}

// RecordAcceptBatch は受諾バッチの行数と数量を記録する。
func (c *Collector) RecordAcceptBatch(lines int, quantity int) {
	c.accepts.Add(float64(lines))
	c.acceptedQuantity.Add(float64(quantity))
}

// RecordPinCompleted は完了削除を記録する。
func (c *Collector) RecordPinCompleted() {
	c.pinsCompleted.Inc()
}

// RecordReconcileHealed はreconcileによる回復を記録する。
func (c *Collector) RecordReconcileHealed() {
	c.reconcileHealed.Inc()
}

// RecordFanoutNotifications はファンアウトで作成した通知数を記録する。
func (c *Collector) RecordFanoutNotifications(count int) {
	c.fanoutTotal.Add(float64(count))
}

// RecordFanoutFailure はファンアウト失敗を記録する。
func (c *Collector) RecordFanoutFailure() {
	c.fanoutFailures.Inc()
}

// RecordGeocodeLatency は逆ジオコーディングのレイテンシを記録する。
func (c *Collector) RecordGeocodeLatency(duration time.Duration) {
	c.geocodeLatency.Observe(duration.Seconds())
}

// RecordGeocodeFailure は逆ジオコーディング失敗を記録する。
func (c *Collector) RecordGeocodeFailure() {
	c.geocodeFailures.Inc()
}

// RecordGeocodeCacheHit は地域キャッシュヒットを記録する。
func (c *Collector) RecordGeocodeCacheHit() {
	c.geocodeCacheHits.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
