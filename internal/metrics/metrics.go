// Package metrics 集中定义 Prometheus 指标（promauto 注册到默认 registry，由 /metrics 暴露）。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SourceFetches 按来源与结果统计每个 racing 分支。
	// outcome：ok / fetch_error / parse_error / not_found / breaker_open / panic
	SourceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratingmeta_source_fetches_total",
			Help: "Rating source branch outcomes",
		},
		[]string{"source", "outcome"},
	)

	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratingmeta_source_fetch_duration_seconds",
			Help:    "Duration of one rating source branch (fetch + parse)",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"source"},
	)

	// RaceOutcomes：won / exhausted / canceled
	RaceOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratingmeta_race_outcomes_total",
			Help: "Rating acquisition race results",
		},
		[]string{"outcome"},
	)

	RaceWinners = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratingmeta_race_winners_total",
			Help: "Winning source per race",
		},
		[]string{"source"},
	)

	// CacheRequests：kind=ratings/json，result=hit/miss/error
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratingmeta_cache_requests_total",
			Help: "Cache lookups by kind and result",
		},
		[]string{"kind", "result"},
	)

	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratingmeta_cache_writes_total",
			Help: "Cache writes by kind and result",
		},
		[]string{"kind", "result"},
	)

	// PosterAnnotations：annotated / passthrough / failed
	PosterAnnotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratingmeta_poster_annotations_total",
			Help: "Poster annotation results",
		},
		[]string{"result"},
	)

	// BreakerState：0=closed 1=half-open 2=open（与 gobreaker.State 数值一致）
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ratingmeta_source_breaker_state",
			Help: "Circuit breaker state per rating source",
		},
		[]string{"source"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratingmeta_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratingmeta_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	CatalogItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratingmeta_catalog_items_total",
			Help: "Catalog entries enriched, by ratings source (database/scrape)",
		},
		[]string{"source"},
	)
)
