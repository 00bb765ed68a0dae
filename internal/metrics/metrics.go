package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	RoomsCreated   prometheus.Counter
	RoomsEnded     prometheus.Counter
	SignalsSent    *prometheus.CounterVec
	SignalsFetched prometheus.Counter
	FetchBatchSize prometheus.Histogram
	// Сохраненные сигналы, которые не удалось разобрать при выдаче
	SignalsUnreadable prometheus.Counter

	RateLimited   prometheus.Counter
	NudgesDropped prometheus.Counter
	WSSubscribers prometheus.Gauge
}

// NewCollector регистрирует метрики в reg
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"method", "path", "status"}),

		RoomsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtc",
			Name:      "rooms_created_total",
			Help:      "Consultation rooms created.",
		}),

		RoomsEnded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtc",
			Name:      "rooms_ended_total",
			Help:      "Consultation rooms ended.",
		}),

		SignalsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtc",
			Name:      "signals_sent_total",
			Help:      "Signals accepted by the relay, by type.",
		}, []string{"type"}),

		SignalsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtc",
			Name:      "signals_fetched_total",
			Help:      "Signals delivered to receivers.",
		}),

		FetchBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rtc",
			Name:      "fetch_batch_size",
			Help:      "Signals returned per fetch.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
		}),

		SignalsUnreadable: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtc",
			Name:      "signals_unreadable_total",
			Help:      "Stored signals withheld from fetch because they could not be decoded.",
		}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtc",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-user limiter.",
		}),

		NudgesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "nudges_dropped_total",
			Help:      "Nudges dropped because a client queue was full.",
		}),

		WSSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "subscribers",
			Help:      "Open websocket subscriptions.",
		}),
	}
}

// Handler отдает метрики из gatherer
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
