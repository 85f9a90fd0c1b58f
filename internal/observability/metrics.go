package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_http_requests_total",
			Help: "Total number of HTTP requests processed by the sync sidecar.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	mergedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_messages_merged_total",
			Help: "Records inserted into room windows.",
		},
		[]string{"source"},
	)
	droppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_messages_dropped_total",
			Help: "Malformed records dropped before merge.",
		},
		[]string{"source"},
	)
	staleDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_stale_responses_total",
			Help: "Responses dropped because the user navigated away.",
		},
		[]string{"op"},
	)
	fetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_fetch_errors_total",
			Help: "Failed reads against the message store.",
		},
		[]string{"op"},
	)
	optimisticTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_optimistic_writes_total",
			Help: "Optimistic writes by kind and outcome.",
		},
		[]string{"op", "outcome"},
	)
	pushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_push_events_total",
			Help: "Push events by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	pushConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_push_connected",
			Help: "1 while the push source is connected.",
		},
		[]string{"source"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		mergedTotal,
		droppedTotal,
		staleDropsTotal,
		fetchErrorsTotal,
		optimisticTotal,
		pushEventsTotal,
		pushConnected,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func AddMerged(source string, n int) {
	if n > 0 {
		mergedTotal.WithLabelValues(source).Add(float64(n))
	}
}

func AddDropped(source string, n int) {
	if n > 0 {
		droppedTotal.WithLabelValues(source).Add(float64(n))
	}
}

func IncStaleDrop(op string) {
	staleDropsTotal.WithLabelValues(op).Inc()
}

func IncFetchError(op string) {
	fetchErrorsTotal.WithLabelValues(op).Inc()
}

func IncOptimistic(op, outcome string) {
	optimisticTotal.WithLabelValues(op, outcome).Inc()
}

func IncPushEvent(kind, outcome string) {
	pushEventsTotal.WithLabelValues(kind, outcome).Inc()
}

func SetPushConnected(source string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	pushConnected.WithLabelValues(source).Set(v)
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
