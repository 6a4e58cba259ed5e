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
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the realtime service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	fanoutDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_dispatch_total",
			Help: "Per-connection fanout dispatch outcomes.",
		},
		[]string{"event", "outcome"},
	)
	presenceTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_transitions_total",
			Help: "Presence status transitions emitted by the tracker.",
		},
		[]string{"status"},
	)
	deliveryTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_delivery_transitions_total",
			Help: "Delivery state transitions recorded by the tracker.",
		},
		[]string{"state"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		fanoutDispatchTotal,
		presenceTransitionsTotal,
		deliveryTransitionsTotal,
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

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func ObserveFanout(event string, delivered, failed int) {
	if delivered > 0 {
		fanoutDispatchTotal.WithLabelValues(event, "delivered").Add(float64(delivered))
	}
	if failed > 0 {
		fanoutDispatchTotal.WithLabelValues(event, "failed").Add(float64(failed))
	}
}

func IncPresenceTransition(status string) {
	presenceTransitionsTotal.WithLabelValues(status).Inc()
}

func IncDeliveryTransition(state string) {
	deliveryTransitionsTotal.WithLabelValues(state).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
