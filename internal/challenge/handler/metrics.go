package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daygoal_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "daygoal_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	joinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daygoal_joins_total",
		Help: "Total join requests filed.",
	})

	confirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daygoal_confirmations_total",
		Help: "Total leader decisions by outcome.",
	}, []string{"decision"})

	schedulerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daygoal_scheduler_transitions_total",
		Help: "Total challenge status transitions applied by the scheduler.",
	}, []string{"to"})
)

// PrometheusMiddleware returns a Gin middleware recording per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler serving the Prometheus scrape endpoint.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordSchedulerTransitions records status flips applied by a scheduler run.
func RecordSchedulerTransitions(to string, n int) {
	schedulerTransitionsTotal.WithLabelValues(to).Add(float64(n))
}
