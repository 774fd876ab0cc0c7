// Package devserver — Prometheus instrumentation.
package devserver

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// httpReqs counts requests by method, route path, and status code.
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatstub_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// httpLat records request duration in seconds by method and route path.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatstub_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// feedClients gauges currently connected realtime clients.
	feedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatstub_realtime_clients",
			Help: "Currently connected realtime feed clients.",
		},
	)

	// feedInserts counts insert frames broadcast to the feed.
	feedInserts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatstub_realtime_inserts_total",
			Help: "Total message insert events broadcast on the feed.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, feedClients, feedInserts)
}

// Metrics returns a Gin middleware instrumenting requests with Prometheus.
// The "path" label uses the registered route to keep cardinality bounded,
// falling back to the raw path when no route matched.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
