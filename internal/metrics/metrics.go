// Package metrics holds the prometheus collectors for the tree service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rollMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merkleroll_mutations_total",
		Help: "Total tree mutations by operation and result.",
	}, []string{"op", "result"})

	rollLeaves = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "merkleroll_leaves",
		Help: "Leaf positions in use, summed over every tree held by the service.",
	})

	rollTreesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "merkleroll_trees",
		Help: "Number of trees held by the service.",
	})

	rollPersistDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "merkleroll_persist_duration_seconds",
		Help:    "Time taken to write a tree to its store.",
		Buckets: prometheus.DefBuckets,
	})

	rollRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merkleroll_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	rollRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "merkleroll_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordMutation counts one attempted mutation. result is "ok" or the error
// kind that rejected it.
func RecordMutation(op, result string) {
	rollMutationsTotal.WithLabelValues(op, result).Inc()
}

// AddLeaves moves the leaf gauge by delta, which is negative when a tree is
// replaced by a smaller one.
func AddLeaves(delta int64) {
	rollLeaves.Add(float64(delta))
}

func SetTrees(n int) {
	rollTreesTotal.Set(float64(n))
}

func ObservePersist(d time.Duration) {
	rollPersistDuration.Observe(d.Seconds())
}

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
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

		rollRequestsTotal.WithLabelValues(method, path, status).Inc()
		rollRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// Handler returns a Gin handler that serves Prometheus metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
