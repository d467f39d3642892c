package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors for the ingestion pipeline. Outcome labels are a
// small fixed set so cardinality stays bounded.
var (
	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whoop_webhooks_total",
			Help: "Webhook deliveries by outcome (accepted, unauthenticated, misconfigured, malformed, error)",
		},
		[]string{"outcome"},
	)

	LedgerMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whoop_resource_ledger_mutations_total",
			Help: "Resource ledger mutations by domain and action",
		},
		[]string{"domain", "action"},
	)

	SleepFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whoop_sleep_fetch_total",
			Help: "Sleep fetch-and-store attempts by outcome (stored, skipped, failed)",
		},
		[]string{"outcome"},
	)

	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whoop_token_refresh_total",
			Help: "OAuth refresh attempts by outcome (ok, failed)",
		},
		[]string{"outcome"},
	)

	SettlementTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_submissions_total",
			Help: "Settlement submissions by outcome (submitted, disabled, no_wallet, no_metrics, failed)",
		},
		[]string{"outcome"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whoop_provider_request_duration_seconds",
			Help:    "Outbound WHOOP API call duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WebhooksTotal,
			LedgerMutationsTotal,
			SleepFetchTotal,
			TokenRefreshTotal,
			SettlementTotal,
			ProviderRequestDuration,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// Middleware records request count and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		httpRequestDuration.WithLabelValues(handler, c.Request.Method).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(handler, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
