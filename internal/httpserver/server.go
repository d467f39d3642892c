package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/handlers"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/logging"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/metrics"
)

// Pinger is the readiness dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Store interface {
	Pinger
	handlers.AccountStore
	handlers.SleepStore
}

type Deps struct {
	Logger         *zap.Logger
	Store          Store
	Webhooks       handlers.WebhookProcessor
	Stats          handlers.StatsSource
	Leaderboard    handlers.LeaderboardSource
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// NewRouter wires the public endpoints.
// Operational: /health, /ready, /metrics
// WHOOP: /webhook, /register, /user, /sleep
// Settlement: /stats, /leaderboard
func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	metrics.Register()

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(logging.Middleware(logger), logging.Recovery(logger), metrics.Middleware())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := d.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/")
	if d.RequestTimeout > 0 {
		api.Use(requestTimeout(d.RequestTimeout))
	}
	handlers.RegisterWebhookRoutes(api, d.Webhooks, d.MaxBodyBytes)
	handlers.RegisterAccountRoutes(api, d.Store)
	handlers.RegisterSleepRoutes(api, d.Store)
	handlers.RegisterStatsRoutes(api, d.Stats, d.Leaderboard)

	return r
}

// requestTimeout bounds the request context so storage and provider calls
// made on its behalf give up together.
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
