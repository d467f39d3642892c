package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

type StatsSource interface {
	Stats(ctx context.Context, wallet string) models.UserStats
}

type LeaderboardSource interface {
	Top(ctx context.Context, limit int) (models.Leaderboard, error)
	Rank(ctx context.Context, wallet string) (models.UserRank, error)
	Weekly(ctx context.Context) models.Leaderboard
}

// RegisterStatsRoutes registers the settlement read endpoints.
//
// GET /stats/:walletAddress               balance and streaks, zeroed when settlement is off
// GET /leaderboard?limit=N                top users by token balance (default 10, max 50)
// GET /leaderboard/weekly                 always empty for now
// GET /leaderboard/user/:walletAddress    one user's rank
func RegisterStatsRoutes(r gin.IRoutes, stats StatsSource, board LeaderboardSource) {
	r.GET("/stats/:walletAddress", func(c *gin.Context) {
		c.JSON(http.StatusOK, stats.Stats(c.Request.Context(), c.Param("walletAddress")))
	})

	r.GET("/leaderboard", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
				return
			}
			limit = n
		}
		lb, err := board.Top(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, lb)
	})

	r.GET("/leaderboard/weekly", func(c *gin.Context) {
		c.JSON(http.StatusOK, board.Weekly(c.Request.Context()))
	})

	r.GET("/leaderboard/user/:walletAddress", func(c *gin.Context) {
		rank, err := board.Rank(c.Request.Context(), c.Param("walletAddress"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rank)
	})
}
