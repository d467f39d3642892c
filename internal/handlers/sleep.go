package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

type SleepStore interface {
	GetCredentialByWallet(ctx context.Context, walletAddress string) (models.Credential, error)
	LatestSleep(ctx context.Context, whoopUserID int64) (models.SleepRecord, error)
}

// RegisterSleepRoutes registers GET /sleep/:walletAddress, which returns the
// raw WHOOP payload of the user's most recent sleep, or null if none synced.
func RegisterSleepRoutes(r gin.IRoutes, st SleepStore) {
	r.GET("/sleep/:walletAddress", func(c *gin.Context) {
		ctx := c.Request.Context()
		cred, err := st.GetCredentialByWallet(ctx, c.Param("walletAddress"))
		if err != nil {
			writeError(c, err)
			return
		}

		rec, err := st.LatestSleep(ctx, cred.WhoopUserID)
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusOK, nil)
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", rec.Raw)
	})
}
