package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

type AccountStore interface {
	UpsertCredential(ctx context.Context, c models.Credential) (models.Credential, error)
	GetCredentialByWallet(ctx context.Context, walletAddress string) (models.Credential, error)
}

// accountView is what GET /user returns. Tokens are never echoed back.
type accountView struct {
	WhoopUserID          int64      `json:"whoopUserId"`
	WalletAddress        string     `json:"walletAddress"`
	AccessTokenExpiresAt *time.Time `json:"accessTokenExpiresAt"`
	HasRefreshToken      bool       `json:"hasRefreshToken"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

func newAccountView(c models.Credential) accountView {
	return accountView{
		WhoopUserID:          c.WhoopUserID,
		WalletAddress:        c.WalletAddress,
		AccessTokenExpiresAt: c.AccessTokenExpiresAt,
		HasRefreshToken:      c.RefreshToken != "",
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

// RegisterAccountRoutes registers account linking.
//
// POST /register             upserts the WHOOP credential for a wallet
// GET  /user/:walletAddress  returns the linked account (without tokens) or 404
func RegisterAccountRoutes(r gin.IRoutes, st AccountStore) {
	r.POST("/register", func(c *gin.Context) {
		var req models.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		req.WalletAddress = strings.TrimSpace(req.WalletAddress)
		req.AccessToken = strings.TrimSpace(req.AccessToken)

		// Required fields per contract.
		if req.WhoopUserID == 0 || req.WalletAddress == "" || req.AccessToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "whoopUserId, walletAddress and accessToken are required"})
			return
		}

		if _, err := st.UpsertCredential(c.Request.Context(), req.Credential(time.Now())); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.GET("/user/:walletAddress", func(c *gin.Context) {
		cred, err := st.GetCredentialByWallet(c.Request.Context(), c.Param("walletAddress"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, newAccountView(cred))
	})
}
