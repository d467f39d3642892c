package whoop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/metrics"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

// RefreshLookahead is how close to expiry a token may get before it is
// refreshed ahead of use.
const RefreshLookahead = 60 * time.Second

type CredentialStore interface {
	GetCredential(ctx context.Context, whoopUserID int64) (models.Credential, error)
	UpdateTokens(ctx context.Context, whoopUserID int64, upd models.TokenUpdate) (models.Credential, error)
}

type TokenRefresher interface {
	HasClientCredentials() bool
	RefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error)
}

// TokenManager keeps stored access tokens usable. It does not serialize
// refreshes: two racing refreshes for one user both persist and the last
// write wins.
type TokenManager struct {
	store  CredentialStore
	client TokenRefresher
	logger *zap.Logger
	now    func() time.Time
}

func NewTokenManager(store CredentialStore, client TokenRefresher, logger *zap.Logger) *TokenManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenManager{store: store, client: client, logger: logger, now: time.Now}
}

// NeedsRefresh reports whether the credential expires within the lookahead
// window. A credential without a known expiry is assumed valid.
func (m *TokenManager) NeedsRefresh(c models.Credential) bool {
	if c.AccessTokenExpiresAt == nil {
		return false
	}
	return !m.now().Add(RefreshLookahead).Before(*c.AccessTokenExpiresAt)
}

// EnsureValid returns a token to use for c. When a proactive refresh fails
// the stored token is returned and downstream 401 handling decides.
func (m *TokenManager) EnsureValid(ctx context.Context, c models.Credential) string {
	if !m.NeedsRefresh(c) {
		return c.AccessToken
	}
	refreshed, err := m.RefreshAndPersist(ctx, c.WhoopUserID)
	if err != nil {
		m.logger.Warn("proactive token refresh failed, using stored token",
			zap.Int64("user_id", c.WhoopUserID), zap.Error(err))
		return c.AccessToken
	}
	return refreshed.AccessToken
}

// RefreshAndPersist exchanges the stored refresh token and saves the result.
// Every failure is wrapped in models.ErrRefreshFailed.
func (m *TokenManager) RefreshAndPersist(ctx context.Context, whoopUserID int64) (models.Credential, error) {
	cred, err := m.refreshAndPersist(ctx, whoopUserID)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("failed").Inc()
		return models.Credential{}, fmt.Errorf("%w: %w", models.ErrRefreshFailed, err)
	}
	metrics.TokenRefreshTotal.WithLabelValues("ok").Inc()
	m.logger.Info("token refreshed", zap.Int64("user_id", whoopUserID))
	return cred, nil
}

func (m *TokenManager) refreshAndPersist(ctx context.Context, whoopUserID int64) (models.Credential, error) {
	current, err := m.store.GetCredential(ctx, whoopUserID)
	if err != nil {
		return models.Credential{}, fmt.Errorf("load credential: %w", err)
	}
	if current.RefreshToken == "" {
		return models.Credential{}, fmt.Errorf("no refresh token stored")
	}
	if m.client == nil || !m.client.HasClientCredentials() {
		return models.Credential{}, fmt.Errorf("%w: oauth client credentials not configured", models.ErrMisconfigured)
	}

	tok, err := m.client.RefreshToken(ctx, current.RefreshToken)
	if err != nil {
		return models.Credential{}, err
	}

	upd := models.TokenUpdate{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if upd.RefreshToken == "" {
		upd.RefreshToken = current.RefreshToken
	}
	if tok.ExpiresIn > 0 {
		exp := m.now().Add(time.Duration(tok.ExpiresIn) * time.Second).UTC()
		upd.ExpiresAt = &exp
	}

	updated, err := m.store.UpdateTokens(ctx, whoopUserID, upd)
	if err != nil {
		return models.Credential{}, fmt.Errorf("persist tokens: %w", err)
	}
	return updated, nil
}
