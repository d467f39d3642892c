package store

import (
	"context"
	"time"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

// Store is the full persistence contract. Consumers depend on the narrower
// interfaces they declare themselves.
//
// Lookups that find nothing return models.ErrNotFound. Writes that would bind
// a wallet to a second user return models.ErrConflict.
type Store interface {
	UpsertCredential(ctx context.Context, c models.Credential) (models.Credential, error)
	GetCredential(ctx context.Context, whoopUserID int64) (models.Credential, error)
	GetCredentialByWallet(ctx context.Context, walletAddress string) (models.Credential, error)
	UpdateTokens(ctx context.Context, whoopUserID int64, upd models.TokenUpdate) (models.Credential, error)
	ListWallets(ctx context.Context, limit int) ([]string, error)

	InsertEvent(ctx context.Context, ev models.EventRecord) error

	UpsertResource(ctx context.Context, key models.ResourceKey, at time.Time) error
	DeleteResource(ctx context.Context, key models.ResourceKey) (bool, error)
	GetResource(ctx context.Context, key models.ResourceKey) (models.ResourceEntry, error)

	UpsertSleep(ctx context.Context, rec models.SleepRecord) error
	GetSleep(ctx context.Context, sleepID string) (models.SleepRecord, error)
	LatestSleep(ctx context.Context, whoopUserID int64) (models.SleepRecord, error)

	Ping(ctx context.Context) error
	Close()
}
