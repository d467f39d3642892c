package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// PostgresStore is the durable persistence layer for credentials, the
// webhook audit log, the resource ledger and fetched sleep records.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

const credentialColumns = `whoop_user_id, wallet_address, access_token, refresh_token,
	access_token_expires_at, created_at, updated_at`

func scanCredential(row pgx.Row) (models.Credential, error) {
	var (
		c       models.Credential
		refresh *string
	)
	err := row.Scan(&c.WhoopUserID, &c.WalletAddress, &c.AccessToken, &refresh,
		&c.AccessTokenExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Credential{}, models.ErrNotFound
	}
	if err != nil {
		return models.Credential{}, err
	}
	if refresh != nil {
		c.RefreshToken = *refresh
	}
	return c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// UpsertCredential creates or replaces the token fields for a WHOOP user.
// The identity keys are never dropped; a wallet already bound to another
// user is reported as models.ErrConflict.
func (p *PostgresStore) UpsertCredential(ctx context.Context, c models.Credential) (models.Credential, error) {
	if c.WhoopUserID == 0 || c.WalletAddress == "" || c.AccessToken == "" {
		return models.Credential{}, fmt.Errorf("%w: whoopUserId, walletAddress and accessToken required", models.ErrInvalidInput)
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO whoop_accounts (whoop_user_id, wallet_address, access_token, refresh_token, access_token_expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (whoop_user_id) DO UPDATE SET
			wallet_address = EXCLUDED.wallet_address,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			access_token_expires_at = EXCLUDED.access_token_expires_at,
			updated_at = NOW()
		RETURNING `+credentialColumns,
		c.WhoopUserID, c.WalletAddress, c.AccessToken, nullable(c.RefreshToken), c.AccessTokenExpiresAt)

	out, err := scanCredential(row)
	if err != nil {
		return models.Credential{}, mapWriteErr(err)
	}
	return out, nil
}

func (p *PostgresStore) GetCredential(ctx context.Context, whoopUserID int64) (models.Credential, error) {
	return scanCredential(p.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM whoop_accounts WHERE whoop_user_id = $1`, whoopUserID))
}

func (p *PostgresStore) GetCredentialByWallet(ctx context.Context, walletAddress string) (models.Credential, error) {
	return scanCredential(p.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM whoop_accounts WHERE wallet_address = $1`, walletAddress))
}

// UpdateTokens persists a refresh result. An empty RefreshToken keeps the
// stored one. Concurrent refreshes are last-write-wins.
func (p *PostgresStore) UpdateTokens(ctx context.Context, whoopUserID int64, upd models.TokenUpdate) (models.Credential, error) {
	return scanCredential(p.pool.QueryRow(ctx, `
		UPDATE whoop_accounts SET
			access_token = $2,
			refresh_token = COALESCE($3, refresh_token),
			access_token_expires_at = $4,
			updated_at = NOW()
		WHERE whoop_user_id = $1
		RETURNING `+credentialColumns,
		whoopUserID, upd.AccessToken, nullable(upd.RefreshToken), upd.ExpiresAt))
}

// ListWallets returns wallets in registration order. limit <= 0 means all.
func (p *PostgresStore) ListWallets(ctx context.Context, limit int) ([]string, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := p.pool.Query(ctx,
		`SELECT wallet_address FROM whoop_accounts ORDER BY created_at, whoop_user_id LIMIT $1`, lim)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// InsertEvent appends to the audit log. Rows are never updated.
func (p *PostgresStore) InsertEvent(ctx context.Context, ev models.EventRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO whoop_events (id, whoop_user_id, resource_id, event_type, trace_id, raw_body, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.UserID, ev.ResourceID, ev.EventType, nullable(ev.TraceID), ev.RawBody, ev.ReceivedAt)
	return err
}

// UpsertResource creates the ledger row or advances its updated_at.
func (p *PostgresStore) UpsertResource(ctx context.Context, key models.ResourceKey, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO whoop_resources (whoop_user_id, resource_id, domain, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (whoop_user_id, resource_id, domain) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`, key.UserID, key.ResourceID, key.Domain, at)
	return err
}

func (p *PostgresStore) DeleteResource(ctx context.Context, key models.ResourceKey) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM whoop_resources WHERE whoop_user_id = $1 AND resource_id = $2 AND domain = $3
	`, key.UserID, key.ResourceID, key.Domain)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresStore) GetResource(ctx context.Context, key models.ResourceKey) (models.ResourceEntry, error) {
	e := models.ResourceEntry{ResourceKey: key}
	err := p.pool.QueryRow(ctx, `
		SELECT created_at, updated_at FROM whoop_resources
		WHERE whoop_user_id = $1 AND resource_id = $2 AND domain = $3
	`, key.UserID, key.ResourceID, key.Domain).Scan(&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ResourceEntry{}, models.ErrNotFound
	}
	return e, err
}

// UpsertSleep writes at most one row per sleep id. A refetch that lacks
// start/end keeps the stored values; the payload is always replaced.
func (p *PostgresStore) UpsertSleep(ctx context.Context, rec models.SleepRecord) error {
	if rec.SleepID == "" || len(rec.Raw) == 0 {
		return fmt.Errorf("%w: sleepId and raw payload required", models.ErrInvalidInput)
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO whoop_sleeps (sleep_id, whoop_user_id, start_time, end_time, raw)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sleep_id) DO UPDATE SET
			whoop_user_id = EXCLUDED.whoop_user_id,
			start_time = COALESCE(EXCLUDED.start_time, whoop_sleeps.start_time),
			end_time = COALESCE(EXCLUDED.end_time, whoop_sleeps.end_time),
			raw = EXCLUDED.raw,
			updated_at = NOW()
	`, rec.SleepID, rec.WhoopUserID, rec.Start, rec.End, []byte(rec.Raw))
	return err
}

const sleepColumns = `sleep_id, whoop_user_id, start_time, end_time, raw, updated_at`

func scanSleep(row pgx.Row) (models.SleepRecord, error) {
	var (
		rec models.SleepRecord
		raw []byte
	)
	err := row.Scan(&rec.SleepID, &rec.WhoopUserID, &rec.Start, &rec.End, &raw, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SleepRecord{}, models.ErrNotFound
	}
	if err != nil {
		return models.SleepRecord{}, err
	}
	rec.Raw = raw
	return rec, nil
}

func (p *PostgresStore) GetSleep(ctx context.Context, sleepID string) (models.SleepRecord, error) {
	return scanSleep(p.pool.QueryRow(ctx,
		`SELECT `+sleepColumns+` FROM whoop_sleeps WHERE sleep_id = $1`, sleepID))
}

// LatestSleep returns the user's sleep with the latest start time.
func (p *PostgresStore) LatestSleep(ctx context.Context, whoopUserID int64) (models.SleepRecord, error) {
	return scanSleep(p.pool.QueryRow(ctx, `
		SELECT `+sleepColumns+` FROM whoop_sleeps
		WHERE whoop_user_id = $1
		ORDER BY start_time DESC NULLS LAST
		LIMIT 1
	`, whoopUserID))
}
