package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

// MemoryStore implements Store in process. It is used by tests and by
// STORE_DRIVER=memory for local runs; nothing survives a restart.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	accounts  map[int64]models.Credential
	wallets   map[string]int64
	events    []models.EventRecord
	resources map[models.ResourceKey]models.ResourceEntry
	sleeps    map[string]models.SleepRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		accounts:  make(map[int64]models.Credential),
		wallets:   make(map[string]int64),
		resources: make(map[models.ResourceKey]models.ResourceEntry),
		sleeps:    make(map[string]models.SleepRecord),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() {}

func (m *MemoryStore) UpsertCredential(_ context.Context, c models.Credential) (models.Credential, error) {
	if c.WhoopUserID == 0 || c.WalletAddress == "" || c.AccessToken == "" {
		return models.Credential{}, fmt.Errorf("%w: whoopUserId, walletAddress and accessToken required", models.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.wallets[c.WalletAddress]; ok && owner != c.WhoopUserID {
		return models.Credential{}, fmt.Errorf("%w: wallet_address", models.ErrConflict)
	}
	now := m.now().UTC()
	if prev, ok := m.accounts[c.WhoopUserID]; ok {
		delete(m.wallets, prev.WalletAddress)
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.AccessTokenExpiresAt = copyTime(c.AccessTokenExpiresAt)
	m.accounts[c.WhoopUserID] = c
	m.wallets[c.WalletAddress] = c.WhoopUserID
	return c, nil
}

func (m *MemoryStore) GetCredential(_ context.Context, whoopUserID int64) (models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.accounts[whoopUserID]
	if !ok {
		return models.Credential{}, models.ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) GetCredentialByWallet(_ context.Context, walletAddress string) (models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.wallets[walletAddress]
	if !ok {
		return models.Credential{}, models.ErrNotFound
	}
	return m.accounts[id], nil
}

func (m *MemoryStore) UpdateTokens(_ context.Context, whoopUserID int64, upd models.TokenUpdate) (models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.accounts[whoopUserID]
	if !ok {
		return models.Credential{}, models.ErrNotFound
	}
	c.AccessToken = upd.AccessToken
	if upd.RefreshToken != "" {
		c.RefreshToken = upd.RefreshToken
	}
	c.AccessTokenExpiresAt = copyTime(upd.ExpiresAt)
	c.UpdatedAt = m.now().UTC()
	m.accounts[whoopUserID] = c
	return c, nil
}

func (m *MemoryStore) ListWallets(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	accounts := make([]models.Credential, 0, len(m.accounts))
	for _, c := range m.accounts {
		accounts = append(accounts, c)
	}
	m.mu.Unlock()

	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].WhoopUserID < accounts[j].WhoopUserID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	out := make([]string, 0, len(accounts))
	for _, c := range accounts {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c.WalletAddress)
	}
	return out, nil
}

func (m *MemoryStore) InsertEvent(_ context.Context, ev models.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the audit log in insertion order.
func (m *MemoryStore) Events() []models.EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.EventRecord(nil), m.events...)
}

func (m *MemoryStore) UpsertResource(_ context.Context, key models.ResourceKey, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.resources[key]
	if !ok {
		e = models.ResourceEntry{ResourceKey: key, CreatedAt: at}
	}
	e.UpdatedAt = at
	m.resources[key] = e
	return nil
}

func (m *MemoryStore) DeleteResource(_ context.Context, key models.ResourceKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.resources[key]
	delete(m.resources, key)
	return ok, nil
}

func (m *MemoryStore) GetResource(_ context.Context, key models.ResourceKey) (models.ResourceEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.resources[key]
	if !ok {
		return models.ResourceEntry{}, models.ErrNotFound
	}
	return e, nil
}

// ResourceCount reports how many ledger rows exist.
func (m *MemoryStore) ResourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources)
}

func (m *MemoryStore) UpsertSleep(_ context.Context, rec models.SleepRecord) error {
	if rec.SleepID == "" || len(rec.Raw) == 0 {
		return fmt.Errorf("%w: sleepId and raw payload required", models.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sleeps[rec.SleepID]; ok {
		if rec.Start == nil {
			rec.Start = prev.Start
		}
		if rec.End == nil {
			rec.End = prev.End
		}
	}
	rec.Start = copyTime(rec.Start)
	rec.End = copyTime(rec.End)
	rec.Raw = append(json.RawMessage(nil), rec.Raw...)
	rec.UpdatedAt = m.now().UTC()
	m.sleeps[rec.SleepID] = rec
	return nil
}

func (m *MemoryStore) GetSleep(_ context.Context, sleepID string) (models.SleepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sleeps[sleepID]
	if !ok {
		return models.SleepRecord{}, models.ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) LatestSleep(_ context.Context, whoopUserID int64) (models.SleepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  models.SleepRecord
		found bool
	)
	for _, rec := range m.sleeps {
		if rec.WhoopUserID != whoopUserID {
			continue
		}
		if !found || laterStart(rec.Start, best.Start) {
			best, found = rec, true
		}
	}
	if !found {
		return models.SleepRecord{}, models.ErrNotFound
	}
	return best, nil
}

// SleepCount reports how many sleep rows exist.
func (m *MemoryStore) SleepCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sleeps)
}

// laterStart orders like "start_time DESC NULLS LAST".
func laterStart(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
