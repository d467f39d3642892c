package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/store"
)

type fakeLedger struct {
	mu        sync.Mutex
	enabled   bool
	balances  map[string]float64
	stats     map[string]ContractStats
	failRead  map[string]bool
	submitErr error
	submitted []submission
	reads     int
}

type submission struct {
	wallet  string
	metrics models.SleepMetrics
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		enabled:  true,
		balances: map[string]float64{},
		stats:    map[string]ContractStats{},
		failRead: map[string]bool{},
	}
}

func (f *fakeLedger) Enabled() bool { return f.enabled }

func (f *fakeLedger) SubmitSleepData(_ context.Context, wallet string, m models.SleepMetrics) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, submission{wallet, m})
	return fmt.Sprintf("0xtx%d", len(f.submitted)), nil
}

func (f *fakeLedger) TokenBalance(_ context.Context, wallet string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.failRead[wallet] {
		return 0, errors.New("rpc down")
	}
	return f.balances[wallet], nil
}

func (f *fakeLedger) UserStats(_ context.Context, wallet string) (ContractStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.failRead[wallet] {
		return ContractStats{}, errors.New("rpc down")
	}
	return f.stats[wallet], nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]models.UserStats
}

func (c *mapCache) Get(_ context.Context, wallet string) (models.UserStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.data[wallet]
	return s, ok
}

func (c *mapCache) Set(_ context.Context, wallet string, stats models.UserStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[wallet] = stats
}

const scoredSleep = `{"start":"2024-01-01T23:00:00Z","score":{"stage_summary":{"total_in_bed_time_milli":28800000,"total_awake_time_milli":1800000,"sleep_cycle_count":4},"sleep_efficiency_percentage":92}}`

func registered(t *testing.T, id int64, wallet string) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	_, err := st.UpsertCredential(context.Background(), models.Credential{WhoopUserID: id, WalletAddress: wallet, AccessToken: "a"})
	require.NoError(t, err)
	return st
}

func TestForwarderSubmitsMetrics(t *testing.T) {
	ledger := newFakeLedger()
	f := NewForwarder(ledger, registered(t, 1, "0xw1"), nil)

	tx, err := f.Forward(context.Background(), models.SleepRecord{WhoopUserID: 1, SleepID: "s", Raw: json.RawMessage(scoredSleep)})
	require.NoError(t, err)
	assert.Equal(t, "0xtx1", tx)
	require.Len(t, ledger.submitted, 1)
	assert.Equal(t, "0xw1", ledger.submitted[0].wallet)
	assert.Equal(t, "2024-01-01", ledger.submitted[0].metrics.Date)
	assert.EqualValues(t, 450, ledger.submitted[0].metrics.SleepDurationMinutes)
}

func TestForwarderNoOps(t *testing.T) {
	disabled := newFakeLedger()
	disabled.enabled = false
	f := NewForwarder(disabled, registered(t, 1, "0xw1"), nil)
	tx, err := f.Forward(context.Background(), models.SleepRecord{WhoopUserID: 1, Raw: json.RawMessage(scoredSleep)})
	assert.NoError(t, err)
	assert.Empty(t, tx)
	assert.Empty(t, disabled.submitted)

	ledger := newFakeLedger()
	f = NewForwarder(ledger, store.NewMemoryStore(), nil)
	tx, err = f.Forward(context.Background(), models.SleepRecord{WhoopUserID: 1, Raw: json.RawMessage(scoredSleep)})
	assert.NoError(t, err)
	assert.Empty(t, tx)
	assert.Empty(t, ledger.submitted)

	f = NewForwarder(nil, store.NewMemoryStore(), nil)
	tx, err = f.Forward(context.Background(), models.SleepRecord{WhoopUserID: 1})
	assert.NoError(t, err)
	assert.Empty(t, tx)
}

func TestForwarderFailures(t *testing.T) {
	ledger := newFakeLedger()
	f := NewForwarder(ledger, registered(t, 1, "0xw1"), nil)

	_, err := f.Forward(context.Background(), models.SleepRecord{WhoopUserID: 1, Raw: json.RawMessage(`{"score":{}}`)})
	assert.True(t, errors.Is(err, models.ErrExtractionFailed))
	assert.Empty(t, ledger.submitted)

	ledger.submitErr = errors.New("nonce too low")
	_, err = f.Forward(context.Background(), models.SleepRecord{WhoopUserID: 1, Raw: json.RawMessage(scoredSleep)})
	assert.True(t, errors.Is(err, models.ErrSettlementFailed))
}

func TestStatsReader(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances["0xw1"] = 12.5
	ledger.stats["0xw1"] = ContractStats{TotalTokens: 20, CurrentStreak: 2, LongestStreak: 4, TotalSessions: 9}
	cache := &mapCache{data: map[string]models.UserStats{}}
	r := NewStatsReader(ledger, cache, nil)

	want := models.UserStats{
		TokenBalance: 12.5, TotalTokensEarned: 20, CurrentStreak: 2, LongestStreak: 4,
		TotalSessions: 9, IsBlockchainEnabled: true,
	}
	assert.Equal(t, want, r.Stats(context.Background(), "0xw1"))
	assert.Equal(t, 2, ledger.reads)

	assert.Equal(t, want, r.Stats(context.Background(), "0xw1"))
	assert.Equal(t, 2, ledger.reads, "second read is served from cache")
}

func TestStatsReaderFallback(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failRead["0xw1"] = true
	cache := &mapCache{data: map[string]models.UserStats{}}
	r := NewStatsReader(ledger, cache, nil)

	assert.Equal(t, models.UserStats{}, r.Stats(context.Background(), "0xw1"))
	assert.Empty(t, cache.data, "failed reads are not cached")

	ledger.enabled = false
	assert.Equal(t, models.UserStats{}, r.Stats(context.Background(), "0xw2"))
	assert.False(t, NewStatsReader(nil, nil, nil).Enabled())
}

func leaderboardFixture(t *testing.T) (*fakeLedger, *store.MemoryStore) {
	t.Helper()
	ledger := newFakeLedger()
	st := store.NewMemoryStore()
	for i, w := range []string{"0xa", "0xb", "0xc", "0xd", "0xe"} {
		_, err := st.UpsertCredential(context.Background(), models.Credential{WhoopUserID: int64(i + 1), WalletAddress: w, AccessToken: "a"})
		require.NoError(t, err)
	}
	ledger.balances = map[string]float64{"0xa": 5, "0xb": 30, "0xc": 10, "0xd": 99, "0xe": 30}
	ledger.stats = map[string]ContractStats{
		"0xa": {TotalSessions: 1},
		"0xb": {TotalSessions: 3},
		"0xc": {TotalSessions: 0},
		"0xd": {TotalSessions: 2},
		"0xe": {TotalSessions: 4},
	}
	ledger.failRead["0xd"] = true
	return ledger, st
}

func TestLeaderboardTop(t *testing.T) {
	ledger, st := leaderboardFixture(t)
	lb := NewLeaderboard(NewStatsReader(ledger, nil, nil), st, nil)

	board, err := lb.Top(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, board.IsBlockchainEnabled)
	require.Len(t, board.Users, 2)
	assert.Equal(t, "0xb", board.Users[0].WalletAddress)
	assert.Equal(t, 1, board.Users[0].Rank)
	assert.Equal(t, "0xa", board.Users[1].WalletAddress, "only the first 2*limit wallets are sampled")
	assert.Equal(t, 2, board.Users[1].Rank)

	board, err = lb.Top(context.Background(), 0)
	require.NoError(t, err)
	wallets := make([]string, 0, len(board.Users))
	for _, u := range board.Users {
		wallets = append(wallets, u.WalletAddress)
	}
	assert.Equal(t, []string{"0xb", "0xe", "0xa"}, wallets, "failed reads and inactive users are dropped")
}

func TestLeaderboardWeeklyIsEmpty(t *testing.T) {
	ledger, st := leaderboardFixture(t)
	lb := NewLeaderboard(NewStatsReader(ledger, nil, nil), st, nil)

	board := lb.Weekly(context.Background())
	assert.True(t, board.IsBlockchainEnabled)
	assert.NotNil(t, board.Users)
	assert.Empty(t, board.Users)

	ledger.enabled = false
	assert.False(t, lb.Weekly(context.Background()).IsBlockchainEnabled)
}

func TestLeaderboardDisabled(t *testing.T) {
	ledger, st := leaderboardFixture(t)
	ledger.enabled = false
	lb := NewLeaderboard(NewStatsReader(ledger, nil, nil), st, nil)

	board, err := lb.Top(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, board.IsBlockchainEnabled)
	assert.NotNil(t, board.Users)
	assert.Empty(t, board.Users)

	rank, err := lb.Rank(context.Background(), "0xb")
	require.NoError(t, err)
	assert.Nil(t, rank.Rank)
	assert.Nil(t, rank.UserStats)
}

func TestLeaderboardRank(t *testing.T) {
	ledger, st := leaderboardFixture(t)
	lb := NewLeaderboard(NewStatsReader(ledger, nil, nil), st, nil)

	rank, err := lb.Rank(context.Background(), "0xa")
	require.NoError(t, err)
	require.NotNil(t, rank.Rank)
	assert.Equal(t, 3, *rank.Rank)
	assert.Equal(t, 3, rank.TotalUsers)
	require.NotNil(t, rank.UserStats)
	assert.Equal(t, 5.0, rank.UserStats.TokenBalance)

	rank, err = lb.Rank(context.Background(), "0xe")
	require.NoError(t, err)
	assert.Equal(t, 1, *rank.Rank, "ties share the better rank")

	rank, err = lb.Rank(context.Background(), "0xc")
	require.NoError(t, err)
	assert.Nil(t, rank.Rank)
	assert.Equal(t, 0, rank.TotalUsers)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, ClampLimit(0))
	assert.Equal(t, 10, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, 50, ClampLimit(500))
}
