package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 50

	// maxConcurrentReads bounds the RPC fan-out per leaderboard request.
	maxConcurrentReads = 8
)

type WalletLister interface {
	ListWallets(ctx context.Context, limit int) ([]string, error)
}

// Leaderboard ranks registered wallets by token balance.
type Leaderboard struct {
	stats   *StatsReader
	wallets WalletLister
	logger  *zap.Logger
}

func NewLeaderboard(stats *StatsReader, wallets WalletLister, logger *zap.Logger) *Leaderboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Leaderboard{stats: stats, wallets: wallets, logger: logger}
}

// ClampLimit applies the default and the cap to a requested size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		return MaxLeaderboardLimit
	}
	return limit
}

// Top returns up to limit active users. Twice as many wallets as needed are
// sampled since wallets whose reads fail, or with no sessions, are dropped.
func (l *Leaderboard) Top(ctx context.Context, limit int) (models.Leaderboard, error) {
	limit = ClampLimit(limit)
	if !l.stats.Enabled() {
		return models.Leaderboard{Users: []models.LeaderboardEntry{}}, nil
	}
	wallets, err := l.wallets.ListWallets(ctx, limit*2)
	if err != nil {
		return models.Leaderboard{}, fmt.Errorf("list wallets: %w", err)
	}

	entries := l.activeEntries(ctx, wallets)
	rankByBalance(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return models.Leaderboard{Users: entries, IsBlockchainEnabled: true}, nil
}

// Weekly is a placeholder until the contract exposes per-week totals. It is
// always empty.
func (l *Leaderboard) Weekly(context.Context) models.Leaderboard {
	return models.Leaderboard{Users: []models.LeaderboardEntry{}, IsBlockchainEnabled: l.stats.Enabled()}
}

// Rank places one wallet among all active users. Rank is one plus the number
// of users with a strictly higher balance.
func (l *Leaderboard) Rank(ctx context.Context, wallet string) (models.UserRank, error) {
	if !l.stats.Enabled() {
		return models.UserRank{}, nil
	}
	own, err := l.stats.read(ctx, wallet)
	if err != nil {
		l.logger.Warn("rank lookup failed", zap.String("wallet", wallet), zap.Error(err))
		return models.UserRank{}, nil
	}
	if own.TotalSessions == 0 {
		return models.UserRank{}, nil
	}

	wallets, err := l.wallets.ListWallets(ctx, 0)
	if err != nil {
		return models.UserRank{}, fmt.Errorf("list wallets: %w", err)
	}
	active := l.activeEntries(ctx, wallets)
	rank := 1
	for _, e := range active {
		if e.TokenBalance > own.TokenBalance {
			rank++
		}
	}
	return models.UserRank{Rank: &rank, TotalUsers: len(active), UserStats: &own}, nil
}

func (l *Leaderboard) activeEntries(ctx context.Context, wallets []string) []models.LeaderboardEntry {
	var (
		mu      sync.Mutex
		entries = make([]models.LeaderboardEntry, 0, len(wallets))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for _, w := range wallets {
		g.Go(func() error {
			stats, err := l.stats.read(gctx, w)
			if err != nil {
				l.logger.Debug("leaderboard read skipped", zap.String("wallet", w), zap.Error(err))
				return nil
			}
			if stats.TotalSessions <= 0 {
				return nil
			}
			mu.Lock()
			entries = append(entries, models.LeaderboardEntry{
				WalletAddress:     w,
				TokenBalance:      stats.TokenBalance,
				TotalTokensEarned: stats.TotalTokensEarned,
				CurrentStreak:     stats.CurrentStreak,
				LongestStreak:     stats.LongestStreak,
				TotalSessions:     stats.TotalSessions,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return entries
}

// rankByBalance sorts descending by balance, wallet address breaking ties,
// and assigns ranks from 1.
func rankByBalance(entries []models.LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TokenBalance != entries[j].TokenBalance {
			return entries[i].TokenBalance > entries[j].TokenBalance
		}
		return entries[i].WalletAddress < entries[j].WalletAddress
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}
