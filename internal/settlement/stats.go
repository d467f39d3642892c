package settlement

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

// StatsCache stores per-wallet stats for a short time. Misses and cache
// errors are indistinguishable to callers.
type StatsCache interface {
	Get(ctx context.Context, wallet string) (models.UserStats, bool)
	Set(ctx context.Context, wallet string, stats models.UserStats)
}

// StatsReader assembles UserStats from the ledger.
type StatsReader struct {
	ledger Ledger
	cache  StatsCache
	logger *zap.Logger
}

// NewStatsReader accepts a nil cache.
func NewStatsReader(ledger Ledger, cache StatsCache, logger *zap.Logger) *StatsReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsReader{ledger: ledger, cache: cache, logger: logger}
}

func (r *StatsReader) Enabled() bool {
	return r.ledger != nil && r.ledger.Enabled()
}

// Stats never fails. A disabled or unreachable ledger yields the zero
// shape with IsBlockchainEnabled false.
func (r *StatsReader) Stats(ctx context.Context, wallet string) models.UserStats {
	if !r.Enabled() {
		return models.UserStats{}
	}
	stats, err := r.read(ctx, wallet)
	if err != nil {
		r.logger.Warn("blockchain stats unavailable", zap.String("wallet", wallet), zap.Error(err))
		return models.UserStats{}
	}
	return stats
}

// read fetches balance and contract stats concurrently, consulting the cache
// first. Only complete results are cached.
func (r *StatsReader) read(ctx context.Context, wallet string) (models.UserStats, error) {
	if r.cache != nil {
		if stats, ok := r.cache.Get(ctx, wallet); ok {
			return stats, nil
		}
	}

	var (
		balance float64
		cs      ContractStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balance, err = r.ledger.TokenBalance(gctx, wallet)
		return err
	})
	g.Go(func() error {
		var err error
		cs, err = r.ledger.UserStats(gctx, wallet)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.UserStats{}, err
	}

	stats := models.UserStats{
		TokenBalance:        balance,
		TotalTokensEarned:   cs.TotalTokens,
		CurrentStreak:       cs.CurrentStreak,
		LongestStreak:       cs.LongestStreak,
		TotalSessions:       cs.TotalSessions,
		IsBlockchainEnabled: true,
	}
	if r.cache != nil {
		r.cache.Set(ctx, wallet, stats)
	}
	return stats, nil
}
