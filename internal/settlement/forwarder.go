package settlement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/metrics"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/sleep"
)

type WalletLookup interface {
	GetCredential(ctx context.Context, whoopUserID int64) (models.Credential, error)
}

// Forwarder submits the metrics of freshly stored sleep records. Every
// failure is reported to the caller and none of them touch stored data.
type Forwarder struct {
	ledger  Ledger
	wallets WalletLookup
	logger  *zap.Logger
}

func NewForwarder(ledger Ledger, wallets WalletLookup, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{ledger: ledger, wallets: wallets, logger: logger}
}

// Forward returns the submission's transaction hash. An empty hash with a
// nil error means there was nothing to do: the ledger is disabled or the
// user has no wallet. Other outcomes wrap models.ErrExtractionFailed or
// models.ErrSettlementFailed.
func (f *Forwarder) Forward(ctx context.Context, rec models.SleepRecord) (string, error) {
	if f.ledger == nil || !f.ledger.Enabled() {
		metrics.SettlementTotal.WithLabelValues("disabled").Inc()
		return "", nil
	}

	cred, err := f.wallets.GetCredential(ctx, rec.WhoopUserID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && cred.WalletAddress == "") {
		metrics.SettlementTotal.WithLabelValues("no_wallet").Inc()
		return "", nil
	}
	if err != nil {
		metrics.SettlementTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: wallet lookup: %w", models.ErrSettlementFailed, err)
	}

	m, err := sleep.Extract(rec.Raw)
	if err != nil {
		metrics.SettlementTotal.WithLabelValues("no_metrics").Inc()
		return "", err
	}

	txHash, err := f.ledger.SubmitSleepData(ctx, cred.WalletAddress, m)
	if err != nil {
		metrics.SettlementTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: %w", models.ErrSettlementFailed, err)
	}
	metrics.SettlementTotal.WithLabelValues("submitted").Inc()
	f.logger.Info("sleep data submitted",
		zap.String("wallet", cred.WalletAddress),
		zap.String("date", m.Date),
		zap.String("tx", txHash))
	return txHash, nil
}
