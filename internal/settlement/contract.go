// Package settlement forwards sleep metrics to the SleepToEarn contracts and
// reads token balances and streak stats back.
package settlement

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/sleep"
)

const sleepToEarnABI = `[
 {"type":"function","name":"submitSleepData","stateMutability":"nonpayable",
  "inputs":[
   {"name":"user","type":"address"},
   {"name":"date","type":"uint256"},
   {"name":"sleepDurationMinutes","type":"uint256"},
   {"name":"efficiencyPercentage","type":"uint256"},
   {"name":"sleepCycles","type":"uint256"},
   {"name":"deepSleepMinutes","type":"uint256"},
   {"name":"remSleepMinutes","type":"uint256"}],
  "outputs":[]},
 {"type":"function","name":"getUserStats","stateMutability":"view",
  "inputs":[{"name":"user","type":"address"}],
  "outputs":[
   {"name":"totalTokens","type":"uint256"},
   {"name":"currentStreak","type":"uint256"},
   {"name":"longestStreak","type":"uint256"},
   {"name":"totalSessions","type":"uint256"}]}
]`

const sleepTokenABI = `[
 {"type":"function","name":"balanceOf","stateMutability":"view",
  "inputs":[{"name":"account","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]}
]`

const tokenDecimals = 18

var (
	rewardsABI = mustParseABI(sleepToEarnABI)
	tokenABI   = mustParseABI(sleepTokenABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("settlement: bad abi: %v", err))
	}
	return parsed
}

// ErrDisabled is returned by a ledger that was not fully configured.
var ErrDisabled = errors.New("settlement disabled")

// Ledger is the settlement collaborator. Implementations must be safe for
// concurrent use.
type Ledger interface {
	Enabled() bool
	SubmitSleepData(ctx context.Context, wallet string, m models.SleepMetrics) (string, error)
	TokenBalance(ctx context.Context, wallet string) (float64, error)
	UserStats(ctx context.Context, wallet string) (ContractStats, error)
}

// ContractStats mirrors getUserStats, with token amounts in whole tokens.
type ContractStats struct {
	TotalTokens   float64
	CurrentStreak int64
	LongestStreak int64
	TotalSessions int64
}

type LedgerConfig struct {
	RPCURL             string
	ChainID            int64
	PrivateKey         string
	SleepToEarnAddress string
	SleepTokenAddress  string
	Timeout            time.Duration
}

// Complete reports whether every setting needed for a live ledger is present.
func (c LedgerConfig) Complete() bool {
	return c.RPCURL != "" && c.ChainID > 0 && c.PrivateKey != "" &&
		common.IsHexAddress(c.SleepToEarnAddress) && common.IsHexAddress(c.SleepTokenAddress)
}

// ContractLedger talks to the contracts over JSON-RPC. A zero ContractLedger
// (as returned for incomplete configuration) is a valid, disabled ledger.
type ContractLedger struct {
	client  *ethclient.Client
	rewards *bind.BoundContract
	token   *bind.BoundContract
	auth    *bind.TransactOpts
	timeout time.Duration
	logger  *zap.Logger

	// submitMu keeps one oracle transaction in flight so pending nonces
	// are not reused.
	submitMu sync.Mutex
}

// NewContractLedger never fails: missing or unusable settings produce a
// disabled ledger and a warning.
func NewContractLedger(cfg LedgerConfig, logger *zap.Logger) *ContractLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &ContractLedger{timeout: cfg.Timeout, logger: logger}
	if l.timeout <= 0 {
		l.timeout = 20 * time.Second
	}
	if !cfg.Complete() {
		logger.Warn("settlement not configured, blockchain features disabled")
		return l
	}

	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		logger.Warn("invalid PRIVATE_KEY, blockchain features disabled", zap.Error(err))
		return l
	}
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		logger.Warn("chain rpc dial failed, blockchain features disabled", zap.Error(err))
		return l
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		client.Close()
		logger.Warn("transactor setup failed, blockchain features disabled", zap.Error(err))
		return l
	}
	l.client = client
	l.auth = auth
	l.rewards = bind.NewBoundContract(common.HexToAddress(cfg.SleepToEarnAddress), rewardsABI, client, client, client)
	l.token = bind.NewBoundContract(common.HexToAddress(cfg.SleepTokenAddress), tokenABI, client, client, client)
	logger.Info("settlement enabled",
		zap.String("oracle", auth.From.Hex()),
		zap.String("sleep_to_earn", cfg.SleepToEarnAddress),
		zap.Int64("chain_id", cfg.ChainID))
	return l
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
}

func (l *ContractLedger) Enabled() bool {
	return l != nil && l.rewards != nil && l.token != nil
}

func (l *ContractLedger) Close() {
	if l != nil && l.client != nil {
		l.client.Close()
	}
}

// SubmitSleepData sends submitSleepData and returns the transaction hash. It
// does not wait for the receipt.
func (l *ContractLedger) SubmitSleepData(ctx context.Context, wallet string, m models.SleepMetrics) (string, error) {
	if !l.Enabled() {
		return "", ErrDisabled
	}
	user, err := walletAddress(wallet)
	if err != nil {
		return "", err
	}
	date, err := sleep.ContractDate(m.Date)
	if err != nil {
		return "", err
	}

	l.submitMu.Lock()
	defer l.submitMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	opts := *l.auth
	opts.Context = ctx

	tx, err := l.rewards.Transact(&opts, "submitSleepData",
		user,
		big.NewInt(date),
		big.NewInt(m.SleepDurationMinutes),
		big.NewInt(m.EfficiencyPercentage),
		big.NewInt(m.SleepCycles),
		big.NewInt(m.DeepSleepMinutes),
		big.NewInt(m.RemSleepMinutes),
	)
	if err != nil {
		return "", fmt.Errorf("submitSleepData: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (l *ContractLedger) TokenBalance(ctx context.Context, wallet string) (float64, error) {
	if !l.Enabled() {
		return 0, ErrDisabled
	}
	user, err := walletAddress(wallet)
	if err != nil {
		return 0, err
	}
	out, err := l.call(ctx, l.token, "balanceOf", user)
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("balanceOf: unexpected %d outputs", len(out))
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("balanceOf: unexpected output %T", out[0])
	}
	return fromWei(bal), nil
}

func (l *ContractLedger) UserStats(ctx context.Context, wallet string) (ContractStats, error) {
	if !l.Enabled() {
		return ContractStats{}, ErrDisabled
	}
	user, err := walletAddress(wallet)
	if err != nil {
		return ContractStats{}, err
	}
	out, err := l.call(ctx, l.rewards, "getUserStats", user)
	if err != nil {
		return ContractStats{}, err
	}
	if len(out) != 4 {
		return ContractStats{}, fmt.Errorf("getUserStats: unexpected %d outputs", len(out))
	}
	vals := make([]*big.Int, len(out))
	for i, v := range out {
		n, ok := v.(*big.Int)
		if !ok {
			return ContractStats{}, fmt.Errorf("getUserStats: output %d is %T", i, v)
		}
		vals[i] = n
	}
	return ContractStats{
		TotalTokens:   fromWei(vals[0]),
		CurrentStreak: vals[1].Int64(),
		LongestStreak: vals[2].Int64(),
		TotalSessions: vals[3].Int64(),
	}, nil
}

func (l *ContractLedger) call(ctx context.Context, c *bind.BoundContract, method string, args ...any) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	var out []any
	if err := c.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

func walletAddress(wallet string) (common.Address, error) {
	if !common.IsHexAddress(wallet) {
		return common.Address{}, fmt.Errorf("%w: wallet %q is not an address", models.ErrInvalidInput, wallet)
	}
	return common.HexToAddress(wallet), nil
}

func fromWei(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil))
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), scale).Float64()
	return f
}
