package whoop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/metrics"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

// Outcome of one fetch-and-store cycle.
type Outcome int

const (
	FetchStored Outcome = iota
	// FetchSkipped means the WHOOP user is not registered here. Not an error.
	FetchSkipped
	FetchFailed
)

func (o Outcome) String() string {
	switch o {
	case FetchStored:
		return "stored"
	case FetchSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

type FetchResult struct {
	Outcome Outcome
	Record  *models.SleepRecord
}

type SleepStore interface {
	GetCredential(ctx context.Context, whoopUserID int64) (models.Credential, error)
	UpsertSleep(ctx context.Context, rec models.SleepRecord) error
}

type SleepAPI interface {
	GetSleep(ctx context.Context, accessToken, sleepID string) ([]byte, error)
}

type TokenSource interface {
	EnsureValid(ctx context.Context, c models.Credential) string
	RefreshAndPersist(ctx context.Context, whoopUserID int64) (models.Credential, error)
}

// SleepFetcher pulls the canonical sleep body for a webhook and upserts it.
// Calls for the same (user, sleep) pair run one at a time, each on its own
// context, so a later delivery always fetches after an earlier one finished.
type SleepFetcher struct {
	store  SleepStore
	api    SleepAPI
	tokens TokenSource
	logger *zap.Logger
	locks  keyedMutex
}

func NewSleepFetcher(store SleepStore, api SleepAPI, tokens TokenSource, logger *zap.Logger) *SleepFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SleepFetcher{store: store, api: api, tokens: tokens, logger: logger}
}

// FetchSleep runs the fetch-and-store cycle. A 401 triggers exactly one
// forced refresh and one retry; any other failure is terminal. The returned
// error is nil for FetchStored and FetchSkipped and wraps
// models.ErrFetchFailed otherwise.
func (f *SleepFetcher) FetchSleep(ctx context.Context, whoopUserID int64, sleepID string) (FetchResult, error) {
	res, err := f.fetchSerialized(ctx, whoopUserID, sleepID)
	metrics.SleepFetchTotal.WithLabelValues(res.Outcome.String()).Inc()
	return res, err
}

func (f *SleepFetcher) fetchSerialized(ctx context.Context, whoopUserID int64, sleepID string) (FetchResult, error) {
	unlock, err := f.locks.lock(ctx, strconv.FormatInt(whoopUserID, 10)+"/"+sleepID)
	if err != nil {
		return FetchResult{Outcome: FetchFailed}, fmt.Errorf("%w: sleep %s: wait for in-flight fetch: %w", models.ErrFetchFailed, sleepID, err)
	}
	defer unlock()
	return f.fetchSleep(ctx, whoopUserID, sleepID)
}

func (f *SleepFetcher) fetchSleep(ctx context.Context, whoopUserID int64, sleepID string) (FetchResult, error) {
	failed := func(err error) (FetchResult, error) {
		return FetchResult{Outcome: FetchFailed}, fmt.Errorf("%w: sleep %s: %w", models.ErrFetchFailed, sleepID, err)
	}

	cred, err := f.store.GetCredential(ctx, whoopUserID)
	if errors.Is(err, models.ErrNotFound) {
		return FetchResult{Outcome: FetchSkipped}, nil
	}
	if err != nil {
		return failed(fmt.Errorf("load credential: %w", err))
	}

	token := f.tokens.EnsureValid(ctx, cred)
	body, err := f.api.GetSleep(ctx, token, sleepID)
	if isUnauthorized(err) {
		f.logger.Info("sleep fetch unauthorized, forcing refresh",
			zap.Int64("user_id", whoopUserID), zap.String("sleep_id", sleepID))
		refreshed, rerr := f.tokens.RefreshAndPersist(ctx, whoopUserID)
		if rerr != nil {
			return failed(fmt.Errorf("%w (after %v)", rerr, err))
		}
		body, err = f.api.GetSleep(ctx, refreshed.AccessToken, sleepID)
	}
	if err != nil {
		return failed(err)
	}

	rec, err := parseSleep(whoopUserID, sleepID, body)
	if err != nil {
		return failed(err)
	}
	if err := f.store.UpsertSleep(ctx, rec); err != nil {
		return failed(fmt.Errorf("store sleep: %w", err))
	}
	return FetchResult{Outcome: FetchStored, Record: &rec}, nil
}

func isUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// parseSleep builds the stored record. Missing or unparsable start/end
// values are kept as null.
func parseSleep(whoopUserID int64, sleepID string, body []byte) (models.SleepRecord, error) {
	var doc *struct {
		Start *string `json:"start"`
		End   *string `json:"end"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return models.SleepRecord{}, fmt.Errorf("decode sleep body: %w", err)
	}
	if doc == nil {
		return models.SleepRecord{}, errors.New("decode sleep body: not a JSON object")
	}
	return models.SleepRecord{
		SleepID:     sleepID,
		WhoopUserID: whoopUserID,
		Start:       parseInstant(doc.Start),
		End:         parseInstant(doc.End),
		Raw:         json.RawMessage(body),
	}, nil
}

func parseInstant(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// keyedMutex serializes work per key. Waiters give up when their own context
// ends; entries are dropped once nobody holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			k.release(key, l)
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
