package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/auth"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/store"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/whoop"
)

const secret = "whsec_test"

type fakeFetcher struct {
	mu     sync.Mutex
	calls  int
	result whoop.FetchResult
	err    error
}

func (f *fakeFetcher) FetchSleep(_ context.Context, userID int64, sleepID string) (whoop.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type fakeForwarder struct {
	records []models.SleepRecord
	err     error
}

func (f *fakeForwarder) Forward(_ context.Context, rec models.SleepRecord) (string, error) {
	f.records = append(f.records, rec)
	return "0xtx", f.err
}

type fakePublisher struct {
	records []models.SleepRecord
	// stall makes the publish wait for its context, like an unreachable broker.
	stall       bool
	hadDeadline bool
}

func (p *fakePublisher) PublishSleepSynced(ctx context.Context, rec models.SleepRecord) error {
	p.records = append(p.records, rec)
	_, p.hadDeadline = ctx.Deadline()
	if p.stall {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type harness struct {
	proc      *Processor
	store     *store.MemoryStore
	fetcher   *fakeFetcher
	forwarder *fakeForwarder
	publisher *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     store.NewMemoryStore(),
		fetcher:   &fakeFetcher{result: whoop.FetchResult{Outcome: whoop.FetchSkipped}},
		forwarder: &fakeForwarder{},
		publisher: &fakePublisher{},
	}
	h.proc = NewProcessor(Options{
		Verifier:  auth.NewSignatureVerifier(secret),
		Store:     h.store,
		Fetcher:   h.fetcher,
		Forwarder: h.forwarder,
		Publisher: h.publisher,
	})
	clock := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	h.proc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return h
}

func signed(body string) Delivery {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return Delivery{
		Signature: auth.ComputeSignature(ts, []byte(body), secret),
		Timestamp: ts,
		Body:      []byte(body),
	}
}

func event(eventType string) string {
	return fmt.Sprintf(`{"user_id":10129,"id":"ecfc6a15-4661-442f-a9a4-f160dd7afae8","type":%q,"trace_id":"t-1"}`, eventType)
}

var sleepKey = models.ResourceKey{UserID: 10129, ResourceID: "ecfc6a15-4661-442f-a9a4-f160dd7afae8", Domain: "sleep"}

func TestProcessRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	d := signed(event("sleep.updated"))
	d.Body = []byte(event("sleep.deleted"))

	_, err := h.proc.Process(context.Background(), d)
	assert.True(t, errors.Is(err, models.ErrUnauthenticated))
	assert.Empty(t, h.store.Events())
	assert.Equal(t, 0, h.fetcher.calls)

	d = signed(event("sleep.updated"))
	d.Signature = ""
	_, err = h.proc.Process(context.Background(), d)
	assert.True(t, errors.Is(err, models.ErrUnauthenticated))
}

func TestProcessMisconfigured(t *testing.T) {
	h := newHarness(t)
	h.proc.verifier = auth.NewSignatureVerifier("")

	_, err := h.proc.Process(context.Background(), signed(event("sleep.updated")))
	assert.True(t, errors.Is(err, models.ErrMisconfigured))
	assert.Empty(t, h.store.Events())
}

func TestProcessRejectsMalformedEvents(t *testing.T) {
	h := newHarness(t)
	for _, body := range []string{
		`{"user_id":1,"id":"a","type":"sleep"}`,
		`{"user_id":1,"id":"a","type":".updated"}`,
		`{"user_id":1,"id":"a","type":"sleep."}`,
		`{"user_id":1,"id":"a"}`,
		`{"id":"a","type":"sleep.updated"}`,
		`{"user_id":1,"type":"sleep.updated"}`,
		`not json`,
	} {
		_, err := h.proc.Process(context.Background(), signed(body))
		assert.True(t, errors.Is(err, models.ErrMalformedEvent), body)
	}
	assert.Empty(t, h.store.Events())
	assert.Equal(t, 0, h.store.ResourceCount())
}

func TestProcessSleepUpdatedEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = fmt.Errorf("%w: provider down", models.ErrFetchFailed)
	h.fetcher.result = whoop.FetchResult{Outcome: whoop.FetchFailed}
	body := event("sleep.updated")

	ack, err := h.proc.Process(context.Background(), signed(body))
	require.NoError(t, err, "fetch failures never reach the caller")
	assert.Equal(t, "sleep", ack.Domain)
	assert.Equal(t, "updated", ack.Action)
	assert.Equal(t, "failed", ack.Sync)

	events := h.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, body, events[0].RawBody)
	assert.Equal(t, "t-1", events[0].TraceID)
	assert.Equal(t, ack.EventID, events[0].ID)

	assert.Equal(t, 1, h.store.ResourceCount())
	assert.Equal(t, 1, h.fetcher.calls)
	assert.Empty(t, h.forwarder.records)
}

func TestProcessIsIdempotentPerResource(t *testing.T) {
	h := newHarness(t)
	body := event("sleep.updated")

	_, err := h.proc.Process(context.Background(), signed(body))
	require.NoError(t, err)
	first, err := h.store.GetResource(context.Background(), sleepKey)
	require.NoError(t, err)

	_, err = h.proc.Process(context.Background(), signed(body))
	require.NoError(t, err)
	second, err := h.store.GetResource(context.Background(), sleepKey)
	require.NoError(t, err)

	assert.Equal(t, 1, h.store.ResourceCount())
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Len(t, h.store.Events(), 2, "every delivery is audited")
}

func TestProcessLastActionWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.proc.Process(ctx, signed(event("sleep.updated")))
	require.NoError(t, err)
	_, err = h.proc.Process(ctx, signed(event("sleep.deleted")))
	require.NoError(t, err)
	_, err = h.store.GetResource(ctx, sleepKey)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = h.proc.Process(ctx, signed(event("sleep.updated")))
	require.NoError(t, err)
	_, err = h.store.GetResource(ctx, sleepKey)
	assert.NoError(t, err)

	// Deleting something never tracked is fine.
	other := `{"user_id":5,"id":"x","type":"workout.deleted"}`
	_, err = h.proc.Process(ctx, signed(other))
	assert.NoError(t, err)
}

func TestProcessUnknownActionIsRecordedOnly(t *testing.T) {
	h := newHarness(t)
	_, err := h.proc.Process(context.Background(), signed(event("sleep.scored.v2")))
	require.NoError(t, err)
	assert.Len(t, h.store.Events(), 1)
	assert.Equal(t, 0, h.store.ResourceCount())
	assert.Equal(t, 0, h.fetcher.calls)
}

func TestProcessOtherDomainsSkipFetch(t *testing.T) {
	h := newHarness(t)
	_, err := h.proc.Process(context.Background(), signed(`{"user_id":1,"id":42,"type":"recovery.updated"}`))
	require.NoError(t, err)
	_, err = h.store.GetResource(context.Background(), models.ResourceKey{UserID: 1, ResourceID: "42", Domain: "recovery"})
	assert.NoError(t, err)
	assert.Equal(t, 0, h.fetcher.calls)
}

func TestProcessStoredSleepIsForwardedAndPublished(t *testing.T) {
	h := newHarness(t)
	rec := models.SleepRecord{SleepID: sleepKey.ResourceID, WhoopUserID: 10129, Raw: json.RawMessage(`{}`)}
	h.fetcher.result = whoop.FetchResult{Outcome: whoop.FetchStored, Record: &rec}
	h.forwarder.err = fmt.Errorf("%w: rpc down", models.ErrSettlementFailed)

	ack, err := h.proc.Process(context.Background(), signed(event("sleep.updated")))
	require.NoError(t, err, "settlement failures never reach the caller")
	assert.Equal(t, "stored", ack.Sync)
	require.Len(t, h.forwarder.records, 1)
	assert.Equal(t, rec.SleepID, h.forwarder.records[0].SleepID)
	require.Len(t, h.publisher.records, 1)
}

func TestProcessBoundsStalledPublish(t *testing.T) {
	h := newHarness(t)
	h.proc.publishTimeout = 20 * time.Millisecond
	rec := models.SleepRecord{SleepID: sleepKey.ResourceID, WhoopUserID: 10129, Raw: json.RawMessage(`{}`)}
	h.fetcher.result = whoop.FetchResult{Outcome: whoop.FetchStored, Record: &rec}
	h.publisher.stall = true

	start := time.Now()
	ack, err := h.proc.Process(context.Background(), signed(event("sleep.updated")))
	require.NoError(t, err, "a stalled broker never fails the delivery")
	assert.Equal(t, "stored", ack.Sync)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, h.publisher.hadDeadline)
	require.Len(t, h.publisher.records, 1)
}

func TestNewProcessorDefaultsPublishTimeout(t *testing.T) {
	p := NewProcessor(Options{})
	assert.Equal(t, DefaultPublishTimeout, p.publishTimeout)
}

func TestProcessSkippedUserDoesNotForward(t *testing.T) {
	h := newHarness(t)
	ack, err := h.proc.Process(context.Background(), signed(event("sleep.updated")))
	require.NoError(t, err)
	assert.Equal(t, "skipped", ack.Sync)
	assert.Empty(t, h.forwarder.records)
	assert.Empty(t, h.publisher.records)
}
