// Package ingest turns verified WHOOP webhooks into audit rows, resource
// ledger updates and, for sleep updates, a synchronous fetch-and-store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/logging"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/metrics"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/notify"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/whoop"
)

type Verifier interface {
	Verify(signature, timestamp string, body []byte) error
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev models.EventRecord) error
	UpsertResource(ctx context.Context, key models.ResourceKey, at time.Time) error
	DeleteResource(ctx context.Context, key models.ResourceKey) (bool, error)
}

type SleepFetcher interface {
	FetchSleep(ctx context.Context, whoopUserID int64, sleepID string) (whoop.FetchResult, error)
}

type Forwarder interface {
	Forward(ctx context.Context, rec models.SleepRecord) (string, error)
}

// Delivery is one inbound webhook as received on the wire.
type Delivery struct {
	Signature string
	Timestamp string
	Body      []byte
}

// Ack is returned once a delivery has been recorded. Sync describes the
// fetch outcome for sleep updates and is informational only.
type Ack struct {
	EventID string
	Domain  string
	Action  string
	Sync    string
}

type Processor struct {
	verifier  Verifier
	store     EventStore
	fetcher   SleepFetcher
	forwarder Forwarder
	publisher notify.Publisher
	logger    *zap.Logger
	now       func() time.Time

	publishTimeout time.Duration
}

type Options struct {
	Verifier  Verifier
	Store     EventStore
	Fetcher   SleepFetcher
	Forwarder Forwarder
	Publisher notify.Publisher
	Logger    *zap.Logger
	// PublishTimeout bounds the sync notification so a slow broker cannot
	// hold the acknowledgement. Defaults to DefaultPublishTimeout.
	PublishTimeout time.Duration
}

const DefaultPublishTimeout = 2 * time.Second

func NewProcessor(opts Options) *Processor {
	p := &Processor{
		verifier:  opts.Verifier,
		store:     opts.Store,
		fetcher:   opts.Fetcher,
		forwarder: opts.Forwarder,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		now:       time.Now,

		publishTimeout: opts.PublishTimeout,
	}
	if p.publishTimeout <= 0 {
		p.publishTimeout = DefaultPublishTimeout
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.publisher == nil {
		p.publisher = notify.Noop{}
	}
	return p
}

// Process runs one delivery. It returns an error only before the audit row
// is written: ErrUnauthenticated, ErrMisconfigured, ErrMalformedEvent, or a
// storage error. Everything after that is logged and absorbed.
func (p *Processor) Process(ctx context.Context, d Delivery) (Ack, error) {
	log := logging.FromContext(ctx, p.logger)

	if err := p.verifier.Verify(d.Signature, d.Timestamp, d.Body); err != nil {
		metrics.WebhooksTotal.WithLabelValues(rejectOutcome(err)).Inc()
		return Ack{}, err
	}

	ev, domain, action, err := parseEvent(d.Body)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("malformed").Inc()
		return Ack{}, err
	}
	log = log.With(
		zap.Int64("user_id", ev.UserID),
		zap.String("resource_id", ev.ID.String()),
		zap.String("event_type", ev.Type),
		zap.String("trace_id", ev.TraceID))

	now := p.now().UTC()
	rec := models.EventRecord{
		ID:         uuid.NewString(),
		UserID:     ev.UserID,
		ResourceID: ev.ID.String(),
		EventType:  ev.Type,
		TraceID:    ev.TraceID,
		RawBody:    string(d.Body),
		ReceivedAt: now,
	}
	if err := p.store.InsertEvent(ctx, rec); err != nil {
		metrics.WebhooksTotal.WithLabelValues("error").Inc()
		return Ack{}, fmt.Errorf("record event: %w", err)
	}
	metrics.WebhooksTotal.WithLabelValues("accepted").Inc()
	ack := Ack{EventID: rec.ID, Domain: domain, Action: action}

	key := models.ResourceKey{UserID: ev.UserID, ResourceID: ev.ID.String(), Domain: domain}
	p.reconcile(ctx, log, key, action, now)

	if domain == models.DomainSleep && action == models.ActionUpdated && p.fetcher != nil {
		ack.Sync = p.syncSleep(ctx, log, ev.UserID, ev.ID.String())
	}
	return ack, nil
}

func rejectOutcome(err error) string {
	if errors.Is(err, models.ErrMisconfigured) {
		return "misconfigured"
	}
	return "unauthenticated"
}

func parseEvent(body []byte) (models.WebhookEvent, string, string, error) {
	var ev models.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, "", "", fmt.Errorf("%w: %v", models.ErrMalformedEvent, err)
	}
	if ev.UserID == 0 || ev.ID == "" {
		return ev, "", "", fmt.Errorf("%w: user_id and id required", models.ErrMalformedEvent)
	}
	domain, action, err := models.SplitType(ev.Type)
	if err != nil {
		return ev, "", "", err
	}
	return ev, domain, action, nil
}

// reconcile applies the action to the resource ledger. Unknown actions are
// recorded but leave the ledger alone.
func (p *Processor) reconcile(ctx context.Context, log *zap.Logger, key models.ResourceKey, action string, at time.Time) {
	switch action {
	case models.ActionUpdated:
		if err := p.store.UpsertResource(ctx, key, at); err != nil {
			log.Error("resource ledger upsert failed", zap.Error(err))
			return
		}
	case models.ActionDeleted:
		removed, err := p.store.DeleteResource(ctx, key)
		if err != nil {
			log.Error("resource ledger delete failed", zap.Error(err))
			return
		}
		if !removed {
			log.Debug("delete for untracked resource")
		}
	default:
		log.Info("unhandled webhook action")
		return
	}
	metrics.LedgerMutationsTotal.WithLabelValues(key.Domain, action).Inc()
}

func (p *Processor) syncSleep(ctx context.Context, log *zap.Logger, userID int64, sleepID string) string {
	res, err := p.fetcher.FetchSleep(ctx, userID, sleepID)
	switch {
	case err != nil:
		log.Warn("sleep sync failed", zap.Error(err))
		return res.Outcome.String()
	case res.Outcome == whoop.FetchSkipped:
		log.Info("sleep sync skipped, user not registered")
		return res.Outcome.String()
	case res.Record == nil:
		return res.Outcome.String()
	}

	rec := *res.Record
	if p.forwarder != nil {
		tx, err := p.forwarder.Forward(ctx, rec)
		switch {
		case errors.Is(err, models.ErrExtractionFailed):
			log.Info("sleep metrics unavailable, settlement skipped", zap.Error(err))
		case err != nil:
			log.Warn("settlement failed", zap.Error(err))
		case tx != "":
			log.Info("settlement submitted", zap.String("tx", tx))
		}
	}
	pctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()
	if err := p.publisher.PublishSleepSynced(pctx, rec); err != nil {
		log.Warn("sleep synced notification failed", zap.Error(err))
	}
	return res.Outcome.String()
}
