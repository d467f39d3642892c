// Package notify announces stored sleep records to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

// SleepSynced is the message body published after a sleep record is stored.
type SleepSynced struct {
	WhoopUserID int64      `json:"whoopUserId"`
	SleepID     string     `json:"sleepId"`
	Start       *time.Time `json:"start"`
	End         *time.Time `json:"end"`
	SyncedAt    time.Time  `json:"syncedAt"`
}

type Publisher interface {
	PublishSleepSynced(ctx context.Context, rec models.SleepRecord) error
	Close() error
}

// NewSleepSynced builds the message for rec.
func NewSleepSynced(rec models.SleepRecord, now time.Time) SleepSynced {
	return SleepSynced{
		WhoopUserID: rec.WhoopUserID,
		SleepID:     rec.SleepID,
		Start:       rec.Start,
		End:         rec.End,
		SyncedAt:    now.UTC(),
	}
}

// KafkaPublisher writes SleepSynced messages keyed by WHOOP user id, so one
// user's messages stay on one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	Topic  string
}

// Messages go out one per synchronous write, so batching is kept short.
const (
	batchTimeout = 10 * time.Millisecond
	writeTimeout = 2 * time.Second
)

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer, Topic: topic}
}

func (p *KafkaPublisher) PublishSleepSynced(ctx context.Context, rec models.SleepRecord) error {
	msg, err := encode(NewSleepSynced(rec, time.Now()))
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encode(ev SleepSynced) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal sleep synced: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.WhoopUserID, 10)),
		Value: value,
		Time:  ev.SyncedAt,
	}, nil
}

// Noop is used when no brokers are configured.
type Noop struct{}

func (Noop) PublishSleepSynced(context.Context, models.SleepRecord) error { return nil }

func (Noop) Close() error { return nil }
