// Package events exports persisted side effects (message created, receipts
// updated) to Kafka for downstream consumers. Ephemeral typing signals are
// never exported: they are not persisted and must not be replayable.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"pairchat/internal/domain"
	"pairchat/internal/observability"
)

type Producer interface {
	MessageSent(ctx context.Context, msg domain.Message)
	SeenUpdated(ctx context.Context, readerID, senderID string, updated int64)
}

type record struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Message    *domain.Message `json:"message,omitempty"`
	ReaderID   string          `json:"readerId,omitempty"`
	SenderID   string          `json:"senderId,omitempty"`
	Updated    int64           `json:"updated,omitempty"`
}

type Kafka struct {
	client *kgo.Client
	topic  string
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &Kafka{client: cl, topic: topic}, nil
}

func (k *Kafka) MessageSent(ctx context.Context, msg domain.Message) {
	k.produce(ctx, msg.Recipient, record{
		Type:       "message_sent",
		OccurredAt: time.Now().UTC(),
		Message:    &msg,
	})
}

func (k *Kafka) SeenUpdated(ctx context.Context, readerID, senderID string, updated int64) {
	k.produce(ctx, readerID, record{
		Type:       "seen_updated",
		OccurredAt: time.Now().UTC(),
		ReaderID:   readerID,
		SenderID:   senderID,
		Updated:    updated,
	})
}

func (k *Kafka) produce(ctx context.Context, key string, rec record) {
	value, err := json.Marshal(rec)
	if err != nil {
		observability.GetLogger(ctx).Error("events: marshal failed", zap.Error(err))
		return
	}

	k.client.Produce(ctx, &kgo.Record{
		Topic: k.topic,
		Key:   []byte(key),
		Value: value,
	}, func(r *kgo.Record, err error) {
		if err != nil {
			observability.GetLogger(context.Background()).Error("events: produce failed",
				zap.String("type", rec.Type), zap.Error(err))
		}
	})
}

func (k *Kafka) Close() {
	k.client.Close()
}

// Noop is used when no brokers are configured.
type Noop struct{}

func (Noop) MessageSent(ctx context.Context, msg domain.Message)                        {}
func (Noop) SeenUpdated(ctx context.Context, readerID, senderID string, updated int64) {}
