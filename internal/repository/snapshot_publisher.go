package repository

import (
	"context"
	"time"

	"CripteX/internal/domain/models"
	"CripteX/internal/domain/repository"
	pkgkafka "CripteX/pkg/kafka"

	"github.com/shopspring/decimal"
)

// BatchWriter is the part of the Kafka producer the publisher uses.
type BatchWriter interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// SnapshotRecordMessage is the value of one message on the snapshot topic.
type SnapshotRecordMessage struct {
	Symbol           string          `json:"symbol"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	ChangePercent24h decimal.Decimal `json:"price_change_percentage_24h"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	MarketCap        decimal.Decimal `json:"market_cap"`
	Cycle            uint64          `json:"cycle"`
	FetchedAt        time.Time       `json:"fetched_at"`
}

// KafkaSnapshotPublisher implements SnapshotPublisher for Kafka. Every record
// becomes one message keyed by symbol, so a symbol always lands on the same
// partition and consumers see its updates in order.
type KafkaSnapshotPublisher struct {
	writer BatchWriter
	topic  string
}

// NewKafkaSnapshotPublisher creates a Kafka snapshot publisher.
func NewKafkaSnapshotPublisher(writer BatchWriter, topic string) repository.SnapshotPublisher {
	return &KafkaSnapshotPublisher{writer: writer, topic: topic}
}

func (p *KafkaSnapshotPublisher) Publish(ctx context.Context, s models.FeedSnapshot) error {
	if len(s.Records) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(s.Records))
	for i, r := range s.Records {
		msgs[i] = pkgkafka.Message{
			Key: []byte(r.Symbol),
			Value: SnapshotRecordMessage{
				Symbol:           r.Symbol,
				CurrentPrice:     r.CurrentPrice,
				ChangePercent24h: r.ChangePercent24h,
				Volume24h:        r.Volume24h,
				MarketCap:        r.MarketCap,
				Cycle:            s.Cycle,
				FetchedAt:        s.FetchedAt,
			},
		}
	}
	return p.writer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaSnapshotPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// NopSnapshotPublisher drops every snapshot. It stands in when Kafka is disabled.
type NopSnapshotPublisher struct{}

func (NopSnapshotPublisher) Publish(context.Context, models.FeedSnapshot) error { return nil }
func (NopSnapshotPublisher) Close() error                                       { return nil }
