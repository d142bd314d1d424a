package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"CripteX/internal/domain/models"
	pkgkafka "CripteX/pkg/kafka"

	"github.com/shopspring/decimal"
)

type recordingWriter struct {
	topic  string
	msgs   []pkgkafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) PublishBatch(_ context.Context, topic string, messages []pkgkafka.Message) error {
	w.topic = topic
	w.msgs = append(w.msgs, messages...)
	return w.err
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSnapshotPublisherKeysBySymbol(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaSnapshotPublisher(w, "market-snapshots")
	fetched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Publish(context.Background(), models.FeedSnapshot{
		Records: []models.MarketRecord{
			{Symbol: "BTC", CurrentPrice: decimal.RequireFromString("64000.5")},
			{Symbol: "ETH", CurrentPrice: decimal.RequireFromString("3100")},
		},
		Cycle:     7,
		FetchedAt: fetched,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if w.topic != "market-snapshots" || len(w.msgs) != 2 {
		t.Fatalf("topic=%s messages=%d", w.topic, len(w.msgs))
	}
	for i, want := range []string{"BTC", "ETH"} {
		if string(w.msgs[i].Key) != want {
			t.Fatalf("message %d key = %s, want %s", i, w.msgs[i].Key, want)
		}
		v, ok := w.msgs[i].Value.(SnapshotRecordMessage)
		if !ok {
			t.Fatalf("message %d value type %T", i, w.msgs[i].Value)
		}
		if v.Symbol != want || v.Cycle != 7 || !v.FetchedAt.Equal(fetched) {
			t.Fatalf("message %d value = %+v", i, v)
		}
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close: err=%v closed=%v", err, w.closed)
	}
}

func TestKafkaSnapshotPublisherSkipsEmptyAndPropagatesErrors(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := NewKafkaSnapshotPublisher(w, "t")

	if err := p.Publish(context.Background(), models.FeedSnapshot{Cycle: 1}); err != nil {
		t.Fatalf("empty snapshot: %v", err)
	}
	if len(w.msgs) != 0 {
		t.Fatalf("empty snapshot produced %d messages", len(w.msgs))
	}

	err := p.Publish(context.Background(), models.FeedSnapshot{
		Records: []models.MarketRecord{{Symbol: "BTC"}},
		Cycle:   2,
	})
	if err == nil {
		t.Fatalf("expected writer error")
	}
}
