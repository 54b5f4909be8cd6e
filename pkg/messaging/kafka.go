package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ExchangeRecord is one completed synchronise round trip as journaled for
// audit and analytics.
type ExchangeRecord struct {
	DeviceID      string    `json:"deviceId"`
	OutboundCount int       `json:"outboundCount"`
	InboundCount  int       `json:"inboundCount"`
	MoreAvailable bool      `json:"moreAvailable"`
	CompletedAt   time.Time `json:"completedAt"`
}

// Journal writes exchange records to a Kafka topic, keyed by device so one
// device's history stays ordered within a partition.
type Journal struct {
	writer *kafka.Writer
}

func NewJournal(brokers []string, topic string) *Journal {
	return &Journal{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

// Record journals one exchange.
func (j *Journal) Record(ctx context.Context, rec ExchangeRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode exchange record: %w", err)
	}
	err = j.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.DeviceID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write exchange record: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	return j.writer.Close()
}

// JournalReader consumes exchange records, e.g. for an analytics pipeline.
type JournalReader struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func NewJournalReader(brokers []string, topic, groupID string, logger *slog.Logger) *JournalReader {
	return &JournalReader{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3, // 10KB
			MaxBytes: 10e6, // 10MB
		}),
		logger: logger,
	}
}

// Consume delivers records to handler until ctx is cancelled.
func (r *JournalReader) Consume(ctx context.Context, handler func(rec ExchangeRecord) error) {
	for {
		m, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("error reading exchange record", "error", err)
			continue
		}
		var rec ExchangeRecord
		if err := json.Unmarshal(m.Value, &rec); err != nil {
			r.logger.Warn("skipping malformed exchange record", "error", err)
			continue
		}
		if err := handler(rec); err != nil {
			r.logger.Warn("exchange record handler failed", "device", rec.DeviceID, "error", err)
		}
	}
}

func (r *JournalReader) Close() error {
	return r.reader.Close()
}
