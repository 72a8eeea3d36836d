// Package kafka publishes batch conversion outcomes to a Kafka topic so
// downstream consumers can track which station-years have fresh EPW files.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/batch"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/config"
)

// Writer produces conversion result events to the configured result topic.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured result topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaResultTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishResults serializes and publishes every result of a batch run in a
// single WriteMessages call. Messages are keyed by station so per-station
// ordering survives partitioning.
func (w *Writer) PublishResults(ctx context.Context, results []batch.Result) error {
	if len(results) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(results))
	for i := range results {
		msg, err := serializeToMessage(results[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	w.logger.Info("published conversion results", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Result into a Kafka message.
func serializeToMessage(res batch.Result) (kafkago.Message, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize conversion result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(res.StationID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("conversion_result")},
			{Key: "completed_at", Value: []byte(res.CompletedAt.Format(time.RFC3339))},
		},
	}, nil
}
