package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/leak-twin-service/internal/config"
	"github.com/couchcryptid/leak-twin-service/internal/domain"
)

// Writer publishes sensor outcomes to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured outcome topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// LoadBatch serializes and publishes every outcome in a single
// WriteMessages call. Messages are keyed by sensor so each sensor's history
// stays ordered within one partition.
func (w *Writer) LoadBatch(ctx context.Context, outcomes []domain.SensorOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(outcomes))
	for i := range outcomes {
		msg, err := serializeToMessage(outcomes[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d outcomes: %w", len(msgs), err)
	}
	w.logger.Debug("outcomes published", "topic", w.writer.Topic, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a SensorOutcome into a Kafka message.
func serializeToMessage(o domain.SensorOutcome) (kafkago.Message, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize sensor outcome: %w", err)
	}
	key := o.SensorID
	if key == "" {
		key = o.ID
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Time:  o.EvaluatedAt,
		Headers: []kafkago.Header{
			{Key: "severity", Value: []byte(o.Prescription.Severity)},
			{Key: "leak", Value: []byte(strconv.Itoa(int(o.Leak)))},
			{Key: "evaluated_at", Value: []byte(o.EvaluatedAt.Format(time.RFC3339))},
		},
	}, nil
}
