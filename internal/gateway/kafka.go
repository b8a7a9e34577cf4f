package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"panel-service/internal/realtime"
)

// KafkaSource consumes already-parsed domain events from the bot gateway's
// Kafka topic and feeds them to the dispatcher. The bot process is the
// producer; this service only reads.
type KafkaSource struct {
	reader     *kafka.Reader
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewKafkaSource(brokers []string, topic, groupID string, dispatcher *Dispatcher, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return &KafkaSource{reader: reader, dispatcher: dispatcher, logger: logger}
}

// Run fetches messages until the context is cancelled. Malformed messages are
// logged and committed so a poison message cannot wedge the consumer group.
func (s *KafkaSource) Run(ctx context.Context) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("fetch gateway event: %w", err)
		}

		var evt realtime.Event
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			s.logger.Error("malformed gateway event", "offset", msg.Offset, "error", err)
		} else if err := s.dispatcher.Publish(ctx, &evt); err != nil {
			return err
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit gateway event: %w", err)
		}
	}
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
