package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes audit entries to a Kafka topic.
type KafkaSink struct {
	writer *kafka.Writer
}

var _ Sink = (*KafkaSink)(nil)

// NewKafkaSink creates a sink writing to topic on the given brokers. Writes
// are asynchronous: publishing is best-effort and must never stall the
// request path that records the entry.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: 5 * time.Second,
			Async:        true,
		},
	}
}

// Write publishes one entry keyed by account so per-account ordering holds.
func (s *KafkaSink) Write(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.AccountID),
		Value: data,
	})
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error { return s.writer.Close() }
