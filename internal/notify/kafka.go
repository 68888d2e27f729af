package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/deepthinks/deepthinks/internal/config"
)

// KafkaMirror appends every event to a trace topic, keyed by room so one
// conversation's events land on the same partition in order.
type KafkaMirror struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaMirror creates the mirror, or nil when disabled.
func NewKafkaMirror(cfg config.KafkaMirrorConfig, logger *slog.Logger) *KafkaMirror {
	if !cfg.Enabled || len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaMirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		logger: logger,
	}
}

func (m *KafkaMirror) Mirror(ev Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = m.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Room),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		m.logger.Warn("kafka mirror write failed", "event", ev.Name, "error", err)
	}
}

// Close flushes and closes the underlying writer.
func (m *KafkaMirror) Close() error {
	return m.writer.Close()
}
