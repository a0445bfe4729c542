package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

// Start consumes messages until ctx is cancelled, passing each raw value to
// the handler. Handler errors do not stop the loop; delivery is at least
// once, so handlers must be idempotent.
func (c *Consumer) Start(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A dead broker would otherwise spin this loop hot.
			time.Sleep(time.Second)
			continue
		}
		_ = handler(msg.Key, msg.Value)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
