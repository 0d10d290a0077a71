package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Publish writes one message. Messages with the same key land on the same
// partition and keep their order.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{Key: key, Value: value}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish kafka message", err, map[string]interface{}{
			"topic": p.cfg.Topic,
			"key":   string(key),
		})
		return err
	}
	return nil
}
