package rabbit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Message interface {
	AckMsg() error
	NackMsg(requeue bool) error
	Body() []byte
	Header() map[string]interface{}
	Redelivered() bool
}

type ConsumerMessage struct {
	delivery amqp.Delivery
}

// consumeQueue delivers messages from queueName until ctx is cancelled,
// re-establishing the consumer when the channel is replaced.
func (rb *Rabbit) consumeQueue(ctx context.Context, wg *sync.WaitGroup, queueName string) <-chan Message {
	outChan := make(chan Message, 100)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(outChan)
	outerLoop:
		for {
			select {
			case <-rb.shutdownSignal:
				rb.logger.Info("consumer is shutting down due to shutdown signal", nil, nil)
				return
			case <-ctx.Done():
				rb.logger.Info("consumer is shutting down due to context cancellation", ctx.Err(), nil)
				return
			default:
			}

			rb.mu.RLock()
			msgs, err := rb.channel.ConsumeWithContext(ctx,
				queueName,
				"",    // consumer
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			rb.mu.RUnlock()

			if err != nil {
				rb.logger.Error("error in establishing consumer for rabbit", err, map[string]interface{}{
					"queue_name": queueName,
				})
				time.Sleep(100 * time.Millisecond)
				continue
			}

			for {
				select {
				case <-ctx.Done():
					rb.logger.Info("consumer is shutting down due to context cancellation", ctx.Err(), nil)
					return
				case <-rb.shutdownSignal:
					rb.logger.Info("consumer is shutting down due to shutdown signal", nil, nil)
					return
				case msg, ok := <-msgs:
					if !ok {
						continue outerLoop
					}
					rb.logger.Debug("message consumed from rabbit", nil, map[string]interface{}{
						"queue_name":  queueName,
						"redelivered": msg.Redelivered,
					})
					select {
					case outChan <- &ConsumerMessage{delivery: msg}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return outChan
}

// Consume delivers messages from the work queue.
func (rb *Rabbit) Consume(ctx context.Context, wg *sync.WaitGroup) <-chan Message {
	return rb.consumeQueue(ctx, wg, rb.cfg.Channel.QueueName)
}

// ConsumeQuarantine delivers messages from the quarantine queue.
func (rb *Rabbit) ConsumeQuarantine(ctx context.Context, wg *sync.WaitGroup) <-chan Message {
	return rb.consumeQueue(ctx, wg, rb.cfg.Quarantine.QueueName)
}

// Publish sends msg to the work exchange and waits for the broker confirm.
func (rb *Rabbit) Publish(ctx context.Context, msg []byte, headers ...map[string]interface{}) error {
	return rb.publish(ctx, rb.cfg.Channel.ExchangeName, rb.cfg.Channel.RoutingKey, amqp.Publishing{
		Headers: firstHeader(headers),
		Body:    msg,
	})
}

// PublishDelayed parks msg in the delay queue for delay before it reaches
// the work queue. A non-positive delay publishes directly.
func (rb *Rabbit) PublishDelayed(ctx context.Context, msg []byte, delay time.Duration, headers ...map[string]interface{}) error {
	if delay <= 0 {
		return rb.Publish(ctx, msg, headers...)
	}
	return rb.publish(ctx, "", rb.cfg.Channel.DelayQueueName(), amqp.Publishing{
		Headers:    firstHeader(headers),
		Expiration: strconv.FormatInt(delay.Milliseconds(), 10),
		Body:       msg,
	})
}

// PublishQuarantine sends msg straight to the quarantine queue.
func (rb *Rabbit) PublishQuarantine(ctx context.Context, msg []byte, headers ...map[string]interface{}) error {
	q := rb.cfg.Quarantine
	if q.ExchangeName == "" {
		return fmt.Errorf("rabbit: quarantine is not configured")
	}
	return rb.publish(ctx, q.ExchangeName, q.RoutingKey, amqp.Publishing{
		Headers: firstHeader(headers),
		Body:    msg,
	})
}

func (rb *Rabbit) publish(ctx context.Context, exchange, key string, p amqp.Publishing) error {
	p.ContentType = rb.cfg.Channel.ContentType
	p.DeliveryMode = amqp.Persistent
	p.Timestamp = time.Now().UTC()

	rb.mu.RLock()
	confirm, err := rb.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, p)
	rb.mu.RUnlock()
	if err != nil {
		rb.logger.Error("error in publishing msg into rabbit", err, map[string]interface{}{
			"exchange":    exchange,
			"routing_key": key,
		})
		return TranslateError(err)
	}
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}

func firstHeader(headers []map[string]interface{}) amqp.Table {
	if len(headers) == 0 || headers[0] == nil {
		return nil
	}
	return amqp.Table(headers[0])
}

func (m *ConsumerMessage) AckMsg() error {
	return m.delivery.Ack(false)
}

// NackMsg rejects the message. Without requeue it dead-letters into the
// quarantine queue.
func (m *ConsumerMessage) NackMsg(requeue bool) error {
	return m.delivery.Nack(false, requeue)
}

func (m *ConsumerMessage) Body() []byte {
	return m.delivery.Body
}

func (m *ConsumerMessage) Header() map[string]interface{} {
	return m.delivery.Headers
}

func (m *ConsumerMessage) Redelivered() bool {
	return m.delivery.Redelivered
}
