package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/telemetry"
	"github.com/Aleph-Alpha/mediaindex/pkg/rabbit"
)

// broker is the part of *rabbit.Rabbit the backend uses.
type broker interface {
	Publish(ctx context.Context, msg []byte, headers ...map[string]interface{}) error
	PublishDelayed(ctx context.Context, msg []byte, delay time.Duration, headers ...map[string]interface{}) error
	PublishQuarantine(ctx context.Context, msg []byte, headers ...map[string]interface{}) error
	Consume(ctx context.Context, wg *sync.WaitGroup) <-chan rabbit.Message
}

// Deduper remembers enqueues. *redis.RedisClient implements it.
type Deduper interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
}

// Rabbit is the RabbitMQ backend. Delays go through the TTL delay queue and
// quarantine through the dead-letter exchange.
type Rabbit struct {
	broker   broker
	dedupe   Deduper
	cfg      Config
	logger   Logger
	pipeline *telemetry.Pipeline
	wg       sync.WaitGroup
}

// NewRabbit builds the backend. dedupe may be nil, in which case duplicate
// enqueues reach the broker and are absorbed by the orchestrator.
func NewRabbit(client *rabbit.Rabbit, dedupe Deduper, cfg Config, logger Logger, pipeline *telemetry.Pipeline) *Rabbit {
	return newRabbit(client, dedupe, cfg, logger, pipeline)
}

func newRabbit(b broker, dedupe Deduper, cfg Config, logger Logger, pipeline *telemetry.Pipeline) *Rabbit {
	return &Rabbit{broker: b, dedupe: dedupe, cfg: cfg.withDefaults(), logger: logger, pipeline: pipeline}
}

func dedupeKey(p media.Payload) string {
	return "dedupe:" + p.DedupeKey()
}

func (r *Rabbit) Enqueue(ctx context.Context, p media.Payload, delay time.Duration) error {
	body, err := p.Encode()
	if err != nil {
		return media.E("enqueue", media.ErrMalformedPayload, err)
	}

	key := dedupeKey(p)
	if r.dedupe != nil {
		fresh, err := r.dedupe.SetNX(ctx, key, p.JobID, r.cfg.DedupeTTL)
		if err != nil {
			return media.E("enqueue", media.ErrTransientStore, err)
		}
		if !fresh {
			r.logger.Debug("duplicate enqueue ignored", nil, payloadFields(p))
			return nil
		}
	}

	if err := r.broker.PublishDelayed(ctx, body, delay); err != nil {
		if r.dedupe != nil {
			if _, derr := r.dedupe.Delete(context.WithoutCancel(ctx), key); derr != nil {
				r.logger.Warn("failed to forget dedupe key after publish failure", derr, payloadFields(p))
			}
		}
		return media.E("enqueue", media.ErrTransientStore, rabbit.TranslateError(err))
	}
	return nil
}

func (r *Rabbit) Republish(ctx context.Context, p media.Payload) error {
	body, err := p.Encode()
	if err != nil {
		return media.E("republish", media.ErrMalformedPayload, err)
	}
	if err := r.broker.Publish(ctx, body); err != nil {
		return media.E("republish", media.ErrTransientStore, rabbit.TranslateError(err))
	}
	return nil
}

func (r *Rabbit) Consume(ctx context.Context) (<-chan Delivery, error) {
	msgs := r.broker.Consume(ctx, &r.wg)
	out := make(chan Delivery)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(out)
		for msg := range msgs {
			d := &rabbitDelivery{msg: msg, backend: r}
			d.payload, d.err = media.DecodePayload(msg.Body())
			select {
			case out <- d:
			case <-ctx.Done():
				// Unsettled; the broker redelivers once the channel closes.
				return
			}
		}
	}()
	return out, nil
}

// Close waits for the consumer goroutines. The broker connection is owned by pkg/rabbit.
func (r *Rabbit) Close() error {
	r.wg.Wait()
	return nil
}

type rabbitDelivery struct {
	msg     rabbit.Message
	payload media.Payload
	err     error
	backend *Rabbit
}

func (d *rabbitDelivery) Payload() media.Payload { return d.payload }
func (d *rabbitDelivery) Err() error             { return d.err }

func (d *rabbitDelivery) Ack(ctx context.Context) error {
	return rabbit.TranslateError(d.msg.AckMsg())
}

// Retry parks a copy in the delay queue and acks the original. When the
// copy cannot be published the original is requeued instead.
func (d *rabbitDelivery) Retry(ctx context.Context) error {
	if err := d.backend.broker.PublishDelayed(ctx, d.msg.Body(), d.backend.cfg.RedeliveryDelay, d.msg.Header()); err != nil {
		d.backend.logger.Warn("delayed redelivery failed, requeueing in place", err, nil)
		return rabbit.TranslateError(d.msg.NackMsg(true))
	}
	return rabbit.TranslateError(d.msg.AckMsg())
}

// Quarantine publishes the message with its reason to the quarantine queue.
// If that fails the message is rejected and dead-lettered there by the broker.
func (d *rabbitDelivery) Quarantine(ctx context.Context, reason string) error {
	if d.backend.pipeline != nil {
		d.backend.pipeline.Quarantined(BackendRabbit)
	}
	headers := map[string]interface{}{quarantineReasonHeader: reason}
	if err := d.backend.broker.PublishQuarantine(ctx, d.msg.Body(), headers); err != nil {
		d.backend.logger.Warn("quarantine publish failed, dead-lettering", err, map[string]interface{}{"reason": reason})
		if nerr := d.msg.NackMsg(false); nerr != nil {
			return fmt.Errorf("quarantine: %w", rabbit.TranslateError(nerr))
		}
		return nil
	}
	return rabbit.TranslateError(d.msg.AckMsg())
}
