// Package queue carries ingestion job payloads between the orchestrator and
// its workers. Delivery is at-least-once; consumers settle every delivery
// explicitly with Ack, Retry or Quarantine.
package queue

import (
	"context"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
)

// Backends selectable through Config.Backend.
const (
	BackendRabbit = "rabbit"
	BackendAsynq  = "asynq"
)

// DefaultRedeliveries caps asynq redeliveries when Config leaves it at zero.
const DefaultRedeliveries = 10

const (
	defaultDedupeTTL       = 24 * time.Hour
	defaultRedeliveryDelay = 5 * time.Second
	defaultAsynqQueue      = "ingest"
	quarantineReasonHeader = "x-quarantine-reason"
)

// Queue is the job queue contract.
type Queue interface {
	// Enqueue publishes p once per DedupeKey. A duplicate enqueue is a no-op.
	// A positive delay defers visibility.
	Enqueue(ctx context.Context, p media.Payload, delay time.Duration) error
	// Republish publishes p again for a job whose message may have been lost.
	Republish(ctx context.Context, p media.Payload) error
	// Consume streams deliveries until ctx is done. The channel is closed afterwards.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Delivery is one received message.
type Delivery interface {
	// Payload is valid only when Err is nil.
	Payload() media.Payload
	// Err is non-nil for a payload that failed validation. It wraps media.ErrMalformedPayload.
	Err() error
	// Ack settles the delivery.
	Ack(ctx context.Context) error
	// Retry hands the delivery back for redelivery after a short delay.
	Retry(ctx context.Context) error
	// Quarantine moves the delivery aside. It is never redelivered.
	Quarantine(ctx context.Context, reason string) error
}

// Config selects and tunes the backend.
type Config struct {
	Backend string `validate:"oneof=rabbit asynq"`
	// DedupeTTL bounds how long an enqueue is remembered by the rabbit backend.
	DedupeTTL time.Duration
	// RedeliveryDelay is how long a Retry waits before the message is visible again.
	RedeliveryDelay time.Duration
	// Redeliveries caps Retry on the asynq backend. Orchestrator attempts are counted separately.
	Redeliveries int `validate:"gte=0"`
	AsynqQueue   string
	Concurrency  int `validate:"gte=0"`
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendRabbit
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = defaultDedupeTTL
	}
	if c.RedeliveryDelay <= 0 {
		c.RedeliveryDelay = defaultRedeliveryDelay
	}
	if c.Redeliveries == 0 {
		c.Redeliveries = DefaultRedeliveries
	}
	if c.AsynqQueue == "" {
		c.AsynqQueue = defaultAsynqQueue
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return c
}

// Logger is the logging surface the backends need.
type Logger interface {
	Debug(msg string, err error, fields ...map[string]interface{})
	Info(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

func payloadFields(p media.Payload) map[string]interface{} {
	return map[string]interface{}{
		"job_id":   p.JobID,
		"media_id": p.MediaID,
		"attempt":  p.Attempt,
	}
}
