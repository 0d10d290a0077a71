package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Aleph-Alpha/mediaindex/pkg/kafka"
)

// Event types published on the lifecycle topic.
const (
	EventIndexed     = "media.indexed"
	EventDead        = "media.dead"
	EventConsistency = "media.consistency"
)

// Event is one lifecycle notification.
type Event struct {
	Type         string    `json:"type"`
	MediaID      string    `json:"media_id"`
	OwnerID      string    `json:"owner_id,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	ModelVersion string    `json:"model_version,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// EventPublisher delivers lifecycle events. Failures never block ingestion.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// KafkaEvents publishes events keyed by media id, so events of one media
// item stay ordered.
type KafkaEvents struct {
	producer *kafka.Producer
}

func NewKafkaEvents(producer *kafka.Producer) *KafkaEvents {
	return &KafkaEvents{producer: producer}
}

func (k *KafkaEvents) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.producer.Publish(ctx, []byte(ev.MediaID), body, map[string]string{"event_type": ev.Type})
}

// NopEvents drops everything. Used when no broker is configured.
type NopEvents struct{}

func (NopEvents) Publish(context.Context, Event) error { return nil }
