package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// PayloadKind tags the schema version of a job payload.
const PayloadKind = "ingest.v1"

// validate is safe for concurrent use and caches struct metadata.
var validate = validator.New()

// Payload is the message carried by the job queue.
type Payload struct {
	Kind           string            `json:"kind" validate:"required,eq=ingest.v1"`
	JobID          string            `json:"job_id" validate:"required,uuid"`
	MediaID        string            `json:"media_id" validate:"required,uuid"`
	IdempotencyKey string            `json:"idempotency_key" validate:"required"`
	Attempt        int               `json:"attempt" validate:"gte=1"`
	EnqueuedAt     time.Time         `json:"enqueued_at"`
	Trace          map[string]string `json:"trace,omitempty"`
}

// IdempotencyKey derives the dedupe key for a media id. It never depends on the attempt.
func IdempotencyKey(mediaID string) string {
	sum := sha256.Sum256([]byte(mediaID))
	return "ingest:" + hex.EncodeToString(sum[:])[:32]
}

// NewPayload builds the queue message for job.
func NewPayload(job Job, trace map[string]string) Payload {
	return Payload{
		Kind:           PayloadKind,
		JobID:          job.ID,
		MediaID:        job.MediaID,
		IdempotencyKey: job.IdempotencyKey,
		Attempt:        job.Attempt,
		EnqueuedAt:     job.EnqueuedAt,
		Trace:          trace,
	}
}

// DedupeKey identifies one enqueue of one attempt.
func (p Payload) DedupeKey() string {
	return fmt.Sprintf("%s:%d", p.IdempotencyKey, p.Attempt)
}

// Encode serializes the payload.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses and validates a raw queue message. Every failure wraps ErrMalformedPayload.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dec.More() {
		return Payload{}, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}
	if err := validate.Struct(p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.IdempotencyKey != IdempotencyKey(p.MediaID) {
		return Payload{}, fmt.Errorf("%w: idempotency key does not belong to media %s", ErrMalformedPayload, p.MediaID)
	}
	return p, nil
}
