package ingest

import (
	"testing"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		kind    error
		attempt int
		want    time.Duration
	}{
		{"transient first", media.ErrTransientStore, 1, 2 * time.Second},
		{"transient second", media.ErrTransientStore, 2, 4 * time.Second},
		{"transient fourth", media.ErrTransientStore, 4, 16 * time.Second},
		{"transient capped", media.ErrTransientStore, 12, 5 * time.Minute},
		{"zero attempt", media.ErrTransientStore, 0, 2 * time.Second},
		{"capacity first", media.ErrCapacity, 1, 15 * time.Second},
		{"capacity third", media.ErrCapacity, 3, 135 * time.Second},
		{"capacity capped", media.ErrCapacity, 9, 20 * time.Minute},
		{"unknown kind", nil, 3, 8 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.kind, tt.attempt))
		})
	}
}

func TestBackoffIsMonotonic(t *testing.T) {
	for _, kind := range []error{media.ErrTransientStore, media.ErrCapacity} {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 20; attempt++ {
			d := Backoff(kind, attempt)
			assert.GreaterOrEqual(t, d, prev)
			prev = d
		}
	}
}
