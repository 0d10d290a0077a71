package ingest

import (
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/thumbnail"
)

const (
	DefaultMaxAttempts    = 5
	DefaultMaxUploadSize  = 100 << 20
	DefaultConcurrency    = 4
	defaultExtractTimeout = 60 * time.Second

	DefaultSweepInterval    = 5 * time.Minute
	DefaultGrace            = 10 * time.Minute
	DefaultRepublishAfter   = 30 * time.Minute
	DefaultFailedAfter      = 10 * time.Minute
	DefaultJobRetention     = 7 * 24 * time.Hour
	DefaultSweepBatch       = 500
	DefaultUploadCleanupAge = 24 * time.Hour
)

// Config tunes the orchestrator and its workers.
type Config struct {
	MaxAttempts int `validate:"gte=1"`
	// ProcessingLease is how long a PROCESSING record belongs to one worker.
	// Zero means twice the extraction timeout.
	ProcessingLease time.Duration
	ExtractTimeout  time.Duration
	MaxUploadSize   int64 `validate:"gte=0"`
	Concurrency     int   `validate:"gte=0"`
	// ThumbnailSize bounds both thumbnail edges in pixels.
	ThumbnailSize int `validate:"gte=0"`
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = defaultExtractTimeout
	}
	if c.ProcessingLease <= 0 {
		c.ProcessingLease = 2 * c.ExtractTimeout
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = DefaultMaxUploadSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ThumbnailSize <= 0 {
		c.ThumbnailSize = thumbnail.DefaultMaxSide
	}
	return c
}

// SweepConfig tunes the reconciliation sweep.
type SweepConfig struct {
	Interval time.Duration
	// Grace protects fresh vector entries whose record commit may still be in flight.
	Grace time.Duration
	// RepublishAfter must exceed the longest retry backoff.
	RepublishAfter time.Duration
	FailedAfter    time.Duration
	JobRetention   time.Duration
	BatchSize      int `validate:"gte=0"`
	// UploadCleanupAge is the age past which incomplete multipart uploads are aborted.
	UploadCleanupAge time.Duration
	// LockTTL bounds how long one sweeper holds the cluster-wide lock.
	LockTTL time.Duration
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.RepublishAfter <= 0 {
		c.RepublishAfter = DefaultRepublishAfter
	}
	if c.FailedAfter <= 0 {
		c.FailedAfter = DefaultFailedAfter
	}
	if c.JobRetention <= 0 {
		c.JobRetention = DefaultJobRetention
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultSweepBatch
	}
	if c.UploadCleanupAge <= 0 {
		c.UploadCleanupAge = DefaultUploadCleanupAge
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.Interval
	}
	return c
}
