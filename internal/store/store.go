package store

import (
	"context"
	"errors"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/pkg/postgres"
	"github.com/google/uuid"
)

// Logger is the logging surface the store needs.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// Store is the metadata store: media records and their ingestion jobs.
// Every state change is a single conditional statement or one transaction.
type Store struct {
	pg     *postgres.Postgres
	logger Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds a Store over an open connection.
func New(pg *postgres.Postgres, logger Logger, opts ...Option) *Store {
	s := &Store{pg: pg, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// indexes gorm tags cannot express.
var migrationStatements = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ingestion_jobs_outstanding_key
		ON ingestion_jobs (idempotency_key) WHERE finished_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_media_records_tags ON media_records USING GIN (tags)`,
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.pg.Migrate(ctx, []interface{}{&media.Record{}, &media.Job{}}, migrationStatements...)
	if err != nil {
		return translate("migrate", err)
	}
	s.logger.Info("metadata schema migrated", nil)
	return nil
}

// translate maps database errors onto the media taxonomy. The translated
// postgres sentinel stays in the chain for callers that care.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, media.ErrStateConflict) || errors.Is(err, media.ErrInvalidTransition) {
		return err
	}
	var merr *media.Error
	if errors.As(err, &merr) {
		return err
	}
	tr := postgres.TranslateError(err)
	if errors.Is(tr, postgres.ErrRecordNotFound) {
		return media.E(op, media.ErrNotFound, tr)
	}
	return media.E(op, media.ErrTransientStore, tr)
}

func stateStrings(states []media.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// checkID rejects ids that cannot exist so they surface as not found rather
// than as a database type error.
func checkID(op, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return media.E(op, media.ErrNotFound, err)
	}
	return nil
}

func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}
