package config

import (
	"github.com/Aleph-Alpha/mediaindex/internal/extractor"
	"github.com/Aleph-Alpha/mediaindex/internal/ingest"
	"github.com/Aleph-Alpha/mediaindex/internal/queue"
	"github.com/Aleph-Alpha/mediaindex/internal/search"
	"github.com/Aleph-Alpha/mediaindex/pkg/embedding"
	"github.com/Aleph-Alpha/mediaindex/pkg/kafka"
	"github.com/Aleph-Alpha/mediaindex/pkg/logger"
	"github.com/Aleph-Alpha/mediaindex/pkg/metrics"
	"github.com/Aleph-Alpha/mediaindex/pkg/minio"
	"github.com/Aleph-Alpha/mediaindex/pkg/postgres"
	"github.com/Aleph-Alpha/mediaindex/pkg/qdrant"
	"github.com/Aleph-Alpha/mediaindex/pkg/rabbit"
	"github.com/Aleph-Alpha/mediaindex/pkg/redis"
	"github.com/Aleph-Alpha/mediaindex/pkg/s3"
	"github.com/Aleph-Alpha/mediaindex/pkg/tracer"
	"go.uber.org/fx"
)

// Sections are the per-package configs provided to the fx graph.
type Sections struct {
	fx.Out

	Backends  Backends
	Logger    logger.Config
	Metrics   metrics.Config
	Tracer    tracer.Config
	Postgres  postgres.Config
	Qdrant    qdrant.Config
	Minio     minio.Config
	S3        s3.Config
	Embedding embedding.Config
	Extractor extractor.Config
	Rabbit    rabbit.Config
	Redis     redis.Config
	Kafka     kafka.Config
	Queue     queue.Config
	Ingest    ingest.Config
	Sweep     ingest.SweepConfig
	Search    search.Config
}

// Split hands each section to the package that owns it.
func Split(c *Config) Sections {
	return Sections{
		Backends:  c.Backends,
		Logger:    c.Logger,
		Metrics:   c.Metrics,
		Tracer:    c.Tracer,
		Postgres:  c.Postgres,
		Qdrant:    c.Qdrant,
		Minio:     c.Minio,
		S3:        c.S3,
		Embedding: c.Embedding,
		Extractor: c.Extractor,
		Rabbit:    c.Rabbit,
		Redis:     c.Redis,
		Kafka:     c.Kafka,
		Queue:     c.Queue,
		Ingest:    c.Ingest,
		Sweep:     c.Sweep,
		Search:    c.Search,
	}
}

// Module supplies an already loaded config.
func Module(c *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(c),
		fx.Provide(Split),
	)
}
