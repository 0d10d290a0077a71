package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Aleph-Alpha/mediaindex/internal/blobstore"
	"github.com/Aleph-Alpha/mediaindex/internal/config"
	"github.com/Aleph-Alpha/mediaindex/internal/extractor"
	"github.com/Aleph-Alpha/mediaindex/internal/ingest"
	"github.com/Aleph-Alpha/mediaindex/internal/queue"
	"github.com/Aleph-Alpha/mediaindex/internal/search"
	"github.com/Aleph-Alpha/mediaindex/internal/store"
	"github.com/Aleph-Alpha/mediaindex/internal/telemetry"
	"github.com/Aleph-Alpha/mediaindex/internal/vectorindex"
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
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// loggerBindings hand the one zap logger to every package under its own
// narrow interface.
var loggerBindings = fx.Provide(
	func(l *logger.Logger) postgres.Logger { return l },
	func(l *logger.Logger) qdrant.Logger { return l },
	func(l *logger.Logger) minio.Logger { return l },
	func(l *logger.Logger) s3.Logger { return l },
	func(l *logger.Logger) rabbit.Logger { return l },
	func(l *logger.Logger) redis.Logger { return l },
	func(l *logger.Logger) kafka.Logger { return l },
	func(l *logger.Logger) metrics.Logger { return l },
	func(l *logger.Logger) tracer.Logger { return l },
	func(l *logger.Logger) store.Logger { return l },
	func(l *logger.Logger) extractor.Logger { return l },
	func(l *logger.Logger) queue.Logger { return l },
	func(l *logger.Logger) ingest.Logger { return l },
	func(l *logger.Logger) search.Logger { return l },
)

// base is what every command needs: config, logging, telemetry and the
// metadata store.
func base(cfg *config.Config) fx.Option {
	return fx.Options(
		config.Module(cfg),
		logger.FXModule,
		loggerBindings,
		metrics.FXModule,
		telemetry.FXModule,
		tracer.FXModule,
		postgres.FXModule,
		store.FXModule,
	)
}

func blobs(cfg *config.Config) fx.Option {
	if cfg.Backends.Blob == config.BlobS3 {
		return fx.Options(
			s3.FXModule,
			fx.Provide(blobstore.NewS3),
		)
	}
	return fx.Options(
		minio.FXModule,
		fx.Provide(
			blobstore.NewMinio,
			func(m *minio.Minio) ingest.UploadCleaner { return m },
		),
	)
}

func vectors(cfg *config.Config) fx.Option {
	if cfg.Backends.Vector == config.VectorPgvector {
		return fx.Provide(func(pg *postgres.Postgres) vectorindex.Index {
			return vectorindex.NewPgvector(pg)
		})
	}
	return fx.Options(
		qdrant.FXModule,
		fx.Provide(func(c *qdrant.Client) vectorindex.Index {
			return vectorindex.NewQdrant(c)
		}),
	)
}

func extraction() fx.Option {
	return fx.Options(
		embedding.FXModule,
		fx.Provide(extractor.New),
	)
}

func jobQueue(cfg *config.Config) fx.Option {
	opts := []fx.Option{
		redis.FXModule,
		queue.Module(cfg.Queue),
		fx.Provide(func(r *redis.RedisClient) ingest.Locker { return ingest.NewRedisLocker(r) }),
	}
	if cfg.Queue.Backend != queue.BackendAsynq {
		opts = append(opts, rabbit.FXModule)
	}
	return fx.Options(opts...)
}

func events(cfg *config.Config) fx.Option {
	if !cfg.Backends.Events {
		return fx.Options()
	}
	return fx.Options(
		kafka.FXModule,
		fx.Provide(func(p *kafka.Producer) ingest.EventPublisher { return ingest.NewKafkaEvents(p) }),
	)
}

// pipeline is the full ingestion graph.
func pipeline(cfg *config.Config) fx.Option {
	return fx.Options(
		base(cfg),
		blobs(cfg),
		vectors(cfg),
		extraction(),
		jobQueue(cfg),
		events(cfg),
		ingest.FXModule,
		ingest.SweeperModule,
	)
}

// searching is the query graph. It needs no queue and no blob store.
func searching(cfg *config.Config) fx.Option {
	return fx.Options(
		base(cfg),
		vectors(cfg),
		extraction(),
		search.FXModule,
	)
}

// fxLogger routes fx's own events through zap.
var fxLogger = fx.WithLogger(func(l *logger.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: l.Zap.Named("fx")}
})

// start builds and starts an app for a one-shot command and fills targets.
// The returned func stops the app.
func start(ctx context.Context, opts fx.Option, targets ...interface{}) (func(), error) {
	app := fx.New(opts, fxLogger, fx.Populate(targets...))
	if err := app.Err(); err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		return nil, err
	}
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		_ = app.Stop(stopCtx)
	}, nil
}

// serve runs an app until ctx is done.
func serve(ctx context.Context, opts fx.Option) error {
	stop, err := start(ctx, opts)
	if err != nil {
		return err
	}
	defer stop()
	<-ctx.Done()
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
