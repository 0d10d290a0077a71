package ingest

import (
	"context"
	"sync"

	"github.com/Aleph-Alpha/mediaindex/internal/blobstore"
	"github.com/Aleph-Alpha/mediaindex/internal/extractor"
	"github.com/Aleph-Alpha/mediaindex/internal/queue"
	"github.com/Aleph-Alpha/mediaindex/internal/store"
	"github.com/Aleph-Alpha/mediaindex/internal/telemetry"
	"github.com/Aleph-Alpha/mediaindex/internal/vectorindex"
	"github.com/Aleph-Alpha/mediaindex/pkg/tracer"
	"go.uber.org/fx"
)

// OrchestratorParams are the injected collaborators of the orchestrator.
type OrchestratorParams struct {
	fx.In

	Config    Config
	Store     *store.Store
	Blobs     blobstore.Store
	Index     vectorindex.Index
	Extractor *extractor.Extractor
	Queue     queue.Queue
	Events    EventPublisher `optional:"true"`
	Tracer    *tracer.Tracer
	Pipeline  *telemetry.Pipeline
	Logger    Logger
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	return New(Deps{
		Store:     p.Store,
		Blobs:     p.Blobs,
		Index:     p.Index,
		Extractor: p.Extractor,
		Queue:     p.Queue,
		Events:    p.Events,
		Tracer:    p.Tracer,
		Pipeline:  p.Pipeline,
		Logger:    p.Logger,
	}, p.Config)
}

// FXModule provides *Orchestrator.
var FXModule = fx.Module("ingest",
	fx.Provide(NewOrchestrator),
)

// WorkerModule runs a Worker for the lifetime of the app.
var WorkerModule = fx.Module("ingest-worker",
	fx.Provide(func(q queue.Queue, o *Orchestrator, cfg Config, logger Logger) *Worker {
		return NewWorker(q, o, cfg, logger)
	}),
	fx.Invoke(RegisterWorkerLifecycle),
)

// SweeperParams are the injected collaborators of the sweeper.
type SweeperParams struct {
	fx.In

	Orchestrator *Orchestrator
	Config       SweepConfig
	Locker       Locker        `optional:"true"`
	Uploads      UploadCleaner `optional:"true"`
}

func NewSweeperFromParams(p SweeperParams) *Sweeper {
	return NewSweeper(p.Orchestrator, p.Config, p.Locker, p.Uploads)
}

// SweeperModule provides *Sweeper. RunSweeperModule also runs it periodically.
var SweeperModule = fx.Module("ingest-sweeper",
	fx.Provide(NewSweeperFromParams),
)

var RunSweeperModule = fx.Module("ingest-sweeper-run",
	fx.Invoke(RegisterSweeperLifecycle),
)

func RegisterWorkerLifecycle(lc fx.Lifecycle, w *Worker, logger Logger) {
	runInBackground(lc, func(ctx context.Context) {
		if err := w.Run(ctx); err != nil {
			logger.Error("worker exited", err)
		}
	})
}

func RegisterSweeperLifecycle(lc fx.Lifecycle, s *Sweeper) {
	runInBackground(lc, func(ctx context.Context) {
		_ = s.Run(ctx)
	})
}

func runInBackground(lc fx.Lifecycle, run func(ctx context.Context)) {
	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				run(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
