package ingest

import (
	"context"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/queue"
	"golang.org/x/sync/errgroup"
)

// Processor runs one job payload.
type Processor interface {
	Process(ctx context.Context, p media.Payload) error
}

// Worker drains the job queue with a fixed number of goroutines.
type Worker struct {
	queue       queue.Queue
	processor   Processor
	concurrency int
	logger      Logger
}

func NewWorker(q queue.Queue, processor Processor, cfg Config, logger Logger) *Worker {
	return &Worker{
		queue:       q,
		processor:   processor,
		concurrency: cfg.withDefaults().Concurrency,
		logger:      logger,
	}
}

// Run consumes until ctx is done and every goroutine has settled its
// current delivery.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.queue.Consume(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("worker started", nil, map[string]interface{}{"concurrency": w.concurrency})

	g := new(errgroup.Group)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			for d := range deliveries {
				w.handle(ctx, d)
			}
			return nil
		})
	}
	err = g.Wait()
	w.logger.Info("worker stopped", err)
	return err
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	// Settlement must reach the broker even while shutting down.
	settleCtx := context.WithoutCancel(ctx)

	if err := d.Err(); err != nil {
		w.logger.Warn("quarantining malformed payload", err)
		if qerr := d.Quarantine(settleCtx, err.Error()); qerr != nil {
			w.logger.Error("failed to quarantine delivery", qerr)
		}
		return
	}

	p := d.Payload()
	if err := w.processor.Process(ctx, p); err != nil {
		w.logger.Warn("processing bookkeeping failed, redelivering", err, map[string]interface{}{
			"job_id":   p.JobID,
			"media_id": p.MediaID,
		})
		if rerr := d.Retry(settleCtx); rerr != nil {
			w.logger.Error("failed to hand delivery back", rerr)
		}
		return
	}
	if err := d.Ack(settleCtx); err != nil {
		w.logger.Error("failed to ack delivery", err, map[string]interface{}{"job_id": p.JobID})
	}
}
