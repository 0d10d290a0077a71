package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/telemetry"
	"github.com/Aleph-Alpha/mediaindex/pkg/redis"
	"github.com/hibiken/asynq"
)

// TaskTypeIngest is the asynq task type carrying a media.Payload.
const TaskTypeIngest = "media:ingest"

// taskInspector is the part of *asynq.Inspector Republish needs.
type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

// Asynq is the Redis-backed backend. The task id is the payload's dedupe
// key, so a second enqueue of the same attempt conflicts and is dropped.
type Asynq struct {
	client    *asynq.Client
	inspector taskInspector
	redisOpt  asynq.RedisClientOpt
	cfg      Config
	logger   Logger
	pipeline *telemetry.Pipeline

	mu      sync.RWMutex
	server  *asynq.Server
	out     chan Delivery
	stopped chan struct{}
	closed  bool
}

// NewAsynq connects a client to the Redis described by redisCfg.
func NewAsynq(redisCfg redis.Config, cfg Config, logger Logger, pipeline *telemetry.Pipeline) (*Asynq, error) {
	tlsConfig, err := redisCfg.ClientTLS()
	if err != nil {
		return nil, err
	}
	opt := asynq.RedisClientOpt{
		Addr:      redisCfg.Addr(),
		Username:  redisCfg.Username,
		Password:  redisCfg.Password,
		DB:        redisCfg.DB,
		TLSConfig: tlsConfig,
	}
	return &Asynq{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		redisOpt:  opt,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		pipeline:  pipeline,
	}, nil
}

func (a *Asynq) Enqueue(ctx context.Context, p media.Payload, delay time.Duration) error {
	return a.enqueue(ctx, "enqueue", p, delay)
}

// Republish re-enqueues under the same task id. While the original task is
// still pending, scheduled, retrying or active the call is a no-op. An
// archived or completed task is deleted first so its id can be reused.
func (a *Asynq) Republish(ctx context.Context, p media.Payload) error {
	if err := a.clearFinished(p); err != nil {
		return media.E("republish", media.ErrTransientStore, err)
	}
	return a.enqueue(ctx, "republish", p, 0)
}

func (a *Asynq) clearFinished(p media.Payload) error {
	if a.inspector == nil {
		return nil
	}
	id := p.DedupeKey()
	info, err := a.inspector.GetTaskInfo(a.cfg.AsynqQueue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted {
		return nil
	}
	if err := a.inspector.DeleteTask(a.cfg.AsynqQueue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return err
	}
	fields := payloadFields(p)
	fields["task_state"] = info.State.String()
	a.logger.Info("removed finished task before republish", nil, fields)
	return nil
}

func (a *Asynq) enqueue(ctx context.Context, op string, p media.Payload, delay time.Duration) error {
	body, err := p.Encode()
	if err != nil {
		return media.E(op, media.ErrMalformedPayload, err)
	}
	opts := []asynq.Option{
		asynq.Queue(a.cfg.AsynqQueue),
		asynq.TaskID(p.DedupeKey()),
		asynq.MaxRetry(a.cfg.Redeliveries),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	_, err = a.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeIngest, body), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		a.logger.Debug("duplicate enqueue ignored", nil, payloadFields(p))
		return nil
	}
	if err != nil {
		return media.E(op, media.ErrTransientStore, err)
	}
	return nil
}

// Consume starts an asynq server whose handler hands every task to the
// returned channel and blocks until the delivery is settled.
func (a *Asynq) Consume(ctx context.Context) (<-chan Delivery, error) {
	a.mu.Lock()
	if a.server != nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("asynq: already consuming")
	}
	a.out = make(chan Delivery)
	a.stopped = make(chan struct{})
	a.server = asynq.NewServer(a.redisOpt, asynq.Config{
		Concurrency: a.cfg.Concurrency,
		Queues:      map[string]int{a.cfg.AsynqQueue: 1},
		Logger:      &asynqLogger{logger: a.logger},
		RetryDelayFunc: func(int, error, *asynq.Task) time.Duration {
			return a.cfg.RedeliveryDelay
		},
	})
	server, stopped, out := a.server, a.stopped, a.out
	a.mu.Unlock()

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeIngest, a.handle)
	if err := server.Start(mux); err != nil {
		return nil, fmt.Errorf("asynq: start server: %w", err)
	}

	go func() {
		<-ctx.Done()
		close(stopped)
		server.Shutdown()
		a.mu.Lock()
		a.closed = true
		close(out)
		a.mu.Unlock()
	}()
	return out, nil
}

type outcome struct {
	kind   string
	reason string
}

const (
	outcomeAck        = "ack"
	outcomeRetry      = "retry"
	outcomeQuarantine = "quarantine"
)

func (a *Asynq) handle(ctx context.Context, t *asynq.Task) error {
	d := &asynqDelivery{done: make(chan outcome, 1), backend: a}
	d.payload, d.err = media.DecodePayload(t.Payload())

	if !a.deliver(d) {
		return errors.New("asynq: consumer stopped")
	}

	select {
	case o := <-d.done:
		switch o.kind {
		case outcomeAck:
			return nil
		case outcomeQuarantine:
			return fmt.Errorf("quarantined: %s: %w", o.reason, asynq.SkipRetry)
		default:
			return errors.New("asynq: delivery retried")
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return errors.New("asynq: consumer stopped")
	}
}

func (a *Asynq) deliver(d Delivery) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}
	select {
	case a.out <- d:
		return true
	case <-a.stopped:
		return false
	}
}

func (a *Asynq) Close() error {
	var errs []error
	if a.inspector != nil {
		errs = append(errs, a.inspector.Close())
	}
	errs = append(errs, a.client.Close())
	return errors.Join(errs...)
}

type asynqDelivery struct {
	payload media.Payload
	err     error
	done    chan outcome
	once    sync.Once
	backend *Asynq
}

func (d *asynqDelivery) Payload() media.Payload { return d.payload }
func (d *asynqDelivery) Err() error             { return d.err }

func (d *asynqDelivery) settle(o outcome) {
	d.once.Do(func() { d.done <- o })
}

func (d *asynqDelivery) Ack(context.Context) error {
	d.settle(outcome{kind: outcomeAck})
	return nil
}

func (d *asynqDelivery) Retry(context.Context) error {
	d.settle(outcome{kind: outcomeRetry})
	return nil
}

func (d *asynqDelivery) Quarantine(_ context.Context, reason string) error {
	if d.backend.pipeline != nil {
		d.backend.pipeline.Quarantined(BackendAsynq)
	}
	d.settle(outcome{kind: outcomeQuarantine, reason: reason})
	return nil
}

// asynqLogger routes the server's own logging through ours.
type asynqLogger struct {
	logger Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...), nil) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...), nil) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...), nil) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...), nil) }

// Fatal is logged as an error; the server decides whether to exit.
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Error(fmt.Sprint(args...), nil) }
