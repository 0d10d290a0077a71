package queue

import (
	"context"

	"github.com/Aleph-Alpha/mediaindex/internal/telemetry"
	"github.com/Aleph-Alpha/mediaindex/pkg/rabbit"
	"github.com/Aleph-Alpha/mediaindex/pkg/redis"
	"go.uber.org/fx"
)

// RabbitModule provides Queue on RabbitMQ with the Redis dedupe registry.
// It needs pkg/rabbit and pkg/redis in the same app.
var RabbitModule = fx.Module("queue-rabbit",
	fx.Provide(
		func(client *rabbit.Rabbit, dedupe *redis.RedisClient, cfg Config, logger Logger, pipeline *telemetry.Pipeline) Queue {
			return NewRabbit(client, dedupe, cfg, logger, pipeline)
		},
	),
	fx.Invoke(RegisterQueueLifecycle),
)

// AsynqModule provides Queue on asynq. It needs redis.Config only.
var AsynqModule = fx.Module("queue-asynq",
	fx.Provide(
		func(redisCfg redis.Config, cfg Config, logger Logger, pipeline *telemetry.Pipeline) (Queue, error) {
			return NewAsynq(redisCfg, cfg, logger, pipeline)
		},
	),
	fx.Invoke(RegisterQueueLifecycle),
)

// Module picks the backend module for cfg.
func Module(cfg Config) fx.Option {
	if cfg.withDefaults().Backend == BackendAsynq {
		return AsynqModule
	}
	return RabbitModule
}

func RegisterQueueLifecycle(lc fx.Lifecycle, q Queue) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return q.Close()
		},
	})
}
