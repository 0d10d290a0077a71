package redis

import (
	"context"

	"go.uber.org/fx"
)

var FXModule = fx.Module("redis",
	fx.Provide(NewClient),
	fx.Invoke(RegisterRedisLifecycle),
)

func RegisterRedisLifecycle(lc fx.Lifecycle, client *RedisClient) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
}
