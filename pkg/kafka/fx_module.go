package kafka

import (
	"context"

	"go.uber.org/fx"
)

var FXModule = fx.Module("kafka",
	fx.Provide(NewProducer),
	fx.Invoke(RegisterKafkaLifecycle),
)

func RegisterKafkaLifecycle(lc fx.Lifecycle, p *Producer) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Close()
		},
	})
}
