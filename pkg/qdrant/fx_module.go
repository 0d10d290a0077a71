package qdrant

import (
	"context"

	"go.uber.org/fx"
)

// FXModule provides *Client and closes it on shutdown.
var FXModule = fx.Module("qdrant",
	fx.Provide(NewClient),
	fx.Invoke(RegisterQdrantLifecycle),
)

// RegisterQdrantLifecycle closes the gRPC connection when the app stops.
func RegisterQdrantLifecycle(lc fx.Lifecycle, client *Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			client.logger.Info("[Qdrant] closing client", nil)
			return client.Close()
		},
	})
}
