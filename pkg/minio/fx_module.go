package minio

import (
	"context"
	"sync"

	"go.uber.org/fx"
)

// FXModule provides *Minio and runs its connection monitor for the lifetime of the app.
var FXModule = fx.Module("minio",
	fx.Provide(
		NewClient,
	),
	fx.Invoke(RegisterLifecycle),
)

// RegisterLifecycle starts the monitor and reconnect loops and stops them on shutdown.
func RegisterLifecycle(lc fx.Lifecycle, mi *Minio) {
	wg := &sync.WaitGroup{}
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			wg.Add(2)
			go func() {
				defer wg.Done()
				mi.monitorConnection(runCtx)
			}()
			go func() {
				defer wg.Done()
				mi.retryConnection(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mi.logger.Info("closing minio client", nil)
			cancel()
			mi.Close()
			wg.Wait()
			return nil
		},
	})
}
