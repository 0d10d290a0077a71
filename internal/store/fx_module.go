package store

import (
	"context"

	"github.com/Aleph-Alpha/mediaindex/pkg/postgres"
	"go.uber.org/fx"
)

// FXModule provides *Store and migrates the schema on start.
var FXModule = fx.Module("store",
	fx.Provide(func(pg *postgres.Postgres, logger Logger) *Store {
		return New(pg, logger)
	}),
	fx.Invoke(RegisterStoreLifecycle),
)

// RegisterStoreLifecycle runs the schema migration before the app starts serving.
func RegisterStoreLifecycle(lifecycle fx.Lifecycle, s *Store) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Migrate(ctx)
		},
	})
}
