package embedding

import (
	"context"

	"go.uber.org/fx"
)

// FXModule provides *InferenceProvider and the Provider interface over it.
var FXModule = fx.Module(
	"embedding",
	fx.Provide(
		NewInferenceProvider,
		func(p *InferenceProvider) Provider { return p },
	),
	fx.Invoke(RegisterEmbeddingLifecycle),
)

func RegisterEmbeddingLifecycle(lc fx.Lifecycle, p *InferenceProvider) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Close()
		},
	})
}
