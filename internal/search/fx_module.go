package search

import (
	"github.com/Aleph-Alpha/mediaindex/internal/extractor"
	"github.com/Aleph-Alpha/mediaindex/internal/store"
	"github.com/Aleph-Alpha/mediaindex/internal/telemetry"
	"github.com/Aleph-Alpha/mediaindex/internal/vectorindex"
	"github.com/Aleph-Alpha/mediaindex/pkg/tracer"
	"go.uber.org/fx"
)

// Params are the injected collaborators of the Coordinator.
type Params struct {
	fx.In

	Config    Config
	Store     *store.Store
	Extractor *extractor.Extractor
	Index     vectorindex.Index
	Tracer    *tracer.Tracer
	Pipeline  *telemetry.Pipeline
	Logger    Logger
}

func NewCoordinator(p Params) *Coordinator {
	return New(p.Store, p.Extractor, p.Index, p.Tracer, p.Pipeline, p.Logger, p.Config)
}

// FXModule provides *Coordinator.
var FXModule = fx.Module("search",
	fx.Provide(NewCoordinator),
)
