package tracer

// Config configures the tracer provider.
type Config struct {
	ServiceName string
	AppEnv      string

	// EnableExport turns on the OTLP/HTTP exporter. Without it spans are
	// created and propagated but never leave the process.
	EnableExport bool

	// Endpoint is the collector host:port. Empty falls back to the
	// OTEL_EXPORTER_OTLP_* environment variables.
	Endpoint string
	Insecure bool
}
