package metrics

// DefaultMetricsAddress is used when Address is empty.
const DefaultMetricsAddress = ":9090"

// Config configures the Prometheus registry and its HTTP endpoint.
type Config struct {
	// Address is where /metrics is served, e.g. ":9090".
	Address string

	// EnableDefaultCollectors registers the Go runtime, process and build
	// info collectors.
	EnableDefaultCollectors bool

	// Namespace prefixes every metric name.
	Namespace string

	// ServiceName is attached to every metric as the "service" label.
	ServiceName string
}
