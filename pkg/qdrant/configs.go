package qdrant

import "time"

// Config holds connection settings for the Qdrant gRPC API.
type Config struct {
	// Hostname of the Qdrant server, e.g. "localhost".
	Endpoint string `yaml:"endpoint" env:"QDRANT_ENDPOINT"`

	// gRPC port of the Qdrant server. Defaults to 6334.
	Port int `yaml:"port" env:"QDRANT_PORT"`

	// Optional authentication token for secured deployments.
	ApiKey string `yaml:"api_key" env:"QDRANT_API_KEY"`

	UseTLS bool `yaml:"use_tls" env:"QDRANT_USE_TLS"`

	// Collection this client operates on.
	Collection string `yaml:"collection" env:"QDRANT_COLLECTION"`

	// Per-request timeout applied when the caller's context has no deadline.
	Timeout time.Duration `yaml:"timeout" env:"QDRANT_TIMEOUT"`

	CheckCompatibility bool `yaml:"check_compatibility" env:"QDRANT_CHECK_COMPATIBILITY"`
}

const (
	defaultPort       = 6334
	defaultTimeout    = 10 * time.Second
	healthTimeout     = 3 * time.Second
	defaultCollection = "media"
)

// DefaultConfig provides sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Endpoint:   "localhost",
		Port:       defaultPort,
		Collection: defaultCollection,
		Timeout:    defaultTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Collection == "" {
		c.Collection = defaultCollection
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}
