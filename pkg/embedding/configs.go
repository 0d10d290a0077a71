package embedding

import (
	"fmt"
	"time"
)

const defaultHTTPTimeout = 90 * time.Second

// Config configures the inference service client.
type Config struct {
	// Endpoint is the inference base URL, e.g. "http://inference:8080/v1".
	Endpoint string

	// Model selects the multimodal model on the inference service.
	Model string

	// ServiceToken is sent as a Bearer token when set.
	ServiceToken string

	// HTTPTimeout bounds a single HTTP round trip. Callers add their own,
	// usually tighter, context deadline on top.
	HTTPTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("embedding: missing endpoint")
	}
	if c.Model == "" {
		return fmt.Errorf("embedding: missing model")
	}
	return nil
}
