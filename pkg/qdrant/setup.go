package qdrant

import (
	"context"
	"fmt"

	qdrant "github.com/qdrant/go-client/qdrant"
)

// Logger is the logging surface this package needs.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// Client wraps the official Qdrant Go client and binds it to one collection.
type Client struct {
	api    *qdrant.Client
	cfg    Config
	logger Logger
}

// NewClient connects to Qdrant and verifies the server answers a health check.
func NewClient(cfg Config, logger Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	logger.Info("[Qdrant] connecting", nil, map[string]interface{}{
		"endpoint":   cfg.Endpoint,
		"port":       cfg.Port,
		"collection": cfg.Collection,
	})

	api, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Endpoint,
		Port:                   cfg.Port,
		APIKey:                 cfg.ApiKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: !cfg.CheckCompatibility,
	})
	if err != nil {
		return nil, fmt.Errorf("[Qdrant] failed to initialize client: %w", err)
	}

	c := &Client{api: api, cfg: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	if err := c.HealthCheck(ctx); err != nil {
		_ = api.Close()
		return nil, err
	}
	return c, nil
}

// HealthCheck asks the server for its version.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.api.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("[Qdrant] health check failed: %w", TranslateError(err))
	}
	c.logger.Debug("[Qdrant] health check passed", nil, map[string]interface{}{
		"title":   resp.GetTitle(),
		"version": resp.GetVersion(),
	})
	return nil
}

// Collection is the name of the collection this client writes to.
func (c *Client) Collection() string {
	return c.cfg.Collection
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.api.Close()
}

// withTimeout applies the configured request timeout unless ctx already has a deadline.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}
