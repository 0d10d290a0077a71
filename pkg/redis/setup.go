package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger is the logging surface this package needs.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// RedisClient wraps a go-redis client.
type RedisClient struct {
	client *redis.Client
	cfg    Config
	logger Logger
}

// NewClient builds the client and pings the server once.
func NewClient(cfg Config, logger Logger) (*RedisClient, error) {
	cfg = cfg.withDefaults()

	tlsConfig, err := cfg.ClientTLS()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr(),
		Username:        cfg.Username,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.IdleTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		TLSConfig:       tlsConfig,
	})

	r := &RedisClient{client: client, cfg: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		_ = client.Close()
		logger.Error("failed to connect to redis", err, map[string]interface{}{"addr": client.Options().Addr})
		return nil, err
	}

	logger.Info("redis client initialized", nil, map[string]interface{}{"addr": client.Options().Addr})
	return r, nil
}

// Addr is host:port after defaults.
func (c Config) Addr() string {
	c = c.withDefaults()
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClientTLS returns the TLS settings for clients that open their own
// connections to the same server, or nil when TLS is off.
func (c Config) ClientTLS() (*tls.Config, error) {
	if !c.TLS.Enabled {
		return nil, nil
	}
	tlsConfig, err := createTLSConfig(c.TLS, c.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	return tlsConfig, nil
}

func createTLSConfig(cfg TLSConfig, defaultServerName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ServerName:         cfg.ServerName,
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = defaultServerName
	}
	if cfg.CACertPath != "" {
		caCert, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Close closes the connection pool.
func (r *RedisClient) Close() error {
	r.logger.Info("closing redis client", nil)
	return r.client.Close()
}
