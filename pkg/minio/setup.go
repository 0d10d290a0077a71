package minio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Logger is the logging surface this package needs.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// Minio wraps the MinIO SDK clients with a health monitor that swaps in
// fresh clients when the server becomes unreachable.
type Minio struct {
	client     *minio.Client
	coreClient *minio.Core
	cfg        Config
	logger     Logger
	mu         sync.RWMutex

	shutdownSignal  chan struct{}
	reconnectSignal chan error
	shutdownOnce    sync.Once

	bufferPool *BufferPool
}

// BufferPool is a pool of bytes.Buffers used when reading large objects.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Get returns a buffer from the pool. Callers must Reset it.
func (bp *BufferPool) Get() *bytes.Buffer {
	return bp.pool.Get().(*bytes.Buffer)
}

// Put returns a buffer to the pool.
func (bp *BufferPool) Put(b *bytes.Buffer) {
	bp.pool.Put(b)
}

// NewClient connects to MinIO, validates the credentials and makes sure the
// configured bucket exists.
func NewClient(cfg Config, logger Logger) (*Minio, error) {
	cfg = cfg.withDefaults()
	fields := map[string]interface{}{
		"endpoint": cfg.Connection.Endpoint,
		"region":   cfg.Connection.Region,
		"secure":   cfg.Connection.UseSSL,
		"bucket":   cfg.Connection.BucketName,
	}

	client, core, err := connectToMinio(cfg)
	if err != nil {
		logger.Error("failed to connect to minio", err, fields)
		return nil, err
	}

	m := &Minio{
		client:          client,
		coreClient:      core,
		cfg:             cfg,
		logger:          logger,
		shutdownSignal:  make(chan struct{}),
		reconnectSignal: make(chan error, 1),
		bufferPool:      NewBufferPool(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.validateConnection(ctx); err != nil {
		logger.Error("failed to validate minio connection", err, fields)
		return nil, err
	}
	if err := m.ensureBucketExists(ctx); err != nil {
		logger.Error("failed to verify bucket", err, fields)
		return nil, err
	}

	logger.Info("connected to minio", nil, fields)
	return m, nil
}

func connectToMinio(cfg Config) (*minio.Client, *minio.Core, error) {
	if cfg.Connection.Endpoint == "" {
		return nil, nil, fmt.Errorf("minio endpoint cannot be empty")
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Connection.AccessKeyID, cfg.Connection.SecretAccessKey, ""),
		Secure: cfg.Connection.UseSSL,
		Region: cfg.Connection.Region,
	}
	client, err := minio.New(cfg.Connection.Endpoint, opts)
	if err != nil {
		return nil, nil, err
	}
	core, err := minio.NewCore(cfg.Connection.Endpoint, opts)
	if err != nil {
		return nil, nil, err
	}
	return client, core, nil
}

func (m *Minio) sdk() *minio.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *Minio) core() *minio.Core {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coreClient
}

// monitorConnection checks the connection on a fixed interval and signals
// retryConnection on failure.
func (m *Minio) monitorConnection(ctx context.Context) {
	ticker := time.NewTicker(connectionHealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.validateConnection(ctx); err != nil {
				m.logger.Error("minio health check failed", err, map[string]interface{}{
					"endpoint": m.cfg.Connection.Endpoint,
				})
				select {
				case m.reconnectSignal <- err:
				default:
				}
			}
		case <-m.shutdownSignal:
			return
		case <-ctx.Done():
			return
		}
	}
}

// retryConnection rebuilds the SDK clients after a failed health check.
func (m *Minio) retryConnection(ctx context.Context) {
outerLoop:
	for {
		select {
		case <-m.shutdownSignal:
			return
		case <-ctx.Done():
			return
		case err := <-m.reconnectSignal:
			m.logger.Warn("minio connection issue detected, reconnecting", err, map[string]interface{}{
				"endpoint": m.cfg.Connection.Endpoint,
			})

			for {
				select {
				case <-m.shutdownSignal:
					return
				case <-ctx.Done():
					return
				default:
				}

				client, core, err := connectToMinio(m.cfg)
				if err == nil {
					m.mu.Lock()
					m.client, m.coreClient = client, core
					m.mu.Unlock()
					err = m.validateConnection(ctx)
				}
				if err != nil {
					m.logger.Error("minio reconnection failed", err, map[string]interface{}{
						"endpoint":      m.cfg.Connection.Endpoint,
						"will_retry_in": "1 second",
					})
					time.Sleep(time.Second)
					continue
				}

				m.logger.Info("reconnected to minio", nil, map[string]interface{}{
					"endpoint": m.cfg.Connection.Endpoint,
					"bucket":   m.cfg.Connection.BucketName,
				})
				continue outerLoop
			}
		}
	}
}

// validateConnection lists buckets, which needs only minimal permissions.
func (m *Minio) validateConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	_, err := m.sdk().ListBuckets(ctx)
	return err
}

// ensureBucketExists creates the configured bucket if it is missing.
func (m *Minio) ensureBucketExists(ctx context.Context) error {
	bucketName := m.cfg.Connection.BucketName
	if bucketName == "" {
		return fmt.Errorf("bucket name is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	exists, err := m.sdk().BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists, bucket: %v, err: %w", bucketName, err)
	}
	if exists {
		return nil
	}

	m.logger.Info("bucket does not exist, creating it", nil, map[string]interface{}{
		"bucket": bucketName,
		"region": m.cfg.Connection.Region,
	})
	return m.sdk().MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: m.cfg.Connection.Region})
}

// Close stops the monitor loops.
func (m *Minio) Close() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownSignal)
	})
}
