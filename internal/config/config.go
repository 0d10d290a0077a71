// Package config loads the service configuration from environment
// variables and an optional config.yaml, and hands the typed config of every
// package to fx.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Aleph-Alpha/mediaindex/internal/extractor"
	"github.com/Aleph-Alpha/mediaindex/internal/ingest"
	"github.com/Aleph-Alpha/mediaindex/internal/queue"
	"github.com/Aleph-Alpha/mediaindex/internal/search"
	"github.com/Aleph-Alpha/mediaindex/internal/thumbnail"
	"github.com/Aleph-Alpha/mediaindex/pkg/embedding"
	"github.com/Aleph-Alpha/mediaindex/pkg/kafka"
	"github.com/Aleph-Alpha/mediaindex/pkg/logger"
	"github.com/Aleph-Alpha/mediaindex/pkg/metrics"
	"github.com/Aleph-Alpha/mediaindex/pkg/minio"
	"github.com/Aleph-Alpha/mediaindex/pkg/postgres"
	"github.com/Aleph-Alpha/mediaindex/pkg/qdrant"
	"github.com/Aleph-Alpha/mediaindex/pkg/rabbit"
	"github.com/Aleph-Alpha/mediaindex/pkg/redis"
	"github.com/Aleph-Alpha/mediaindex/pkg/s3"
	"github.com/Aleph-Alpha/mediaindex/pkg/tracer"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Backend names.
const (
	BlobMinio      = "minio"
	BlobS3         = "s3"
	VectorQdrant   = "qdrant"
	VectorPgvector = "pgvector"
)

// Backends selects the implementation of each swappable component.
type Backends struct {
	Blob   string `validate:"oneof=minio s3"`
	Vector string `validate:"oneof=qdrant pgvector"`
	// Events turns on the kafka lifecycle event producer.
	Events bool
}

// Config is the complete service configuration.
type Config struct {
	ServiceName string `validate:"required"`
	AppEnv      string
	Backends    Backends

	Logger    logger.Config
	Metrics   metrics.Config
	Tracer    tracer.Config
	Postgres  postgres.Config
	Qdrant    qdrant.Config
	Minio     minio.Config
	S3        s3.Config
	Embedding embedding.Config
	Extractor extractor.Config
	Rabbit    rabbit.Config
	Redis     redis.Config
	Kafka     kafka.Config
	Queue     queue.Config
	Ingest    ingest.Config
	Sweep     ingest.SweepConfig
	Search    search.Config
}

// binding ties a viper key to its environment variable and default.
type binding struct {
	key string
	env string
	def interface{}
}

var bindings = []binding{
	{"service.name", "SERVICE_NAME", "mediaindex"},
	{"service.env", "APP_ENV", "development"},
	{"backend.blob", "BLOB_BACKEND", BlobMinio},
	{"backend.vector", "VECTOR_BACKEND", VectorQdrant},
	{"backend.queue", "QUEUE_BACKEND", queue.BackendRabbit},
	{"backend.events", "EVENTS_ENABLED", false},

	{"log.level", "LOG_LEVEL", "info"},
	{"log.tracing", "LOGGER_ENABLE_TRACING", false},

	{"metrics.address", "METRICS_ADDRESS", ":9090"},
	{"metrics.default_collectors", "METRICS_DEFAULT_COLLECTORS", true},
	{"metrics.namespace", "METRICS_NAMESPACE", "mediaindex"},

	{"tracing.export", "TRACING_ENABLED", false},
	{"tracing.endpoint", "OTEL_ENDPOINT", ""},
	{"tracing.insecure", "OTEL_INSECURE", true},

	{"postgres.host", "POSTGRES_HOST", "localhost"},
	{"postgres.port", "POSTGRES_PORT", "5432"},
	{"postgres.user", "POSTGRES_USER", "mediaindex"},
	{"postgres.password", "POSTGRES_PASSWORD", ""},
	{"postgres.db", "POSTGRES_DB", "mediaindex"},
	{"postgres.sslmode", "POSTGRES_SSLMODE", "disable"},
	{"postgres.max_open_conns", "POSTGRES_MAX_OPEN_CONNS", 20},
	{"postgres.max_idle_conns", "POSTGRES_MAX_IDLE_CONNS", 5},
	{"postgres.conn_max_lifetime", "POSTGRES_CONN_MAX_LIFETIME", "30m"},

	{"qdrant.endpoint", "QDRANT_ENDPOINT", "localhost"},
	{"qdrant.port", "QDRANT_PORT", 6334},
	{"qdrant.api_key", "QDRANT_API_KEY", ""},
	{"qdrant.use_tls", "QDRANT_USE_TLS", false},
	{"qdrant.collection", "QDRANT_COLLECTION", "media"},
	{"qdrant.timeout", "QDRANT_TIMEOUT", "10s"},
	{"qdrant.check_compatibility", "QDRANT_CHECK_COMPATIBILITY", false},

	{"minio.endpoint", "MINIO_ENDPOINT", "localhost:9000"},
	{"minio.access_key", "MINIO_ACCESS_KEY", ""},
	{"minio.secret_key", "MINIO_SECRET_KEY", ""},
	{"minio.use_ssl", "MINIO_USE_SSL", false},
	{"minio.bucket", "MINIO_BUCKET", "media"},
	{"minio.region", "MINIO_REGION", ""},
	{"minio.min_part_size", "MINIO_MIN_PART_SIZE", 0},

	{"s3.endpoint", "S3_ENDPOINT", ""},
	{"s3.region", "S3_REGION", "auto"},
	{"s3.access_key_id", "S3_ACCESS_KEY_ID", ""},
	{"s3.secret_access_key", "S3_SECRET_ACCESS_KEY", ""},
	{"s3.bucket", "S3_BUCKET", "media"},
	{"s3.path_style", "S3_USE_PATH_STYLE", true},
	{"s3.create_bucket", "S3_CREATE_BUCKET", false},

	{"embedding.endpoint", "EMBEDDING_ENDPOINT", "http://localhost:8080/v1"},
	{"embedding.model", "EMBEDDING_MODEL", "clip-vit-b-32"},
	{"embedding.token", "EMBEDDING_SERVICE_TOKEN", ""},
	{"embedding.http_timeout", "EMBEDDING_HTTP_TIMEOUT", "90s"},
	{"extractor.timeout", "EXTRACT_TIMEOUT", "60s"},
	{"extractor.model_version", "MODEL_VERSION", ""},

	{"rabbit.host", "RABBITMQ_HOST", "localhost"},
	{"rabbit.port", "RABBITMQ_PORT", 5672},
	{"rabbit.user", "RABBITMQ_USER", "guest"},
	{"rabbit.password", "RABBITMQ_PASSWORD", ""},
	{"rabbit.ssl", "RABBITMQ_SSL", false},
	{"rabbit.use_cert", "RABBITMQ_USE_CERT", false},
	{"rabbit.ca_cert", "RABBITMQ_CA_CERT_PATH", ""},
	{"rabbit.client_cert", "RABBITMQ_CLIENT_CERT_PATH", ""},
	{"rabbit.client_key", "RABBITMQ_CLIENT_KEY_PATH", ""},
	{"rabbit.server_name", "RABBITMQ_SERVER_NAME", ""},
	{"rabbit.exchange", "RABBITMQ_EXCHANGE", "mediaindex"},
	{"rabbit.routing_key", "RABBITMQ_ROUTING_KEY", "ingest"},
	{"rabbit.queue", "RABBITMQ_QUEUE", "mediaindex.ingest"},
	{"rabbit.reconnect_delay_ms", "RABBITMQ_RECONNECT_DELAY_MS", 2000},
	{"rabbit.prefetch", "RABBITMQ_PREFETCH", 8},
	{"rabbit.quarantine_exchange", "RABBITMQ_QUARANTINE_EXCHANGE", "mediaindex.quarantine"},
	{"rabbit.quarantine_queue", "RABBITMQ_QUARANTINE_QUEUE", "mediaindex.ingest.quarantine"},
	{"rabbit.quarantine_routing_key", "RABBITMQ_QUARANTINE_ROUTING_KEY", "quarantine"},

	{"redis.host", "REDIS_HOST", "localhost"},
	{"redis.port", "REDIS_PORT", 6379},
	{"redis.username", "REDIS_USERNAME", ""},
	{"redis.password", "REDIS_PASSWORD", ""},
	{"redis.db", "REDIS_DB", 0},
	{"redis.pool_size", "REDIS_POOL_SIZE", 10},
	{"redis.tls", "REDIS_TLS_ENABLED", false},
	{"redis.ca_cert", "REDIS_CA_CERT_PATH", ""},

	{"kafka.brokers", "KAFKA_BROKERS", "localhost:9092"},
	{"kafka.topic", "KAFKA_TOPIC", "mediaindex.events"},
	{"kafka.required_acks", "KAFKA_REQUIRED_ACKS", -1},
	{"kafka.compression", "KAFKA_COMPRESSION", "snappy"},
	{"kafka.auto_create_topic", "KAFKA_AUTO_CREATE_TOPIC", true},
	{"kafka.sasl", "KAFKA_SASL_ENABLED", false},
	{"kafka.sasl_mechanism", "KAFKA_SASL_MECHANISM", "PLAIN"},
	{"kafka.sasl_username", "KAFKA_SASL_USERNAME", ""},
	{"kafka.sasl_password", "KAFKA_SASL_PASSWORD", ""},

	{"queue.dedupe_ttl", "QUEUE_DEDUPE_TTL", "24h"},
	{"queue.redelivery_delay", "QUEUE_REDELIVERY_DELAY", "5s"},
	{"queue.redeliveries", "QUEUE_REDELIVERIES", queue.DefaultRedeliveries},
	{"queue.asynq_queue", "ASYNQ_QUEUE", "ingest"},

	{"ingest.max_attempts", "MAX_ATTEMPTS", ingest.DefaultMaxAttempts},
	{"ingest.processing_lease", "PROCESSING_LEASE", "0s"},
	{"ingest.max_upload_size", "MAX_UPLOAD_SIZE", ingest.DefaultMaxUploadSize},
	{"ingest.concurrency", "WORKER_CONCURRENCY", ingest.DefaultConcurrency},
	{"ingest.thumbnail_size", "THUMBNAIL_SIZE", thumbnail.DefaultMaxSide},

	{"sweep.interval", "SWEEP_INTERVAL", "5m"},
	{"sweep.grace", "SWEEP_GRACE", "10m"},
	{"sweep.republish_after", "SWEEP_REPUBLISH_AFTER", "30m"},
	{"sweep.failed_after", "SWEEP_FAILED_AFTER", "10m"},
	{"sweep.job_retention", "JOB_RETENTION", "168h"},
	{"sweep.batch_size", "SWEEP_BATCH_SIZE", ingest.DefaultSweepBatch},
	{"sweep.upload_cleanup_age", "UPLOAD_CLEANUP_AGE", "24h"},

	{"search.default_top_k", "SEARCH_DEFAULT_TOP_K", search.DefaultTopK},
	{"search.max_top_k", "SEARCH_MAX_TOP_K", 100},
	{"search.hybrid_candidates", "HYBRID_CANDIDATES", search.DefaultHybridCandidates},
	{"search.keyword_candidates", "KEYWORD_CANDIDATES", search.DefaultKeywordCandidates},
	{"search.default_weight", "HYBRID_WEIGHT", search.DefaultWeight},
	{"search.page_size", "SEARCH_PAGE_SIZE", search.DefaultPageSize},
	{"search.max_page_size", "SEARCH_MAX_PAGE_SIZE", 100},
}

// secrets may also be given as a path in <ENV>_FILE.
var secrets = map[string]string{
	"postgres.password":    "POSTGRES_PASSWORD",
	"qdrant.api_key":       "QDRANT_API_KEY",
	"minio.secret_key":     "MINIO_SECRET_KEY",
	"s3.secret_access_key": "S3_SECRET_ACCESS_KEY",
	"embedding.token":      "EMBEDDING_SERVICE_TOKEN",
	"rabbit.password":      "RABBITMQ_PASSWORD",
	"redis.password":       "REDIS_PASSWORD",
	"kafka.sasl_password":  "KAFKA_SASL_PASSWORD",
}

// Load reads the configuration. path names a config file; when empty,
// config.yaml is looked up in . and ./config and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	for _, b := range bindings {
		_ = v.BindEnv(b.key, b.env)
		v.SetDefault(b.key, b.def)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	for key, env := range secrets {
		val, err := readSecret(env)
		if err != nil {
			return nil, err
		}
		if val != "" {
			v.Set(key, val)
		}
	}

	cfg := build(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readSecret returns the trimmed content of the file named by env_FILE when
// env itself is unset.
func readSecret(env string) (string, error) {
	if os.Getenv(env) != "" {
		return "", nil
	}
	path := os.Getenv(env + "_FILE")
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: read secret %s_FILE: %w", env, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func build(v *viper.Viper) *Config {
	service := v.GetString("service.name")
	env := v.GetString("service.env")
	weight := v.GetFloat64("search.default_weight")

	return &Config{
		ServiceName: service,
		AppEnv:      env,
		Backends: Backends{
			Blob:   v.GetString("backend.blob"),
			Vector: v.GetString("backend.vector"),
			Events: v.GetBool("backend.events"),
		},
		Logger: logger.Config{
			Level:         v.GetString("log.level"),
			ServiceName:   service,
			EnableTracing: v.GetBool("log.tracing"),
		},
		Metrics: metrics.Config{
			Address:                 v.GetString("metrics.address"),
			EnableDefaultCollectors: v.GetBool("metrics.default_collectors"),
			Namespace:               v.GetString("metrics.namespace"),
			ServiceName:             service,
		},
		Tracer: tracer.Config{
			ServiceName:  service,
			AppEnv:       env,
			EnableExport: v.GetBool("tracing.export"),
			Endpoint:     v.GetString("tracing.endpoint"),
			Insecure:     v.GetBool("tracing.insecure"),
		},
		Postgres: postgres.Config{
			Connection: postgres.Connection{
				Host:     v.GetString("postgres.host"),
				Port:     v.GetString("postgres.port"),
				User:     v.GetString("postgres.user"),
				Password: v.GetString("postgres.password"),
				DbName:   v.GetString("postgres.db"),
				SSLMode:  v.GetString("postgres.sslmode"),
			},
			ConnectionDetails: postgres.ConnectionDetails{
				MaxOpenConns:    v.GetInt("postgres.max_open_conns"),
				MaxIdleConns:    v.GetInt("postgres.max_idle_conns"),
				ConnMaxLifetime: v.GetDuration("postgres.conn_max_lifetime"),
			},
		},
		Qdrant: qdrant.Config{
			Endpoint:           v.GetString("qdrant.endpoint"),
			Port:               v.GetInt("qdrant.port"),
			ApiKey:             v.GetString("qdrant.api_key"),
			UseTLS:             v.GetBool("qdrant.use_tls"),
			Collection:         v.GetString("qdrant.collection"),
			Timeout:            v.GetDuration("qdrant.timeout"),
			CheckCompatibility: v.GetBool("qdrant.check_compatibility"),
		},
		Minio: minio.Config{
			Connection: minio.ConnectionConfig{
				Endpoint:        v.GetString("minio.endpoint"),
				AccessKeyID:     v.GetString("minio.access_key"),
				SecretAccessKey: v.GetString("minio.secret_key"),
				UseSSL:          v.GetBool("minio.use_ssl"),
				BucketName:      v.GetString("minio.bucket"),
				Region:          v.GetString("minio.region"),
			},
			UploadConfig: minio.UploadConfig{MinPartSize: v.GetUint64("minio.min_part_size")},
		},
		S3: s3.Config{
			Endpoint:        v.GetString("s3.endpoint"),
			Region:          v.GetString("s3.region"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
			BucketName:      v.GetString("s3.bucket"),
			UsePathStyle:    v.GetBool("s3.path_style"),
			CreateBucket:    v.GetBool("s3.create_bucket"),
		},
		Embedding: embedding.Config{
			Endpoint:     strings.TrimSpace(v.GetString("embedding.endpoint")),
			Model:        v.GetString("embedding.model"),
			ServiceToken: v.GetString("embedding.token"),
			HTTPTimeout:  v.GetDuration("embedding.http_timeout"),
		},
		Extractor: extractor.Config{
			Timeout:      v.GetDuration("extractor.timeout"),
			ModelVersion: v.GetString("extractor.model_version"),
		},
		Rabbit: rabbit.Config{
			Connection: rabbit.Connection{
				Host:           v.GetString("rabbit.host"),
				Port:           v.GetUint("rabbit.port"),
				User:           v.GetString("rabbit.user"),
				Password:       v.GetString("rabbit.password"),
				IsSSLEnabled:   v.GetBool("rabbit.ssl"),
				UseCert:        v.GetBool("rabbit.use_cert"),
				CACertPath:     v.GetString("rabbit.ca_cert"),
				ClientCertPath: v.GetString("rabbit.client_cert"),
				ClientKeyPath:  v.GetString("rabbit.client_key"),
				ServerName:     v.GetString("rabbit.server_name"),
			},
			Channel: rabbit.Channel{
				ExchangeName:     v.GetString("rabbit.exchange"),
				RoutingKey:       v.GetString("rabbit.routing_key"),
				QueueName:        v.GetString("rabbit.queue"),
				DelayToReconnect: v.GetInt("rabbit.reconnect_delay_ms"),
				PrefetchCount:    v.GetInt("rabbit.prefetch"),
				IsConsumer:       true,
				ContentType:      "application/json",
			},
			Quarantine: rabbit.Quarantine{
				ExchangeName: v.GetString("rabbit.quarantine_exchange"),
				QueueName:    v.GetString("rabbit.quarantine_queue"),
				RoutingKey:   v.GetString("rabbit.quarantine_routing_key"),
			},
		},
		Redis: redis.Config{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Username: v.GetString("redis.username"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			PoolSize: v.GetInt("redis.pool_size"),
			TLS: redis.TLSConfig{
				Enabled:    v.GetBool("redis.tls"),
				CACertPath: v.GetString("redis.ca_cert"),
			},
		},
		Kafka: kafka.Config{
			Brokers:                splitList(v.GetString("kafka.brokers")),
			Topic:                  v.GetString("kafka.topic"),
			RequiredAcks:           v.GetInt("kafka.required_acks"),
			CompressionCodec:       v.GetString("kafka.compression"),
			AllowAutoTopicCreation: v.GetBool("kafka.auto_create_topic"),
			SASL: kafka.SASLConfig{
				Enabled:   v.GetBool("kafka.sasl"),
				Mechanism: v.GetString("kafka.sasl_mechanism"),
				Username:  v.GetString("kafka.sasl_username"),
				Password:  v.GetString("kafka.sasl_password"),
			},
		},
		Queue: queue.Config{
			Backend:         v.GetString("backend.queue"),
			DedupeTTL:       v.GetDuration("queue.dedupe_ttl"),
			RedeliveryDelay: v.GetDuration("queue.redelivery_delay"),
			Redeliveries:    v.GetInt("queue.redeliveries"),
			AsynqQueue:      v.GetString("queue.asynq_queue"),
			Concurrency:     v.GetInt("ingest.concurrency"),
		},
		Ingest: ingest.Config{
			MaxAttempts:     v.GetInt("ingest.max_attempts"),
			ProcessingLease: v.GetDuration("ingest.processing_lease"),
			ExtractTimeout:  v.GetDuration("extractor.timeout"),
			MaxUploadSize:   v.GetInt64("ingest.max_upload_size"),
			Concurrency:     v.GetInt("ingest.concurrency"),
			ThumbnailSize:   v.GetInt("ingest.thumbnail_size"),
		},
		Sweep: ingest.SweepConfig{
			Interval:         v.GetDuration("sweep.interval"),
			Grace:            v.GetDuration("sweep.grace"),
			RepublishAfter:   v.GetDuration("sweep.republish_after"),
			FailedAfter:      v.GetDuration("sweep.failed_after"),
			JobRetention:     v.GetDuration("sweep.job_retention"),
			BatchSize:        v.GetInt("sweep.batch_size"),
			UploadCleanupAge: v.GetDuration("sweep.upload_cleanup_age"),
		},
		Search: search.Config{
			DefaultWeight:     &weight,
			DefaultTopK:       v.GetInt("search.default_top_k"),
			MaxTopK:           v.GetInt("search.max_top_k"),
			HybridCandidates:  v.GetInt("search.hybrid_candidates"),
			KeywordCandidates: v.GetInt("search.keyword_candidates"),
			DefaultPageSize:   v.GetInt("search.page_size"),
			MaxPageSize:       v.GetInt("search.max_page_size"),
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var validate = validator.New()

// Validate checks struct tags and the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Backends.Events && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: events are enabled but KAFKA_BROKERS is empty")
	}
	if c.Sweep.Interval > 0 && c.Sweep.RepublishAfter > 0 && c.Sweep.RepublishAfter < c.Sweep.Interval {
		return errors.New("config: SWEEP_REPUBLISH_AFTER must not be shorter than SWEEP_INTERVAL")
	}
	return nil
}
