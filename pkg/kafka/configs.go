package kafka

import "time"

const (
	DefaultRequiredAcks = -1 // all in-sync replicas
	DefaultMaxAttempts  = 3
	DefaultWriteTimeout = 10 * time.Second
	DefaultBatchTimeout = 50 * time.Millisecond
)

// Config configures the event producer.
type Config struct {
	Brokers []string
	Topic   string

	RequiredAcks     int
	MaxAttempts      int
	WriteTimeout     time.Duration
	BatchTimeout     time.Duration
	CompressionCodec string // "", "gzip", "snappy", "lz4", "zstd"

	// AllowAutoTopicCreation lets the first write create the topic.
	AllowAutoTopicCreation bool

	TLS  TLSConfig
	SASL SASLConfig
}

type TLSConfig struct {
	Enabled            bool
	CACertPath         string
	ClientCertPath     string
	ClientKeyPath      string
	InsecureSkipVerify bool
}

type SASLConfig struct {
	Enabled   bool
	Mechanism string // "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"
	Username  string
	Password  string
}

func (c Config) withDefaults() Config {
	if c.RequiredAcks == 0 {
		c.RequiredAcks = DefaultRequiredAcks
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	return c
}
