package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(string, error, ...map[string]interface{})  {}
func (nopLogger) Error(string, error, ...map[string]interface{}) {}

func TestNewProducerValidatesConfig(t *testing.T) {
	_, err := NewProducer(Config{Topic: "media-events"}, nopLogger{})
	assert.Error(t, err)

	_, err = NewProducer(Config{Brokers: []string{"localhost:9092"}}, nopLogger{})
	assert.Error(t, err)

	_, err = NewProducer(Config{
		Brokers: []string{"localhost:9092"},
		Topic:   "media-events",
		SASL:    SASLConfig{Enabled: true, Mechanism: "GSSAPI"},
	}, nopLogger{})
	assert.ErrorContains(t, err, "unsupported SASL mechanism")
}

func TestNewProducerDefaults(t *testing.T) {
	p, err := NewProducer(Config{
		Brokers:          []string{"localhost:9092"},
		Topic:            "media-events",
		CompressionCodec: "snappy",
		SASL:             SASLConfig{Enabled: true, Mechanism: "PLAIN", Username: "u", Password: "p"},
	}, nopLogger{})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, DefaultMaxAttempts, p.writer.MaxAttempts)
	assert.Equal(t, DefaultWriteTimeout, p.writer.WriteTimeout)
	assert.Equal(t, "media-events", p.writer.Topic)
	assert.NotNil(t, p.writer.Transport)
}
