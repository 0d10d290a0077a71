package rabbit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Logger defines the interface for logging operations in the rabbit package.
//
//go:generate mockgen -source=setup.go -destination=mock_logger.go -package=rabbit
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
	Fatal(msg string, err error, fields ...map[string]interface{})
}

// Rabbit holds one connection and one confirm-mode channel, and replaces
// both when the broker drops the connection.
type Rabbit struct {
	cfg     Config
	channel *amqp.Channel
	conn    *amqp.Connection
	logger  Logger

	mu sync.RWMutex

	shutdownSignal chan struct{}
	shutdownOnce   sync.Once
}

// NewClient connects and declares the topology.
func NewClient(config Config, logger Logger) (*Rabbit, error) {
	con, err := newConnection(config, logger)
	if err != nil {
		return nil, fmt.Errorf("error in connecting to rabbit: %w", err)
	}

	ch, err := connectToChannel(con, config, logger)
	if err != nil {
		_ = con.Close()
		return nil, err
	}

	return &Rabbit{
		cfg:            config,
		conn:           con,
		channel:        ch,
		logger:         logger,
		shutdownSignal: make(chan struct{}),
	}, nil
}

// connectToChannel opens a confirm-mode channel. For consumers it declares
// the exchange, the work queue, the delay queue and the quarantine queue.
func connectToChannel(rb *amqp.Connection, cfg Config, logger Logger) (*amqp.Channel, error) {
	ch, err := rb.Channel()
	if err != nil {
		logger.Error("failed to create channel", err, nil)
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err = ch.Confirm(false); err != nil {
		logger.Error("failed to enable publisher confirms", err, nil)
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if !cfg.Channel.IsConsumer {
		return ch, nil
	}

	if err := declareTopology(ch, cfg); err != nil {
		logger.Error("failed to declare topology", err, map[string]interface{}{
			"exchange": cfg.Channel.ExchangeName,
			"queue":    cfg.Channel.QueueName,
		})
		return nil, err
	}

	if cfg.Channel.PrefetchCount > 0 {
		if err = ch.Qos(cfg.Channel.PrefetchCount, 0, false); err != nil {
			logger.Error("failed to set QoS", err, map[string]interface{}{
				"prefetch_count": cfg.Channel.PrefetchCount,
			})
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	return ch, nil
}

func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Channel.ExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queueArgs := amqp.Table{}
	if q := cfg.Quarantine; q.ExchangeName != "" {
		if err := ch.ExchangeDeclare(q.ExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare quarantine exchange: %w", err)
		}
		if _, err := ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare quarantine queue: %w", err)
		}
		if err := ch.QueueBind(q.QueueName, q.RoutingKey, q.ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind quarantine queue: %w", err)
		}
		queueArgs["x-dead-letter-exchange"] = q.ExchangeName
		queueArgs["x-dead-letter-routing-key"] = q.RoutingKey
	}

	if _, err := ch.QueueDeclare(cfg.Channel.QueueName, true, false, false, false, queueArgs); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Channel.QueueName, cfg.Channel.RoutingKey, cfg.Channel.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	// Expired messages in the delay queue flow back to the work queue.
	_, err := ch.QueueDeclare(cfg.Channel.DelayQueueName(), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    cfg.Channel.ExchangeName,
		"x-dead-letter-routing-key": cfg.Channel.RoutingKey,
	})
	if err != nil {
		return fmt.Errorf("failed to declare delay queue: %w", err)
	}
	return nil
}

// RetryConnection watches the connection and rebuilds it and the channel
// after the broker closes it. It returns on ctx cancellation or Close.
func (rb *Rabbit) RetryConnection(ctx context.Context) {
	delay := time.Duration(rb.cfg.Channel.DelayToReconnect) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}

outerLoop:
	for {
		errChan := make(chan *amqp.Error, 1)
		rb.mu.RLock()
		rb.conn.NotifyClose(errChan)
		rb.mu.RUnlock()

		select {
		case <-rb.shutdownSignal:
			return
		case <-ctx.Done():
			return
		case err := <-errChan:
			rb.logger.Warn("rabbit connection closed, retrying", err, nil)
			for {
				select {
				case <-rb.shutdownSignal:
					return
				case <-ctx.Done():
					return
				default:
				}

				newConn, err := newConnection(rb.cfg, rb.logger)
				if err != nil {
					rb.logger.Error("rabbit reconnection failed", err, nil)
					time.Sleep(delay)
					continue
				}
				newCh, err := connectToChannel(newConn, rb.cfg, rb.logger)
				if err != nil {
					_ = newConn.Close()
					rb.logger.Error("failed to reopen channel, retrying", err, nil)
					time.Sleep(delay)
					continue
				}

				rb.mu.Lock()
				rb.conn, rb.channel = newConn, newCh
				rb.mu.Unlock()

				rb.logger.Info("reconnected to rabbit", nil, nil)
				continue outerLoop
			}
		}
	}
}

// newConnection dials with a 2s heartbeat, over TLS when configured.
func newConnection(cfg Config, logger Logger) (*amqp.Connection, error) {
	scheme := "amqp"
	amqpCfg := amqp.Config{Heartbeat: 2 * time.Second}

	if cfg.Connection.IsSSLEnabled {
		scheme = "amqps"
		if cfg.Connection.UseCert {
			tlsConfig, err := loadTLS(cfg.Connection)
			if err != nil {
				logger.Error("failed to load rabbit tls material", err, nil)
				return nil, err
			}
			amqpCfg.TLSClientConfig = tlsConfig
		}
	}

	hostURL := fmt.Sprintf("%s://%v:%v@%v:%v", scheme, cfg.Connection.User, cfg.Connection.Password, cfg.Connection.Host, cfg.Connection.Port)
	addr := fmt.Sprintf("%s://%v:%v", scheme, cfg.Connection.Host, cfg.Connection.Port)

	conn, err := amqp.DialConfig(hostURL, amqpCfg)
	if err != nil {
		logger.Error("error in connecting to rabbit", err, map[string]interface{}{
			"rabbit_addr": addr,
		})
		return nil, err
	}
	logger.Info("connected to rabbit", nil, map[string]interface{}{
		"rabbit_addr": addr,
	})
	return conn, nil
}

func loadTLS(c Connection) (*tls.Config, error) {
	caCert, err := os.ReadFile(c.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	caCertPool := x509.NewCertPool()
	caCertPool.AppendCertsFromPEM(caCert)

	cert, err := tls.LoadX509KeyPair(c.ClientCertPath, c.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert/key: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		ServerName:   c.ServerName,
	}, nil
}

// Close stops the reconnect loop and closes the channel and connection.
func (rb *Rabbit) Close() error {
	var err error
	rb.shutdownOnce.Do(func() {
		close(rb.shutdownSignal)

		rb.mu.Lock()
		defer rb.mu.Unlock()

		rb.logger.Info("closing rabbit channel", nil, nil)
		if rb.channel != nil {
			if cerr := rb.channel.Close(); cerr != nil && cerr != amqp.ErrClosed {
				rb.logger.Error("error in closing rabbit channel", cerr, nil)
				err = cerr
			}
		}
		if rb.conn != nil && !rb.conn.IsClosed() {
			if cerr := rb.conn.Close(); cerr != nil {
				rb.logger.Error("error in closing rabbit connection", cerr, nil)
				err = cerr
			}
		}
	})
	return err
}
