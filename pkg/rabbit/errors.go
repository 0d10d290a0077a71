package rabbit

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrConnectionClosed is returned while the client is reconnecting or shut down.
	ErrConnectionClosed = errors.New("rabbit connection closed")

	// ErrNotConfirmed is returned when the broker nacks a publish.
	ErrNotConfirmed = errors.New("publish not confirmed by broker")
)

// TranslateError maps closed connection and channel errors onto ErrConnectionClosed.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, amqp.ErrClosed) {
		return errors.Join(ErrConnectionClosed, err)
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && (amqpErr.Code == amqp.ConnectionForced || amqpErr.Code == amqp.ChannelError) {
		return errors.Join(ErrConnectionClosed, err)
	}
	return err
}
