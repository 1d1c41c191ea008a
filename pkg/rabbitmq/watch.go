package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrBrokerClosed is returned by WaitClosed when a connection or channel to
// the broker was closed.
var ErrBrokerClosed = errors.New("broker connection closed")

// WaitClosed blocks until ctx is done or one of the close notifications fires.
// It returns nil when ctx ended first.
func WaitClosed(ctx context.Context, notify ...<-chan *amqp.Error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	closed := make(chan error, len(notify))
	for _, n := range notify {
		go func(n <-chan *amqp.Error) {
			select {
			case amqpErr := <-n:
				if amqpErr != nil {
					closed <- fmt.Errorf("%w: %s", ErrBrokerClosed, amqpErr.Error())
					return
				}
				closed <- ErrBrokerClosed
			case <-ctx.Done():
			}
		}(n)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-closed:
		return err
	}
}
