package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConfirmed is returned when the broker nacks a published message.
var ErrNotConfirmed = errors.New("broker did not confirm message")

// publisherChannel is the subset of *amqp.Channel a Publisher uses.
type publisherChannel interface {
	topologyChannel
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// Publisher publishes persistent messages to one topic exchange and waits for
// a publisher confirm before returning.
type Publisher struct {
	mu       sync.Mutex
	channel  publisherChannel
	closed   <-chan *amqp.Error
	exchange string
	timeout  time.Duration
}

// NewPublisher opens a confirm-mode channel and declares the topic exchange.
func NewPublisher(conn *Connection, exchange string, timeout time.Duration) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := declareTopicExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Publisher{
		channel:  ch,
		closed:   ch.NotifyClose(make(chan *amqp.Error, 1)),
		exchange: exchange,
		timeout:  timeout,
	}, nil
}

// Closed fires when the broker closes the publishing channel. A closed
// channel is never reopened; every later Publish fails.
func (p *Publisher) Closed() <-chan *amqp.Error {
	return p.closed
}

// DeclareBoundQueues declares durable work queues, each with its dead-letter
// queue, and binds them to the publisher's exchange under routingKey, so
// messages are retained before consumers start. The queues are declared
// exactly as SetupConsumer declares them.
func (p *Publisher) DeclareBoundQueues(routingKey string, queues ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, q := range queues {
		if err := declareWorkQueue(p.channel, p.exchange, q, DeadLetterQueue(q), routingKey); err != nil {
			return err
		}
	}
	return nil
}

// Publish sends a message to the exchange with the given routing key and blocks
// until the broker confirms it, ctx is done, or the publish timeout expires.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte, correlationID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	log.Printf("[Publisher] Publishing event: exchange=%s routing_key=%s correlation_id=%s",
		p.exchange, routingKey, correlationID)

	p.mu.Lock()
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			Body:          body,
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
		},
	)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}

// Close closes the publisher channel.
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
