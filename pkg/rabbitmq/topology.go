package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterQueue is the queue rejected messages from queue end up in.
func DeadLetterQueue(queue string) string {
	return "dlq." + queue
}

// QueueArgs are the arguments every work queue is declared with. The broker
// refuses a redeclare with different arguments, so publishers and consumers
// must both go through here.
func QueueArgs(dlq string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
}

// topologyChannel is the subset of *amqp.Channel used to declare topology.
type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declareTopicExchange declares a durable topic exchange (idempotent).
func declareTopicExchange(ch topologyChannel, name string) error {
	return ch.ExchangeDeclare(
		name,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// declareWorkQueue declares dlq and then queue dead-lettering into it, and
// binds queue to exchange under each routing key.
func declareWorkQueue(ch topologyChannel, exchange, queue, dlq string, routingKeys ...string) error {
	if _, err := ch.QueueDeclare(
		dlq,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", dlq, err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, QueueArgs(dlq)); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", queue, key, err)
		}
	}
	return nil
}
