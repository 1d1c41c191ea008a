package rabbitmq

import (
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumerConfig holds configuration for setting up a consumer.
type ConsumerConfig struct {
	Exchange     string
	QueueName    string
	DLQName      string
	RoutingKeys  []string
	ConsumerName string
	Prefetch     int
}

// MessageHandler is a function that processes a delivered message.
// Return nil to ack, return error to nack (routes to the DLQ).
type MessageHandler func(delivery amqp.Delivery) error

// SetupConsumer declares queues (main + DLQ), binds them, and starts consuming.
// The returned channel is closed when the delivery loop ends.
func SetupConsumer(conn *Connection, cfg ConsumerConfig, handler MessageHandler) (<-chan struct{}, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := declareConsumerQueues(ch, cfg); err != nil {
		return nil, err
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}

	msgs, err := ch.Consume(
		cfg.QueueName,
		cfg.ConsumerName,
		false, // auto-ack = false (manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			log.Printf("[%s] Received message: routing_key=%s correlation_id=%s redelivered=%t",
				cfg.ConsumerName, msg.RoutingKey, msg.CorrelationId, msg.Redelivered)

			if err := handler(msg); err != nil {
				log.Printf("[%s] Error processing message: %v, nacking to DLQ",
					cfg.ConsumerName, err)
				_ = msg.Nack(false, false)
			} else {
				_ = msg.Ack(false)
			}
		}
		log.Printf("[%s] Delivery channel closed", cfg.ConsumerName)
	}()

	log.Printf("[%s] Consumer started, listening on queue: %s", cfg.ConsumerName, cfg.QueueName)
	return done, nil
}

// declareConsumerQueues declares the exchange, the work queue and its DLQ.
// DLQName defaults to DeadLetterQueue(QueueName).
func declareConsumerQueues(ch topologyChannel, cfg ConsumerConfig) error {
	if err := declareTopicExchange(ch, cfg.Exchange); err != nil {
		return err
	}

	dlq := cfg.DLQName
	if dlq == "" {
		dlq = DeadLetterQueue(cfg.QueueName)
	}
	return declareWorkQueue(ch, cfg.Exchange, cfg.QueueName, dlq, cfg.RoutingKeys...)
}
