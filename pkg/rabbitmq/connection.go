package rabbitmq

import (
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dialAttempts = 30
	dialDelay    = 2 * time.Second
)

// Connection wraps an AMQP connection.
type Connection struct {
	URL  string
	Conn *amqp.Connection
}

// Connect establishes a connection to RabbitMQ with retries.
func Connect(url string) (*Connection, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < dialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			log.Println("Connected to RabbitMQ")
			return &Connection{URL: url, Conn: conn}, nil
		}
		log.Printf("Failed to connect to RabbitMQ: %v, retrying in %s...", err, dialDelay)
		time.Sleep(dialDelay)
	}

	return nil, fmt.Errorf("could not connect to RabbitMQ after %d attempts: %w", dialAttempts, err)
}

// Channel opens a new AMQP channel.
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.Conn.Channel()
}

// IsClosed reports whether the underlying connection has been closed.
func (c *Connection) IsClosed() bool {
	return c.Conn == nil || c.Conn.IsClosed()
}

// NotifyClosed fires when the broker connection goes away.
func (c *Connection) NotifyClosed() <-chan *amqp.Error {
	return c.Conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Close closes the connection.
func (c *Connection) Close() error {
	if c.Conn != nil {
		return c.Conn.Close()
	}
	return nil
}
