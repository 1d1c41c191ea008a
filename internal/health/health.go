// Package health aggregates dependency checks for the readiness probe.
package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Checker represents a dependency health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Service runs every checker in order and stops at the first failure.
type Service struct {
	checkers []Checker
}

// NewService aggregates dependency checkers.
func NewService(checkers ...Checker) *Service {
	return &Service{checkers: checkers}
}

func (s *Service) Ready(ctx context.Context) error {
	for _, ch := range s.checkers {
		if err := ch.Check(ctx); err != nil {
			return fmt.Errorf("%s: %w", ch.Name(), err)
		}
	}
	return nil
}

type PostgresChecker struct {
	db *sql.DB
}

func NewPostgresChecker(db *sql.DB) *PostgresChecker {
	return &PostgresChecker{db: db}
}

func (c *PostgresChecker) Name() string { return "postgres" }

func (c *PostgresChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

// ErrBrokerDisconnected is reported while the broker connection is closed.
var ErrBrokerDisconnected = errors.New("broker connection closed")

type brokerConnection interface {
	IsClosed() bool
}

type RabbitMQChecker struct {
	conn brokerConnection
}

func NewRabbitMQChecker(conn brokerConnection) *RabbitMQChecker {
	return &RabbitMQChecker{conn: conn}
}

func (c *RabbitMQChecker) Name() string { return "rabbitmq" }

func (c *RabbitMQChecker) Check(ctx context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return ErrBrokerDisconnected
	}
	return nil
}
