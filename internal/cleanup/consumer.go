// Package cleanup consumes account deletion events on behalf of a downstream
// service and removes that service's data for the deleted user.
package cleanup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"

	"github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrInvalidEvent marks a message that can never be processed.
var ErrInvalidEvent = errors.New("invalid account deletion event")

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QueueFor returns the durable queue a downstream service consumes from.
func QueueFor(service string) (string, error) {
	switch strings.ToLower(service) {
	case "assignment":
		return models.AssignmentDeletionQueue, nil
	case "scheduling":
		return models.SchedulingDeletionQueue, nil
	case "journal":
		return models.JournalDeletionQueue, nil
	default:
		return "", fmt.Errorf("unknown consumer service %q", service)
	}
}

// EventRecorder counts consumed events.
type EventRecorder interface {
	DeletionEventConsumed(service, outcome string)
}

// Consumer handles account deletion events for one downstream service.
type Consumer struct {
	DB      *sql.DB
	Service string
	Tables  []string
	Metrics EventRecorder
	Timeout time.Duration
}

// NewConsumer creates a consumer that deletes rows keyed by user_external_id
// from tables. Table names must be plain identifiers.
func NewConsumer(db *sql.DB, service string, tables []string) (*Consumer, error) {
	for _, t := range tables {
		if !tableName.MatchString(t) {
			return nil, fmt.Errorf("invalid cleanup table name %q", t)
		}
	}
	return &Consumer{DB: db, Service: service, Tables: tables, Timeout: 30 * time.Second}, nil
}

// HandleMessage processes one delivery. Duplicates, detected by
// (userExternalId, deletionTimestamp), are acked without touching data.
func (c *Consumer) HandleMessage(delivery amqp.Delivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	outcome, err := c.handle(ctx, delivery)
	if err != nil {
		outcome = "failed"
	}
	if c.Metrics != nil {
		c.Metrics.DeletionEventConsumed(c.Service, outcome)
	}
	return err
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) (string, error) {
	correlationID := delivery.CorrelationId

	var event models.AccountDeletionEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		log.Printf("[Cleanup] Failed to unmarshal event: %v correlation_id=%s", err, correlationID)
		return "", fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if event.UserExternalID == "" || event.DeletionTimestamp.IsZero() {
		log.Printf("[Cleanup] Event missing fields: %+v correlation_id=%s", event, correlationID)
		return "", fmt.Errorf("%w: userExternalId and deletionTimestamp are required", ErrInvalidEvent)
	}

	log.Printf("[Cleanup] Processing deletion: service=%s external_id=%s reason=%q correlation_id=%s",
		c.Service, event.UserExternalID, event.Reason, correlationID)

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO processed_deletions (dedup_key, user_external_id, deletion_timestamp, reason, correlation_id)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (dedup_key) DO NOTHING`,
		event.DedupKey(), event.UserExternalID, event.DeletionTimestamp, event.Reason, correlationID,
	)
	if err != nil {
		log.Printf("[Cleanup] Error recording event: %v correlation_id=%s", err, correlationID)
		return "", fmt.Errorf("record processed deletion: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", fmt.Errorf("record processed deletion rows affected: %w", err)
	} else if n == 0 {
		log.Printf("[Cleanup] Duplicate event ignored: external_id=%s correlation_id=%s", event.UserExternalID, correlationID)
		return "duplicate", nil
	}

	for _, table := range c.Tables {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE user_external_id = $1", pq.QuoteIdentifier(table)),
			event.UserExternalID,
		)
		if err != nil {
			log.Printf("[Cleanup] Error cleaning table %s: %v correlation_id=%s", table, err, correlationID)
			return "", fmt.Errorf("clean %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		log.Printf("[Cleanup] Cleaned table=%s rows=%d external_id=%s correlation_id=%s",
			table, n, event.UserExternalID, correlationID)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	log.Printf("[Cleanup] Deletion processed: service=%s external_id=%s correlation_id=%s",
		c.Service, event.UserExternalID, correlationID)
	return "processed", nil
}
