// Package events publishes account lifecycle notifications to the message bus.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/middleware"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"
)

// ErrEventPublishFailed wraps every failure to serialize or hand off an event.
var ErrEventPublishFailed = errors.New("event publish failed")

// MessagePublisher sends a message to the deletion exchange.
type MessagePublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, correlationID string) error
}

// AccountDeletionPublisher announces account deletions to downstream services.
type AccountDeletionPublisher struct {
	publisher MessagePublisher
	now       func() time.Time
}

// NewAccountDeletionPublisher wraps a broker publisher.
func NewAccountDeletionPublisher(publisher MessagePublisher) *AccountDeletionPublisher {
	return &AccountDeletionPublisher{publisher: publisher, now: time.Now}
}

// PublishAccountDeletion stamps the event with the current UTC time and
// publishes it under models.DeletionRoutingKey. It returns once the broker
// has confirmed the message.
func (p *AccountDeletionPublisher) PublishAccountDeletion(ctx context.Context, externalID, reason string) error {
	correlationID := middleware.CorrelationIDFromContext(ctx)

	event := models.AccountDeletionEvent{
		UserExternalID:    externalID,
		DeletionTimestamp: p.now().UTC(),
		Reason:            reason,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %w", ErrEventPublishFailed, err)
	}

	if err := p.publisher.Publish(ctx, models.DeletionRoutingKey, body, correlationID); err != nil {
		log.Printf("[Events] Failed to publish account deletion: external_id=%s err=%v correlation_id=%s",
			externalID, err, correlationID)
		return fmt.Errorf("%w: %w", ErrEventPublishFailed, err)
	}

	log.Printf("[Events] Account deletion published: external_id=%s timestamp=%s correlation_id=%s",
		externalID, event.DeletionTimestamp.Format(time.RFC3339), correlationID)
	return nil
}
