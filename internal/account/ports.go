package account

import (
	"context"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"
)

// UserStore persists user profiles keyed by external id.
type UserStore interface {
	// FindByExternalID returns nil, nil when no user has the id.
	FindByExternalID(ctx context.Context, externalID string) (*models.User, error)
	Exists(ctx context.Context, externalID string) (bool, error)
	// Save inserts or updates by external id and refreshes ID and CreatedAt
	// from the stored row.
	Save(ctx context.Context, user *models.User) error
	// Delete removes the user and reports whether a row was removed.
	Delete(ctx context.Context, externalID string) (bool, error)
	ListByRole(ctx context.Context, role string) ([]models.User, error)
}

// EventPublisher announces an account deletion to downstream services.
type EventPublisher interface {
	PublishAccountDeletion(ctx context.Context, externalID, reason string) error
}

// IdentityProvider removes the account from the external identity provider.
type IdentityProvider interface {
	DeleteUser(ctx context.Context, externalID string) error
}

// AuditRecorder stores the outcome of each deletion for operators.
type AuditRecorder interface {
	Record(ctx context.Context, audit models.DeletionAudit) error
}

// MetricsRecorder counts registration and deletion outcomes.
type MetricsRecorder interface {
	RegistrationRecorded(created bool)
	DeletionRecorded(state string)
}
