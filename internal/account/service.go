// Package account implements user registration and the account deletion
// sequence: announce on the bus, delete from the identity provider, then
// delete the local profile.
package account

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/middleware"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"
	"github.com/google/uuid"
)

// DefaultDeletionReason is used when a deletion request carries no reason.
const DefaultDeletionReason = "User requested"

// RegisterInput carries the fields of a registration call. A nil Roles keeps
// the stored roles of an existing user; a non-nil slice replaces them.
type RegisterInput struct {
	ExternalID string
	Username   string
	Email      *string
	FirstName  string
	LastName   string
	Roles      []string
}

// Service owns the user profile lifecycle.
type Service struct {
	users     UserStore
	publisher EventPublisher
	idp       IdentityProvider
	audit     AuditRecorder
	metrics   MetricsRecorder

	locks *keyedLocker
	now   func() time.Time
}

// NewService wires the service. audit and metrics may be nil.
func NewService(users UserStore, publisher EventPublisher, idp IdentityProvider, audit AuditRecorder, metrics MetricsRecorder) *Service {
	return &Service{
		users:     users,
		publisher: publisher,
		idp:       idp,
		audit:     audit,
		metrics:   metrics,
		locks:     newKeyedLocker(),
		now:       time.Now,
	}
}

// Register creates the user on first sight of its external id and otherwise
// overwrites the profile fields, keeping id and createdAt. It reports whether
// a new user was created.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, bool, error) {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.Username = strings.TrimSpace(in.Username)
	if in.ExternalID == "" {
		return nil, false, fmt.Errorf("%w: externalId is required", ErrInvalidArgument)
	}
	if in.Username == "" {
		return nil, false, fmt.Errorf("%w: username is required", ErrInvalidArgument)
	}
	correlationID := middleware.CorrelationIDFromContext(ctx)

	unlock := s.locks.Lock(in.ExternalID)
	defer unlock()

	existing, err := s.users.FindByExternalID(ctx, in.ExternalID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: find user: %w", ErrLocalStoreFailure, err)
	}

	roles := models.NormalizeRoles(in.Roles)
	created := existing == nil

	var user models.User
	if created {
		if roles == nil {
			roles = []string{}
		}
		user = models.User{
			ID:         uuid.New().String(),
			ExternalID: in.ExternalID,
			CreatedAt:  s.now().UTC(),
			Roles:      roles,
		}
	} else {
		user = *existing
		if roles != nil {
			user.Roles = roles
		}
	}
	user.Username = in.Username
	user.Email = in.Email
	user.FirstName = in.FirstName
	user.LastName = in.LastName

	if err := s.users.Save(ctx, &user); err != nil {
		log.Printf("[Register] Failed to save user: external_id=%s err=%v correlation_id=%s",
			in.ExternalID, err, correlationID)
		return nil, false, fmt.Errorf("%w: save user: %w", ErrLocalStoreFailure, err)
	}

	if s.metrics != nil {
		s.metrics.RegistrationRecorded(created)
	}
	log.Printf("[Register] User saved: id=%s external_id=%s created=%t roles=%v correlation_id=%s",
		user.ID, user.ExternalID, created, user.Roles, correlationID)
	return &user, created, nil
}

// GetByExternalID returns the user or ErrNotFound.
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	user, err := s.users.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("%w: find user: %w", ErrLocalStoreFailure, err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// ListByRole returns every user carrying role, oldest first.
func (s *Service) ListByRole(ctx context.Context, role string) ([]models.User, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, fmt.Errorf("%w: role is required", ErrInvalidArgument)
	}
	users, err := s.users.ListByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %w", ErrLocalStoreFailure, err)
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

// DeleteAccount publishes the deletion event, removes the user from the
// identity provider and finally deletes the local record. Each step runs only
// if the previous one succeeded and nothing is retried. A failed step is
// reported as a *DeletionError naming the stage.
//
// An unknown id fails with ErrNotFound before any side effect. A second
// deletion of the same id while one is running fails with
// ErrConcurrentModification.
func (s *Service) DeleteAccount(ctx context.Context, externalID, reason string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return fmt.Errorf("%w: externalId is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(reason) == "" {
		reason = DefaultDeletionReason
	}
	correlationID := middleware.CorrelationIDFromContext(ctx)

	unlock, ok := s.locks.TryLock(externalID)
	if !ok {
		log.Printf("[Deletion] Rejected, account busy: external_id=%s correlation_id=%s", externalID, correlationID)
		return ErrConcurrentModification
	}
	defer unlock()

	log.Printf("[Deletion] Processing deletion request: external_id=%s reason=%q correlation_id=%s",
		externalID, reason, correlationID)

	user, err := s.users.FindByExternalID(ctx, externalID)
	if err != nil {
		return fmt.Errorf("%w: find user: %w", ErrLocalStoreFailure, err)
	}
	if user == nil {
		log.Printf("[Deletion] Unknown account: external_id=%s correlation_id=%s", externalID, correlationID)
		return ErrNotFound
	}

	// Pending -> EventPublished. Downstream cleanup may start from here on.
	if err := s.publisher.PublishAccountDeletion(ctx, externalID, reason); err != nil {
		return s.fail(ctx, StagePublish, externalID, reason, err)
	}
	log.Printf("[Deletion] State %s: external_id=%s correlation_id=%s", StateEventPublished, externalID, correlationID)

	// EventPublished -> ExternallyDeleted. On failure the local profile stays.
	if err := s.idp.DeleteUser(ctx, externalID); err != nil {
		return s.fail(ctx, StageIdentityProvider, externalID, reason, err)
	}
	log.Printf("[Deletion] State %s: external_id=%s correlation_id=%s", StateExternallyDeleted, externalID, correlationID)

	// ExternallyDeleted -> LocallyDeleted.
	removed, err := s.users.Delete(ctx, externalID)
	if err != nil {
		return s.fail(ctx, StageLocalStore, externalID, reason, err)
	}
	if !removed {
		return s.fail(ctx, StageLocalStore, externalID, reason, fmt.Errorf("record already removed: %w", ErrNotFound))
	}

	log.Printf("[Deletion] State %s: external_id=%s correlation_id=%s", StateLocallyDeleted, externalID, correlationID)
	s.record(ctx, externalID, reason, StateLocallyDeleted, nil)
	return nil
}

func (s *Service) fail(ctx context.Context, stage Stage, externalID, reason string, cause error) error {
	derr := &DeletionError{Stage: stage, ExternalID: externalID, Err: cause}
	state := stage.FailedState()

	log.Printf("[Deletion] State %s: external_id=%s err=%v correlation_id=%s",
		state, externalID, cause, middleware.CorrelationIDFromContext(ctx))
	if derr.Inconsistent() {
		log.Printf("[Deletion] Account removed from identity provider but still stored locally, operator action required: external_id=%s",
			externalID)
	}

	s.record(ctx, externalID, reason, state, cause)
	return derr
}

func (s *Service) record(ctx context.Context, externalID, reason string, state State, cause error) {
	if s.metrics != nil {
		s.metrics.DeletionRecorded(string(state))
	}
	if s.audit == nil {
		return
	}

	audit := models.DeletionAudit{
		ExternalID: externalID,
		Reason:     reason,
		Stage:      string(state),
		CreatedAt:  s.now().UTC(),
	}
	if cause != nil {
		audit.Error = cause.Error()
	}

	// The outcome is already decided; a cancelled request must not lose it.
	if err := s.audit.Record(context.WithoutCancel(ctx), audit); err != nil {
		log.Printf("[Deletion] Failed to record audit: external_id=%s state=%s err=%v", externalID, state, err)
	}
}
