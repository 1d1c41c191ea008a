package account

import (
	"errors"
	"fmt"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/keycloak"
)

var (
	ErrNotFound                       = errors.New("user not found")
	ErrInvalidArgument                = errors.New("invalid argument")
	ErrConcurrentModification         = errors.New("account is being modified, retry later")
	ErrEventPublishFailed             = errors.New("account deletion event could not be published")
	ErrIdentityProviderDeletionFailed = errors.New("identity provider deletion failed")
	ErrLocalStoreFailure              = errors.New("local store failure")

	// ErrAuthentication matches failures to obtain or use an admin token.
	ErrAuthentication = keycloak.ErrAuthentication
)

// Stage names the step of a deletion that failed.
type Stage string

const (
	StagePublish          Stage = "publish"
	StageIdentityProvider Stage = "identity_provider"
	StageLocalStore       Stage = "local_store"
)

// State is a position in the deletion state machine.
type State string

const (
	StatePending              State = "pending"
	StateEventPublished       State = "event_published"
	StateExternallyDeleted    State = "externally_deleted"
	StateLocallyDeleted       State = "locally_deleted"
	StatePublishFailed        State = "publish_failed"
	StateExternalDeleteFailed State = "external_delete_failed"
	StateLocalDeleteFailed    State = "local_delete_failed"
)

// FailedState returns the terminal failure state for a stage.
func (s Stage) FailedState() State {
	switch s {
	case StagePublish:
		return StatePublishFailed
	case StageIdentityProvider:
		return StateExternalDeleteFailed
	case StageLocalStore:
		return StateLocalDeleteFailed
	default:
		return StatePending
	}
}

func (s Stage) sentinel() error {
	switch s {
	case StagePublish:
		return ErrEventPublishFailed
	case StageIdentityProvider:
		return ErrIdentityProviderDeletionFailed
	case StageLocalStore:
		return ErrLocalStoreFailure
	default:
		return nil
	}
}

// DeletionError reports which stage of an account deletion failed.
// It matches the stage's sentinel with errors.Is and unwraps to the cause.
type DeletionError struct {
	Stage      Stage
	ExternalID string
	Err        error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("account deletion of %s failed at %s stage: %v", e.ExternalID, e.Stage, e.Err)
}

func (e *DeletionError) Unwrap() error {
	return e.Err
}

func (e *DeletionError) Is(target error) bool {
	s := e.Stage.sentinel()
	return s != nil && target == s
}

// Inconsistent reports whether the account was removed from the identity
// provider but is still present locally.
func (e *DeletionError) Inconsistent() bool {
	return e.Stage == StageLocalStore && !errors.Is(e.Err, ErrNotFound)
}
