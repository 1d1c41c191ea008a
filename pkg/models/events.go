package models

import "time"

// Account deletion addressing on the message bus. Every downstream service binds
// a durable queue to DeletionRoutingKey on DeletionExchange.
const (
	DeletionExchange   = "account.deletion.exchange"
	DeletionRoutingKey = "account.deleted"
)

// Queues declared by the services that clean up after an account deletion.
const (
	AssignmentDeletionQueue = "assignment.deletion.queue"
	SchedulingDeletionQueue = "scheduling.deletion.queue"
	JournalDeletionQueue    = "journal.deletion.queue"
)

// AccountDeletionEvent is the payload published when an account is being deleted.
// Consumers depend on these field names; do not rename them.
type AccountDeletionEvent struct {
	UserExternalID    string    `json:"userExternalId"`
	DeletionTimestamp time.Time `json:"deletionTimestamp"`
	Reason            string    `json:"reason"`
}

// DedupKey identifies one delivery of a deletion event for idempotent consumers.
func (e AccountDeletionEvent) DedupKey() string {
	return e.UserExternalID + "|" + e.DeletionTimestamp.UTC().Format(time.RFC3339Nano)
}

// DeletionAudit is one recorded outcome of a deletion orchestration.
type DeletionAudit struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"externalId"`
	Reason     string    `json:"reason"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
