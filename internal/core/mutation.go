package core

import "time"

// MutationState tracks the lifecycle of one optimistic write.
type MutationState string

const (
	MutationPending    MutationState = "pending"
	MutationCommitted  MutationState = "committed"
	MutationRolledBack MutationState = "rolled_back"
)

// PendingMutation records one optimistic write from intent to settlement.
// At most one pending mutation may exist per (EntityID, Field) pair; a second
// intent on the same pair queues behind the in-flight one.
type PendingMutation struct {
	RequestID string        `json:"request_id"`
	EntityID  string        `json:"entity_id"`
	Field     Field         `json:"field"`
	Previous  any           `json:"previous"`
	Intended  any           `json:"intended"`
	State     MutationState `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
	SettledAt *time.Time    `json:"settled_at,omitempty"`
}
