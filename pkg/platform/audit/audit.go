// Package audit records who did what to which identifier.
//
// Compliance events cover committed lifecycle transitions and are never
// sampled. Security events cover rejected authorization attempts. Operations
// events are high-volume and may be sampled down.
package audit

import (
	"context"
	"time"
)

type EventCategory string

const (
	CategoryCompliance EventCategory = "compliance"
	CategorySecurity   EventCategory = "security"
	CategoryOperations EventCategory = "operations"
)

// Action names what happened.
type Action string

const (
	ActionDIDCreated          Action = "did_created"
	ActionDIDUpdated          Action = "did_updated"
	ActionDIDDeactivated      Action = "did_deactivated"
	ActionAuthorizationFailed Action = "authorization_failed"
	ActionStaleProof          Action = "stale_proof_rejected"
	ActionWriteConflict       Action = "write_conflict"
)

var actionCategories = map[Action]EventCategory{
	ActionDIDCreated:          CategoryCompliance,
	ActionDIDUpdated:          CategoryCompliance,
	ActionDIDDeactivated:      CategoryCompliance,
	ActionAuthorizationFailed: CategorySecurity,
	ActionStaleProof:          CategorySecurity,
	ActionWriteConflict:       CategoryOperations,
}

// Category returns the category an action belongs to. Unknown actions are
// treated as operations events.
func (a Action) Category() EventCategory {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategoryOperations
}

// Event is one audit record.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	DID       string
	Action    Action
	KeyID     string
	Reason    string
	RequestID string
	ClientIP  string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByDID(ctx context.Context, did string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
