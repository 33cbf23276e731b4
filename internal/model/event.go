package model

import (
	"encoding/json"
	"time"
)

// EventType names an audit event and the notification fan-out it drives.
type EventType string

const (
	EventApproval       EventType = "approval"
	EventDenial         EventType = "denial"
	EventCheckIn        EventType = "checkin"
	EventCheckOut       EventType = "checkout"
	EventVisitorCreated EventType = "visitor_created"
	EventUserCreated    EventType = "user_created"
)

// Valid reports whether t is a known audit event type.
func (t EventType) Valid() bool {
	switch t {
	case EventApproval, EventDenial, EventCheckIn, EventCheckOut, EventVisitorCreated, EventUserCreated:
		return true
	}
	return false
}

// VisitorChange is handed to the notification fan-out after a visitor write
// has been committed.
type VisitorChange struct {
	Event   EventType
	Visitor Visitor
	ActorID string
}

// AuditRecord is one persisted audit event. Payload holds the JSON encoding
// of the type-specific payload.
type AuditRecord struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	ActorID    string          `json:"actorUserId"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"timestamp"`
}
