package model

import "time"

// Status is the lifecycle state of a visitor pass.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusDenied     Status = "denied"
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
)

// StatusAll is the pseudo-status accepted by list filters.
const StatusAll = "all"

// Defaults applied when a resident leaves optional fields empty.
const (
	DefaultPhone        = "N/A"
	DefaultPurpose      = "General visit"
	DefaultDenialReason = "No reason provided"
	NoHousehold         = "N/A"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied, StatusCheckedIn, StatusCheckedOut:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDenied || s == StatusCheckedOut
}

// Visitor mirrors a row of the `visitors` table. The JSON names are the
// persisted field names clients already depend on.
//
// Stamp fields are nil until the transition that owns them runs, and are
// written exactly once.
type Visitor struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	Purpose      string     `json:"purpose"`
	Status       Status     `json:"status"`
	HouseholdID  *string    `json:"householdId"`
	CreatedBy    string     `json:"createdBy"`
	CreatedAt    time.Time  `json:"createdAt"`
	ApprovedBy   *string    `json:"approvedBy,omitempty"`
	ApprovedAt   *time.Time `json:"approvedAt,omitempty"`
	DeniedBy     *string    `json:"deniedBy,omitempty"`
	DeniedAt     *time.Time `json:"deniedAt,omitempty"`
	DenialReason *string    `json:"denialReason,omitempty"`
	CheckedInBy  *string    `json:"checkedInBy,omitempty"`
	CheckedInAt  *time.Time `json:"checkedInAt,omitempty"`
	CheckedOutBy *string    `json:"checkedOutBy,omitempty"`
	CheckedOutAt *time.Time `json:"checkedOutAt,omitempty"`
}

// Household returns the household id or NoHousehold when unset.
func (v Visitor) Household() string {
	if v.HouseholdID == nil || *v.HouseholdID == "" {
		return NoHousehold
	}
	return *v.HouseholdID
}

// Transition describes one conditional status change. The store applies it
// only while the stored status still equals From.
type Transition struct {
	From    Status
	To      Status
	ActorID string
	At      time.Time
	Reason  string // denial only
}

// Apply stamps t onto v in memory, mirroring what the store persisted.
func (v *Visitor) Apply(t Transition) {
	actor := t.ActorID
	at := t.At
	v.Status = t.To
	switch t.To {
	case StatusApproved:
		v.ApprovedBy, v.ApprovedAt = &actor, &at
	case StatusDenied:
		reason := t.Reason
		v.DeniedBy, v.DeniedAt, v.DenialReason = &actor, &at, &reason
	case StatusCheckedIn:
		v.CheckedInBy, v.CheckedInAt = &actor, &at
	case StatusCheckedOut:
		v.CheckedOutBy, v.CheckedOutAt = &actor, &at
	}
}

// VisitorFilter narrows a visitor listing. Nil pointers and an empty Status
// leave that dimension unfiltered.
type VisitorFilter struct {
	HouseholdID *string
	CreatedBy   *string
	Status      Status
}
