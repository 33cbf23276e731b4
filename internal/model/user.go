package model

import "time"

// Role is the authorization role carried in the access token.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleGuard    Role = "guard"
	RoleResident Role = "resident"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleGuard || r == RoleResident
}

// User represents a row of the `users` table.
//
// Fields:
//
//	ID           – UUID primary key.
//	Email        – unique, lower-cased address.
//	PasswordHash – bcrypt hash; the plain password is never stored.
//	Role         – admin, guard or resident.
//	HouseholdID  – household affiliation, residents only.
//	PushToken    – current push delivery token (nil when not registered).
//	CreatedAt    – creation timestamp.
type User struct {
	ID           string    `json:"userId"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	HouseholdID  *string   `json:"householdId,omitempty"`
	PushToken    *string   `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Household groups residents sharing a unit (e.g. "A-101").
type Household struct {
	ID        string    `json:"householdId"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity is the resolved caller of a request.
type Identity struct {
	UserID      string
	Role        Role
	HouseholdID string
}

// HasRole reports whether the identity holds one of roles.
func (i Identity) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

// Identity returns the identity a token issued for u resolves to.
func (u User) Identity() Identity {
	id := Identity{UserID: u.ID, Role: u.Role}
	if u.HouseholdID != nil {
		id.HouseholdID = *u.HouseholdID
	}
	return id
}
