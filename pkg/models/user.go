package models

import (
	"sort"
	"strings"
	"time"
)

// User represents a registered account in the profile service.
type User struct {
	ID         string    `json:"id" db:"id"`
	ExternalID string    `json:"externalId" db:"external_id"`
	Username   string    `json:"username" db:"username"`
	Email      *string   `json:"email,omitempty" db:"email"`
	FirstName  string    `json:"firstName" db:"first_name"`
	LastName   string    `json:"lastName" db:"last_name"`
	Roles      []string  `json:"roles" db:"roles"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RegisterRequest is the request body for registering or refreshing a user.
// Omitting roles leaves Roles nil, which keeps the stored roles of an existing user.
type RegisterRequest struct {
	ExternalID string   `json:"externalId" binding:"required" example:"0f1c7a52-3a6e-4c1b-9d0e-2b7f8f3e9a11"`
	Username   string   `json:"username" binding:"required" example:"jdoe"`
	Email      *string  `json:"email,omitempty" binding:"omitempty,email" example:"john@example.com"`
	FirstName  string   `json:"firstName" example:"John"`
	LastName   string   `json:"lastName" example:"Doe"`
	Roles      []string `json:"roles" example:"patient"`
}

// RegisterResponse is returned by the register endpoint.
type RegisterResponse struct {
	User
	Message string `json:"message"`
}

// NormalizeRoles trims, deduplicates and sorts a role set. Blank names are
// dropped. A nil input stays nil.
func NormalizeRoles(roles []string) []string {
	if roles == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
