package model

import "time"

// Role is the authorization level stored on a profile.
type Role string

const (
	RoleStandard Role = "standard"
	RoleElevated Role = "elevated"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStandard || r == RoleElevated
}

// Profile is the public side of a user. Its ID is the identity provider's
// user ID, so there is at most one profile per identity.
type Profile struct {
	ID          string    `json:"id"          db:"id"`
	Email       string    `json:"email"       db:"email"`
	DisplayName string    `json:"displayName" db:"display_name"`
	AvatarURL   string    `json:"avatarUrl"   db:"avatar_url"`
	Role        Role      `json:"role"        db:"role"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
}

func (p Profile) RecordID() string { return p.ID }

// ProfileSummary is a profile plus the number of posts it authored.
type ProfileSummary struct {
	Profile
	PostCount int64 `json:"postCount"`
}
