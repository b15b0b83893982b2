// Package session resolves who the caller is and what they may do.
//
// A State is either anonymous or carries the caller's profile. HTTP requests
// get a State per request from Middleware; long-lived clients hold one in a
// Facade, which follows the identity gateway and the profile change feed.
package session

import (
	"context"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/model"
)

// State is the session as seen by authorization checks. The zero value is
// anonymous.
type State struct {
	Profile *model.Profile `json:"profile"`
}

// Anonymous is the signed-out state.
func Anonymous() State { return State{} }

// Authenticated returns the state for a signed-in caller.
func Authenticated(p *model.Profile) State { return State{Profile: p} }

func (s State) Authenticated() bool { return s.Profile != nil }

// UserID is empty for an anonymous session.
func (s State) UserID() string {
	if s.Profile == nil {
		return ""
	}
	return s.Profile.ID
}

// HasRole never fails. Anonymous holds no role; RoleStandard is held by
// every signed-in caller; RoleElevated only by elevated profiles.
func (s State) HasRole(role model.Role) bool {
	if s.Profile == nil {
		return false
	}
	switch role {
	case model.RoleStandard:
		return true
	case model.RoleElevated:
		return s.Profile.Role == model.RoleElevated
	}
	return false
}

// Require turns a failed HasRole into a PermissionError. Anonymous callers
// get the same error: lacking a session means lacking the role.
func (s State) Require(role model.Role) error {
	if s.HasRole(role) {
		return nil
	}
	return apperror.Forbidden("requires " + string(role) + " role")
}

// RequireUser is the AuthError check for operations that need any caller.
func (s State) RequireUser() error {
	if s.Profile == nil {
		return apperror.Unauthenticated("sign in required")
	}
	return nil
}

type stateKey struct{}

// WithState returns a copy of ctx carrying s.
func WithState(ctx context.Context, s State) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}

// FromContext returns the State stored in ctx, anonymous if there is none.
func FromContext(ctx context.Context) State {
	s, _ := ctx.Value(stateKey{}).(State)
	return s
}
