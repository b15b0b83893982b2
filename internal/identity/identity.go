// Package identity is the gateway to "who is the caller".
//
// Provider is the stateless half the HTTP layer uses per request: it
// registers credentials, checks passwords, links GitHub accounts and turns a
// token back into an Identity. Local is the stateful half: one signed-in
// identity at a time plus auth-change notifications, the shape a client SDK
// gives its host process. Long-lived connections (the change-feed socket)
// run one Local each.
package identity

import (
	"context"
	"time"
)

// Identity is an authenticated caller as the gateway sees it. UserID doubles
// as the profile ID.
type Identity struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ProfileSeed carries the profile fields chosen at sign-up. The profile row
// itself is created later by the session layer from the Identity.
type ProfileSeed struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// ExternalUser is an identity vouched for by an OAuth provider.
type ExternalUser struct {
	Provider    string
	Subject     string // provider's stable user id
	Email       string
	DisplayName string
	AvatarURL   string
}

type EventKind string

const (
	SignedIn       EventKind = "signed_in"
	SignedOut      EventKind = "signed_out"
	TokenRefreshed EventKind = "token_refreshed"
)

// Event reports a change of the gateway's current identity. Identity is nil
// for SignedOut.
type Event struct {
	Kind     EventKind
	Identity *Identity
}

// Gateway is the contract the session layer is written against.
type Gateway interface {
	SignUp(ctx context.Context, email, password string, seed ProfileSeed) (*Identity, error)
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignOut(ctx context.Context) error
	// CurrentIdentity returns (nil, nil) when nobody is signed in.
	CurrentIdentity(ctx context.Context) (*Identity, error)
	// OnAuthChanged registers fn for every later auth change and returns a
	// function that removes it.
	OnAuthChanged(fn func(Event)) (unsubscribe func())
}
