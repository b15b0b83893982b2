package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/auth"
	"github.com/sakif/inkwell/internal/repository"
)

// Provider owns credentials and tokens. It keeps no per-caller state and is
// safe for concurrent use.
type Provider struct {
	creds     repository.CredentialRepository
	passwords *auth.PasswordService
	tokens    *auth.TokenService
	logger    *slog.Logger
}

func NewProvider(creds repository.CredentialRepository, passwords *auth.PasswordService, tokens *auth.TokenService, logger *slog.Logger) *Provider {
	return &Provider{creds: creds, passwords: passwords, tokens: tokens, logger: logger}
}

// Register creates a password credential and returns a signed-in identity.
func (p *Provider) Register(ctx context.Context, email, password string, seed ProfileSeed) (*Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	hash, err := p.passwords.Hash(password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrPasswordTooLong):
			return nil, apperror.ValidationFailed("password", strings.TrimPrefix(err.Error(), "auth: "))
		}
		return nil, err
	}

	displayName := strings.TrimSpace(seed.DisplayName)
	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}

	c := &repository.Credential{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
	}
	if err := p.creds.CreateCredential(ctx, c); err != nil {
		return nil, err
	}

	p.logger.Info("account registered", slog.String("user_id", c.ID))
	id, err := p.issue(c)
	if err != nil {
		return nil, err
	}
	id.AvatarURL = seed.AvatarURL
	return id, nil
}

// Verify checks an email/password pair. Unknown email and wrong password
// produce the same error so the response does not reveal which accounts
// exist.
func (p *Provider) Verify(ctx context.Context, email, password string) (*Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	c, err := p.creds.GetCredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("invalid email or password")
		}
		return nil, err
	}
	if c.PasswordHash == "" {
		return nil, apperror.Unauthenticated("account uses external sign-in")
	}
	if err := p.passwords.Verify(c.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthenticated("invalid email or password")
		}
		return nil, err
	}
	return p.issue(c)
}

// LinkExternal finds or creates the credential for an OAuth identity and
// returns a signed-in identity for it.
func (p *Provider) LinkExternal(ctx context.Context, u ExternalUser) (*Identity, error) {
	if u.Provider == "" || u.Subject == "" {
		return nil, apperror.ValidationFailed("subject", "external identity is missing provider or subject")
	}
	c, err := p.creds.UpsertExternalCredential(ctx, &repository.Credential{
		Email:       strings.ToLower(strings.TrimSpace(u.Email)),
		Provider:    u.Provider,
		Subject:     u.Subject,
		DisplayName: u.DisplayName,
	})
	if err != nil {
		return nil, err
	}
	id, err := p.issue(c)
	if err != nil {
		return nil, err
	}
	id.AvatarURL = u.AvatarURL
	return id, nil
}

// Authenticate turns a token into the identity it was issued for. The token
// is returned unchanged inside the Identity.
func (p *Provider) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, apperror.Unauthenticated("no token")
	}
	userID, expires, err := p.tokens.ValidateWithExpiry(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperror.Unauthenticated("token expired")
		}
		return nil, apperror.Unauthenticated("invalid token")
	}

	c, err := p.creds.GetCredentialByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("account no longer exists")
		}
		return nil, err
	}
	return &Identity{
		UserID:      c.ID,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		Token:       token,
		ExpiresAt:   expires,
	}, nil
}

// Reissue signs a fresh token for an already authenticated identity.
func (p *Provider) Reissue(ctx context.Context, current *Identity) (*Identity, error) {
	fresh, err := p.Authenticate(ctx, current.Token)
	if err != nil {
		return nil, err
	}
	token, expires, err := p.sign(fresh.UserID)
	if err != nil {
		return nil, err
	}
	fresh.Token = token
	fresh.ExpiresAt = expires
	fresh.AvatarURL = current.AvatarURL
	return fresh, nil
}

func (p *Provider) issue(c *repository.Credential) (*Identity, error) {
	token, expires, err := p.sign(c.ID)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID:      c.ID,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		Token:       token,
		ExpiresAt:   expires,
	}, nil
}

func (p *Provider) sign(userID string) (string, time.Time, error) {
	token, err := p.tokens.Generate(userID)
	if err != nil {
		return "", time.Time{}, err
	}
	_, expires, err := p.tokens.ValidateWithExpiry(token)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "email is not a valid address")
	}
	return email, nil
}
