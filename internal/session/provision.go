package session

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/identity"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/repository"
)

const avatarBase = "https://api.dicebear.com/7.x/initials/svg"

// InitialsAvatar is the generated avatar for a profile without one: the first
// letter of every word of the display name, upper-cased.
func InitialsAvatar(displayName string) string {
	var b strings.Builder
	for _, word := range strings.Fields(displayName) {
		r, _ := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
	}
	return avatarBase + "?seed=" + url.QueryEscape(b.String()) + "&backgroundColor=random"
}

// Provisioner makes sure every authenticated identity has a profile row.
type Provisioner struct {
	profiles   repository.ProfileRepository
	adminEmail string
	logger     *slog.Logger
}

// NewProvisioner creates a Provisioner. A non-empty adminEmail names the
// account whose profile is created with the elevated role; it has no effect
// on profiles that already exist.
func NewProvisioner(profiles repository.ProfileRepository, adminEmail string, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		profiles:   profiles,
		adminEmail: strings.ToLower(strings.TrimSpace(adminEmail)),
		logger:     logger,
	}
}

// EnsureProfile returns the identity's profile, creating it on first sight.
// The common case is a plain read; only a missing row goes to the
// idempotent insert, so two racing first calls still end with one row.
func (p *Provisioner) EnsureProfile(ctx context.Context, id *identity.Identity) (*model.Profile, error) {
	profile, err := p.profiles.GetProfile(ctx, id.UserID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		p.logger.Error("failed to load profile",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	avatar := id.AvatarURL
	if avatar == "" {
		avatar = InitialsAvatar(id.DisplayName)
	}
	role := model.RoleStandard
	if p.adminEmail != "" && strings.EqualFold(id.Email, p.adminEmail) {
		role = model.RoleElevated
	}

	profile, err = p.profiles.InsertProfileIfAbsent(ctx, &model.Profile{
		ID:          id.UserID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		AvatarURL:   avatar,
		Role:        role,
	})
	if err != nil {
		p.logger.Error("failed to ensure profile",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return profile, nil
}
