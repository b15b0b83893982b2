package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/repository"
	"github.com/sakif/inkwell/internal/session"
)

const MaxDisplayNameLength = 80

// ProfileService covers the user-facing profile edits and the admin panel.
type ProfileService struct {
	profiles repository.ProfileRepository
	logger   *slog.Logger
}

func NewProfileService(profiles repository.ProfileRepository, logger *slog.Logger) *ProfileService {
	return &ProfileService{profiles: profiles, logger: logger}
}

func (s *ProfileService) Get(ctx context.Context, id string) (*model.Profile, error) {
	return s.profiles.GetProfile(ctx, id)
}

// List returns every profile with its post count. Elevated only.
func (s *ProfileService) List(ctx context.Context) ([]model.ProfileSummary, error) {
	if err := session.FromContext(ctx).Require(model.RoleElevated); err != nil {
		return nil, err
	}
	out, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	return out, nil
}

// UpdateProfile changes the caller's own display name and avatar. Nil
// arguments keep the current value.
func (s *ProfileService) UpdateProfile(ctx context.Context, displayName, avatarURL *string) (*model.Profile, error) {
	caller := session.FromContext(ctx)
	if err := caller.RequireUser(); err != nil {
		return nil, err
	}
	p, err := s.profiles.GetProfile(ctx, caller.UserID())
	if err != nil {
		return nil, err
	}

	if displayName != nil {
		name := strings.TrimSpace(*displayName)
		if name == "" {
			return nil, apperror.ValidationFailed("displayName", "display name is required")
		}
		if len(name) > MaxDisplayNameLength {
			return nil, apperror.ValidationFailed("displayName",
				fmt.Sprintf("display name must be %d characters or less", MaxDisplayNameLength))
		}
		p.DisplayName = name
	}
	if avatarURL != nil {
		avatar := strings.TrimSpace(*avatarURL)
		if avatar == "" {
			avatar = session.InitialsAvatar(p.DisplayName)
		} else if u, err := url.Parse(avatar); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, apperror.ValidationFailed("avatarUrl", "avatar must be an http(s) URL")
		}
		p.AvatarURL = avatar
	}

	if err := s.profiles.UpdateProfile(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("profile updated", slog.String("id", p.ID))
	return p, nil
}

// ChangeRole sets a user's role. Elevated only.
func (s *ProfileService) ChangeRole(ctx context.Context, id string, role model.Role) (*model.Profile, error) {
	caller := session.FromContext(ctx)
	if err := caller.Require(model.RoleElevated); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperror.ValidationFailed("role", "unknown role "+string(role))
	}

	p, err := s.profiles.SetRole(ctx, id, role)
	if err != nil {
		return nil, err
	}
	s.logger.Info("role changed",
		slog.String("id", id),
		slog.String("role", string(role)),
		slog.String("by", caller.UserID()),
	)
	return p, nil
}

// DeleteUser removes a user with their posts and history. The store
// recomputes the affected category counts in the same transaction. An admin
// cannot delete their own account here.
func (s *ProfileService) DeleteUser(ctx context.Context, id string) error {
	caller := session.FromContext(ctx)
	if err := caller.Require(model.RoleElevated); err != nil {
		return err
	}
	if id == caller.UserID() {
		return apperror.ValidationFailed("id", "cannot delete your own account")
	}

	touched, err := s.profiles.DeleteUser(ctx, id)
	if err != nil {
		return err
	}
	s.logger.Info("user deleted",
		slog.String("id", id),
		slog.String("by", caller.UserID()),
		slog.Int("categories_recomputed", len(touched)),
	)
	return nil
}
