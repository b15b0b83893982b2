package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/session"
)

const (
	MaxCategoryNameLength = 60
	MaxSlugLength         = 80
)

// Category writes are privileged. The role check runs before validation
// and before any store call, so a refused caller writes nothing.

func (s *ContentService) CreateCategory(ctx context.Context, name, slug string) (*model.Category, error) {
	if err := session.FromContext(ctx).Require(model.RoleElevated); err != nil {
		return nil, err
	}
	c, err := categoryInput(name, slug)
	if err != nil {
		return nil, err
	}
	if err := s.categories.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("category created", slog.String("id", c.ID), slog.String("slug", c.Slug))
	return c, nil
}

func (s *ContentService) UpdateCategory(ctx context.Context, id, name, slug string) (*model.Category, error) {
	if err := session.FromContext(ctx).Require(model.RoleElevated); err != nil {
		return nil, err
	}
	c, err := categoryInput(name, slug)
	if err != nil {
		return nil, err
	}
	c.ID = id
	if err := s.categories.UpdateCategory(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("category updated", slog.String("id", c.ID), slog.String("slug", c.Slug))
	return c, nil
}

// DeleteCategory removes a category. One still holding posts is a Conflict;
// the store enforces that, so a post created concurrently cannot be orphaned.
func (s *ContentService) DeleteCategory(ctx context.Context, id string) error {
	if err := session.FromContext(ctx).Require(model.RoleElevated); err != nil {
		return err
	}
	if err := s.categories.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logger.Info("category deleted", slog.String("id", id))
	return nil
}

func (s *ContentService) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	return s.categories.GetCategory(ctx, id)
}

func (s *ContentService) ListCategories(ctx context.Context) ([]model.Category, error) {
	cats, err := s.categories.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return cats, nil
}

// Stats is the admin dashboard: per-category counts and views plus totals.
func (s *ContentService) Stats(ctx context.Context) (*model.Stats, error) {
	if err := session.FromContext(ctx).Require(model.RoleElevated); err != nil {
		return nil, err
	}
	return s.categories.CategoryStats(ctx)
}

func categoryInput(name, slug string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "category name is required")
	}
	if len(name) > MaxCategoryNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("category name must be %d characters or less", MaxCategoryNameLength))
	}

	if strings.TrimSpace(slug) == "" {
		slug = name
	}
	slug = Slugify(slug)
	if slug == "" {
		return nil, apperror.ValidationFailed("slug", "slug must contain at least one letter or digit")
	}
	if len(slug) > MaxSlugLength {
		return nil, apperror.ValidationFailed("slug",
			fmt.Sprintf("slug must be %d characters or less", MaxSlugLength))
	}
	return &model.Category{Name: name, Slug: slug}, nil
}

// foldTable maps the accented letters common in category names to ASCII.
var foldTable = map[rune]string{
	'ç': "c", 'ğ': "g", 'ı': "i", 'ö': "o", 'ş': "s", 'ü': "u",
	'á': "a", 'à': "a", 'â': "a", 'ä': "a", 'ã': "a", 'å': "a",
	'é': "e", 'è': "e", 'ê': "e", 'ë': "e",
	'í': "i", 'ì': "i", 'î': "i", 'ï': "i",
	'ó': "o", 'ò': "o", 'ô': "o", 'õ': "o", 'ø': "o",
	'ú': "u", 'ù': "u", 'û': "u",
	'ñ': "n", 'ß': "ss",
}

// Slugify lower-cases s, folds common accents, and joins the remaining runs
// of letters and digits with single hyphens: "Yazılım & Tasarım" becomes
// "yazilim-tasarim".
func Slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if r == '\u0307' { // combining dot left by lower-casing 'İ'
			continue
		}
		if f, ok := foldTable[r]; ok {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteString(f)
			continue
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
