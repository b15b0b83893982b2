// Package service holds the business rules of the engagement core.
//
//	Handler (HTTP)  → parses requests, writes responses
//	Service         → authorizes, validates, sequences writes
//	Repository      → SQL, atomic counters, change events
//
// Services read the caller from the context (session.FromContext), never
// from HTTP types, so the same rules apply to any transport. They return
// apperror values; the handler turns those into status codes.
//
// AGGREGATE COUNTERS:
// A category's post_count is derived. After every committed insert or
// delete of a post the service recomputes it from the live rows, as a
// dependent step that runs after the commit and never in parallel with it.
// A failed recompute is logged, not returned: the post was written, and the
// next recompute for that category repairs the count.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/media"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/repository"
	"github.com/sakif/inkwell/internal/session"
)

const (
	MaxTitleLength   = 200
	MaxBodyLength    = 200_000
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ContentService owns posts and categories and the counts that tie them.
type ContentService struct {
	posts      repository.PostRepository
	categories repository.CategoryRepository
	media      media.Store
	logger     *slog.Logger
}

func NewContentService(posts repository.PostRepository, categories repository.CategoryRepository, store media.Store, logger *slog.Logger) *ContentService {
	return &ContentService{
		posts:      posts,
		categories: categories,
		media:      store,
		logger:     logger,
	}
}

// CreatePost publishes draft for authorID, who must be the signed-in caller.
//
// Everything that can reject the post (validation, category lookup, cover
// upload check) happens before the insert. An abandoned request therefore
// never leaves a half-created post behind.
func (s *ContentService) CreatePost(ctx context.Context, draft model.PostDraft, authorID string) (*model.Post, error) {
	caller := session.FromContext(ctx)
	if err := caller.RequireUser(); err != nil {
		return nil, err
	}
	if authorID != caller.UserID() {
		return nil, apperror.Forbidden("cannot publish on behalf of another author")
	}

	title, body, err := validatePostText(draft.Title, draft.Body)
	if err != nil {
		return nil, err
	}
	categoryID := strings.TrimSpace(draft.CategoryID)
	if categoryID == "" {
		return nil, apperror.ValidationFailed("categoryId", "category is required")
	}
	if _, err := s.categories.GetCategory(ctx, categoryID); err != nil {
		return nil, err
	}
	cover := strings.TrimSpace(draft.CoverImage)
	if err := s.checkCover(ctx, cover); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	post := &model.Post{
		Title:      title,
		Body:       body,
		CoverImage: cover,
		AuthorID:   authorID,
		CategoryID: categoryID,
	}
	if err := s.posts.CreatePost(ctx, post); err != nil {
		s.logger.Error("failed to create post",
			slog.String("author_id", authorID),
			slog.String("category_id", categoryID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating post: %w", err)
	}

	s.logger.Info("post created",
		slog.String("id", post.ID),
		slog.String("author_id", authorID),
		slog.String("category_id", categoryID),
	)
	s.refreshCount(ctx, categoryID)
	return post, nil
}

// UpdatePost edits a post. Only the author or an elevated caller may.
// Moving a post to another category recomputes both counts.
func (s *ContentService) UpdatePost(ctx context.Context, id string, patch model.PostPatch) (*model.Post, error) {
	post, err := s.authorizePostChange(ctx, id)
	if err != nil {
		return nil, err
	}
	oldCategory := post.CategoryID

	title, body := post.Title, post.Body
	if patch.Title != nil {
		title = *patch.Title
	}
	if patch.Body != nil {
		body = *patch.Body
	}
	if post.Title, post.Body, err = validatePostText(title, body); err != nil {
		return nil, err
	}
	if patch.CategoryID != nil {
		categoryID := strings.TrimSpace(*patch.CategoryID)
		if categoryID == "" {
			return nil, apperror.ValidationFailed("categoryId", "category is required")
		}
		if categoryID != oldCategory {
			if _, err := s.categories.GetCategory(ctx, categoryID); err != nil {
				return nil, err
			}
		}
		post.CategoryID = categoryID
	}
	if patch.CoverImage != nil {
		cover := strings.TrimSpace(*patch.CoverImage)
		if cover != post.CoverImage {
			if err := s.checkCover(ctx, cover); err != nil {
				return nil, err
			}
		}
		post.CoverImage = cover
	}

	if err := s.posts.UpdatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("updating post: %w", err)
	}

	s.logger.Info("post updated", slog.String("id", post.ID))
	if post.CategoryID != oldCategory {
		s.refreshCount(ctx, oldCategory)
		s.refreshCount(ctx, post.CategoryID)
	}
	return post, nil
}

// DeletePost removes a post. Only the author or an elevated caller may; the
// former category's count is recomputed after the delete commits.
func (s *ContentService) DeletePost(ctx context.Context, id string) error {
	if _, err := s.authorizePostChange(ctx, id); err != nil {
		return err
	}

	deleted, err := s.posts.DeletePost(ctx, id)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("failed to delete post", slog.String("id", id), slog.String("error", err.Error()))
		}
		return err
	}

	s.logger.Info("post deleted",
		slog.String("id", id),
		slog.String("by", session.FromContext(ctx).UserID()),
	)
	s.refreshCount(ctx, deleted.CategoryID)
	return nil
}

// IncrementViewCount adds one view. The increment happens inside the store;
// a failure is logged and otherwise ignored.
func (s *ContentService) IncrementViewCount(ctx context.Context, id string) {
	if err := s.posts.IncrementViews(ctx, id); err != nil {
		s.logger.Warn("failed to increment view count",
			slog.String("post_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// RecomputeCategoryCount writes the live number of posts in the category to
// its post_count. Safe to run concurrently for the same category.
func (s *ContentService) RecomputeCategoryCount(ctx context.Context, categoryID string) (int64, error) {
	return s.categories.RecomputeCategoryCount(ctx, categoryID)
}

func (s *ContentService) GetPost(ctx context.Context, id string) (*model.Post, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "post ID is required")
	}
	return s.posts.GetPost(ctx, id)
}

// ListPosts returns posts newest first. Limit is clamped to 1..MaxListLimit.
func (s *ContentService) ListPosts(ctx context.Context, f repository.PostFilter) ([]model.Post, error) {
	f.Limit, f.Offset = clampList(f.Limit, f.Offset)
	posts, err := s.posts.ListPosts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}
	return posts, nil
}

// ListMyPosts lists the caller's own posts.
func (s *ContentService) ListMyPosts(ctx context.Context, opts repository.ListOptions) ([]model.Post, error) {
	caller := session.FromContext(ctx)
	if err := caller.RequireUser(); err != nil {
		return nil, err
	}
	return s.ListPosts(ctx, repository.PostFilter{AuthorID: caller.UserID(), ListOptions: opts})
}

// authorizePostChange loads the post and checks the caller may change it.
// The caller check comes first so anonymous callers learn nothing about
// which posts exist.
func (s *ContentService) authorizePostChange(ctx context.Context, id string) (*model.Post, error) {
	caller := session.FromContext(ctx)
	if err := caller.RequireUser(); err != nil {
		return nil, err
	}
	post, err := s.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != caller.UserID() && !caller.HasRole(model.RoleElevated) {
		return nil, apperror.Forbidden("only the author or an admin can change this post")
	}
	return post, nil
}

// refreshCount is the dependent recompute step after a membership change.
// It runs even if the request was cancelled after the write committed.
func (s *ContentService) refreshCount(ctx context.Context, categoryID string) {
	n, err := s.categories.RecomputeCategoryCount(context.WithoutCancel(ctx), categoryID)
	if err != nil {
		s.logger.Warn("failed to recompute category count",
			slog.String("category_id", categoryID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("category count recomputed",
		slog.String("category_id", categoryID),
		slog.Int64("post_count", n),
	)
}

func (s *ContentService) checkCover(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	ok, err := s.media.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.ValidationFailed("coverImage", "cover image has not finished uploading")
	}
	return nil
}

func validatePostText(title, body string) (string, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "", apperror.ValidationFailed("title", "title is required")
	}
	if len(title) > MaxTitleLength {
		return "", "", apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	if strings.TrimSpace(body) == "" {
		return "", "", apperror.ValidationFailed("body", "body is required")
	}
	if len(body) > MaxBodyLength {
		return "", "", apperror.ValidationFailed("body",
			fmt.Sprintf("body must be %d characters or less", MaxBodyLength))
	}
	return title, body, nil
}

func clampList(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}
