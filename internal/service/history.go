package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/repository"
	"github.com/sakif/inkwell/internal/session"
)

// HistoryTracker records which posts a user has read.
//
// A read is two writes in a fixed order: the (user, post) upsert, then one
// view increment. The increment is a side effect; if it fails the history
// entry stays and the read still succeeds.
type HistoryTracker struct {
	history repository.HistoryRepository
	content *ContentService
	logger  *slog.Logger
	now     func() time.Time
}

func NewHistoryTracker(history repository.HistoryRepository, content *ContentService, logger *slog.Logger) *HistoryTracker {
	return &HistoryTracker{
		history: history,
		content: content,
		logger:  logger,
		now:     time.Now,
	}
}

// RecordRead notes that userID read postID at the given time. A zero at
// means now. Repeated reads keep a single entry and move its time forward.
func (h *HistoryTracker) RecordRead(ctx context.Context, userID, postID string, at time.Time) (*model.ReadEntry, error) {
	caller := session.FromContext(ctx)
	if err := caller.RequireUser(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID != caller.UserID() {
		return nil, apperror.Forbidden("cannot record reads for another user")
	}
	if at.IsZero() {
		at = h.now()
	}

	if _, err := h.content.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	entry, err := h.history.UpsertRead(ctx, userID, postID, at)
	if err != nil {
		return nil, fmt.Errorf("recording read: %w", err)
	}
	h.logger.Debug("read recorded",
		slog.String("user_id", userID),
		slog.String("post_id", postID),
		slog.Int64("reads", entry.Reads),
	)

	h.content.IncrementViewCount(ctx, postID)
	return entry, nil
}

// ListForUser is the user's reading list, most recent read first. Only the
// user themselves or an elevated caller may see it.
func (h *HistoryTracker) ListForUser(ctx context.Context, userID string) ([]model.ReadingListItem, error) {
	caller := session.FromContext(ctx)
	if err := caller.RequireUser(); err != nil {
		return nil, err
	}
	if userID == "" {
		userID = caller.UserID()
	}
	if userID != caller.UserID() && !caller.HasRole(model.RoleElevated) {
		return nil, apperror.Forbidden("cannot view another user's reading history")
	}

	items, err := h.history.ListReads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing reads: %w", err)
	}
	return items, nil
}
