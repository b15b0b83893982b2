package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/repository"
)

func validDraft(categoryID string) model.PostDraft {
	return model.PostDraft{Title: "Hello", Body: "First post", CategoryID: categoryID}
}

func TestCreatePost_RecomputesAfterInsert(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")

	post, err := svc.CreatePost(asUser("u1"), validDraft(tech.ID), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, post.ID)
	assert.Equal(t, int64(0), post.ViewCount)
	assert.Equal(t, []string{"create:" + post.ID, "recompute:" + tech.ID}, store.Calls(),
		"recompute runs after the insert, never before")

	cat, err := store.GetCategory(context.Background(), tech.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cat.PostCount)
}

func TestCreatePost_Validation(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")

	tests := []struct {
		name  string
		draft model.PostDraft
	}{
		{"empty title", model.PostDraft{Title: "  ", Body: "b", CategoryID: tech.ID}},
		{"long title", model.PostDraft{Title: strings.Repeat("a", MaxTitleLength+1), Body: "b", CategoryID: tech.ID}},
		{"empty body", model.PostDraft{Title: "t", Body: "\n", CategoryID: tech.ID}},
		{"no category", model.PostDraft{Title: "t", Body: "b"}},
		{"cover not uploaded", model.PostDraft{Title: "t", Body: "b", CategoryID: tech.ID, CoverImage: "covers/missing.png"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreatePost(asUser("u1"), tt.draft, "u1")
			assert.ErrorIs(t, err, apperror.ErrValidation)
		})
	}
	assert.Empty(t, store.Calls(), "rejected drafts write nothing")
}

func TestCreatePost_WithUploadedCover(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")

	d := validDraft(tech.ID)
	d.CoverImage = "covers/ok.png"
	post, err := svc.CreatePost(asUser("u1"), d, "u1")
	require.NoError(t, err)
	assert.Equal(t, "covers/ok.png", post.CoverImage)
}

func TestCreatePost_MediaUnavailable(t *testing.T) {
	store := newFakeStore()
	svc := NewContentService(store, store, fakeMedia{err: errStoreDown}, testLogger())
	tech := store.addCategory("Tech")

	d := validDraft(tech.ID)
	d.CoverImage = "covers/ok.png"
	_, err := svc.CreatePost(asUser("u1"), d, "u1")
	assert.ErrorIs(t, err, apperror.ErrTransient)
	assert.Empty(t, store.Calls())
}

func TestCreatePost_Authorization(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")

	_, err := svc.CreatePost(context.Background(), validDraft(tech.ID), "u1")
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)

	_, err = svc.CreatePost(asUser("u1"), validDraft(tech.ID), "u2")
	assert.ErrorIs(t, err, apperror.ErrForbidden)
	assert.Empty(t, store.Calls())
}

func TestCreatePost_UnknownCategory(t *testing.T) {
	svc := newTestContent(newFakeStore())
	_, err := svc.CreatePost(asUser("u1"), validDraft("nope"), "u1")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCreatePost_CancelledBeforeInsert(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")

	ctx, cancel := context.WithCancel(asUser("u1"))
	cancel()
	_, err := svc.CreatePost(ctx, validDraft(tech.ID), "u1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.Calls(), "nothing is written for an abandoned request")
}

func TestCreatePost_RecomputeFailureIsSwallowed(t *testing.T) {
	store := newFakeStore()
	store.failRecompute = errStoreDown
	svc := newTestContent(store)
	tech := store.addCategory("Tech")

	post, err := svc.CreatePost(asUser("u1"), validDraft(tech.ID), "u1")
	require.NoError(t, err, "the post was written; a failed recompute is not the caller's problem")
	_, err = store.GetPost(context.Background(), post.ID)
	require.NoError(t, err)

	// The next successful recompute repairs the count.
	store.failRecompute = nil
	n, err := svc.RecomputeCategoryCount(context.Background(), tech.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCreatePost_StoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failCreate = errStoreDown
	svc := newTestContent(store)
	tech := store.addCategory("Tech")

	_, err := svc.CreatePost(asUser("u1"), validDraft(tech.ID), "u1")
	assert.ErrorIs(t, err, apperror.ErrTransient)
	assert.Empty(t, store.Calls(), "no recompute without a committed insert")
}

func TestDeletePost(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")
	post, err := svc.CreatePost(asUser("author"), validDraft(tech.ID), "author")
	require.NoError(t, err)

	err = svc.DeletePost(context.Background(), post.ID)
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)

	err = svc.DeletePost(asUser("stranger"), post.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	require.NoError(t, svc.DeletePost(asUser("author"), post.ID))
	calls := store.Calls()
	assert.Equal(t, []string{"delete:" + post.ID, "recompute:" + tech.ID}, calls[len(calls)-2:])

	cat, _ := store.GetCategory(context.Background(), tech.ID)
	assert.Equal(t, int64(0), cat.PostCount)

	err = svc.DeletePost(asUser("author"), post.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestDeletePost_AdminMayDeleteAnyPost(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")
	post, err := svc.CreatePost(asUser("author"), validDraft(tech.ID), "author")
	require.NoError(t, err)

	require.NoError(t, svc.DeletePost(asAdmin("admin"), post.ID))
}

func TestUpdatePost_MoveRecomputesBothCategories(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")
	art := store.addCategory("Art")
	post, err := svc.CreatePost(asUser("author"), validDraft(tech.ID), "author")
	require.NoError(t, err)

	title := "  Renamed "
	updated, err := svc.UpdatePost(asUser("author"), post.ID, model.PostPatch{Title: &title, CategoryID: &art.ID})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, art.ID, updated.CategoryID)

	techNow, _ := store.GetCategory(context.Background(), tech.ID)
	artNow, _ := store.GetCategory(context.Background(), art.ID)
	assert.Equal(t, int64(0), techNow.PostCount)
	assert.Equal(t, int64(1), artNow.PostCount)
}

func TestUpdatePost_SameCategorySkipsRecompute(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")
	post, err := svc.CreatePost(asUser("author"), validDraft(tech.ID), "author")
	require.NoError(t, err)

	body := "edited"
	_, err = svc.UpdatePost(asUser("author"), post.ID, model.PostPatch{Body: &body})
	require.NoError(t, err)
	calls := store.Calls()
	assert.Equal(t, "update:"+post.ID, calls[len(calls)-1])
}

func TestUpdatePost_Forbidden(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")
	post, err := svc.CreatePost(asUser("author"), validDraft(tech.ID), "author")
	require.NoError(t, err)

	body := "hijacked"
	_, err = svc.UpdatePost(asUser("stranger"), post.ID, model.PostPatch{Body: &body})
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestIncrementViewCount_FailureIsSwallowed(t *testing.T) {
	store := newFakeStore()
	store.failIncrement = errStoreDown
	svc := newTestContent(store)

	assert.NotPanics(t, func() { svc.IncrementViewCount(context.Background(), "whatever") })
}

func TestListPosts_ClampsLimit(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")
	for range 3 {
		_, err := svc.CreatePost(asUser("u1"), validDraft(tech.ID), "u1")
		require.NoError(t, err)
	}

	posts, err := svc.ListPosts(context.Background(), repository.PostFilter{ListOptions: repository.ListOptions{Limit: -1, Offset: -5}})
	require.NoError(t, err)
	assert.Len(t, posts, 3)

	posts, err = svc.ListPosts(context.Background(), repository.PostFilter{ListOptions: repository.ListOptions{Limit: 2}})
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	limit, _ := clampList(MaxListLimit*10, 0)
	assert.Equal(t, MaxListLimit, limit)
}

func TestListMyPosts(t *testing.T) {
	store := newFakeStore()
	svc := newTestContent(store)
	tech := store.addCategory("Tech")
	_, err := svc.CreatePost(asUser("u1"), validDraft(tech.ID), "u1")
	require.NoError(t, err)
	_, err = svc.CreatePost(asUser("u2"), validDraft(tech.ID), "u2")
	require.NoError(t, err)

	mine, err := svc.ListMyPosts(asUser("u1"), repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "u1", mine[0].AuthorID)

	_, err = svc.ListMyPosts(context.Background(), repository.ListOptions{})
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
}

func TestGetPost_EmptyID(t *testing.T) {
	svc := newTestContent(newFakeStore())
	_, err := svc.GetPost(context.Background(), " ")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
