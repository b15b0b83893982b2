package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/changefeed"
	"github.com/sakif/inkwell/internal/model"
)

func TestCreateCategory_DuplicateSlug(t *testing.T) {
	db := newTestDB(t)
	createTestCategory(t, db, "Go", "go")

	err := db.CreateCategory(context.Background(), &model.Category{Name: "Golang", Slug: "go"})
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestListCategories_ByName(t *testing.T) {
	db := newTestDB(t)
	createTestCategory(t, db, "Zig", "zig")
	createTestCategory(t, db, "Ada", "ada")

	got, err := db.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ada", got[0].Name)
	assert.Equal(t, "Zig", got[1].Name)
}

func TestUpdateCategory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := createTestCategory(t, db, "Go", "go")
	createTestCategory(t, db, "Rust", "rust")

	c.Name = "Golang"
	c.Slug = "golang"
	c.PostCount = 42
	require.NoError(t, db.UpdateCategory(ctx, c))
	assert.Zero(t, c.PostCount, "count is not writable through update")

	c.Slug = "rust"
	assert.ErrorIs(t, db.UpdateCategory(ctx, c), apperror.ErrConflict)

	assert.ErrorIs(t, db.UpdateCategory(ctx, &model.Category{ID: "ghost", Name: "x", Slug: "x"}), apperror.ErrNotFound)
}

func TestDeleteCategory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestProfile(t, db, "a")
	empty := createTestCategory(t, db, "Empty", "empty")
	busy := createTestCategory(t, db, "Busy", "busy")
	createTestPost(t, db, "a", busy.ID, "keeps busy alive")

	require.NoError(t, db.DeleteCategory(ctx, empty.ID))
	assert.ErrorIs(t, db.DeleteCategory(ctx, empty.ID), apperror.ErrNotFound)
	assert.ErrorIs(t, db.DeleteCategory(ctx, busy.ID), apperror.ErrConflict)
}

func TestRecomputeCategoryCount(t *testing.T) {
	db, rec := newTestDBWithFeed(t)
	ctx := context.Background()
	createTestProfile(t, db, "a")
	c := createTestCategory(t, db, "Go", "go")

	n, err := db.RecomputeCategoryCount(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	p1 := createTestPost(t, db, "a", c.ID, "one")
	createTestPost(t, db, "a", c.ID, "two")
	n, err = db.RecomputeCategoryCount(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = db.DeletePost(ctx, p1.ID)
	require.NoError(t, err)
	n, err = db.RecomputeCategoryCount(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := db.GetCategory(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.PostCount)

	events := rec.of(changefeed.TableCategories)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, changefeed.Update, last.Type)
	var decoded model.Category
	require.NoError(t, last.Decode(&decoded))
	assert.EqualValues(t, 1, decoded.PostCount)

	_, err = db.RecomputeCategoryCount(ctx, "ghost")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

// Inserts and recomputes interleaving freely must still leave the count
// equal to the number of posts once every recompute has run.
func TestRecomputeCategoryCount_ConvergesUnderConcurrency(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestProfile(t, db, "a")
	c := createTestCategory(t, db, "Go", "go")

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := &model.Post{Title: "p", Body: "b", AuthorID: "a", CategoryID: c.ID}
			assert.NoError(t, db.CreatePost(ctx, p))
			_, err := db.RecomputeCategoryCount(ctx, c.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := db.GetCategory(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, n, got.PostCount)
}

func TestCategoryStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestProfile(t, db, "a")
	createTestProfile(t, db, "b")
	goCat := createTestCategory(t, db, "Go", "go")
	createTestCategory(t, db, "Empty", "empty")

	p := createTestPost(t, db, "a", goCat.ID, "one")
	createTestPost(t, db, "b", goCat.ID, "two")
	require.NoError(t, db.IncrementViews(ctx, p.ID))
	require.NoError(t, db.IncrementViews(ctx, p.ID))
	_, err := db.RecomputeCategoryCount(ctx, goCat.ID)
	require.NoError(t, err)

	stats, err := db.CategoryStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalPosts)
	assert.EqualValues(t, 2, stats.TotalViews)
	assert.EqualValues(t, 2, stats.TotalUsers)
	require.Len(t, stats.Categories, 2)
	assert.Equal(t, "Empty", stats.Categories[0].Category.Name)
	assert.Zero(t, stats.Categories[0].TotalViews)
	assert.EqualValues(t, 2, stats.Categories[1].Category.PostCount)
	assert.EqualValues(t, 2, stats.Categories[1].TotalViews)
}
