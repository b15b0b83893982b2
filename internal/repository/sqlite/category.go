package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/xid"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/changefeed"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/repository"
)

var _ repository.CategoryRepository = (*DB)(nil)

const categoryReturning = ` RETURNING id, name, slug, post_count, created_at`

func scanCategory(row rowScanner, c *model.Category) error {
	return row.Scan(&c.ID, &c.Name, &c.Slug, &c.PostCount, ts(&c.CreatedAt))
}

// CreateCategory inserts a category with a zero count. A taken slug is a Conflict.
func (db *DB) CreateCategory(ctx context.Context, c *model.Category) error {
	c.ID = xid.New().String()
	c.PostCount = 0
	c.CreatedAt = now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO categories (id, name, slug, post_count, created_at) VALUES (?, ?, ?, 0, ?)`,
		c.ID, c.Name, c.Slug, dbTime(c.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("category slug", c.Slug)
		}
		return storeErr("creating category", err)
	}

	db.publish(ctx, changefeed.TableCategories, changefeed.Insert, *c)
	return nil
}

func (db *DB) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	var c model.Category
	err := scanCategory(db.conn.QueryRowContext(ctx,
		`SELECT id, name, slug, post_count, created_at FROM categories WHERE id = ?`, id), &c)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("category", id)
		}
		return nil, storeErr("getting category "+id, err)
	}
	return &c, nil
}

// ListCategories returns every category ordered by name.
func (db *DB) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, slug, post_count, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, storeErr("listing categories", err)
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := scanCategory(rows, &c); err != nil {
			return nil, storeErr("scanning category row", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating categories", err)
	}
	return out, nil
}

// UpdateCategory renames a category. post_count is not writable here.
func (db *DB) UpdateCategory(ctx context.Context, c *model.Category) error {
	err := scanCategory(db.conn.QueryRowContext(ctx,
		`UPDATE categories SET name = ?, slug = ? WHERE id = ?`+categoryReturning,
		c.Name, c.Slug, c.ID), c)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("category", c.ID)
		}
		if isUniqueViolation(err) {
			return apperror.Conflict("category slug", c.Slug)
		}
		return storeErr("updating category "+c.ID, err)
	}

	db.publish(ctx, changefeed.TableCategories, changefeed.Update, *c)
	return nil
}

// DeleteCategory removes an empty category. If any post still references it
// the foreign key refuses and the caller gets a Conflict.
func (db *DB) DeleteCategory(ctx context.Context, id string) error {
	var c model.Category
	err := scanCategory(db.conn.QueryRowContext(ctx,
		`DELETE FROM categories WHERE id = ?`+categoryReturning, id), &c)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("category", id)
		}
		if isForeignKeyViolation(err) {
			return &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "category still has posts",
				Field:   "id",
			}
		}
		return storeErr("deleting category "+id, err)
	}

	db.publish(ctx, changefeed.TableCategories, changefeed.Delete, c)
	return nil
}

// RecomputeCategoryCount sets post_count to the live number of posts in the
// category, counted and written by one statement.
//
// It is not an increment: whatever interleaving of writers reaches this
// point, each run writes the count as of its own snapshot, and the last run
// after the last membership change writes the final truth.
func (db *DB) RecomputeCategoryCount(ctx context.Context, id string) (int64, error) {
	var c model.Category
	err := scanCategory(db.conn.QueryRowContext(ctx,
		`UPDATE categories
		 SET post_count = (SELECT COUNT(*) FROM posts WHERE posts.category_id = categories.id)
		 WHERE id = ?`+categoryReturning, id), &c)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperror.NotFound("category", id)
		}
		return 0, storeErr("recomputing count for category "+id, err)
	}

	db.publish(ctx, changefeed.TableCategories, changefeed.Update, c)
	return c.PostCount, nil
}

// CategoryStats builds the admin dashboard numbers in three queries.
func (db *DB) CategoryStats(ctx context.Context) (*model.Stats, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT c.id, c.name, c.slug, c.post_count, c.created_at, COALESCE(SUM(p.view_count), 0)
		 FROM categories c
		 LEFT JOIN posts p ON p.category_id = c.id
		 GROUP BY c.id
		 ORDER BY c.name`)
	if err != nil {
		return nil, storeErr("querying category stats", err)
	}
	defer rows.Close()

	stats := &model.Stats{}
	for rows.Next() {
		var cs model.CategoryStats
		c := &cs.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.PostCount, ts(&c.CreatedAt), &cs.TotalViews); err != nil {
			return nil, storeErr("scanning category stats", err)
		}
		stats.Categories = append(stats.Categories, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating category stats", err)
	}

	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(view_count), 0) FROM posts`,
	).Scan(&stats.TotalPosts, &stats.TotalViews)
	if err != nil {
		return nil, storeErr("counting posts", err)
	}

	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&stats.TotalUsers); err != nil {
		return nil, storeErr("counting profiles", err)
	}
	return stats, nil
}
