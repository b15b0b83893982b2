package sqlite

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/xid"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/changefeed"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/repository"
)

var _ repository.PostRepository = (*DB)(nil)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var postColumns = []string{
	"id", "title", "body", "cover_image", "author_id", "category_id",
	"view_count", "created_at", "updated_at",
}

const postReturning = ` RETURNING id, title, body, cover_image, author_id, category_id,
	view_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner, p *model.Post) error {
	return row.Scan(
		&p.ID, &p.Title, &p.Body, &p.CoverImage, &p.AuthorID, &p.CategoryID,
		&p.ViewCount, ts(&p.CreatedAt), ts(&p.UpdatedAt),
	)
}

// CreatePost inserts post, filling in ID, ViewCount and timestamps. Whatever
// the caller put in those fields is overwritten.
func (db *DB) CreatePost(ctx context.Context, post *model.Post) error {
	post.ID = xid.New().String()
	post.ViewCount = 0
	post.CreatedAt = now()
	post.UpdatedAt = post.CreatedAt

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO posts (id, title, body, cover_image, author_id, category_id, view_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		post.ID,
		post.Title,
		post.Body,
		post.CoverImage,
		post.AuthorID,
		post.CategoryID,
		dbTime(post.CreatedAt),
		dbTime(post.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return db.missingPostReference(ctx, post)
		}
		return storeErr("creating post", err)
	}

	db.publish(ctx, changefeed.TablePosts, changefeed.Insert, *post)
	return nil
}

// missingPostReference names which of the post's references failed the
// foreign key check: the category, or else the author's profile.
func (db *DB) missingPostReference(ctx context.Context, post *model.Post) error {
	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM categories WHERE id = ?`, post.CategoryID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apperror.NotFound("category", post.CategoryID)
	case err != nil:
		return storeErr("checking category "+post.CategoryID, err)
	}
	return apperror.NotFound("profile", post.AuthorID)
}

// GetPost retrieves a single post by its ID.
func (db *DB) GetPost(ctx context.Context, id string) (*model.Post, error) {
	query, args, err := sq.Select(postColumns...).From("posts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, storeErr("building post query", err)
	}

	var p model.Post
	if err := scanPost(db.conn.QueryRowContext(ctx, query, args...), &p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("post", id)
		}
		return nil, storeErr("getting post "+id, err)
	}
	return &p, nil
}

// ListPosts returns posts newest first, optionally narrowed to one category
// or one author.
func (db *DB) ListPosts(ctx context.Context, f repository.PostFilter) ([]model.Post, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := max(f.Offset, 0)

	q := sq.Select(postColumns...).
		From("posts").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if f.CategoryID != "" {
		q = q.Where(sq.Eq{"category_id": f.CategoryID})
	}
	if f.AuthorID != "" {
		q = q.Where(sq.Eq{"author_id": f.AuthorID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, storeErr("building post list query", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("listing posts", err)
	}
	defer rows.Close()

	posts := make([]model.Post, 0, limit)
	for rows.Next() {
		var p model.Post
		if err := scanPost(rows, &p); err != nil {
			return nil, storeErr("scanning post row", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating posts", err)
	}
	return posts, nil
}

// UpdatePost writes the editable fields. view_count and created_at are never
// touched here.
func (db *DB) UpdatePost(ctx context.Context, post *model.Post) error {
	post.UpdatedAt = now()

	row := db.conn.QueryRowContext(ctx,
		`UPDATE posts
		 SET title = ?, body = ?, cover_image = ?, category_id = ?, updated_at = ?
		 WHERE id = ?`+postReturning,
		post.Title,
		post.Body,
		post.CoverImage,
		post.CategoryID,
		dbTime(post.UpdatedAt),
		post.ID,
	)
	if err := scanPost(row, post); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("post", post.ID)
		}
		if isForeignKeyViolation(err) {
			return apperror.NotFound("category", post.CategoryID)
		}
		return storeErr("updating post "+post.ID, err)
	}

	db.publish(ctx, changefeed.TablePosts, changefeed.Update, *post)
	return nil
}

// DeletePost removes the post and every reader's history of it in one
// transaction and returns the deleted row. A delete event goes out for each
// history row as well as for the post.
func (db *DB) DeletePost(ctx context.Context, id string) (*model.Post, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("beginning delete post", err)
	}
	defer tx.Rollback()

	reads, err := deleteReads(ctx, tx, "post_id = ?", id)
	if err != nil {
		return nil, err
	}

	var p model.Post
	err = scanPost(tx.QueryRowContext(ctx, `DELETE FROM posts WHERE id = ?`+postReturning, id), &p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("post", id)
		}
		return nil, storeErr("deleting post "+id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("committing delete post "+id, err)
	}

	db.publishReadDeletes(ctx, reads)
	db.publish(ctx, changefeed.TablePosts, changefeed.Delete, p)
	return &p, nil
}

// IncrementViews adds one to view_count inside SQLite. Two concurrent callers
// each get their own increment; there is no read-modify-write in Go.
func (db *DB) IncrementViews(ctx context.Context, id string) error {
	var p model.Post
	err := scanPost(db.conn.QueryRowContext(ctx,
		`UPDATE posts SET view_count = view_count + 1 WHERE id = ?`+postReturning, id), &p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("post", id)
		}
		return storeErr("incrementing views for "+id, err)
	}

	db.publish(ctx, changefeed.TablePosts, changefeed.Update, p)
	return nil
}
