package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/changefeed"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/repository"
)

var _ repository.HistoryRepository = (*DB)(nil)

// UpsertRead records a read in one statement keyed by the (user_id, post_id)
// primary key. The first read inserts; every later read overwrites read_at
// and bumps reads. There is no SELECT-then-INSERT window for two concurrent
// reads to both fall into.
//
// reads == 1 after the statement means this call inserted the row, which is
// how the change event gets its insert/update type.
func (db *DB) UpsertRead(ctx context.Context, userID, postID string, at time.Time) (*model.ReadEntry, error) {
	var e model.ReadEntry
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO reading_history (user_id, post_id, read_at, reads)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT (user_id, post_id) DO UPDATE
		 SET read_at = excluded.read_at,
		     reads = reading_history.reads + 1
		 RETURNING user_id, post_id, read_at, reads`,
		userID, postID, dbTime(at),
	).Scan(&e.UserID, &e.PostID, ts(&e.ReadAt), &e.Reads)
	if err != nil {
		if isForeignKeyViolation(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("post", postID)
		}
		return nil, storeErr("upserting read of "+postID, err)
	}

	typ := changefeed.Update
	if e.Reads == 1 {
		typ = changefeed.Insert
	}
	db.publish(ctx, changefeed.TableReadingHistory, typ, e)
	return &e, nil
}

// ListReads returns the user's reading list, most recent read first.
func (db *DB) ListReads(ctx context.Context, userID string) ([]model.ReadingListItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT h.user_id, h.post_id, h.read_at, h.reads,
		        p.id, p.title, p.body, p.cover_image, p.author_id, p.category_id,
		        p.view_count, p.created_at, p.updated_at
		 FROM reading_history h
		 JOIN posts p ON p.id = h.post_id
		 WHERE h.user_id = ?
		 ORDER BY h.read_at DESC`, userID)
	if err != nil {
		return nil, storeErr("listing reads of "+userID, err)
	}
	defer rows.Close()

	var out []model.ReadingListItem
	for rows.Next() {
		var it model.ReadingListItem
		p := &it.Post
		if err := rows.Scan(
			&it.UserID, &it.PostID, ts(&it.ReadAt), &it.Reads,
			&p.ID, &p.Title, &p.Body, &p.CoverImage, &p.AuthorID, &p.CategoryID,
			&p.ViewCount, ts(&p.CreatedAt), ts(&p.UpdatedAt),
		); err != nil {
			return nil, storeErr("scanning reading list row", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating reading list", err)
	}
	return out, nil
}

// deleteReads removes the history rows matching where inside tx and returns
// them, so the caller can publish a delete for each one after commit. Rows
// must not be left to ON DELETE CASCADE: the cascade emits no events.
func deleteReads(ctx context.Context, tx *sql.Tx, where string, arg any) ([]model.ReadEntry, error) {
	rows, err := tx.QueryContext(ctx,
		`DELETE FROM reading_history WHERE `+where+`
		 RETURNING user_id, post_id, read_at, reads`, arg)
	if err != nil {
		return nil, storeErr("deleting reading history", err)
	}
	defer rows.Close()

	var out []model.ReadEntry
	for rows.Next() {
		var e model.ReadEntry
		if err := rows.Scan(&e.UserID, &e.PostID, ts(&e.ReadAt), &e.Reads); err != nil {
			return nil, storeErr("scanning deleted history row", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating deleted history", err)
	}
	return out, nil
}

func (db *DB) publishReadDeletes(ctx context.Context, entries []model.ReadEntry) {
	for _, e := range entries {
		db.publish(ctx, changefeed.TableReadingHistory, changefeed.Delete, e)
	}
}
