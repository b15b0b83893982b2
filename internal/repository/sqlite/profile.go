package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/changefeed"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/repository"
)

var _ repository.ProfileRepository = (*DB)(nil)

const profileColumns = `id, email, display_name, avatar_url, role, created_at`

func scanProfile(row rowScanner, p *model.Profile) error {
	return row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.AvatarURL, &p.Role, ts(&p.CreatedAt))
}

// InsertProfileIfAbsent is the idempotent profile upsert used on sign-in.
// ON CONFLICT DO NOTHING keeps an existing row untouched (including its
// role), so two racing first sign-ins end up with the same single row.
func (db *DB) InsertProfileIfAbsent(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	if p.Role == "" {
		p.Role = model.RoleStandard
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Email, p.DisplayName, p.AvatarURL, p.Role, dbTime(p.CreatedAt),
	)
	if err != nil {
		return nil, storeErr("inserting profile "+p.ID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, storeErr("checking rows affected", err)
	}

	stored, err := db.GetProfile(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if inserted > 0 {
		db.publish(ctx, changefeed.TableProfiles, changefeed.Insert, *stored)
	}
	return stored, nil
}

func (db *DB) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := scanProfile(db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id), &p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", id)
		}
		return nil, storeErr("getting profile "+id, err)
	}
	return &p, nil
}

// ListProfiles returns every profile with the number of posts it authored,
// newest account first.
func (db *DB) ListProfiles(ctx context.Context) ([]model.ProfileSummary, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT pr.id, pr.email, pr.display_name, pr.avatar_url, pr.role, pr.created_at, COUNT(p.id)
		 FROM profiles pr
		 LEFT JOIN posts p ON p.author_id = pr.id
		 GROUP BY pr.id
		 ORDER BY pr.created_at DESC`)
	if err != nil {
		return nil, storeErr("listing profiles", err)
	}
	defer rows.Close()

	var out []model.ProfileSummary
	for rows.Next() {
		var s model.ProfileSummary
		if err := rows.Scan(&s.ID, &s.Email, &s.DisplayName, &s.AvatarURL, &s.Role, ts(&s.CreatedAt), &s.PostCount); err != nil {
			return nil, storeErr("scanning profile row", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating profiles", err)
	}
	return out, nil
}

// UpdateProfile writes the user-editable fields. The role is not one of them.
func (db *DB) UpdateProfile(ctx context.Context, p *model.Profile) error {
	err := scanProfile(db.conn.QueryRowContext(ctx,
		`UPDATE profiles SET display_name = ?, avatar_url = ? WHERE id = ?
		 RETURNING `+profileColumns,
		p.DisplayName, p.AvatarURL, p.ID), p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("profile", p.ID)
		}
		return storeErr("updating profile "+p.ID, err)
	}

	db.publish(ctx, changefeed.TableProfiles, changefeed.Update, *p)
	return nil
}

func (db *DB) SetRole(ctx context.Context, id string, role model.Role) (*model.Profile, error) {
	var p model.Profile
	err := scanProfile(db.conn.QueryRowContext(ctx,
		`UPDATE profiles SET role = ? WHERE id = ? RETURNING `+profileColumns, role, id), &p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", id)
		}
		return nil, storeErr("setting role for "+id, err)
	}

	db.publish(ctx, changefeed.TableProfiles, changefeed.Update, p)
	return &p, nil
}

// DeleteUser removes a user and everything they own in one transaction:
// their reading history, their posts (and other readers' history of those
// posts), their credential and their profile. Each removed row is announced
// with a delete event after commit. The counts of every category
// that lost a post are recomputed inside the same transaction, so no reader
// ever sees the posts gone but the counts stale.
func (db *DB) DeleteUser(ctx context.Context, id string) ([]string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("beginning delete user", err)
	}
	defer tx.Rollback()

	var profile model.Profile
	err = scanProfile(tx.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id), &profile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", id)
		}
		return nil, storeErr("loading profile "+id, err)
	}

	// History goes first, explicitly, so every removed row gets an event:
	// the user's own reads, then other readers' reads of the user's posts.
	reads, err := deleteReads(ctx, tx, "user_id = ?", id)
	if err != nil {
		return nil, err
	}
	postReads, err := deleteReads(ctx, tx, "post_id IN (SELECT id FROM posts WHERE author_id = ?)", id)
	if err != nil {
		return nil, err
	}
	reads = append(reads, postReads...)

	rows, err := tx.QueryContext(ctx, `DELETE FROM posts WHERE author_id = ?`+postReturning, id)
	if err != nil {
		return nil, storeErr("deleting posts of "+id, err)
	}
	var removed []model.Post
	for rows.Next() {
		var p model.Post
		if err := scanPost(rows, &p); err != nil {
			rows.Close()
			return nil, storeErr("scanning deleted post", err)
		}
		removed = append(removed, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storeErr("iterating deleted posts", err)
	}
	rows.Close()

	stmts := []struct {
		op, query string
	}{
		{"deleting credential", `DELETE FROM credentials WHERE id = ?`},
		{"deleting profile", `DELETE FROM profiles WHERE id = ?`},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, id); err != nil {
			return nil, storeErr(fmt.Sprintf("%s of %s", s.op, id), err)
		}
	}

	seen := make(map[string]bool)
	var categories []string
	for _, p := range removed {
		if seen[p.CategoryID] {
			continue
		}
		seen[p.CategoryID] = true
		categories = append(categories, p.CategoryID)
		if _, err := tx.ExecContext(ctx,
			`UPDATE categories
			 SET post_count = (SELECT COUNT(*) FROM posts WHERE posts.category_id = categories.id)
			 WHERE id = ?`, p.CategoryID); err != nil {
			return nil, storeErr("recomputing count for category "+p.CategoryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("committing delete user", err)
	}

	db.publishReadDeletes(ctx, reads)
	for _, p := range removed {
		db.publish(ctx, changefeed.TablePosts, changefeed.Delete, p)
	}
	for _, cid := range categories {
		if c, err := db.GetCategory(ctx, cid); err == nil {
			db.publish(ctx, changefeed.TableCategories, changefeed.Update, *c)
		}
	}
	db.publish(ctx, changefeed.TableProfiles, changefeed.Delete, profile)
	return categories, nil
}
