// Package model defines the records the engagement core reads and writes.
//
// Every struct carries both `json` tags (API and change-feed payloads) and
// `db` tags naming the SQLite column it maps to.
package model

import "time"

// Post is a published article.
//
// ViewCount and CreatedAt are assigned by the store, never taken from the
// client. ViewCount only moves up, one atomic increment at a time.
type Post struct {
	ID         string    `json:"id"         db:"id"`
	Title      string    `json:"title"      db:"title"`
	Body       string    `json:"body"       db:"body"`
	CoverImage string    `json:"coverImage" db:"cover_image"` // object key or URL, may be empty
	AuthorID   string    `json:"authorId"   db:"author_id"`
	CategoryID string    `json:"categoryId" db:"category_id"`
	ViewCount  int64     `json:"viewCount"  db:"view_count"`
	CreatedAt  time.Time `json:"createdAt"  db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt"  db:"updated_at"`
}

// RecordID identifies the post in change-feed patches.
func (p Post) RecordID() string { return p.ID }

// PostDraft is what an author submits. Everything else on Post is server-side.
type PostDraft struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	CoverImage string `json:"coverImage"`
	CategoryID string `json:"categoryId"`
}

// PostPatch carries an edit. Nil fields are left unchanged.
type PostPatch struct {
	Title      *string `json:"title,omitempty"`
	Body       *string `json:"body,omitempty"`
	CoverImage *string `json:"coverImage,omitempty"`
	CategoryID *string `json:"categoryId,omitempty"`
}
