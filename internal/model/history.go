package model

import "time"

// ReadEntry records that a user read a post. There is at most one entry per
// (UserID, PostID); a repeat read moves ReadAt forward in place.
type ReadEntry struct {
	UserID string    `json:"userId" db:"user_id"`
	PostID string    `json:"postId" db:"post_id"`
	ReadAt time.Time `json:"readAt" db:"read_at"`
	Reads  int64     `json:"reads"  db:"reads"` // times this user opened the post
}

// RecordID is the composite key, joined with a colon.
func (e ReadEntry) RecordID() string { return e.UserID + ":" + e.PostID }

// ReadingListItem is a history entry joined with the post it points at.
type ReadingListItem struct {
	ReadEntry
	Post Post `json:"post"`
}
