package model

import "time"

// Category groups posts. PostCount is derived: it always equals the number of
// posts whose CategoryID is this category, and it is only ever written by a
// full recount.
type Category struct {
	ID        string    `json:"id"        db:"id"`
	Name      string    `json:"name"      db:"name"`
	Slug      string    `json:"slug"      db:"slug"`
	PostCount int64     `json:"postCount" db:"post_count"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

func (c Category) RecordID() string { return c.ID }

// CategoryStats is one row of the admin dashboard.
type CategoryStats struct {
	Category   Category `json:"category"`
	TotalViews int64    `json:"totalViews"`
}

// Stats summarises the whole site for elevated users.
type Stats struct {
	Categories []CategoryStats `json:"categories"`
	TotalPosts int64           `json:"totalPosts"`
	TotalViews int64           `json:"totalViews"`
	TotalUsers int64           `json:"totalUsers"`
}
