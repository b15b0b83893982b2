// Package repository declares the storage contracts the services depend on.
//
// The SQLite implementation lives in repository/sqlite. Services only see
// these interfaces, so tests can swap in in-memory fakes.
//
// Two groups of methods carry concurrency guarantees that the services rely on:
//   - IncrementViews and RecomputeCategoryCount run as single statements in the
//     store, never as read-modify-write from Go.
//   - UpsertRead is one INSERT ... ON CONFLICT keyed by (user_id, post_id).
package repository

import (
	"context"
	"time"

	"github.com/sakif/inkwell/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// PostFilter narrows ListPosts. Zero values mean "no constraint".
type PostFilter struct {
	CategoryID string
	AuthorID   string
	ListOptions
}

type PostRepository interface {
	CreatePost(ctx context.Context, post *model.Post) error
	GetPost(ctx context.Context, id string) (*model.Post, error)
	ListPosts(ctx context.Context, filter PostFilter) ([]model.Post, error)
	UpdatePost(ctx context.Context, post *model.Post) error
	DeletePost(ctx context.Context, id string) (*model.Post, error)
	// IncrementViews atomically adds one to the post's view count.
	IncrementViews(ctx context.Context, id string) error
}

type CategoryRepository interface {
	CreateCategory(ctx context.Context, category *model.Category) error
	GetCategory(ctx context.Context, id string) (*model.Category, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
	UpdateCategory(ctx context.Context, category *model.Category) error
	DeleteCategory(ctx context.Context, id string) error
	// RecomputeCategoryCount writes the exact number of posts referencing the
	// category into its post_count and returns that number.
	RecomputeCategoryCount(ctx context.Context, id string) (int64, error)
	CategoryStats(ctx context.Context) (*model.Stats, error)
}

type ProfileRepository interface {
	// InsertProfileIfAbsent creates the profile unless one with the same ID
	// exists, and returns whatever row is stored afterwards.
	InsertProfileIfAbsent(ctx context.Context, profile *model.Profile) (*model.Profile, error)
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	ListProfiles(ctx context.Context) ([]model.ProfileSummary, error)
	UpdateProfile(ctx context.Context, profile *model.Profile) error
	SetRole(ctx context.Context, id string, role model.Role) (*model.Profile, error)
	// DeleteUser removes the profile with everything it owns and returns the
	// categories whose counts changed.
	DeleteUser(ctx context.Context, id string) ([]string, error)
}

type HistoryRepository interface {
	// UpsertRead inserts the (user, post) entry or moves its read_at to at.
	UpsertRead(ctx context.Context, userID, postID string, at time.Time) (*model.ReadEntry, error)
	ListReads(ctx context.Context, userID string) ([]model.ReadingListItem, error)
}

// Credential is a sign-in record owned by the identity gateway. Password
// sign-ins carry a hash; external ones (GitHub) carry Provider + Subject.
type Credential struct {
	ID           string
	Email        string
	PasswordHash string
	Provider     string
	Subject      string
	DisplayName  string
	CreatedAt    time.Time
}

type CredentialRepository interface {
	CreateCredential(ctx context.Context, c *Credential) error
	GetCredentialByEmail(ctx context.Context, email string) (*Credential, error)
	GetCredentialByID(ctx context.Context, id string) (*Credential, error)
	// UpsertExternalCredential returns the credential for (provider, subject),
	// creating it on first sight.
	UpsertExternalCredential(ctx context.Context, c *Credential) (*Credential, error)
}
