package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/repository"
	"github.com/sakif/inkwell/internal/session"
)

// In-memory fakes for the repository interfaces. They keep just enough
// behavior for the service rules: IDs, not-found errors and a record of the
// calls the tests assert on. Failure fields let a test make one step fail.

var errStoreDown = apperror.Transient("fake store", errors.New("connection refused"))

type fakeStore struct {
	mu         sync.Mutex
	nextID     int
	posts      map[string]*model.Post
	categories map[string]*model.Category
	reads      map[string]*model.ReadEntry
	profiles   map[string]*model.Profile

	calls []string // "create:<id>", "recompute:<cat>", "increment:<id>", "upsert:<u>:<p>"

	failIncrement error
	failRecompute error
	failCreate    error
}

var (
	_ repository.PostRepository     = (*fakeStore)(nil)
	_ repository.CategoryRepository = (*fakeStore)(nil)
	_ repository.HistoryRepository  = (*fakeStore)(nil)
	_ repository.ProfileRepository  = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		posts:      map[string]*model.Post{},
		categories: map[string]*model.Category{},
		reads:      map[string]*model.ReadEntry{},
		profiles:   map[string]*model.Profile{},
	}
}

func (f *fakeStore) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) CreatePost(_ context.Context, p *model.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	if _, ok := f.categories[p.CategoryID]; !ok {
		return apperror.NotFound("category", p.CategoryID)
	}
	p.ID = f.id("post")
	p.ViewCount = 0
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	stored := *p
	f.posts[p.ID] = &stored
	f.record("create:" + p.ID)
	return nil
}

func (f *fakeStore) GetPost(_ context.Context, id string) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, apperror.NotFound("post", id)
	}
	out := *p
	return &out, nil
}

func (f *fakeStore) ListPosts(_ context.Context, filter repository.PostFilter) ([]model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Post
	for _, p := range f.posts {
		if filter.CategoryID != "" && p.CategoryID != filter.CategoryID {
			continue
		}
		if filter.AuthorID != "" && p.AuthorID != filter.AuthorID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Offset >= len(out) {
		return []model.Post{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) UpdatePost(_ context.Context, p *model.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.posts[p.ID]
	if !ok {
		return apperror.NotFound("post", p.ID)
	}
	p.ViewCount = old.ViewCount
	stored := *p
	f.posts[p.ID] = &stored
	f.record("update:" + p.ID)
	return nil
}

func (f *fakeStore) DeletePost(_ context.Context, id string) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, apperror.NotFound("post", id)
	}
	delete(f.posts, id)
	f.record("delete:" + id)
	return p, nil
}

func (f *fakeStore) IncrementViews(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("increment:" + id)
	if f.failIncrement != nil {
		return f.failIncrement
	}
	p, ok := f.posts[id]
	if !ok {
		return apperror.NotFound("post", id)
	}
	p.ViewCount++
	return nil
}

func (f *fakeStore) CreateCategory(_ context.Context, c *model.Category) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.categories {
		if existing.Slug == c.Slug {
			return apperror.Conflict("category", c.Slug)
		}
	}
	c.ID = f.id("cat")
	stored := *c
	f.categories[c.ID] = &stored
	return nil
}

func (f *fakeStore) GetCategory(_ context.Context, id string) (*model.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.categories[id]
	if !ok {
		return nil, apperror.NotFound("category", id)
	}
	out := *c
	return &out, nil
}

func (f *fakeStore) ListCategories(_ context.Context) ([]model.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Category, 0, len(f.categories))
	for _, c := range f.categories {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) UpdateCategory(_ context.Context, c *model.Category) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.categories[c.ID]
	if !ok {
		return apperror.NotFound("category", c.ID)
	}
	old.Name, old.Slug = c.Name, c.Slug
	return nil
}

func (f *fakeStore) DeleteCategory(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.categories[id]; !ok {
		return apperror.NotFound("category", id)
	}
	for _, p := range f.posts {
		if p.CategoryID == id {
			return apperror.Conflict("category", id)
		}
	}
	delete(f.categories, id)
	return nil
}

func (f *fakeStore) RecomputeCategoryCount(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("recompute:" + id)
	if f.failRecompute != nil {
		return 0, f.failRecompute
	}
	c, ok := f.categories[id]
	if !ok {
		return 0, apperror.NotFound("category", id)
	}
	var n int64
	for _, p := range f.posts {
		if p.CategoryID == id {
			n++
		}
	}
	c.PostCount = n
	return n, nil
}

func (f *fakeStore) CategoryStats(_ context.Context) (*model.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &model.Stats{TotalUsers: int64(len(f.profiles))}
	for _, p := range f.posts {
		st.TotalPosts++
		st.TotalViews += p.ViewCount
	}
	return st, nil
}

func (f *fakeStore) UpsertRead(_ context.Context, userID, postID string, at time.Time) (*model.ReadEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("upsert:" + userID + ":" + postID)
	key := userID + ":" + postID
	e, ok := f.reads[key]
	if !ok {
		e = &model.ReadEntry{UserID: userID, PostID: postID}
		f.reads[key] = e
	}
	e.ReadAt = at
	e.Reads++
	out := *e
	return &out, nil
}

func (f *fakeStore) ListReads(_ context.Context, userID string) ([]model.ReadingListItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ReadingListItem
	for _, e := range f.reads {
		if e.UserID != userID {
			continue
		}
		item := model.ReadingListItem{ReadEntry: *e}
		if p, ok := f.posts[e.PostID]; ok {
			item.Post = *p
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReadAt.After(out[j].ReadAt) })
	return out, nil
}

func (f *fakeStore) InsertProfileIfAbsent(_ context.Context, p *model.Profile) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.profiles[p.ID]; ok {
		out := *existing
		return &out, nil
	}
	stored := *p
	f.profiles[p.ID] = &stored
	return p, nil
}

func (f *fakeStore) GetProfile(_ context.Context, id string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, apperror.NotFound("profile", id)
	}
	out := *p
	return &out, nil
}

func (f *fakeStore) ListProfiles(_ context.Context) ([]model.ProfileSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ProfileSummary
	for _, p := range f.profiles {
		s := model.ProfileSummary{Profile: *p}
		for _, post := range f.posts {
			if post.AuthorID == p.ID {
				s.PostCount++
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, p *model.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.profiles[p.ID]
	if !ok {
		return apperror.NotFound("profile", p.ID)
	}
	old.DisplayName, old.AvatarURL = p.DisplayName, p.AvatarURL
	return nil
}

func (f *fakeStore) SetRole(_ context.Context, id string, role model.Role) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, apperror.NotFound("profile", id)
	}
	p.Role = role
	out := *p
	return &out, nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.profiles[id]; !ok {
		return nil, apperror.NotFound("profile", id)
	}
	delete(f.profiles, id)
	f.record("delete-user:" + id)
	return nil, nil
}

// fakeMedia reports the refs in present as uploaded.
type fakeMedia struct {
	present map[string]bool
	err     error
}

func (m fakeMedia) Exists(_ context.Context, ref string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.present[ref], nil
}

// =========================================================================
// TEST HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestContent(store *fakeStore) *ContentService {
	return NewContentService(store, store, fakeMedia{present: map[string]bool{"covers/ok.png": true}}, testLogger())
}

func asUser(id string) context.Context {
	return session.WithState(context.Background(),
		session.Authenticated(&model.Profile{ID: id, Role: model.RoleStandard}))
}

func asAdmin(id string) context.Context {
	return session.WithState(context.Background(),
		session.Authenticated(&model.Profile{ID: id, Role: model.RoleElevated}))
}

func (f *fakeStore) addCategory(name string) *model.Category {
	c := &model.Category{Name: name, Slug: Slugify(name)}
	if err := f.CreateCategory(context.Background(), c); err != nil {
		panic(err)
	}
	return c
}
