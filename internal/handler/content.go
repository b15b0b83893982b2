package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/repository"
	"github.com/sakif/inkwell/internal/service"
	"github.com/sakif/inkwell/internal/session"
)

// ContentHandler exposes posts, categories and reads. It only parses and
// forwards; every rule (who may do what, what is valid) lives in the
// services, which read the caller from the request context.
type ContentHandler struct {
	content *service.ContentService
	history *service.HistoryTracker
	logger  *slog.Logger
}

func NewContentHandler(content *service.ContentService, history *service.HistoryTracker, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{content: content, history: history, logger: logger}
}

// HandleListPosts lists posts, newest first.
//
// HTTP: GET /api/posts?category=<id>&author=<id>&limit=20&offset=0
func (h *ContentHandler) HandleListPosts(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	posts, err := h.content.ListPosts(r.Context(), repository.PostFilter{
		CategoryID:  q.Get("category"),
		AuthorID:    q.Get("author"),
		ListOptions: opts,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// HandleListMyPosts lists the caller's own posts.
//
// HTTP: GET /api/me/posts
func (h *ContentHandler) HandleListMyPosts(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	posts, err := h.content.ListMyPosts(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// HTTP: GET /api/posts/{id}
func (h *ContentHandler) HandleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.content.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// HandleCreatePost publishes a post as the caller.
//
// HTTP: POST /api/posts
// REQUEST BODY: {"title": "...", "body": "...", "categoryId": "...", "coverImage": "..."}
func (h *ContentHandler) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	var draft model.PostDraft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, err)
		return
	}
	post, err := h.content.CreatePost(r.Context(), draft, session.FromContext(r.Context()).UserID())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// HTTP: PATCH /api/posts/{id}
func (h *ContentHandler) HandleUpdatePost(w http.ResponseWriter, r *http.Request) {
	var patch model.PostPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}
	post, err := h.content.UpdatePost(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// HTTP: DELETE /api/posts/{id}
func (h *ContentHandler) HandleDeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.content.DeletePost(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRecordRead records that the caller opened the post and counts a view.
//
// HTTP: POST /api/posts/{id}/read
func (h *ContentHandler) HandleRecordRead(w http.ResponseWriter, r *http.Request) {
	caller := session.FromContext(r.Context())
	entry, err := h.history.RecordRead(r.Context(), caller.UserID(), chi.URLParam(r, "id"), time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleHistory returns a reading list. Admins may pass ?user=<id>.
//
// HTTP: GET /api/history
func (h *ContentHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	items, err := h.history.ListForUser(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type categoryRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// HTTP: GET /api/categories
func (h *ContentHandler) HandleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.content.ListCategories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

// HTTP: GET /api/categories/{id}
func (h *ContentHandler) HandleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := h.content.GetCategory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HTTP: POST /api/categories
func (h *ContentHandler) HandleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := h.content.CreateCategory(r.Context(), req.Name, req.Slug)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HTTP: PUT /api/categories/{id}
func (h *ContentHandler) HandleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := h.content.UpdateCategory(r.Context(), chi.URLParam(r, "id"), req.Name, req.Slug)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HTTP: DELETE /api/categories/{id}
func (h *ContentHandler) HandleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.content.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStats is the admin dashboard.
//
// HTTP: GET /api/stats
func (h *ContentHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.content.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func listOptions(r *http.Request) (repository.ListOptions, error) {
	var opts repository.ListOptions
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, apperror.ValidationFailed(p.name, p.name+" must be a non-negative integer")
		}
		*p.dst = n
	}
	return opts, nil
}
