package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"deedstudio/internal/cache"
	"deedstudio/internal/httputil"
	"deedstudio/internal/model"
	"deedstudio/internal/transport/http/middleware"
)

// PostManager changes published deeds without moving media.
type PostManager interface {
	Get(ctx context.Context, authorID, postID string) (*model.PostRecord, error)
	EditMetadata(ctx context.Context, authorID, postID string, req model.EditMetadataRequest) (*model.PostRecord, error)
	Delete(ctx context.Context, authorID, postID string) error
}

type PostHandler struct {
	posts    PostManager
	progress cache.ProgressCache // Can be nil if Redis is not wired
	log      *logrus.Entry
}

func NewPostHandler(posts PostManager, progress cache.ProgressCache, log *logrus.Entry) *PostHandler {
	return &PostHandler{posts: posts, progress: progress, log: log}
}

// Get handles GET /studio/posts/{id}
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	authorID, ok := middleware.GetAuthorIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	rec, err := h.posts.Get(r.Context(), authorID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteMediaError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// Edit handles PATCH /studio/posts/{id}
// Only caption, tags, visibility and allowComments can change here.
func (h *PostHandler) Edit(w http.ResponseWriter, r *http.Request) {
	authorID, ok := middleware.GetAuthorIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var req model.EditMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	rec, err := h.posts.EditMetadata(r.Context(), authorID, chi.URLParam(r, "id"), req)
	if err != nil {
		httputil.WriteMediaError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /studio/posts/{id}
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	authorID, ok := middleware.GetAuthorIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.posts.Delete(r.Context(), authorID, chi.URLParam(r, "id")); err != nil {
		httputil.WriteMediaError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Progress handles GET /studio/posts/{id}/progress
// Reports zero once the entry has been reset or expired.
func (h *PostHandler) Progress(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	if h.progress == nil {
		httputil.WriteJSON(w, http.StatusOK, model.ProgressResponse{PostID: postID})
		return
	}

	p, err := h.progress.Get(r.Context(), postID)
	if err != nil {
		h.log.Errorf("Progress FAILED: post=%s err=%v", postID, err)
		httputil.WriteInternalError(w, "Failed to read progress")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
