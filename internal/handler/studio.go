package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"deedstudio/internal/httputil"
	"deedstudio/internal/intake"
	"deedstudio/internal/metrics"
	"deedstudio/internal/model"
	"deedstudio/internal/transport/http/middleware"
)

// multipartOverhead is the slack allowed on top of the file size for
// boundaries and part headers.
const multipartOverhead = 1 << 20

// SelectionManager is the intake as used by the studio endpoints.
type SelectionManager interface {
	Select(ctx context.Context, input intake.SelectInput) (*model.MediaSelection, error)
	Replace(ctx context.Context, id string, input intake.SelectInput) (*model.MediaSelection, error)
	Get(authorID, id string) (*model.MediaSelection, error)
	Capture(ctx context.Context, authorID, id string, timestampMs int64) (*model.ThumbnailCandidate, error)
	Candidates(authorID, id string) ([]model.ThumbnailCandidate, bool, error)
	Candidate(authorID, id string, index int) (*model.ThumbnailCandidate, error)
	SetCover(authorID, id string, index int) (*model.ThumbnailCandidate, error)
	Cover(authorID, id string) (*model.ThumbnailCandidate, error)
	Release(authorID, id string)
}

type StudioHandler struct {
	selections SelectionManager
	maxBytes   int64
	log        *logrus.Entry
}

func NewStudioHandler(selections SelectionManager, maxBytes int64, log *logrus.Entry) *StudioHandler {
	return &StudioHandler{selections: selections, maxBytes: maxBytes, log: log}
}

// coverJSON is a thumbnail candidate with its JPEG inlined as a data URI.
type coverJSON struct {
	TimestampMs int64  `json:"timestamp_ms"`
	Image       string `json:"image,omitempty"`
}

type selectionResponse struct {
	Selection *model.MediaSelection `json:"selection"`
	Cover     *coverJSON            `json:"cover,omitempty"`
}

type candidateListResponse struct {
	Done       bool        `json:"done"`
	Candidates []coverJSON `json:"candidates"`
}

type captureRequest struct {
	TimestampMs int64 `json:"timestamp_ms"`
}

type setCoverRequest struct {
	Index int `json:"index"`
}

// Create handles POST /studio/selections
// Streams the "file" part into the intake; nothing is uploaded.
func (h *StudioHandler) Create(w http.ResponseWriter, r *http.Request) {
	authorID, ok := requireAuthor(w, r)
	if !ok {
		return
	}

	input, part, ok := h.filePart(w, r, authorID)
	if !ok {
		return
	}
	defer part.Close()

	sel, err := h.selections.Select(r.Context(), input)
	metrics.RecordSelection(selectionKind(sel), err)
	if err != nil {
		httputil.WriteMediaError(w, h.log, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, h.withCover(authorID, sel))
}

// Replace handles PUT /studio/selections/{id}
// The selection keeps its id; the old file is released once the new one loads.
func (h *StudioHandler) Replace(w http.ResponseWriter, r *http.Request) {
	authorID, ok := requireAuthor(w, r)
	if !ok {
		return
	}

	input, part, ok := h.filePart(w, r, authorID)
	if !ok {
		return
	}
	defer part.Close()

	sel, err := h.selections.Replace(r.Context(), chi.URLParam(r, "id"), input)
	metrics.RecordSelection(selectionKind(sel), err)
	if err != nil {
		httputil.WriteMediaError(w, h.log, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, h.withCover(authorID, sel))
}

// Get handles GET /studio/selections/{id}
func (h *StudioHandler) Get(w http.ResponseWriter, r *http.Request) {
	authorID, ok := requireAuthor(w, r)
	if !ok {
		return
	}

	sel, err := h.selections.Get(authorID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteMediaError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.withCover(authorID, sel))
}

// Delete handles DELETE /studio/selections/{id}
func (h *StudioHandler) Delete(w http.ResponseWriter, r *http.Request) {
	authorID, ok := requireAuthor(w, r)
	if !ok {
		return
	}

	h.selections.Release(authorID, chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// Capture handles POST /studio/selections/{id}/capture
// Renders a frame at timestamp_ms and makes it the cover.
func (h *StudioHandler) Capture(w http.ResponseWriter, r *http.Request) {
	authorID, ok := requireAuthor(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<10)
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.TimestampMs < 0 {
		req.TimestampMs = 0
	}

	cover, err := h.selections.Capture(r.Context(), authorID, chi.URLParam(r, "id"), req.TimestampMs)
	if err != nil {
		httputil.WriteMediaError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCoverJSON(cover))
}

// SetCover handles PUT /studio/selections/{id}/cover
func (h *StudioHandler) SetCover(w http.ResponseWriter, r *http.Request) {
	authorID, ok := requireAuthor(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<10)
	var req setCoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	cover, err := h.selections.SetCover(authorID, chi.URLParam(r, "id"), req.Index)
	if err != nil {
		httputil.WriteMediaError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCoverJSON(cover))
}

// Candidates handles GET /studio/selections/{id}/candidates
// Lists timestamps only; images are fetched per index.
func (h *StudioHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	authorID, ok := requireAuthor(w, r)
	if !ok {
		return
	}

	list, done, err := h.selections.Candidates(authorID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteMediaError(w, h.log, err)
		return
	}

	out := candidateListResponse{Done: done, Candidates: make([]coverJSON, 0, len(list))}
	for _, c := range list {
		out.Candidates = append(out.Candidates, coverJSON{TimestampMs: c.TimestampMs})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// Candidate handles GET /studio/selections/{id}/candidates/{index}
// Returns the raw JPEG.
func (h *StudioHandler) Candidate(w http.ResponseWriter, r *http.Request) {
	authorID, ok := requireAuthor(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid candidate index")
		return
	}

	c, err := h.selections.Candidate(authorID, chi.URLParam(r, "id"), index)
	if err != nil {
		httputil.WriteMediaError(w, h.log, err)
		return
	}

	w.Header().Set("Content-Type", model.ContentTypeJPEG)
	w.Header().Set("Content-Length", strconv.Itoa(len(c.ImageData)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.ImageData)
}

func requireAuthor(w http.ResponseWriter, r *http.Request) (string, bool) {
	authorID, ok := middleware.GetAuthorIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return "", false
	}
	return authorID, true
}

// filePart returns the "file" part of a multipart request as a stream.
// On failure the response has already been written.
func (h *StudioHandler) filePart(w http.ResponseWriter, r *http.Request, authorID string) (intake.SelectInput, *multipart.Part, bool) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		httputil.WriteBadRequest(w, "Expected multipart/form-data")
		return intake.SelectInput{}, nil, false
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			httputil.WriteBadRequest(w, "Missing file part")
			return intake.SelectInput{}, nil, false
		}
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				httputil.WriteMediaError(w, h.log, model.NewError(model.KindTooLarge, "select media", "", err))
				return intake.SelectInput{}, nil, false
			}
			httputil.WriteBadRequest(w, "Malformed multipart body")
			return intake.SelectInput{}, nil, false
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		size := int64(-1)
		if v := r.URL.Query().Get("size"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				size = n
			}
		}
		return intake.SelectInput{
			AuthorID:    authorID,
			FileName:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Size:        size,
			Body:        part,
		}, part, true
	}
}

func (h *StudioHandler) withCover(authorID string, sel *model.MediaSelection) selectionResponse {
	resp := selectionResponse{Selection: sel}
	cover, err := h.selections.Cover(authorID, sel.ID)
	if err != nil {
		h.log.Warnf("Cover lookup FAILED (ignored): selection=%s err=%v", sel.ID, err)
		return resp
	}
	if cover != nil {
		c := toCoverJSON(cover)
		resp.Cover = &c
	}
	return resp
}

func toCoverJSON(c *model.ThumbnailCandidate) coverJSON {
	out := coverJSON{TimestampMs: c.TimestampMs}
	if len(c.ImageData) > 0 {
		out.Image = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(c.ImageData)
	}
	return out
}

func selectionKind(sel *model.MediaSelection) string {
	if sel == nil {
		return "unknown"
	}
	return string(sel.Kind)
}
