package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"deedstudio/internal/httputil"
	"deedstudio/internal/model"
	"deedstudio/internal/service"
	"deedstudio/internal/transport/http/middleware"
)

// multipartMemory is how much of a publish form is kept in memory; larger
// audio parts spill to temp files.
const multipartMemory = 8 << 20

// Publisher runs one publish attempt.
type Publisher interface {
	Publish(ctx context.Context, in service.PublishInput, onProgress service.ProgressFunc) (*model.PublishResponse, error)
}

type PublishHandler struct {
	publisher Publisher
	maxBytes  int64
	log       *logrus.Entry
}

func NewPublishHandler(publisher Publisher, maxBytes int64, log *logrus.Entry) *PublishHandler {
	return &PublishHandler{publisher: publisher, maxBytes: maxBytes, log: log}
}

// progressLine is one NDJSON line of a streamed publish.
type progressLine struct {
	Stage   string                 `json:"stage,omitempty"`
	Percent int                    `json:"percent,omitempty"`
	Result  *model.PublishResponse `json:"result,omitempty"`
	Error   *httputil.ErrorDetail  `json:"error,omitempty"`
}

// Publish handles POST /studio/publish
// Accepts either a JSON body, or multipart with a "request" JSON field and
// an optional "audio" file. With ?stream=1 progress is streamed as NDJSON
// and the last line carries the result or error.
func (h *PublishHandler) Publish(w http.ResponseWriter, r *http.Request) {
	authorID, ok := middleware.GetAuthorIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	in, cleanup, ok := h.decode(w, r)
	if !ok {
		return
	}
	defer cleanup()
	in.AuthorID = authorID

	if r.URL.Query().Get("stream") == "1" {
		h.stream(w, r, in)
		return
	}

	resp, err := h.publisher.Publish(r.Context(), in, nil)
	if err != nil {
		httputil.WriteMediaError(w, h.log, err)
		return
	}

	status := http.StatusCreated
	if in.Request.PostID != "" {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *PublishHandler) stream(w http.ResponseWriter, r *http.Request, in service.PublishInput) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	var mu sync.Mutex
	enc := json.NewEncoder(w)
	write := func(line progressLine) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(line); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	resp, err := h.publisher.Publish(r.Context(), in, func(stage string, percent int) {
		write(progressLine{Stage: stage, Percent: percent})
	})
	if err != nil {
		rec := newErrorRecorder()
		httputil.WriteMediaError(rec, h.log, err)
		write(progressLine{Error: rec.detail()})
		return
	}
	write(progressLine{Result: resp})
}

// decode reads the publish request. cleanup removes multipart temp files.
func (h *PublishHandler) decode(w http.ResponseWriter, r *http.Request) (service.PublishInput, func(), bool) {
	var in service.PublishInput
	noop := func() {}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	}

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := json.NewDecoder(r.Body).Decode(&in.Request); err != nil {
			httputil.WriteBadRequest(w, "Invalid request body")
			return in, noop, false
		}
		return in, noop, true
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httputil.WriteMediaError(w, h.log, model.NewError(model.KindTooLarge, "publish", "", err))
			return in, noop, false
		}
		httputil.WriteBadRequest(w, "Malformed multipart body")
		return in, noop, false
	}
	cleanup := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	if err := json.Unmarshal([]byte(r.FormValue("request")), &in.Request); err != nil {
		cleanup()
		httputil.WriteBadRequest(w, "Invalid request field")
		return in, noop, false
	}

	file, header, err := r.FormFile("audio")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		cleanup()
		httputil.WriteBadRequest(w, "Invalid audio part")
		return in, noop, false
	default:
		in.Audio = &service.AudioInput{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		}
		inner := cleanup
		cleanup = func() {
			file.Close()
			inner()
		}
	}
	return in, cleanup, true
}

// errorRecorder captures the envelope WriteMediaError would send so it can
// be embedded in a streamed response.
type errorRecorder struct {
	header http.Header
	body   []byte
}

func newErrorRecorder() *errorRecorder {
	return &errorRecorder{header: make(http.Header)}
}

func (e *errorRecorder) Header() http.Header { return e.header }
func (e *errorRecorder) WriteHeader(int)     {}
func (e *errorRecorder) Write(p []byte) (int, error) {
	e.body = append(e.body, p...)
	return len(p), nil
}

func (e *errorRecorder) detail() *httputil.ErrorDetail {
	var resp httputil.ErrorResponse
	if err := json.Unmarshal(e.body, &resp); err != nil {
		return &httputil.ErrorDetail{Code: httputil.ErrCodeInternal, Message: "Internal server error"}
	}
	return &resp.Error
}
