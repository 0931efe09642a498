package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"deedstudio/internal/ingest"
	"deedstudio/internal/model"
	"deedstudio/internal/queue"
	"deedstudio/internal/storage"
)

// =============================================================================
// MOCK DEPENDENCIES
// =============================================================================
//
// Each fake records its calls so tests can assert ordering and counts.
// Function fields override the default behavior per test.

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeSelections stands in for the intake.
type fakeSelections struct {
	mu       sync.Mutex
	entries  map[string]*fakeSelection
	released []string
}

type fakeSelection struct {
	sel   model.MediaSelection
	data  []byte
	cover *model.ThumbnailCandidate
}

func newFakeSelections() *fakeSelections {
	return &fakeSelections{entries: make(map[string]*fakeSelection)}
}

func (f *fakeSelections) addVideo(id string, seconds int, cover []byte) {
	f.entries[id] = &fakeSelection{
		sel: model.MediaSelection{
			ID:              id,
			Kind:            model.MediaVideo,
			ContentType:     "video/mp4",
			FileName:        id + ".mp4",
			SizeBytes:       2048,
			DurationSeconds: &seconds,
		},
		data:  bytes.Repeat([]byte{0x42}, 2048),
		cover: &model.ThumbnailCandidate{TimestampMs: 800, ImageData: cover},
	}
}

func (f *fakeSelections) addImage(t *testing.T, id string) {
	t.Helper()
	data := testPNG(t, 64, 48)
	f.entries[id] = &fakeSelection{
		sel: model.MediaSelection{
			ID:          id,
			Kind:        model.MediaImage,
			ContentType: "image/png",
			FileName:    id + ".png",
			SizeBytes:   int64(len(data)),
		},
		data: data,
	}
}

func (f *fakeSelections) Get(authorID, id string) (*model.MediaSelection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, model.ErrSelectionNotFound
	}
	sel := e.sel
	return &sel, nil
}

func (f *fakeSelections) Cover(authorID, id string) (*model.ThumbnailCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, model.ErrSelectionNotFound
	}
	return e.cover, nil
}

func (f *fakeSelections) Open(authorID, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, model.ErrSelectionNotFound
	}
	return io.NopCloser(bytes.NewReader(e.data)), nil
}

func (f *fakeSelections) Release(authorID, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
}

// fakeObjects is an in-memory object store.
type fakeObjects struct {
	mu       sync.Mutex
	uploadFn func(path string) error
	deleteFn func(path string) error
	uploads  []string
	deletes  []string
}

func (f *fakeObjects) UploadResumable(ctx context.Context, path, contentType string, r io.Reader, size int64, onProgress storage.ProgressFunc) (*storage.Object, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, path)
	f.mu.Unlock()

	if f.uploadFn != nil {
		if err := f.uploadFn(path); err != nil {
			return nil, err
		}
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	onProgress(40)
	onProgress(99)
	onProgress(100)
	return &storage.Object{PublicURL: "https://cdn.test/" + path, InternalPath: path}, nil
}

func (f *fakeObjects) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, path)
	f.mu.Unlock()
	if f.deleteFn != nil {
		return f.deleteFn(path)
	}
	return nil
}

// fakeIngest records calls to the ingest platform.
type fakeIngest struct {
	mu            sync.Mutex
	uploadFn      func() error
	createCalls   []ingest.Passthrough
	uploadCalls   []string
	deletedAssets []string
	cancelled     []string
}

func (f *fakeIngest) CreateUploadTarget(ctx context.Context, meta ingest.Passthrough) (*ingest.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, meta)
	return &ingest.Target{UploadURL: "https://ingest.test/upload/up_1", UploadID: "up_1"}, nil
}

func (f *fakeIngest) UploadBytes(ctx context.Context, uploadURL string, r io.Reader, size int64, onProgress storage.ProgressFunc) error {
	f.mu.Lock()
	f.uploadCalls = append(f.uploadCalls, uploadURL)
	f.mu.Unlock()

	if f.uploadFn != nil {
		if err := f.uploadFn(); err != nil {
			onProgress(60)
			return err
		}
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	onProgress(100)
	return nil
}

func (f *fakeIngest) DeleteAsset(ctx context.Context, assetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedAssets = append(f.deletedAssets, assetID)
	return nil
}

func (f *fakeIngest) CancelUpload(ctx context.Context, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, uploadID)
	return nil
}

// memDocs merges top-level keys the way the document stores do and checks
// that every write was pruned.
type memDocs struct {
	t      *testing.T
	mu     sync.Mutex
	nextID int
	docs   map[string]map[string]any
	writes int
}

func newMemDocs(t *testing.T) *memDocs {
	return &memDocs{t: t, docs: make(map[string]map[string]any)}
}

func (m *memDocs) CreatePlaceholder(ctx context.Context, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("post-%d", m.nextID)
	m.docs[id] = map[string]any{}
	m.merge(id, fields)
	return id, nil
}

func (m *memDocs) UpdateRecord(ctx context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return model.ErrPostNotFound
	}
	m.writes++
	m.merge(id, fields)
	return nil
}

func (m *memDocs) GetRecord(ctx context.Context, id string) (*model.PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, model.ErrPostNotFound
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var rec model.PostRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	rec.ID = id
	return &rec, nil
}

// seed stores rec as if it had been published earlier.
func (m *memDocs) seed(rec model.PostRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields := rec.Fields()
	fields[model.FieldAuthorID] = rec.AuthorID
	fields[model.FieldMediaKind] = string(rec.MediaKind)
	m.docs[rec.ID] = map[string]any{}
	m.merge(rec.ID, model.Prune(fields))
}

func (m *memDocs) record(id string) *model.PostRecord {
	m.t.Helper()
	rec, err := m.GetRecord(context.Background(), id)
	if err != nil {
		m.t.Fatalf("GetRecord(%s): %v", id, err)
	}
	return rec
}

func (m *memDocs) merge(id string, fields map[string]any) {
	set := make(map[string]any, len(fields))
	for k, v := range fields {
		if model.IsRemove(v) {
			delete(m.docs[id], k)
			continue
		}
		set[k] = v
	}
	raw, err := json.Marshal(set)
	if err != nil {
		m.t.Fatalf("marshal fields: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		m.t.Fatalf("unmarshal fields: %v", err)
	}
	for k, v := range decoded {
		if !isSet(v) {
			m.t.Errorf("write to %s carries unset field %q", id, k)
		}
		m.docs[id][k] = v
	}
}

func isSet(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []any:
		if len(t) == 0 {
			return false
		}
		for _, item := range t {
			if !isSet(item) {
				return false
			}
		}
	case map[string]any:
		if len(t) == 0 {
			return false
		}
		for _, item := range t {
			if !isSet(item) {
				return false
			}
		}
	}
	return true
}

// fakePublisher records stream events.
type fakePublisher struct {
	mu     sync.Mutex
	events []queue.DeedEvent
}

func (p *fakePublisher) Publish(ctx context.Context, stream string, event queue.DeedEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return fmt.Sprintf("%d-0", len(p.events)), nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// progressLog collects emitted progress per stage.
type progressLog struct {
	mu     sync.Mutex
	stages []string
	values map[string][]int
}

func newProgressLog() *progressLog {
	return &progressLog{values: make(map[string][]int)}
}

func (p *progressLog) emit(stage string, percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stages) == 0 || p.stages[len(p.stages)-1] != stage {
		p.stages = append(p.stages, stage)
	}
	p.values[stage] = append(p.values[stage], percent)
}
