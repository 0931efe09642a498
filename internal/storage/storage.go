package storage

import (
	"context"
	"io"
	"sync"
)

// Object is the location of an uploaded object. PublicURL can be fetched
// by clients; InternalPath is the key used for later deletes.
type Object struct {
	PublicURL    string `json:"publicUrl"`
	InternalPath string `json:"internalPath"`
}

// ProgressFunc receives integer upload percentages.
type ProgressFunc func(percent int)

// ObjectStore is the durable blob store used by the publish pipeline.
type ObjectStore interface {
	// UploadResumable streams size bytes from r to path. Progress is reported
	// as it advances; completion is only signaled by a nil error return.
	UploadResumable(ctx context.Context, path, contentType string, r io.Reader, size int64, onProgress ProgressFunc) (*Object, error)
	// Delete removes the object at path. Missing objects are not an error.
	Delete(ctx context.Context, path string) error
}

// Tracker converts byte counts into a percentage that never decreases and
// stays at 99 until Complete is called by the store's own completion path.
type Tracker struct {
	mu    sync.Mutex
	total int64
	last  int
	fn    ProgressFunc
}

func NewTracker(total int64, fn ProgressFunc) *Tracker {
	return &Tracker{total: total, last: -1, fn: fn}
}

// Update reports that sent bytes have been transferred so far.
func (t *Tracker) Update(sent int64) {
	pct := 0
	if t.total > 0 {
		pct = int(sent * 100 / t.total)
	}
	if pct > 99 {
		pct = 99
	}
	t.emit(pct)
}

// Complete reports 100%. Only the store calls this, once the object is durable.
func (t *Tracker) Complete() {
	t.emit(100)
}

func (t *Tracker) emit(pct int) {
	t.mu.Lock()
	if pct <= t.last {
		t.mu.Unlock()
		return
	}
	t.last = pct
	fn := t.fn
	t.mu.Unlock()

	if fn != nil {
		fn(pct)
	}
}

// countingReader reports cumulative bytes read to a Tracker.
type countingReader struct {
	r       io.Reader
	n       int64
	tracker *Tracker
}

// NewProgressReader wraps r so reads advance tracker.
func NewProgressReader(r io.Reader, tracker *Tracker) io.Reader {
	return &countingReader{r: r, tracker: tracker}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		c.tracker.Update(c.n)
	}
	return n, err
}
