package service

import (
	"context"
	"sync"

	"deedstudio/internal/metrics"
	"deedstudio/internal/storage"
)

// Upload targets, used as metric labels
const (
	TargetObjectStore = "object_store"
	TargetIngest      = "ingest"
)

// UploadFunc moves one object and reports progress through onProgress.
type UploadFunc func(ctx context.Context, onProgress storage.ProgressFunc) (*storage.Object, error)

// UploadTask is one in-flight transfer. Progress values are non-decreasing
// and stay below 100 until the store confirms the object; the channel is
// closed when the transfer ends. Only the latest value is buffered, so a
// slow reader sees fewer updates rather than blocking the transfer.
type UploadTask struct {
	Target string
	Path   string

	mu       sync.Mutex
	closed   bool
	progress chan int
	done     chan struct{}
	obj      *storage.Object
	err      error
}

// StartUpload runs fn in the background. There is no retry.
func StartUpload(ctx context.Context, target, path string, size int64, fn UploadFunc) *UploadTask {
	t := &UploadTask{
		Target:   target,
		Path:     path,
		progress: make(chan int, 1),
		done:     make(chan struct{}),
	}

	go func() {
		defer close(t.done)

		obj, err := fn(ctx, t.report)
		metrics.RecordUpload(target, size, err)

		t.mu.Lock()
		t.obj, t.err = obj, err
		t.closed = true
		close(t.progress)
		t.mu.Unlock()
	}()
	return t
}

// Progress streams percentages until the task ends.
func (t *UploadTask) Progress() <-chan int {
	return t.progress
}

// Wait blocks until the task ends and returns the object location.
func (t *UploadTask) Wait() (*storage.Object, error) {
	<-t.done
	return t.obj, t.err
}

// report replaces any unread value with p. Late callbacks from a transport
// still draining the body after fn returned are dropped.
func (t *UploadTask) report(p int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for {
		select {
		case t.progress <- p:
			return
		default:
		}
		select {
		case <-t.progress:
		default:
		}
	}
}
