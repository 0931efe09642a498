package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"deedstudio/internal/model"
	"deedstudio/internal/notify"
	"deedstudio/internal/queue"
)

// RecordStore is the part of the finalizer the worker needs. Status changes
// go through the transition table.
type RecordStore interface {
	Get(ctx context.Context, id string) (*model.PostRecord, error)
	Transition(ctx context.Context, id string, next model.PostStatus, extra map[string]any) (*model.PostRecord, error)
}

// Handler applies ingest outcomes to deed records.
type Handler struct {
	records  RecordStore
	notifier notify.Notifier // Can be nil if push is not wired
	log      *logrus.Entry
}

// NewHandler creates a new event handler.
func NewHandler(records RecordStore, log *logrus.Entry) *Handler {
	return &Handler{records: records, log: log}
}

// SetNotifier sets the push notifier (optional).
func (h *Handler) SetNotifier(n notify.Notifier) {
	h.notifier = n
}

// HandleEvent routes an event to the appropriate handler based on type.
func (h *Handler) HandleEvent(ctx context.Context, event queue.DeedEvent) error {
	startTime := time.Now()
	var err error

	switch event.Type {
	case queue.EventIngestReady:
		err = h.handleIngestReady(ctx, event)
	case queue.EventIngestFailed:
		err = h.handleIngestFailed(ctx, event)
	default:
		h.log.Warnf("Unknown event type: %s", event.Type)
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	if err != nil {
		h.log.Errorf("HandleEvent FAILED: type=%s post=%s duration=%v err=%v",
			event.Type, event.PostID, time.Since(startTime), err)
		return err
	}

	h.log.Infof("HandleEvent OK: type=%s post=%s duration=%v", event.Type, event.PostID, time.Since(startTime))
	return nil
}

// handleIngestReady moves the deed to ready and records the playable asset.
func (h *Handler) handleIngestReady(ctx context.Context, event queue.DeedEvent) error {
	rec, skip, err := h.current(ctx, event)
	if err != nil || skip {
		return err
	}

	_, err = h.records.Transition(ctx, event.PostID, model.StatusReady, map[string]any{
		model.FieldIngestAssetID: event.AssetID,
		model.FieldPlaybackID:    event.PlaybackID,
	})
	if errors.Is(err, model.ErrIllegalTransition) {
		h.log.Warnf("IngestReady: post=%s status=%s, not moving to ready", event.PostID, rec.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}

	h.notifyAuthor(ctx, rec.AuthorID, event.PostID, true)
	return nil
}

// handleIngestFailed moves the deed to failed.
func (h *Handler) handleIngestFailed(ctx context.Context, event queue.DeedEvent) error {
	rec, skip, err := h.current(ctx, event)
	if err != nil || skip {
		return err
	}

	_, err = h.records.Transition(ctx, event.PostID, model.StatusFailed, map[string]any{
		model.FieldIngestAssetID: event.AssetID,
	})
	if errors.Is(err, model.ErrIllegalTransition) {
		h.log.Warnf("IngestFailed: post=%s status=%s, not moving to failed", event.PostID, rec.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	h.notifyAuthor(ctx, rec.AuthorID, event.PostID, false)
	return nil
}

// current loads the record and decides whether the event still applies.
// Events for deleted deeds, for deeds waiting on a server mix, or for an
// upload that a later edit replaced are skipped.
func (h *Handler) current(ctx context.Context, event queue.DeedEvent) (*model.PostRecord, bool, error) {
	rec, err := h.records.Get(ctx, event.PostID)
	if errors.Is(err, model.ErrPostNotFound) {
		h.log.Warnf("Ingest event for unknown post=%s, skipping", event.PostID)
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get record: %w", err)
	}

	if rec.Status == model.StatusDeleted {
		h.log.Infof("Ingest event for deleted post=%s, skipping", event.PostID)
		return rec, true, nil
	}
	// A deed handed to the mix worker has no ingest upload in flight; any
	// ingest event for it belongs to media an edit already replaced.
	if rec.Status == model.StatusMixing {
		h.log.Infof("Ingest event for mixing post=%s upload=%s, skipping", event.PostID, event.UploadID)
		return rec, true, nil
	}
	if event.UploadID != "" && rec.IngestUploadID != "" && event.UploadID != rec.IngestUploadID {
		h.log.Infof("Stale ingest event: post=%s upload=%s current=%s, skipping",
			event.PostID, event.UploadID, rec.IngestUploadID)
		return rec, true, nil
	}
	return rec, false, nil
}

func (h *Handler) notifyAuthor(ctx context.Context, authorID, postID string, ready bool) {
	if h.notifier == nil || authorID == "" {
		return
	}

	var err error
	if ready {
		err = h.notifier.DeedReady(ctx, authorID, postID)
	} else {
		err = h.notifier.DeedFailed(ctx, authorID, postID)
	}
	if err != nil {
		h.log.Warnf("Notify FAILED (ignored): author=%s post=%s err=%v", authorID, postID, err)
	}
}
