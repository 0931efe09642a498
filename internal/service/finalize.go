package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"deedstudio/internal/docstore"
	"deedstudio/internal/metrics"
	"deedstudio/internal/model"
)

// Finalizer owns every write to a deed record. All writes are pruned and
// status changes go through the transition table.
type Finalizer struct {
	docs docstore.Store
	now  func() time.Time
	log  *logrus.Entry
}

func NewFinalizer(docs docstore.Store, log *logrus.Entry) *Finalizer {
	return &Finalizer{docs: docs, now: time.Now, log: log}
}

// CreatePlaceholder writes the minimal record for a new publish.
func (f *Finalizer) CreatePlaceholder(ctx context.Context, authorID string, kind model.PostMediaKind) (string, error) {
	id, err := f.docs.CreatePlaceholder(ctx, model.Prune(model.Placeholder(authorID, kind, f.now())))
	if err != nil {
		return "", model.Transport("create placeholder", err)
	}
	f.log.Infof("Placeholder OK: post=%s author=%s kind=%s status=%s", id, authorID, kind, model.PlaceholderStatus(kind))
	return id, nil
}

// Get loads a record.
func (f *Finalizer) Get(ctx context.Context, id string) (*model.PostRecord, error) {
	rec, err := f.docs.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// Commit is the single final write of a publish attempt. The strategy
// decides the status; a strategy without a final status leaves the stored
// status untouched. When replacing is set the write also removes every
// media-bound field the new attempt did not produce.
func (f *Finalizer) Commit(ctx context.Context, rec *model.PostRecord, strategy model.Strategy, replacing bool) error {
	status, setStatus := strategy.FinalStatus()
	if setStatus {
		next, err := rec.Status.Transition(status)
		if err != nil {
			return err
		}
		rec.Status = next
	}
	rec.UpdatedAt = f.now()

	if err := rec.Validate(); err != nil {
		return err
	}

	fields := rec.Fields()
	if !setStatus {
		delete(fields, model.FieldStatus)
	}

	patch := model.Prune(fields)
	cleared := 0
	if replacing {
		for _, key := range model.MediaBoundFields {
			if _, ok := patch[key]; !ok {
				patch[key] = model.Remove
				cleared++
			}
		}
	}

	if err := f.docs.UpdateRecord(ctx, rec.ID, patch); err != nil {
		return model.Transport("final record write", err)
	}

	f.log.Infof("Commit OK: post=%s strategy=%s status=%s media=%d cleared=%d",
		rec.ID, strategy.Name(), rec.Status, len(rec.Media), cleared)
	return nil
}

// Transition moves a record to next and merges extra fields in the same
// write. Moving to the current status is a no-op apart from extra.
func (f *Finalizer) Transition(ctx context.Context, id string, next model.PostStatus, extra map[string]any) (*model.PostRecord, error) {
	rec, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	prev := rec.Status
	if _, err := prev.Transition(next); err != nil {
		return rec, fmt.Errorf("post %s: %w", id, err)
	}

	now := f.now()
	fields := map[string]any{
		model.FieldStatus:    string(next),
		model.FieldUpdatedAt: now,
	}
	for k, v := range extra {
		fields[k] = v
	}

	if err := f.docs.UpdateRecord(ctx, id, model.Prune(fields)); err != nil {
		return nil, model.Transport("update status", err)
	}

	rec.Status = next
	rec.UpdatedAt = now
	if prev != next {
		metrics.RecordTransition(string(prev), string(next))
	}
	f.log.Infof("Transition OK: post=%s %s -> %s", id, prev, next)
	return rec, nil
}

// Patch merges metadata fields without touching status.
func (f *Finalizer) Patch(ctx context.Context, id string, fields map[string]any) error {
	delete(fields, model.FieldStatus)
	delete(fields, model.FieldAuthorID)
	delete(fields, model.FieldMediaKind)
	delete(fields, model.FieldCreatedAt)
	fields[model.FieldUpdatedAt] = f.now()

	if err := f.docs.UpdateRecord(ctx, id, model.Prune(fields)); err != nil {
		return model.Transport("patch record", err)
	}
	return nil
}
