package service

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"deedstudio/internal/ingest"
	"deedstudio/internal/model"
	"deedstudio/internal/queue"
	"deedstudio/internal/storage"
)

// PostService handles changes to published deeds that do not move media.
type PostService struct {
	finalizer *Finalizer
	objects   storage.ObjectStore
	ingest    ingest.Service
	publisher queue.Publisher // optional
	log       *logrus.Entry
}

func NewPostService(finalizer *Finalizer, objects storage.ObjectStore, ingestSvc ingest.Service, log *logrus.Entry) *PostService {
	return &PostService{
		finalizer: finalizer,
		objects:   objects,
		ingest:    ingestSvc,
		log:       log,
	}
}

// SetPublisher enables lifecycle events.
func (s *PostService) SetPublisher(p queue.Publisher) {
	s.publisher = p
}

// Get returns a deed visible to its author.
func (s *PostService) Get(ctx context.Context, authorID, postID string) (*model.PostRecord, error) {
	rec, err := s.owned(ctx, "get deed", authorID, postID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// EditMetadata patches caption, tags, visibility and comment settings.
// Status and media are never touched.
func (s *PostService) EditMetadata(ctx context.Context, authorID, postID string, req model.EditMetadataRequest) (*model.PostRecord, error) {
	const op = "edit deed"

	rec, err := s.owned(ctx, op, authorID, postID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if req.Caption != nil {
		if utf8.RuneCountInString(*req.Caption) > model.MaxPostCaptionLength {
			return nil, model.Validationf(op, "caption exceeds %d characters", model.MaxPostCaptionLength)
		}
		rec.Caption = *req.Caption
		fields[model.FieldCaption] = rec.Caption
	}
	if req.Caption != nil || req.Tags != nil {
		explicit := req.Tags
		if explicit == nil {
			explicit = rec.Tags
		}
		rec.Tags = model.MergeTags(explicit, rec.Caption)
		fields[model.FieldTags] = rec.Tags
	}
	if req.Visibility != nil {
		if !req.Visibility.Valid() {
			return nil, model.Validationf(op, "unknown visibility %q", *req.Visibility)
		}
		rec.Visibility = *req.Visibility
		fields[model.FieldVisibility] = string(rec.Visibility)
	}
	if req.AllowComments != nil {
		v := *req.AllowComments
		rec.AllowComments = &v
		fields[model.FieldAllowComments] = v
	}

	if len(fields) == 0 {
		return rec, nil
	}
	if err := s.finalizer.Patch(ctx, postID, fields); err != nil {
		return nil, err
	}

	s.log.Infof("EditMetadata OK: post=%s fields=%d", postID, len(fields))
	return rec, nil
}

// Delete removes every stored object and the ingest asset on a best-effort
// basis, then marks the deed deleted. Deleting twice is a no-op.
func (s *PostService) Delete(ctx context.Context, authorID, postID string) error {
	const op = "delete deed"

	rec, err := s.finalizer.Get(ctx, postID)
	if err != nil {
		return err
	}
	if rec.AuthorID != authorID {
		return model.NewError(model.KindPermissionDenied, op, "", model.ErrNotPostOwner)
	}
	if rec.Status == model.StatusDeleted {
		return nil
	}

	failed := deleteAll(ctx, s.objects, s.ingest, rec.StoragePaths(), rec.IngestAssetID, rec.IngestUploadID, s.log)

	now := time.Now()
	if _, err := s.finalizer.Transition(ctx, postID, model.StatusDeleted, map[string]any{
		model.FieldDeletedAt: now,
	}); err != nil {
		return err
	}

	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, queue.StreamDeeds, queue.NewPostDeletedEvent(postID, authorID)); err != nil {
			s.log.Warnf("Delete event FAILED (ignored): post=%s err=%v", postID, err)
		}
	}

	s.log.Infof("Delete OK: post=%s objects=%d failed=%d", postID, len(rec.StoragePaths()), failed)
	return nil
}

func (s *PostService) owned(ctx context.Context, op, authorID, postID string) (*model.PostRecord, error) {
	rec, err := s.finalizer.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if rec.AuthorID != authorID {
		return nil, model.NewError(model.KindPermissionDenied, op, "", model.ErrNotPostOwner)
	}
	if rec.Status == model.StatusDeleted {
		return nil, model.ErrPostNotFound
	}
	return rec, nil
}
