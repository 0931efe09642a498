package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"deedstudio/internal/cache"
	"deedstudio/internal/ingest"
	"deedstudio/internal/media"
	"deedstudio/internal/metrics"
	"deedstudio/internal/model"
	"deedstudio/internal/queue"
	"deedstudio/internal/storage"
)

// Progress stages reported to the caller
const (
	StageAudio     = "audio"
	StageMedia     = "media"
	StageThumbnail = "thumbnail"
	StageRecord    = "record"
)

// ProgressFunc receives the stage of the most recent task and its percent.
type ProgressFunc func(stage string, percent int)

// SelectionSource is the intake as seen by the publish pipeline.
type SelectionSource interface {
	Get(authorID, id string) (*model.MediaSelection, error)
	Cover(authorID, id string) (*model.ThumbnailCandidate, error)
	Open(authorID, id string) (io.ReadCloser, error)
	Release(authorID, id string)
}

// AudioInput is a locally recorded or picked audio file sent with a publish.
type AudioInput struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// PublishInput is one publish attempt.
type PublishInput struct {
	AuthorID string
	Request  model.PublishRequest
	Audio    *AudioInput
}

type publishPlan struct {
	kind       model.PostMediaKind
	selections []*model.MediaSelection
	visibility model.Visibility
}

// PublishService turns selections into a published deed.
type PublishService struct {
	selections SelectionSource
	objects    storage.ObjectStore
	ingest     ingest.Service
	finalizer  *Finalizer
	geo        GeoLocator
	policy     model.UploadPolicy
	log        *logrus.Entry

	publisher  queue.Publisher     // optional
	progress   cache.ProgressCache // optional
	resetDelay time.Duration
}

func NewPublishService(
	selections SelectionSource,
	objects storage.ObjectStore,
	ingestSvc ingest.Service,
	finalizer *Finalizer,
	geo GeoLocator,
	policy model.UploadPolicy,
	log *logrus.Entry,
) *PublishService {
	if geo == nil {
		geo = RequestGeo{}
	}
	return &PublishService{
		selections: selections,
		objects:    objects,
		ingest:     ingestSvc,
		finalizer:  finalizer,
		geo:        geo,
		policy:     policy,
		log:        log,
	}
}

// SetPublisher enables lifecycle events.
func (s *PublishService) SetPublisher(p queue.Publisher) {
	s.publisher = p
}

// SetProgressCache mirrors progress to pc; entries lapse resetDelay after
// each attempt ends.
func (s *PublishService) SetProgressCache(pc cache.ProgressCache, resetDelay time.Duration) {
	s.progress = pc
	s.resetDelay = resetDelay
}

// Publish runs one attempt: validate, placeholder, geo, audio, primary
// media, thumbnail, final write. Uploads run strictly in that order and
// nothing is retried.
func (s *PublishService) Publish(ctx context.Context, in PublishInput, onProgress ProgressFunc) (resp *model.PublishResponse, err error) {
	start := time.Now()
	var strategy model.Strategy
	defer func() {
		name := ""
		if strategy != nil {
			name = strategy.Name()
		}
		metrics.RecordPublish(name, err, time.Since(start))
	}()

	req := in.Request
	plan, err := s.validate(in)
	if err != nil {
		s.log.Warnf("Publish REJECTED: author=%s err=%v", in.AuthorID, err)
		return nil, err
	}

	rec, previous, err := s.begin(ctx, in.AuthorID, req.PostID, plan.kind)
	if err != nil {
		return nil, err
	}
	defer s.resetProgress(ctx, rec.ID)
	emit := s.emitter(ctx, rec.ID, onProgress)

	rec.Geo = s.locate(ctx, req)
	rec.Music = s.resolveMusic(ctx, rec, in, emit)

	musicResolved := rec.Music != nil && rec.Music.URL != ""
	strategy = model.SelectStrategy(plan.kind, musicResolved, req.Mix.Requested, s.policy)

	switch st := strategy.(type) {
	case model.VideoServerMix:
		err = s.publishVideoToStore(ctx, rec, plan.selections[0], emit)
	case model.VideoIngest:
		err = s.publishVideoToIngest(ctx, rec, plan.selections[0], emit)
	case model.PhotoSet:
		err = s.publishPhotos(ctx, rec, plan.selections, emit)
	default:
		err = fmt.Errorf("unknown strategy %T", st)
	}
	if err != nil {
		s.log.Errorf("Publish FAILED: post=%s strategy=%s err=%v", rec.ID, strategy.Name(), err)
		return nil, err
	}

	rec.Caption = req.Caption
	rec.Tags = model.MergeTags(req.Tags, req.Caption)
	rec.Visibility = plan.visibility
	rec.AllowComments = boolOrDefault(req.AllowComments, true)
	if req.Mix.Requested {
		rec.Mix = req.Mix.Descriptor(needsServerMix(strategy))
	}

	emit(StageRecord, 0)
	if err := s.finalizer.Commit(ctx, rec, strategy, previous != nil); err != nil {
		s.log.Errorf("Publish FAILED: post=%s strategy=%s err=%v", rec.ID, strategy.Name(), err)
		return nil, err
	}
	emit(StageRecord, 100)

	s.afterCommit(ctx, rec, previous, plan, strategy)

	s.log.Infof("Publish OK: post=%s author=%s strategy=%s status=%s duration=%v",
		rec.ID, rec.AuthorID, strategy.Name(), rec.Status, time.Since(start))
	return &model.PublishResponse{Post: rec, Strategy: strategy.Name()}, nil
}

// validate runs every check that needs no I/O beyond the intake registry.
func (s *PublishService) validate(in PublishInput) (*publishPlan, error) {
	const op = "validate publish"
	req := in.Request

	if strings.TrimSpace(in.AuthorID) == "" {
		return nil, model.NewError(model.KindPermissionDenied, op, "missing author", nil)
	}
	if len(req.SelectionIDs) == 0 {
		return nil, model.Validationf(op, "no media selected")
	}

	plan := &publishPlan{}
	var videos, images int
	for _, id := range req.SelectionIDs {
		sel, err := s.selections.Get(in.AuthorID, id)
		if err != nil {
			return nil, fmt.Errorf("selection %s: %w", id, err)
		}
		switch sel.Kind {
		case model.MediaVideo:
			videos++
		case model.MediaImage:
			images++
		}
		plan.selections = append(plan.selections, sel)
	}

	switch {
	case videos > 0 && images > 0:
		return nil, model.Validationf(op, "a deed cannot mix videos and photos")
	case videos > 1:
		return nil, model.Validationf(op, "a deed carries exactly one video")
	case videos == 1:
		plan.kind = model.PostMediaVideo
		sel := plan.selections[0]
		if sel.DurationSeconds != nil && s.policy.MaxDuration > 0 &&
			time.Duration(*sel.DurationSeconds)*time.Second > s.policy.MaxDuration {
			return nil, model.Validationf(op, "video is %ds, limit is %ds",
				*sel.DurationSeconds, int(s.policy.MaxDuration.Seconds()))
		}
	default:
		plan.kind = model.PostMediaPhoto
		if images > 1 && !s.policy.AllowMultiPhoto {
			return nil, model.Validationf(op, "only one photo per deed is allowed")
		}
		if s.policy.MaxPhotoCount > 0 && images > s.policy.MaxPhotoCount {
			return nil, model.Validationf(op, "%d photos selected, limit is %d", images, s.policy.MaxPhotoCount)
		}
	}

	if utf8.RuneCountInString(req.Caption) > model.MaxPostCaptionLength {
		return nil, model.Validationf(op, "caption exceeds %d characters", model.MaxPostCaptionLength)
	}

	plan.visibility = req.Visibility
	if plan.visibility == "" {
		plan.visibility = model.VisibilityPublic
	}
	if !plan.visibility.Valid() {
		return nil, model.Validationf(op, "unknown visibility %q", req.Visibility)
	}

	if in.Audio != nil {
		ct := strings.ToLower(in.Audio.ContentType)
		if !strings.HasPrefix(ct, "audio/") {
			return nil, model.NewError(model.KindUnsupportedMedia, op,
				fmt.Sprintf("unsupported audio type %q", in.Audio.ContentType), nil)
		}
		if s.policy.MaxSizeBytes > 0 && in.Audio.Size > s.policy.MaxSizeBytes {
			return nil, model.NewError(model.KindTooLarge, op, "audio file too large", nil)
		}
	}

	if req.Mix.Requested && in.Audio == nil && (req.Music == nil || req.Music.URL == "") {
		return nil, model.Validationf(op, "server mix requires a music track")
	}
	return plan, nil
}

// begin writes the placeholder for a new deed, or resets an existing deed
// to processing when its media is being replaced. The second return value
// is the record as it was before an edit.
func (s *PublishService) begin(ctx context.Context, authorID, postID string, kind model.PostMediaKind) (*model.PostRecord, *model.PostRecord, error) {
	if postID == "" {
		id, err := s.finalizer.CreatePlaceholder(ctx, authorID, kind)
		if err != nil {
			return nil, nil, err
		}
		return &model.PostRecord{
			ID:        id,
			AuthorID:  authorID,
			MediaKind: kind,
			Status:    model.PlaceholderStatus(kind),
		}, nil, nil
	}

	existing, err := s.finalizer.Get(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	if existing.AuthorID != authorID {
		return nil, nil, model.NewError(model.KindPermissionDenied, "edit deed", "", model.ErrNotPostOwner)
	}
	if existing.Status == model.StatusDeleted {
		return nil, nil, model.ErrPostNotFound
	}
	if existing.MediaKind != kind {
		return nil, nil, model.Validationf("edit deed", "media kind cannot change from %s to %s", existing.MediaKind, kind)
	}

	if _, err := s.finalizer.Transition(ctx, postID, model.StatusProcessing, nil); err != nil {
		return nil, nil, err
	}
	return &model.PostRecord{
		ID:        postID,
		AuthorID:  authorID,
		MediaKind: kind,
		Status:    model.StatusProcessing,
		CreatedAt: existing.CreatedAt,
	}, existing, nil
}

func (s *PublishService) locate(ctx context.Context, req model.PublishRequest) *model.GeoPoint {
	geo, err := s.geo.Locate(ctx, req)
	if err != nil {
		s.log.Warnf("Locate FAILED (ignored): err=%v", err)
		return nil
	}
	return geo
}

// resolveMusic uploads a local audio file first. A failed upload leaves
// the track without a URL, which rules out a server mix.
func (s *PublishService) resolveMusic(ctx context.Context, rec *model.PostRecord, in PublishInput, emit ProgressFunc) *model.MusicDescriptor {
	var music *model.MusicDescriptor
	if in.Request.Music != nil {
		m := *in.Request.Music
		music = &m
	}
	if in.Audio == nil {
		return music
	}

	ext := fileExt(in.Audio.FileName, in.Audio.ContentType, ".m4a")
	objPath := audioPath(rec.AuthorID, rec.ID, ext)
	obj, err := s.putObject(ctx, StageAudio, objPath, in.Audio.ContentType, in.Audio.Body, in.Audio.Size, emit)
	if err != nil {
		s.log.Warnf("Audio upload FAILED (ignored): post=%s err=%v", rec.ID, err)
		if music != nil {
			music.URL = ""
			music.StoragePath = ""
		}
		return music
	}

	if music == nil {
		music = &model.MusicDescriptor{
			Title: strings.TrimSuffix(path.Base(in.Audio.FileName), path.Ext(in.Audio.FileName)),
		}
	}
	if music.Source == "" {
		music.Source = "local"
	}
	music.URL = obj.PublicURL
	music.StoragePath = obj.InternalPath
	return music
}

// publishVideoToStore uploads the raw video to the object store for the
// mix worker.
func (s *PublishService) publishVideoToStore(ctx context.Context, rec *model.PostRecord, sel *model.MediaSelection, emit ProgressFunc) error {
	f, err := s.selections.Open(rec.AuthorID, sel.ID)
	if err != nil {
		return model.Transport("open video", err)
	}
	defer f.Close()

	objPath := rawVideoPath(rec.AuthorID, rec.ID, fileExt(sel.FileName, sel.ContentType, ".mp4"))
	obj, err := s.putObject(ctx, StageMedia, objPath, sel.ContentType, f, sel.SizeBytes, emit)
	if err != nil {
		return model.Transport("upload video", err)
	}

	item := videoItem(sel)
	item.URL = obj.PublicURL
	item.StoragePath = obj.InternalPath
	rec.Media = []model.MediaItem{item}

	return s.uploadCover(ctx, rec, sel, emit)
}

// publishVideoToIngest hands the raw video to the ingest service, whose
// webhook later completes the record.
func (s *PublishService) publishVideoToIngest(ctx context.Context, rec *model.PostRecord, sel *model.MediaSelection, emit ProgressFunc) error {
	if s.ingest == nil {
		return model.Transport("upload video", errors.New("ingest service not configured"))
	}

	target, err := s.ingest.CreateUploadTarget(ctx, ingest.Passthrough{PostID: rec.ID, AuthorID: rec.AuthorID})
	if err != nil {
		return model.Transport("create upload target", err)
	}

	f, err := s.selections.Open(rec.AuthorID, sel.ID)
	if err != nil {
		return model.Transport("open video", err)
	}
	defer f.Close()

	_, err = s.runUpload(ctx, StageMedia, TargetIngest, target.UploadURL, sel.SizeBytes, emit,
		func(ctx context.Context, onProgress storage.ProgressFunc) (*storage.Object, error) {
			if err := s.ingest.UploadBytes(ctx, target.UploadURL, f, sel.SizeBytes, onProgress); err != nil {
				return nil, err
			}
			return &storage.Object{InternalPath: target.UploadID}, nil
		})
	if err != nil {
		return model.Transport("upload video", err)
	}

	item := videoItem(sel)
	item.IngestUploadID = target.UploadID
	rec.Media = []model.MediaItem{item}
	rec.IngestUploadID = target.UploadID

	return s.uploadCover(ctx, rec, sel, emit)
}

// uploadCover stores the active cover. A selection without a cover
// publishes without a thumbnail; a failed upload aborts the attempt.
func (s *PublishService) uploadCover(ctx context.Context, rec *model.PostRecord, sel *model.MediaSelection, emit ProgressFunc) error {
	cover, err := s.selections.Cover(rec.AuthorID, sel.ID)
	if err != nil {
		return fmt.Errorf("get cover: %w", err)
	}
	if cover == nil || len(cover.ImageData) == 0 {
		s.log.Infof("No cover: post=%s selection=%s", rec.ID, sel.ID)
		return nil
	}

	objPath := thumbPath(rec.AuthorID, rec.ID)
	obj, err := s.putObject(ctx, StageThumbnail, objPath, model.ContentTypeJPEG,
		bytes.NewReader(cover.ImageData), int64(len(cover.ImageData)), emit)
	if err != nil {
		return model.Transport("upload thumbnail", err)
	}

	rec.MediaThumbURL = obj.PublicURL
	rec.MediaThumbPath = obj.InternalPath
	if len(rec.Media) > 0 {
		rec.Media[0].ThumbURL = obj.PublicURL
	}
	return nil
}

// publishPhotos uploads small then full variants per image in order. The
// first small variant doubles as the deed thumbnail.
func (s *PublishService) publishPhotos(ctx context.Context, rec *model.PostRecord, sels []*model.MediaSelection, emit ProgressFunc) error {
	items := make([]model.MediaItem, 0, len(sels))
	for i, sel := range sels {
		data, err := s.readSelection(rec.AuthorID, sel.ID)
		if err != nil {
			return model.Transport("read photo", err)
		}

		v, err := media.DeriveVariants(data)
		if err != nil {
			return model.NewError(model.KindDecodeFailure, "derive photo variants", "", err)
		}

		small, err := s.putObject(ctx, StageMedia, photoPath(rec.AuthorID, rec.ID, i, "small"), model.ContentTypeJPEG,
			bytes.NewReader(v.Small), int64(len(v.Small)), emit)
		if err != nil {
			return model.Transport("upload photo", err)
		}
		full, err := s.putObject(ctx, StageMedia, photoPath(rec.AuthorID, rec.ID, i, "full"), model.ContentTypeJPEG,
			bytes.NewReader(v.Full), int64(len(v.Full)), emit)
		if err != nil {
			return model.Transport("upload photo", err)
		}

		w, h := v.Width, v.Height
		items = append(items, model.MediaItem{
			Kind:        model.PostMediaPhoto,
			Width:       &w,
			Height:      &h,
			ThumbURL:    small.PublicURL,
			URL:         full.PublicURL,
			StoragePath: full.InternalPath,
			SmallURL:    small.PublicURL,
			SmallPath:   small.InternalPath,
			Preview:     v.Preview,
		})
	}

	rec.Media = items
	rec.MediaThumbURL = items[0].SmallURL
	rec.MediaThumbPath = items[0].SmallPath
	return nil
}

// afterCommit runs the best-effort steps that follow a committed write.
func (s *PublishService) afterCommit(ctx context.Context, rec, previous *model.PostRecord, plan *publishPlan, strategy model.Strategy) {
	for _, sel := range plan.selections {
		s.selections.Release(rec.AuthorID, sel.ID)
	}

	if previous != nil {
		stale := subtractPaths(previous.StoragePaths(), rec.StoragePaths())
		assetID, uploadID := previous.IngestAssetID, previous.IngestUploadID
		if uploadID == rec.IngestUploadID {
			uploadID = ""
		}
		deleteAll(ctx, s.objects, s.ingest, stale, assetID, uploadID, s.log)
	}

	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, queue.StreamDeeds, queue.NewPostPublishedEvent(rec.ID, rec.AuthorID, strategy.Name())); err != nil {
		s.log.Warnf("Publish event FAILED (ignored): post=%s err=%v", rec.ID, err)
	}
	if needsServerMix(strategy) {
		if _, err := s.publisher.Publish(ctx, queue.StreamDeeds, queue.NewMixRequestedEvent(rec.ID, rec.AuthorID)); err != nil {
			s.log.Warnf("Mix event FAILED (ignored): post=%s err=%v", rec.ID, err)
		}
	}
}

func (s *PublishService) readSelection(authorID, id string) ([]byte, error) {
	f, err := s.selections.Open(authorID, id)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *PublishService) putObject(ctx context.Context, stage, objPath, contentType string, r io.Reader, size int64, emit ProgressFunc) (*storage.Object, error) {
	return s.runUpload(ctx, stage, TargetObjectStore, objPath, size, emit,
		func(ctx context.Context, onProgress storage.ProgressFunc) (*storage.Object, error) {
			return s.objects.UploadResumable(ctx, objPath, contentType, r, size, onProgress)
		})
}

func (s *PublishService) runUpload(ctx context.Context, stage, target, objPath string, size int64, emit ProgressFunc, fn UploadFunc) (*storage.Object, error) {
	task := StartUpload(ctx, target, objPath, size, fn)
	for p := range task.Progress() {
		emit(stage, p)
	}
	return task.Wait()
}

// emitter forwards progress to the caller and mirrors it to the cache. A
// cache failure is logged once per attempt and never stops the publish.
func (s *PublishService) emitter(ctx context.Context, postID string, fn ProgressFunc) ProgressFunc {
	var warnOnce sync.Once
	return func(stage string, percent int) {
		if fn != nil {
			fn(stage, percent)
		}
		if s.progress == nil {
			return
		}
		if err := s.progress.Set(ctx, postID, stage, percent); err != nil {
			warnOnce.Do(func() {
				s.log.Debugf("Progress mirror FAILED (ignored): post=%s stage=%s err=%v", postID, stage, err)
			})
		}
	}
}

func (s *PublishService) resetProgress(ctx context.Context, postID string) {
	if s.progress == nil {
		return
	}
	if err := s.progress.ResetAfter(context.WithoutCancel(ctx), postID, s.resetDelay); err != nil {
		s.log.Warnf("Progress reset FAILED: post=%s err=%v", postID, err)
	}
}

func needsServerMix(strategy model.Strategy) bool {
	status, ok := strategy.FinalStatus()
	return ok && status == model.StatusMixing
}

func videoItem(sel *model.MediaSelection) model.MediaItem {
	return model.MediaItem{
		Kind:            model.PostMediaVideo,
		Width:           sel.Width,
		Height:          sel.Height,
		DurationSeconds: sel.DurationSeconds,
	}
}

func boolOrDefault(b *bool, def bool) *bool {
	if b != nil {
		v := *b
		return &v
	}
	return &def
}

// Object paths are scoped to the author and deed.
func deedPrefix(authorID, postID string) string {
	return path.Join(model.DeedsFolder, authorID, postID)
}

func rawVideoPath(authorID, postID, ext string) string {
	return deedPrefix(authorID, postID) + "/video/raw" + ext
}

func thumbPath(authorID, postID string) string {
	return deedPrefix(authorID, postID) + "/thumb.jpg"
}

func audioPath(authorID, postID, ext string) string {
	return deedPrefix(authorID, postID) + "/audio/track" + ext
}

func photoPath(authorID, postID string, index int, variant string) string {
	return fmt.Sprintf("%s/photos/%d_%s.jpg", deedPrefix(authorID, postID), index, variant)
}

func fileExt(fileName, contentType, fallback string) string {
	if ext := strings.ToLower(path.Ext(fileName)); len(ext) > 1 && len(ext) <= 6 {
		return ext
	}
	if m := mimetype.Lookup(contentType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return fallback
}
