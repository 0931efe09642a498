package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deedstudio/internal/model"
	"deedstudio/internal/queue"
)

var fakeCover = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type publishFixture struct {
	selections *fakeSelections
	objects    *fakeObjects
	ingest     *fakeIngest
	docs       *memDocs
	publisher  *fakePublisher
	progress   *progressLog
	svc        *PublishService
}

func newPublishFixture(t *testing.T, policy model.UploadPolicy) *publishFixture {
	f := &publishFixture{
		selections: newFakeSelections(),
		objects:    &fakeObjects{},
		ingest:     &fakeIngest{},
		docs:       newMemDocs(t),
		publisher:  &fakePublisher{},
		progress:   newProgressLog(),
	}
	f.svc = NewPublishService(f.selections, f.objects, f.ingest, NewFinalizer(f.docs, quietLog()), nil, policy, quietLog())
	f.svc.SetPublisher(f.publisher)
	return f
}

func (f *publishFixture) publish(in PublishInput) (*model.PublishResponse, error) {
	return f.svc.Publish(context.Background(), in, f.progress.emit)
}

// =============================================================================
// PUBLISH SCENARIOS
// =============================================================================

func TestPublish_VideoWithoutMixGoesToIngest(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.selections.addVideo("sel-v", 45, fakeCover)

	resp, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request: model.PublishRequest{
			SelectionIDs: []string{"sel-v"},
			Caption:      "Planting #Maize with the co-op",
			Tags:         []string{"farm"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.VideoIngest{}.Name(), resp.Strategy)

	require.Len(t, f.ingest.createCalls, 1)
	assert.Equal(t, resp.Post.ID, f.ingest.createCalls[0].PostID)
	assert.Equal(t, "author-1", f.ingest.createCalls[0].AuthorID)
	assert.Len(t, f.ingest.uploadCalls, 1)

	// The only object-store upload is the thumbnail.
	require.Len(t, f.objects.uploads, 1)
	assert.True(t, strings.HasSuffix(f.objects.uploads[0], "/thumb.jpg"))

	rec := f.docs.record(resp.Post.ID)
	require.Len(t, rec.Media, 1)
	assert.Equal(t, "up_1", rec.IngestUploadID)
	assert.Equal(t, []string{"farm", "maize"}, rec.Tags)
	assert.NotEqual(t, model.StatusReady, rec.Status)
	assert.Equal(t, model.StatusUploading, rec.Status)
	assert.NotEmpty(t, rec.MediaThumbURL)
	assert.Equal(t, model.VisibilityPublic, rec.Visibility)
	require.NotNil(t, rec.AllowComments)
	assert.True(t, *rec.AllowComments)

	assert.Equal(t, []string{"sel-v"}, f.selections.released)
	assert.Equal(t, []string{queue.EventPostPublished}, f.publisher.types())
}

func TestPublish_ThreePhotos(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	for _, id := range []string{"a", "b", "c"} {
		f.selections.addImage(t, id)
	}

	resp, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request:  model.PublishRequest{SelectionIDs: []string{"a", "b", "c"}},
	})
	require.NoError(t, err)

	require.Len(t, f.objects.uploads, 6)
	assert.True(t, strings.HasSuffix(f.objects.uploads[0], "/photos/0_small.jpg"))
	assert.True(t, strings.HasSuffix(f.objects.uploads[1], "/photos/0_full.jpg"))
	assert.True(t, strings.HasSuffix(f.objects.uploads[5], "/photos/2_full.jpg"))
	assert.Empty(t, f.ingest.createCalls)

	rec := f.docs.record(resp.Post.ID)
	require.Len(t, rec.Media, 3)
	assert.Equal(t, rec.Media[0].SmallURL, rec.MediaThumbURL)
	assert.Equal(t, model.StatusReady, rec.Status)
	for _, item := range rec.Media {
		require.NotNil(t, item.Width)
		assert.Equal(t, 64, *item.Width)
		assert.True(t, strings.HasPrefix(item.Preview, "data:image/jpeg;base64,"))
	}
}

func TestPublish_VideoOverCapFailsBeforeAnyIO(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.selections.addVideo("sel-v", 95, fakeCover)

	_, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request:  model.PublishRequest{SelectionIDs: []string{"sel-v"}},
	})
	require.Error(t, err)
	assert.Equal(t, model.KindValidationFailure, model.KindOf(err))

	assert.Empty(t, f.docs.docs, "no placeholder may be written")
	assert.Empty(t, f.objects.uploads)
	assert.Empty(t, f.ingest.createCalls)
}

func TestPublish_VideoWithMusicAndMixUploadsRawForServerMix(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.selections.addVideo("sel-v", 30, fakeCover)

	audio := []byte("ID3 fake audio payload")
	resp, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request: model.PublishRequest{
			SelectionIDs: []string{"sel-v"},
			Mix:          model.MixPreferences{Requested: true, MusicGainDB: -3, Ducking: true},
		},
		Audio: &AudioInput{
			FileName:    "beat.mp3",
			ContentType: "audio/mpeg",
			Size:        int64(len(audio)),
			Body:        bytes.NewReader(audio),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.VideoServerMix{}.Name(), resp.Strategy)

	require.Len(t, f.objects.uploads, 3)
	assert.True(t, strings.HasSuffix(f.objects.uploads[0], "/audio/track.mp3"))
	assert.True(t, strings.HasSuffix(f.objects.uploads[1], "/video/raw.mp4"))
	assert.True(t, strings.HasSuffix(f.objects.uploads[2], "/thumb.jpg"))
	assert.Empty(t, f.ingest.createCalls)

	rec := f.docs.record(resp.Post.ID)
	assert.Equal(t, model.StatusMixing, rec.Status)
	require.NotNil(t, rec.Mix)
	assert.True(t, rec.Mix.NeedsServerMix)
	require.NotNil(t, rec.Music)
	assert.Equal(t, "local", rec.Music.Source)
	assert.Equal(t, "beat", rec.Music.Title)
	assert.NotEmpty(t, rec.Music.URL)

	assert.Equal(t, []string{StageAudio, StageMedia, StageThumbnail, StageRecord}, f.progress.stages)
	assert.Equal(t, []string{queue.EventPostPublished, queue.EventMixRequested}, f.publisher.types())
}

func TestPublish_FailedAudioFallsBackToIngest(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.selections.addVideo("sel-v", 30, fakeCover)
	f.objects.uploadFn = func(path string) error {
		if strings.Contains(path, "/audio/") {
			return errors.New("bucket unavailable")
		}
		return nil
	}

	resp, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request: model.PublishRequest{
			SelectionIDs: []string{"sel-v"},
			Mix:          model.MixPreferences{Requested: true},
		},
		Audio: &AudioInput{FileName: "beat.mp3", ContentType: "audio/mpeg", Size: 3, Body: strings.NewReader("abc")},
	})
	require.NoError(t, err)
	assert.Equal(t, model.VideoIngest{}.Name(), resp.Strategy)
	assert.Len(t, f.ingest.createCalls, 1)

	rec := f.docs.record(resp.Post.ID)
	require.NotNil(t, rec.Mix)
	assert.False(t, rec.Mix.NeedsServerMix)
}

func TestPublish_PrimaryFailureSkipsThumbnail(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.selections.addVideo("sel-v", 20, fakeCover)
	f.ingest.uploadFn = func() error { return errors.New("connection reset") }

	_, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request:  model.PublishRequest{SelectionIDs: []string{"sel-v"}},
	})
	require.Error(t, err)
	assert.Equal(t, model.KindTransportFailure, model.KindOf(err))

	assert.Empty(t, f.objects.uploads, "thumbnail must not be uploaded")
	assert.Empty(t, f.selections.released, "selection stays available for a retry")
	assert.Empty(t, f.publisher.events)

	rec := f.docs.record("post-1")
	assert.NotEqual(t, model.StatusReady, rec.Status)
	assert.NotContains(t, f.progress.values[StageMedia], 100)
}

func TestPublish_ProgressEndsAt100PerStage(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.selections.addVideo("sel-v", 10, fakeCover)

	_, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request:  model.PublishRequest{SelectionIDs: []string{"sel-v"}},
	})
	require.NoError(t, err)

	for _, stage := range []string{StageMedia, StageThumbnail} {
		values := f.progress.values[stage]
		require.NotEmpty(t, values, stage)
		for i := 1; i < len(values); i++ {
			assert.GreaterOrEqual(t, values[i], values[i-1], stage)
		}
		assert.Equal(t, 100, values[len(values)-1], stage)
	}
}

func TestPublish_NoCoverPublishesWithoutThumbnail(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.selections.addVideo("sel-v", 10, nil)

	resp, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request:  model.PublishRequest{SelectionIDs: []string{"sel-v"}},
	})
	require.NoError(t, err)
	assert.Empty(t, f.objects.uploads)
	assert.Empty(t, f.docs.record(resp.Post.ID).MediaThumbURL)
}

func TestPublish_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		policy func(*model.UploadPolicy)
		setup  func(t *testing.T, s *fakeSelections)
		in     PublishInput
		kind   model.ErrorKind
	}{
		{
			name: "no selections",
			in:   PublishInput{AuthorID: "a"},
			kind: model.KindValidationFailure,
		},
		{
			name: "missing author",
			in:   PublishInput{Request: model.PublishRequest{SelectionIDs: []string{"x"}}},
			kind: model.KindPermissionDenied,
		},
		{
			name: "mixed kinds",
			setup: func(t *testing.T, s *fakeSelections) {
				s.addVideo("v", 5, nil)
				s.addImage(t, "i")
			},
			in:   PublishInput{AuthorID: "a", Request: model.PublishRequest{SelectionIDs: []string{"v", "i"}}},
			kind: model.KindValidationFailure,
		},
		{
			name:   "multi photo disabled",
			policy: func(p *model.UploadPolicy) { p.AllowMultiPhoto = false },
			setup: func(t *testing.T, s *fakeSelections) {
				s.addImage(t, "i1")
				s.addImage(t, "i2")
			},
			in:   PublishInput{AuthorID: "a", Request: model.PublishRequest{SelectionIDs: []string{"i1", "i2"}}},
			kind: model.KindValidationFailure,
		},
		{
			name: "bad visibility",
			setup: func(t *testing.T, s *fakeSelections) {
				s.addImage(t, "i")
			},
			in:   PublishInput{AuthorID: "a", Request: model.PublishRequest{SelectionIDs: []string{"i"}, Visibility: "everyone"}},
			kind: model.KindValidationFailure,
		},
		{
			name: "audio is not audio",
			setup: func(t *testing.T, s *fakeSelections) {
				s.addVideo("v", 5, nil)
			},
			in: PublishInput{
				AuthorID: "a",
				Request:  model.PublishRequest{SelectionIDs: []string{"v"}},
				Audio:    &AudioInput{FileName: "x.txt", ContentType: "text/plain", Size: 1, Body: strings.NewReader("x")},
			},
			kind: model.KindUnsupportedMedia,
		},
		{
			name: "mix without music",
			setup: func(t *testing.T, s *fakeSelections) {
				s.addVideo("v", 5, nil)
			},
			in: PublishInput{
				AuthorID: "a",
				Request:  model.PublishRequest{SelectionIDs: []string{"v"}, Mix: model.MixPreferences{Requested: true}},
			},
			kind: model.KindValidationFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := model.DefaultUploadPolicy()
			if tt.policy != nil {
				tt.policy(&policy)
			}
			f := newPublishFixture(t, policy)
			if tt.setup != nil {
				tt.setup(t, f.selections)
			}

			_, err := f.publish(tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, model.KindOf(err))
			assert.Empty(t, f.docs.docs)
		})
	}
}

func TestPublish_UnknownSelection(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	_, err := f.publish(PublishInput{AuthorID: "a", Request: model.PublishRequest{SelectionIDs: []string{"ghost"}}})
	assert.ErrorIs(t, err, model.ErrSelectionNotFound)
}

// =============================================================================
// EDIT THROUGH PUBLISH
// =============================================================================

func TestPublish_EditReplacesMediaAndDeletesStalePaths(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.selections.addImage(t, "new")

	f.docs.seed(model.PostRecord{
		ID:        "post-9",
		AuthorID:  "author-1",
		MediaKind: model.PostMediaPhoto,
		Status:    model.StatusReady,
		Media: []model.MediaItem{
			{Kind: model.PostMediaPhoto, StoragePath: "deeds/author-1/post-9/photos/0_full.jpg", SmallPath: "deeds/author-1/post-9/photos/0_small.jpg"},
			{Kind: model.PostMediaPhoto, StoragePath: "deeds/author-1/post-9/photos/1_full.jpg", SmallPath: "deeds/author-1/post-9/photos/1_small.jpg"},
		},
		MediaThumbPath: "deeds/author-1/post-9/photos/0_small.jpg",
	})

	resp, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request:  model.PublishRequest{PostID: "post-9", SelectionIDs: []string{"new"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "post-9", resp.Post.ID)

	rec := f.docs.record("post-9")
	assert.Equal(t, model.StatusReady, rec.Status)
	assert.ElementsMatch(t, []string{
		"deeds/author-1/post-9/photos/1_full.jpg",
		"deeds/author-1/post-9/photos/1_small.jpg",
	}, f.objects.deletes)
}

func TestPublish_EditWithoutMusicClearsMusicAndMix(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.selections.addImage(t, "new")

	f.docs.seed(model.PostRecord{
		ID:        "post-9",
		AuthorID:  "author-1",
		MediaKind: model.PostMediaPhoto,
		Status:    model.StatusMixing,
		Media: []model.MediaItem{
			{Kind: model.PostMediaPhoto, StoragePath: "deeds/author-1/post-9/photos/0_full.jpg", SmallPath: "deeds/author-1/post-9/photos/0_small.jpg"},
		},
		Music: &model.MusicDescriptor{
			Title:       "track",
			Source:      "local",
			URL:         "https://cdn.test/deeds/author-1/post-9/audio/track.m4a",
			StoragePath: "deeds/author-1/post-9/audio/track.m4a",
		},
		Mix: &model.MixDescriptor{NeedsServerMix: true},
	})

	_, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request:  model.PublishRequest{PostID: "post-9", SelectionIDs: []string{"new"}},
	})
	require.NoError(t, err)

	rec := f.docs.record("post-9")
	assert.Equal(t, model.StatusReady, rec.Status)
	assert.Nil(t, rec.Music)
	assert.Nil(t, rec.Mix)
	assert.NoError(t, rec.Validate())
	assert.Contains(t, f.objects.deletes, "deeds/author-1/post-9/audio/track.m4a")
}

func TestPublish_EditFromIngestToServerMixClearsIngestIDs(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.selections.addVideo("sel-v", 20, fakeCover)

	f.docs.seed(model.PostRecord{
		ID:             "post-9",
		AuthorID:       "author-1",
		MediaKind:      model.PostMediaVideo,
		Status:         model.StatusReady,
		Media:          []model.MediaItem{{Kind: model.PostMediaVideo, IngestUploadID: "up_old"}},
		MediaThumbPath: "deeds/author-1/post-9/thumb.jpg",
		IngestUploadID: "up_old",
		IngestAssetID:  "asset-old",
		PlaybackID:     "pb-old",
	})

	_, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request: model.PublishRequest{
			PostID:       "post-9",
			SelectionIDs: []string{"sel-v"},
			Music:        &model.MusicDescriptor{Title: "Rain", Source: "library", URL: "https://music.test/rain.mp3"},
			Mix:          model.MixPreferences{Requested: true},
		},
	})
	require.NoError(t, err)

	rec := f.docs.record("post-9")
	assert.Equal(t, model.StatusMixing, rec.Status)
	assert.Empty(t, rec.IngestUploadID)
	assert.Empty(t, rec.IngestAssetID)
	assert.Empty(t, rec.PlaybackID)
	assert.Equal(t, []string{"asset-old"}, f.ingest.deletedAssets)
	assert.Empty(t, f.ingest.cancelled)
}

func TestPublish_EditByOtherAuthorIsDenied(t *testing.T) {
	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.selections.addImage(t, "new")
	f.docs.seed(model.PostRecord{ID: "post-9", AuthorID: "owner", MediaKind: model.PostMediaPhoto, Status: model.StatusReady})

	_, err := f.publish(PublishInput{
		AuthorID: "intruder",
		Request:  model.PublishRequest{PostID: "post-9", SelectionIDs: []string{"new"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotPostOwner)
	assert.Equal(t, model.KindPermissionDenied, model.KindOf(err))
	assert.Empty(t, f.objects.uploads)
	assert.Equal(t, model.StatusReady, f.docs.record("post-9").Status)
}

type failingProgressCache struct {
	sets   int
	resets int
}

func (c *failingProgressCache) Set(ctx context.Context, postID, stage string, percent int) error {
	c.sets++
	return errors.New("redis: connection refused")
}

func (c *failingProgressCache) ResetAfter(ctx context.Context, postID string, delay time.Duration) error {
	c.resets++
	return nil
}

func (c *failingProgressCache) Get(ctx context.Context, postID string) (*model.ProgressResponse, error) {
	return &model.ProgressResponse{PostID: postID}, nil
}

func TestPublish_ProgressMirrorFailureLoggedOnce(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := newPublishFixture(t, model.DefaultUploadPolicy())
	f.svc.log = logrus.NewEntry(logger)
	pc := &failingProgressCache{}
	f.svc.SetProgressCache(pc, time.Millisecond)
	f.selections.addImage(t, "a")
	f.selections.addImage(t, "b")

	_, err := f.publish(PublishInput{
		AuthorID: "author-1",
		Request:  model.PublishRequest{SelectionIDs: []string{"a", "b"}},
	})
	require.NoError(t, err)

	assert.Greater(t, pc.sets, 1)
	assert.Equal(t, 1, pc.resets)

	warnings := 0
	for _, e := range hook.AllEntries() {
		if strings.Contains(e.Message, "Progress mirror FAILED") {
			warnings++
			assert.Equal(t, logrus.DebugLevel, e.Level)
		}
	}
	assert.Equal(t, 1, warnings)
}
