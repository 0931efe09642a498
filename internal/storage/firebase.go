package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"deedstudio/internal/model"
)

// resumableChunkSize is the GCS resumable-upload chunk; progress callbacks
// fire once per chunk.
const resumableChunkSize = 8 * 1024 * 1024

// FirebaseStore uploads to the Firebase Storage bucket with the GCS
// resumable upload protocol.
type FirebaseStore struct {
	bucket     *gcs.BucketHandle
	bucketName string
	log        *logrus.Entry
}

// NewFirebaseStore opens the bucket through the Firebase app.
func NewFirebaseStore(ctx context.Context, app *firebase.App, bucketName string, log *logrus.Entry) (*FirebaseStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("missing Firebase storage bucket")
	}
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("get storage client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketName, err)
	}
	log.Infof("Firebase storage initialized: bucket=%s", bucketName)
	return &FirebaseStore{bucket: bucket, bucketName: bucketName, log: log}, nil
}

// UploadResumable writes r to path in chunks. The returned URL is a
// Firebase download URL bound to a fresh download token.
func (s *FirebaseStore) UploadResumable(ctx context.Context, path, contentType string, r io.Reader, size int64, onProgress ProgressFunc) (*Object, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := NewTracker(size, onProgress)
	token := uuid.NewString()

	w := s.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = model.ObjectCacheControl
	w.ChunkSize = resumableChunkSize
	w.Metadata = map[string]string{"firebaseStorageDownloadTokens": token}
	w.ProgressFunc = tracker.Update

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		s.log.Errorf("Upload FAILED: path=%s err=%v", path, err)
		return nil, fmt.Errorf("failed to upload to firebase storage: %w", err)
	}
	if err := w.Close(); err != nil {
		s.log.Errorf("Upload FAILED: path=%s err=%v", path, err)
		return nil, fmt.Errorf("failed to finalize firebase upload: %w", err)
	}
	tracker.Complete()

	s.log.Debugf("Upload OK: path=%s bytes=%d", path, size)
	return &Object{PublicURL: s.downloadURL(path, token), InternalPath: path}, nil
}

func (s *FirebaseStore) downloadURL(path, token string) string {
	return fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media&token=%s",
		s.bucketName, url.PathEscape(path), token)
}

// Delete removes an object; a missing object counts as deleted.
func (s *FirebaseStore) Delete(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	err := s.bucket.Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from firebase storage: %w", err)
	}
	return nil
}
