package docstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"deedstudio/internal/model"
)

// FirestoreStore keeps deed records in a Firestore collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	log        *logrus.Entry
}

// NewFirestoreStore opens Firestore through the Firebase app.
func NewFirestoreStore(ctx context.Context, app *firebase.App, collection string, log *logrus.Entry) (*FirestoreStore, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("get firestore client: %w", err)
	}
	if collection == "" {
		collection = "deeds"
	}
	log.Infof("Firestore initialized: collection=%s", collection)
	return &FirestoreStore{client: client, collection: collection, log: log}, nil
}

// CreatePlaceholder writes a new document with a generated id.
func (s *FirestoreStore) CreatePlaceholder(ctx context.Context, fields map[string]any) (string, error) {
	ref := s.client.Collection(s.collection).NewDoc()
	if _, err := ref.Create(ctx, model.Prune(fields)); err != nil {
		s.log.Errorf("CreatePlaceholder FAILED: err=%v", err)
		return "", fmt.Errorf("create placeholder: %w", err)
	}
	s.log.Debugf("CreatePlaceholder OK: id=%s", ref.ID)
	return ref.ID, nil
}

// UpdateRecord merges fields into the document. Only pruned keys are sent;
// keys set to model.Remove are deleted.
func (s *FirestoreStore) UpdateRecord(ctx context.Context, id string, fields map[string]any) error {
	patch := model.Prune(fields)
	if len(patch) == 0 {
		return nil
	}
	for k, v := range patch {
		if model.IsRemove(v) {
			patch[k] = firestore.Delete
		}
	}
	_, err := s.client.Collection(s.collection).Doc(id).Set(ctx, patch, firestore.MergeAll)
	if err != nil {
		s.log.Errorf("UpdateRecord FAILED: id=%s err=%v", id, err)
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

// GetRecord loads a document into a PostRecord.
func (s *FirestoreStore) GetRecord(ctx context.Context, id string) (*model.PostRecord, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, model.ErrPostNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}

	var rec model.PostRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	rec.ID = snap.Ref.ID
	return &rec, nil
}

// Close releases the Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
