package docstore

import (
	"context"

	"deedstudio/internal/model"
)

// Store is the document store holding deed records. Updates merge into the
// stored document: keys absent from fields are left untouched.
type Store interface {
	CreatePlaceholder(ctx context.Context, fields map[string]any) (string, error)
	UpdateRecord(ctx context.Context, id string, fields map[string]any) error
	GetRecord(ctx context.Context, id string) (*model.PostRecord, error)
}
