package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"deedstudio/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS deeds (
	id         UUID PRIMARY KEY,
	doc        JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_deeds_author ON deeds ((doc->>'authorId'));
`

// PostgresStore keeps deed records as schemaless JSONB documents.
// Top-level keys merge with the || operator and model.Remove keys are
// dropped with the - operator; nested objects are replaced wholesale.
type PostgresStore struct {
	db  *sqlx.DB
	log *logrus.Entry
}

func NewPostgresStore(db *sqlx.DB, log *logrus.Entry) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// EnsureSchema creates the deeds table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure deeds schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePlaceholder(ctx context.Context, fields map[string]any) (string, error) {
	doc, err := json.Marshal(model.Prune(fields))
	if err != nil {
		return "", fmt.Errorf("marshal placeholder: %w", err)
	}

	id := uuid.NewString()
	query := `INSERT INTO deeds (id, doc) VALUES ($1, $2::jsonb)`
	if _, err := s.db.ExecContext(ctx, query, id, string(doc)); err != nil {
		s.log.Errorf("CreatePlaceholder FAILED: err=%v", err)
		return "", fmt.Errorf("create placeholder: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateRecord(ctx context.Context, id string, fields map[string]any) error {
	patch := model.Prune(fields)
	if len(patch) == 0 {
		return nil
	}
	drop := []string{}
	for k, v := range patch {
		if model.IsRemove(v) {
			drop = append(drop, k)
			delete(patch, k)
		}
	}
	doc, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}

	query := `UPDATE deeds SET doc = (doc - $3::text[]) || $2::jsonb, updated_at = NOW() WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, string(doc), pq.Array(drop))
	if err != nil {
		s.log.Errorf("UpdateRecord FAILED: id=%s err=%v", id, err)
		return fmt.Errorf("update record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if rows == 0 {
		return model.ErrPostNotFound
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.PostRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.ErrPostNotFound
	}

	var doc []byte
	err := s.db.GetContext(ctx, &doc, `SELECT doc FROM deeds WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrPostNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}

	var rec model.PostRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	rec.ID = id
	return &rec, nil
}
