// Package app builds the collaborators shared by cmd/server and cmd/worker
// from the loaded configuration.
package app

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/sirupsen/logrus"

	"deedstudio/internal/config"
	"deedstudio/internal/database"
	"deedstudio/internal/docstore"
	"deedstudio/internal/firebaseapp"
	"deedstudio/internal/logger"
	"deedstudio/internal/redis"
	"deedstudio/internal/storage"
)

// Deps holds the backends both binaries talk to. Close releases them.
type Deps struct {
	Firebase *firebase.App // nil unless a Firebase backend is configured
	Docs     docstore.Store
	Redis    *redis.Client

	closers []func() error
}

// Open connects every backend named by cfg. Redis is mandatory for both
// binaries; it carries progress and the event streams.
func Open(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*Deps, error) {
	d := &Deps{}

	if cfg.NeedsFirebase() {
		fb, err := firebaseapp.New(ctx, firebaseapp.Credentials{
			ProjectID:     cfg.FirebaseProjectID,
			ClientEmail:   cfg.FirebaseClientEmail,
			PrivateKey:    cfg.FirebasePrivateKey,
			StorageBucket: cfg.FirebaseStorageBucket,
		})
		if err != nil {
			return nil, err
		}
		d.Firebase = fb
	}

	switch cfg.DocStore {
	case config.DocStorePostgres:
		db, err := database.Connect(cfg, logger.Component(log, "database"))
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, db.Close)
		pg := docstore.NewPostgresStore(db, logger.Component(log, "docstore"))
		if err := pg.EnsureSchema(ctx); err != nil {
			d.Close()
			return nil, err
		}
		d.Docs = pg
	default:
		fs, err := docstore.NewFirestoreStore(ctx, d.Firebase, cfg.FirestoreCollection, logger.Component(log, "docstore"))
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, fs.Close)
		d.Docs = fs
	}

	rc, err := redis.NewClient(cfg.RedisURL, logger.Component(log, "redis"))
	if err != nil {
		d.Close()
		return nil, err
	}
	d.closers = append(d.closers, rc.Close)
	if err := rc.Ping(ctx); err != nil {
		d.Close()
		return nil, err
	}
	d.Redis = rc

	return d, nil
}

// ObjectStore opens the configured blob store.
func (d *Deps) ObjectStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (storage.ObjectStore, error) {
	entry := logger.Component(log, "storage")
	switch cfg.ObjectStore {
	case config.ObjectStoreR2:
		return storage.NewR2Store(ctx, storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		}, entry)
	case config.ObjectStoreFirebase:
		if d.Firebase == nil {
			return nil, fmt.Errorf("firebase object store requires Firebase credentials")
		}
		return storage.NewFirebaseStore(ctx, d.Firebase, cfg.FirebaseStorageBucket, entry)
	default:
		return nil, fmt.Errorf("unknown object store %q", cfg.ObjectStore)
	}
}

// Close releases backends in reverse order of opening.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
	d.closers = nil
}
