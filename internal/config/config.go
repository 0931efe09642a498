package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"deedstudio/internal/model"
)

// Storage and document backends
const (
	ObjectStoreFirebase = "firebase"
	ObjectStoreR2       = "r2"

	DocStoreFirestore = "firestore"
	DocStorePostgres  = "postgres"
)

type Config struct {
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	JWTSecret string `env:"JWT_SECRET"`

	ObjectStore string `env:"OBJECT_STORE" envDefault:"firebase"`
	DocStore    string `env:"DOC_STORE" envDefault:"firestore"`

	DBHost     string `env:"DB_HOST"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"require"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	FirebaseProjectID     string `env:"FIREBASE_PROJECT_ID"`
	FirebaseClientEmail   string `env:"FIREBASE_CLIENT_EMAIL"`
	FirebasePrivateKey    string `env:"FIREBASE_PRIVATE_KEY"`
	FirebaseStorageBucket string `env:"FIREBASE_STORAGE_BUCKET"`
	FirestoreCollection   string `env:"FIRESTORE_COLLECTION" envDefault:"deeds"`

	R2AccountID       string `env:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `env:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `env:"R2_BUCKET_NAME"`
	R2PublicURL       string `env:"R2_PUBLIC_URL"`

	IngestBaseURL       string `env:"INGEST_BASE_URL" envDefault:"https://api.mux.com"`
	IngestTokenID       string `env:"INGEST_TOKEN_ID"`
	IngestTokenSecret   string `env:"INGEST_TOKEN_SECRET"`
	IngestCORSOrigin    string `env:"INGEST_CORS_ORIGIN" envDefault:"*"`
	IngestWebhookSecret string `env:"INGEST_WEBHOOK_SECRET"`

	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	SpoolDir    string `env:"SPOOL_DIR"`

	MaxUploadMB     int           `env:"MAX_UPLOAD_MB" envDefault:"512"`
	MaxDuration     time.Duration `env:"MAX_VIDEO_DURATION" envDefault:"90s"`
	AllowMultiPhoto bool          `env:"ALLOW_MULTI_PHOTO" envDefault:"true"`
	MaxPhotoCount   int           `env:"MAX_PHOTO_COUNT" envDefault:"10"`
	AllowMixing     bool          `env:"ALLOW_MIXING" envDefault:"true"`

	SelectionTTL       time.Duration `env:"SELECTION_TTL" envDefault:"30m"`
	ProgressResetDelay time.Duration `env:"PROGRESS_RESET_DELAY" envDefault:"1500ms"`

	WorkerCount int `env:"WORKER_COUNT" envDefault:"2"`
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found or error loading it, relying on environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	switch cfg.ObjectStore {
	case ObjectStoreFirebase, ObjectStoreR2:
	default:
		return nil, fmt.Errorf("unknown OBJECT_STORE %q", cfg.ObjectStore)
	}
	switch cfg.DocStore {
	case DocStoreFirestore, DocStorePostgres:
	default:
		return nil, fmt.Errorf("unknown DOC_STORE %q", cfg.DocStore)
	}
	if cfg.IngestTokenID != "" && cfg.IngestWebhookSecret == "" {
		return nil, fmt.Errorf("INGEST_WEBHOOK_SECRET is required when INGEST_TOKEN_ID is set")
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 512
	}
	if cfg.MaxPhotoCount <= 0 {
		cfg.MaxPhotoCount = model.DefaultMaxPhotoCount
	}

	return cfg, nil
}

// Policy builds the upload policy shared by intake and the publish pipeline.
func (c *Config) Policy() model.UploadPolicy {
	return model.UploadPolicy{
		MaxDuration:     c.MaxDuration,
		MaxSizeBytes:    int64(c.MaxUploadMB) * 1024 * 1024,
		AllowMultiPhoto: c.AllowMultiPhoto,
		MaxPhotoCount:   c.MaxPhotoCount,
		AllowMixing:     c.AllowMixing,
	}
}

// NeedsFirebase reports whether any configured backend uses the Firebase app.
func (c *Config) NeedsFirebase() bool {
	return c.ObjectStore == ObjectStoreFirebase || c.DocStore == DocStoreFirestore
}
