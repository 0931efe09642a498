package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("OBJECT_STORE", "r2")
	t.Setenv("DOC_STORE", "postgres")
	t.Setenv("MAX_UPLOAD_MB", "64")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 90*time.Second, cfg.MaxDuration)
	assert.Equal(t, 30*time.Minute, cfg.SelectionTTL)
	assert.False(t, cfg.NeedsFirebase())

	policy := cfg.Policy()
	assert.Equal(t, int64(64*1024*1024), policy.MaxSizeBytes)
	assert.True(t, policy.AllowMixing)
	assert.Equal(t, 10, policy.MaxPhotoCount)
}

func TestLoadConfig_FirebaseBackends(t *testing.T) {
	t.Setenv("OBJECT_STORE", "r2")
	t.Setenv("DOC_STORE", "firestore")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.NeedsFirebase())
}

func TestLoadConfig_RejectsUnknownBackends(t *testing.T) {
	t.Setenv("OBJECT_STORE", "s3")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("OBJECT_STORE", "r2")
	t.Setenv("DOC_STORE", "mongo")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_IngestRequiresWebhookSecret(t *testing.T) {
	t.Setenv("OBJECT_STORE", "r2")
	t.Setenv("DOC_STORE", "postgres")
	t.Setenv("INGEST_TOKEN_ID", "tok")
	t.Setenv("INGEST_WEBHOOK_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INGEST_WEBHOOK_SECRET")

	t.Setenv("INGEST_WEBHOOK_SECRET", "whsec")
	_, err = LoadConfig()
	assert.NoError(t, err)
}
