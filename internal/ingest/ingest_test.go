package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestCreateUploadTarget_SendsPassthroughAndAuth(t *testing.T) {
	var got createUploadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "tok", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "/video/v1/uploads", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"up_1","url":"https://upload.example/up_1"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", TokenID: "tok", TokenSecret: "secret"}, testLog())
	target, err := c.CreateUploadTarget(context.Background(), Passthrough{PostID: "p1", AuthorID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "up_1", target.UploadID)
	assert.Equal(t, "https://upload.example/up_1", target.UploadURL)
	assert.Equal(t, "*", got.CORSOrigin)
	assert.Equal(t, []string{"public"}, got.NewAssetSettings.PlaybackPolicy)
	assert.JSONEq(t, `{"postId":"p1","authorId":"u1"}`, got.NewAssetSettings.Passthrough)
}

func TestCreateUploadTarget_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, testLog())
	_, err := c.CreateUploadTarget(context.Background(), Passthrough{PostID: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
}

func TestUploadBytes_ReportsProgressAndCompletes(t *testing.T) {
	payload := strings.Repeat("v", 64*1024)
	var received int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, int64(len(payload)), r.ContentLength)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		received = len(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var seen []int
	c := NewClient(Config{BaseURL: srv.URL}, testLog())
	err := c.UploadBytes(context.Background(), srv.URL+"/up_1", strings.NewReader(payload), int64(len(payload)), func(p int) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, len(payload), received)
	require.NotEmpty(t, seen)
	assert.Equal(t, 100, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
	for _, p := range seen[:len(seen)-1] {
		assert.LessOrEqual(t, p, 99)
	}
}

func TestUploadBytes_FailureNeverReaches100(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	highest := -1
	c := NewClient(Config{BaseURL: srv.URL}, testLog())
	err := c.UploadBytes(context.Background(), srv.URL, strings.NewReader("abc"), 3, func(p int) { highest = p })
	require.Error(t, err)
	assert.LessOrEqual(t, highest, 99)
}

func TestDeleteAsset_NotFoundIsSuccess(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, testLog())
	require.NoError(t, c.DeleteAsset(context.Background(), "as_1"))
	require.NoError(t, c.DeleteAsset(context.Background(), ""))
	assert.Equal(t, []string{"DELETE /video/v1/assets/as_1"}, paths)
}

func TestCancelUpload(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.Method + " " + r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, testLog())
	require.NoError(t, c.CancelUpload(context.Background(), "up_9"))
	assert.Equal(t, "PUT /video/v1/uploads/up_9/cancel", path)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"video.asset.ready"}`)
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	header := "t=" + ts + ",v1=" + Sign("whsec", ts, body)

	assert.NoError(t, VerifySignature(header, body, "whsec", 5*time.Minute, now))
	assert.ErrorIs(t, VerifySignature(header, body, "other", 5*time.Minute, now), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature(header, []byte(`{}`), "whsec", 5*time.Minute, now), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature(header, body, "whsec", 5*time.Minute, now.Add(10*time.Minute)), ErrStaleWebhook)
	assert.ErrorIs(t, VerifySignature("garbage", body, "whsec", 0, now), ErrBadSignature)
}

func TestParseWebhook_Correlation(t *testing.T) {
	ev, err := ParseWebhook([]byte(`{
		"type": "video.asset.ready",
		"data": {
			"id": "as_1",
			"upload_id": "up_1",
			"passthrough": "{\"postId\":\"p1\",\"authorId\":\"u1\"}",
			"playback_ids": [{"id": "signed_1", "policy": "signed"}, {"id": "pb_1", "policy": "public"}]
		}
	}`))
	require.NoError(t, err)

	p, err := ev.Correlation()
	require.NoError(t, err)
	assert.Equal(t, "p1", p.PostID)
	assert.Equal(t, "u1", p.AuthorID)
	assert.Equal(t, "pb_1", ev.PlaybackID())

	ev.Data.Passthrough = ""
	_, err = ev.Correlation()
	assert.Error(t, err)
}

func TestParseWebhook_UploadErroredUsesAssetSettings(t *testing.T) {
	ev, err := ParseWebhook([]byte(`{
		"type": "video.upload.errored",
		"data": {
			"id": "up_9",
			"new_asset_settings": {"passthrough": "{\"postId\":\"p9\",\"authorId\":\"u9\"}"}
		}
	}`))
	require.NoError(t, err)

	p, err := ev.Correlation()
	require.NoError(t, err)
	assert.Equal(t, "p9", p.PostID)
}
