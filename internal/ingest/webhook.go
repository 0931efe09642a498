package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook event types the studio reacts to
const (
	EventAssetReady   = "video.asset.ready"
	EventAssetErrored = "video.asset.errored"
	EventUploadError  = "video.upload.errored"
)

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrStaleWebhook = errors.New("webhook timestamp outside tolerance")
)

// WebhookEvent is the subset of the ingest webhook payload we read.
type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		ID          string `json:"id"`
		UploadID    string `json:"upload_id"`
		Status      string `json:"status"`
		Passthrough string `json:"passthrough"`
		PlaybackIDs []struct {
			ID     string `json:"id"`
			Policy string `json:"policy"`
		} `json:"playback_ids"`
		// Upload events carry the passthrough inside the asset settings.
		NewAssetSettings struct {
			Passthrough string `json:"passthrough"`
		} `json:"new_asset_settings"`
	} `json:"data"`
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("parse webhook: %w", err)
	}
	return &ev, nil
}

// Correlation decodes the passthrough attached at upload-target creation.
func (e *WebhookEvent) Correlation() (Passthrough, error) {
	var p Passthrough
	raw := e.Data.Passthrough
	if raw == "" {
		raw = e.Data.NewAssetSettings.Passthrough
	}
	if raw == "" {
		return p, fmt.Errorf("webhook has no passthrough")
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("parse passthrough: %w", err)
	}
	if p.PostID == "" {
		return p, fmt.Errorf("passthrough has no post id")
	}
	return p, nil
}

// PlaybackID returns the first public playback id, if any.
func (e *WebhookEvent) PlaybackID() string {
	for _, p := range e.Data.PlaybackIDs {
		if p.Policy == "public" {
			return p.ID
		}
	}
	if len(e.Data.PlaybackIDs) > 0 {
		return e.Data.PlaybackIDs[0].ID
	}
	return ""
}

// VerifySignature checks a "t=<unix>,v1=<hex hmac>" header where the MAC is
// HMAC-SHA256(secret, "<t>.<body>").
func VerifySignature(header string, body []byte, secret string, tolerance time.Duration, now time.Time) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return ErrBadSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleWebhook
		}
	}

	expected := Sign(secret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the hex signature for a timestamp and body.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
