package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"deedstudio/internal/storage"
)

// Passthrough is attached to the ingest upload so the asynchronous webhook
// can be correlated back to the deed.
type Passthrough struct {
	PostID   string `json:"postId"`
	AuthorID string `json:"authorId"`
}

// Target is where raw video bytes are sent.
type Target struct {
	UploadURL string `json:"url"`
	UploadID  string `json:"id"`
}

// Service is the external video-ingest platform.
type Service interface {
	CreateUploadTarget(ctx context.Context, meta Passthrough) (*Target, error)
	UploadBytes(ctx context.Context, uploadURL string, r io.Reader, size int64, onProgress storage.ProgressFunc) error
	DeleteAsset(ctx context.Context, assetID string) error
	CancelUpload(ctx context.Context, uploadID string) error
}

// Config holds the API credentials (Mux-style token pair).
type Config struct {
	BaseURL     string
	TokenID     string
	TokenSecret string
	CORSOrigin  string
}

// Client talks to the ingest REST API.
type Client struct {
	cfg   Config
	api   *resty.Client
	bytes *resty.Client
	log   *logrus.Entry
}

type contentLengthKey struct{}

func NewClient(cfg Config, log *logrus.Entry) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}

	api := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.TokenID, cfg.TokenSecret).
		SetHeader("Accept", "application/json").
		SetTimeout(15 * time.Second)

	// Byte uploads can take minutes; timeouts are left to the caller's context.
	// The body is streamed, so the declared length is set on the raw request.
	bytes := resty.New().SetPreRequestHook(func(_ *resty.Client, req *http.Request) error {
		if n, ok := req.Context().Value(contentLengthKey{}).(int64); ok && n >= 0 {
			req.ContentLength = n
		}
		return nil
	})

	return &Client{cfg: cfg, api: api, bytes: bytes, log: log}
}

type createUploadRequest struct {
	CORSOrigin       string           `json:"cors_origin"`
	NewAssetSettings newAssetSettings `json:"new_asset_settings"`
}

type newAssetSettings struct {
	PlaybackPolicy []string `json:"playback_policy"`
	Passthrough    string   `json:"passthrough"`
}

type createUploadResponse struct {
	Data Target `json:"data"`
}

// CreateUploadTarget requests a direct-upload URL carrying the passthrough.
func (c *Client) CreateUploadTarget(ctx context.Context, meta Passthrough) (*Target, error) {
	passthrough, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal passthrough: %w", err)
	}

	var out createUploadResponse
	resp, err := c.api.R().
		SetContext(ctx).
		SetBody(createUploadRequest{
			CORSOrigin: c.cfg.CORSOrigin,
			NewAssetSettings: newAssetSettings{
				PlaybackPolicy: []string{"public"},
				Passthrough:    string(passthrough),
			},
		}).
		ForceContentType("application/json").
		SetResult(&out).
		Post("/video/v1/uploads")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("create upload target: %w", err)
	}
	if out.Data.UploadURL == "" || out.Data.UploadID == "" {
		return nil, fmt.Errorf("create upload target: empty upload url or id")
	}

	c.log.Infof("CreateUploadTarget OK: post=%s upload=%s", meta.PostID, out.Data.UploadID)
	return &out.Data, nil
}

// UploadBytes PUTs the raw video to the upload URL.
func (c *Client) UploadBytes(ctx context.Context, uploadURL string, r io.Reader, size int64, onProgress storage.ProgressFunc) error {
	tracker := storage.NewTracker(size, onProgress)

	resp, err := c.bytes.R().
		SetContext(context.WithValue(ctx, contentLengthKey{}, size)).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(storage.NewProgressReader(r, tracker)).
		Put(uploadURL)
	if err := checkResponse(resp, err); err != nil {
		return fmt.Errorf("upload bytes: %w", err)
	}

	tracker.Complete()
	return nil
}

// DeleteAsset removes a processed asset. A missing asset counts as deleted.
func (c *Client) DeleteAsset(ctx context.Context, assetID string) error {
	if assetID == "" {
		return nil
	}
	resp, err := c.api.R().SetContext(ctx).Delete("/video/v1/assets/" + assetID)
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	if err := checkResponse(resp, err); err != nil {
		return fmt.Errorf("delete asset %s: %w", assetID, err)
	}
	return nil
}

// CancelUpload cancels a direct upload that never produced an asset.
func (c *Client) CancelUpload(ctx context.Context, uploadID string) error {
	if uploadID == "" {
		return nil
	}
	resp, err := c.api.R().SetContext(ctx).Put("/video/v1/uploads/" + uploadID + "/cancel")
	if err := checkResponse(resp, err); err != nil {
		return fmt.Errorf("cancel upload %s: %w", uploadID, err)
	}
	return nil
}

type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ingest api error: status=%d body=%s", e.Status, e.Body)
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > 1024 {
			body = body[:1024]
		}
		return &statusError{Status: resp.StatusCode(), Body: body}
	}
	return nil
}
