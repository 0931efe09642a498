package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"deedstudio/internal/httputil"
	"deedstudio/internal/ingest"
	"deedstudio/internal/queue"
)

const (
	// SignatureHeader carries "t=<unix>,v1=<hmac>"
	SignatureHeader = "Mux-Signature"

	webhookTolerance = 5 * time.Minute
	maxWebhookBody   = 1 << 20
)

// EventPublisher is the stream writer the webhook hands events to.
type EventPublisher interface {
	Publish(ctx context.Context, stream string, event queue.DeedEvent) (string, error)
}

// WebhookHandler verifies ingest webhooks and forwards the outcome to the
// ingest stream. Records are updated by cmd/worker, not here. Without a
// signing secret every delivery is rejected.
type WebhookHandler struct {
	secret    string
	publisher EventPublisher
	now       func() time.Time
	log       *logrus.Entry
}

func NewWebhookHandler(secret string, publisher EventPublisher, log *logrus.Entry) *WebhookHandler {
	return &WebhookHandler{secret: secret, publisher: publisher, now: time.Now, log: log}
}

// Ingest handles POST /webhooks/ingest
func (h *WebhookHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteBadRequest(w, "Unreadable body")
		return
	}

	if h.secret == "" {
		h.log.Error("Webhook REJECTED: signing secret not configured")
		httputil.WriteUnauthorized(w, "Webhook signing is not configured")
		return
	}
	if err := ingest.VerifySignature(r.Header.Get(SignatureHeader), body, h.secret, webhookTolerance, h.now()); err != nil {
		h.log.Warnf("Webhook REJECTED: err=%v", err)
		httputil.WriteUnauthorized(w, "Invalid signature")
		return
	}

	ev, err := ingest.ParseWebhook(body)
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid webhook payload")
		return
	}

	var event queue.DeedEvent
	switch ev.Type {
	case ingest.EventAssetReady, ingest.EventAssetErrored, ingest.EventUploadError:
	default:
		// Acknowledge everything else so the platform stops retrying.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	meta, err := ev.Correlation()
	if err != nil {
		h.log.Warnf("Webhook IGNORED: type=%s id=%s err=%v", ev.Type, ev.Data.ID, err)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch ev.Type {
	case ingest.EventAssetReady:
		event = queue.NewIngestReadyEvent(meta.PostID, meta.AuthorID, ev.Data.UploadID, ev.Data.ID, ev.PlaybackID())
	case ingest.EventAssetErrored:
		event = queue.NewIngestFailedEvent(meta.PostID, meta.AuthorID, ev.Data.UploadID, ev.Data.ID)
	case ingest.EventUploadError:
		event = queue.NewIngestFailedEvent(meta.PostID, meta.AuthorID, ev.Data.ID, "")
	}

	if _, err := h.publisher.Publish(r.Context(), queue.StreamIngest, event); err != nil {
		h.log.Errorf("Webhook FAILED: type=%s post=%s err=%v", ev.Type, meta.PostID, err)
		// 5xx makes the platform redeliver.
		httputil.WriteInternalError(w, "Failed to enqueue event")
		return
	}

	h.log.Infof("Webhook OK: type=%s post=%s", ev.Type, meta.PostID)
	w.WriteHeader(http.StatusNoContent)
}
