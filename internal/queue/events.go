package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	EventPostPublished = "post_published"
	EventPostDeleted   = "post_deleted"
	EventMixRequested  = "mix_requested"
	EventIngestReady   = "ingest_ready"
	EventIngestFailed  = "ingest_failed"
)

// Stream names
const (
	// StreamDeeds carries lifecycle events for downstream consumers such as
	// the audio-mix worker.
	StreamDeeds = "stream:deeds"
	// StreamIngest carries verified ingest webhook outcomes for cmd/worker.
	StreamIngest = "stream:ingest"
)

// Consumer group name for ingest workers
const (
	ConsumerGroupIngest = "ingest_workers"
)

// DeedEvent is the single event shape shared by both streams.
type DeedEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`

	PostID   string `json:"post_id"`
	AuthorID string `json:"author_id,omitempty"`

	// Publish events
	Strategy string `json:"strategy,omitempty"`

	// Ingest events
	UploadID   string `json:"upload_id,omitempty"`
	AssetID    string `json:"asset_id,omitempty"`
	PlaybackID string `json:"playback_id,omitempty"`
}

// NewPostPublishedEvent is emitted once the final record write commits.
func NewPostPublishedEvent(postID, authorID, strategy string) DeedEvent {
	return DeedEvent{
		Type:      EventPostPublished,
		Timestamp: time.Now().Unix(),
		PostID:    postID,
		AuthorID:  authorID,
		Strategy:  strategy,
	}
}

// NewMixRequestedEvent asks the audio-mix worker to pick up a deed.
func NewMixRequestedEvent(postID, authorID string) DeedEvent {
	return DeedEvent{
		Type:      EventMixRequested,
		Timestamp: time.Now().Unix(),
		PostID:    postID,
		AuthorID:  authorID,
	}
}

// NewPostDeletedEvent is emitted after a deed is marked deleted.
func NewPostDeletedEvent(postID, authorID string) DeedEvent {
	return DeedEvent{
		Type:      EventPostDeleted,
		Timestamp: time.Now().Unix(),
		PostID:    postID,
		AuthorID:  authorID,
	}
}

// NewIngestReadyEvent records that the ingest service finished an asset.
func NewIngestReadyEvent(postID, authorID, uploadID, assetID, playbackID string) DeedEvent {
	return DeedEvent{
		Type:       EventIngestReady,
		Timestamp:  time.Now().Unix(),
		PostID:     postID,
		AuthorID:   authorID,
		UploadID:   uploadID,
		AssetID:    assetID,
		PlaybackID: playbackID,
	}
}

// NewIngestFailedEvent records that the ingest service rejected an upload.
func NewIngestFailedEvent(postID, authorID, uploadID, assetID string) DeedEvent {
	return DeedEvent{
		Type:      EventIngestFailed,
		Timestamp: time.Now().Unix(),
		PostID:    postID,
		AuthorID:  authorID,
		UploadID:  uploadID,
		AssetID:   assetID,
	}
}

// ToMap converts the event to a map for Redis XADD.
// Redis Streams store field-value pairs, so we serialize to JSON in a "data" field.
func (e DeedEvent) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type": e.Type,
		"data": string(data),
	}, nil
}

// ParseDeedEvent parses a DeedEvent from Redis stream message values.
func ParseDeedEvent(values map[string]interface{}) (DeedEvent, error) {
	data, ok := values["data"].(string)
	if !ok {
		return DeedEvent{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event DeedEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return DeedEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if event.PostID == "" {
		return DeedEvent{}, fmt.Errorf("event has no post_id")
	}
	return event, nil
}
