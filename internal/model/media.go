package model

import (
	"strings"
	"time"
)

// MediaKind is the class of a locally selected file.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
)

// KindFromMIME maps a MIME type to a MediaKind by prefix.
func KindFromMIME(contentType string) (MediaKind, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "video/"):
		return MediaVideo, true
	case strings.HasPrefix(ct, "image/"):
		return MediaImage, true
	default:
		return "", false
	}
}

// ContentTypeJPEG is the type of every derived still.
const ContentTypeJPEG = "image/jpeg"

// Thumbnail and variant geometry
const (
	DefaultCoverOffset   = 800 * time.Millisecond
	CandidateCount       = 8
	CoverWidth           = 720
	PhotoSmallWidth      = 480
	PhotoFullWidth       = 1080
	InlinePreviewWidth   = 16
	VariantJPEGQuality   = 85
	PreviewJPEGQuality   = 40
	ObjectCacheControl   = "public, max-age=31536000" // 1 year
	DeedsFolder          = "deeds"
	DefaultMaxPhotoCount = 10
)

// MediaSelection is the transient, locally held file the user picked.
// DurationSeconds is nil for images and set (possibly 0) for videos.
type MediaSelection struct {
	ID              string    `json:"id"`
	Kind            MediaKind `json:"kind"`
	ContentType     string    `json:"content_type"`
	FileName        string    `json:"file_name,omitempty"`
	SizeBytes       int64     `json:"size_bytes"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	Width           *int      `json:"width,omitempty"`
	Height          *int      `json:"height,omitempty"`
	CreatedAt       time.Time `json:"created_at"`

	// Exact probed duration. Only used to clamp frame captures; it never
	// crosses into a persisted record.
	Duration time.Duration `json:"-"`

	// PreviewPath is the local file backing the selection.
	PreviewPath string `json:"-"`
}

// ThumbnailCandidate is an encoded still eligible to become the cover.
type ThumbnailCandidate struct {
	TimestampMs int64  `json:"timestamp_ms"`
	ImageData   []byte `json:"-"`
}

// UploadPolicy parameterizes the single publish pipeline.
type UploadPolicy struct {
	MaxDuration     time.Duration
	MaxSizeBytes    int64
	AllowMultiPhoto bool
	MaxPhotoCount   int
	AllowMixing     bool
}

// DefaultUploadPolicy mirrors the studio defaults.
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		MaxDuration:     90 * time.Second,
		MaxSizeBytes:    512 * 1024 * 1024,
		AllowMultiPhoto: true,
		MaxPhotoCount:   DefaultMaxPhotoCount,
		AllowMixing:     true,
	}
}

// CodeFileTooLarge is the HTTP error code for a file over the size cap.
const CodeFileTooLarge = "FILE_TOO_LARGE"
