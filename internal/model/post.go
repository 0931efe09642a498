package model

import (
	"time"
)

// PostMediaKind is the media kind stored on a deed record.
type PostMediaKind string

const (
	PostMediaVideo PostMediaKind = "video"
	PostMediaPhoto PostMediaKind = "photo"
)

// Visibility controls who can see a deed.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityFollowers Visibility = "followers"
	VisibilityPrivate   Visibility = "private"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityFollowers, VisibilityPrivate:
		return true
	default:
		return false
	}
}

// GeoPoint is an optional coordinate attached at publish time.
type GeoPoint struct {
	Lat float64 `json:"lat" firestore:"lat"`
	Lng float64 `json:"lng" firestore:"lng"`
}

// MusicDescriptor describes the track attached to a deed.
// StoragePath is set only when the audio was uploaded by the author.
type MusicDescriptor struct {
	Title       string `json:"title,omitempty" firestore:"title,omitempty"`
	Source      string `json:"source,omitempty" firestore:"source,omitempty"`
	URL         string `json:"url,omitempty" firestore:"url,omitempty"`
	Cover       string `json:"cover,omitempty" firestore:"cover,omitempty"`
	SoundID     string `json:"soundId,omitempty" firestore:"soundId,omitempty"`
	StoragePath string `json:"storagePath,omitempty" firestore:"storagePath,omitempty"`
}

// MixDescriptor carries the parameters the external mix worker consumes.
type MixDescriptor struct {
	NeedsServerMix  bool    `json:"needsServerMix" firestore:"needsServerMix"`
	VideoGainDB     float64 `json:"videoGainDb" firestore:"videoGainDb"`
	MusicGainDB     float64 `json:"musicGainDb" firestore:"musicGainDb"`
	Ducking         bool    `json:"ducking" firestore:"ducking"`
	DuckingAmountDB float64 `json:"duckingAmountDb" firestore:"duckingAmountDb"`
	Loop            bool    `json:"loop" firestore:"loop"`
	StartOffsetSec  float64 `json:"startOffsetSec" firestore:"startOffsetSec"`
}

// MediaItem is one entry of a deed's media sequence.
type MediaItem struct {
	Kind            PostMediaKind `json:"kind" firestore:"kind"`
	Width           *int          `json:"width,omitempty" firestore:"width,omitempty"`
	Height          *int          `json:"height,omitempty" firestore:"height,omitempty"`
	DurationSeconds *int          `json:"durationSec,omitempty" firestore:"durationSec,omitempty"`
	ThumbURL        string        `json:"thumbUrl,omitempty" firestore:"thumbUrl,omitempty"`
	URL             string        `json:"url,omitempty" firestore:"url,omitempty"`
	StoragePath     string        `json:"storagePath,omitempty" firestore:"storagePath,omitempty"`
	SmallURL        string        `json:"smallUrl,omitempty" firestore:"smallUrl,omitempty"`
	SmallPath       string        `json:"smallPath,omitempty" firestore:"smallPath,omitempty"`
	Preview         string        `json:"preview,omitempty" firestore:"preview,omitempty"`
	IngestUploadID  string        `json:"ingestUploadId,omitempty" firestore:"ingestUploadId,omitempty"`
}

// PostRecord is the durable deed document.
type PostRecord struct {
	ID             string           `json:"id" firestore:"-"`
	AuthorID       string           `json:"authorId" firestore:"authorId"`
	MediaKind      PostMediaKind    `json:"mediaKind" firestore:"mediaKind"`
	Status         PostStatus       `json:"status" firestore:"status"`
	Media          []MediaItem      `json:"media,omitempty" firestore:"media,omitempty"`
	Caption        string           `json:"caption,omitempty" firestore:"caption,omitempty"`
	Tags           []string         `json:"tags,omitempty" firestore:"tags,omitempty"`
	Visibility     Visibility       `json:"visibility,omitempty" firestore:"visibility,omitempty"`
	AllowComments  *bool            `json:"allowComments,omitempty" firestore:"allowComments,omitempty"`
	Geo            *GeoPoint        `json:"geo,omitempty" firestore:"geo,omitempty"`
	Music          *MusicDescriptor `json:"music,omitempty" firestore:"music,omitempty"`
	Mix            *MixDescriptor   `json:"mix,omitempty" firestore:"mix,omitempty"`
	MediaThumbURL  string           `json:"mediaThumbUrl,omitempty" firestore:"mediaThumbUrl,omitempty"`
	MediaThumbPath string           `json:"mediaThumbPath,omitempty" firestore:"mediaThumbPath,omitempty"`
	IngestUploadID string           `json:"ingestUploadId,omitempty" firestore:"ingestUploadId,omitempty"`
	IngestAssetID  string           `json:"ingestAssetId,omitempty" firestore:"ingestAssetId,omitempty"`
	PlaybackID     string           `json:"playbackId,omitempty" firestore:"playbackId,omitempty"`
	CreatedAt      time.Time        `json:"createdAt" firestore:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt" firestore:"updatedAt"`
	DeletedAt      *time.Time       `json:"deletedAt,omitempty" firestore:"deletedAt,omitempty"`
}

// Document field names
const (
	FieldAuthorID       = "authorId"
	FieldMediaKind      = "mediaKind"
	FieldStatus         = "status"
	FieldMedia          = "media"
	FieldCaption        = "caption"
	FieldTags           = "tags"
	FieldVisibility     = "visibility"
	FieldAllowComments  = "allowComments"
	FieldGeo            = "geo"
	FieldMusic          = "music"
	FieldMix            = "mix"
	FieldMediaThumbURL  = "mediaThumbUrl"
	FieldMediaThumbPath = "mediaThumbPath"
	FieldIngestUploadID = "ingestUploadId"
	FieldIngestAssetID  = "ingestAssetId"
	FieldPlaybackID     = "playbackId"
	FieldCreatedAt      = "createdAt"
	FieldUpdatedAt      = "updatedAt"
	FieldDeletedAt      = "deletedAt"
)

// Post limits
const (
	MaxPostCaptionLength = 2200
	MaxPostTags          = 30
)

// Validate rejects records whose fields describe an impossible state.
func (p *PostRecord) Validate() error {
	const op = "validate record"
	if !p.Status.Valid() {
		return Validationf(op, "unknown status %q", p.Status)
	}
	if p.Visibility != "" && !p.Visibility.Valid() {
		return Validationf(op, "unknown visibility %q", p.Visibility)
	}
	if p.MediaKind == PostMediaVideo && len(p.Media) > 1 {
		return Validationf(op, "video deeds carry exactly one media item")
	}
	if p.Mix != nil && p.Mix.NeedsServerMix && (p.Music == nil || p.Music.URL == "") {
		return Validationf(op, "server mix requires a resolved music track")
	}
	if p.Status == StatusMixing && (p.Mix == nil || !p.Mix.NeedsServerMix) {
		return Validationf(op, "mixing status requires a server mix descriptor")
	}
	return nil
}

// MediaBoundFields belong to the media of a single publish attempt. When an
// edit replaces the media, any of them the new attempt leaves unset must be
// removed from the stored record, since the objects they point at are gone.
var MediaBoundFields = []string{
	FieldMusic,
	FieldMix,
	FieldMediaThumbURL,
	FieldMediaThumbPath,
	FieldIngestUploadID,
	FieldIngestAssetID,
	FieldPlaybackID,
}

// Placeholder returns the minimal fields written before any bytes move.
func Placeholder(authorID string, kind PostMediaKind, now time.Time) map[string]any {
	return map[string]any{
		FieldAuthorID:  authorID,
		FieldMediaKind: string(kind),
		FieldStatus:    string(PlaceholderStatus(kind)),
		FieldCreatedAt: now,
		FieldUpdatedAt: now,
	}
}

// Fields flattens the mutable part of the record into a document patch.
// authorId, mediaKind and createdAt are immutable and never included.
// The result still needs Prune before it is written.
func (p *PostRecord) Fields() map[string]any {
	fields := map[string]any{
		FieldStatus:         string(p.Status),
		FieldMedia:          mediaFields(p.Media),
		FieldCaption:        p.Caption,
		FieldTags:           p.Tags,
		FieldVisibility:     string(p.Visibility),
		FieldAllowComments:  p.AllowComments,
		FieldMediaThumbURL:  p.MediaThumbURL,
		FieldMediaThumbPath: p.MediaThumbPath,
		FieldIngestUploadID: p.IngestUploadID,
		FieldIngestAssetID:  p.IngestAssetID,
		FieldPlaybackID:     p.PlaybackID,
		FieldUpdatedAt:      p.UpdatedAt,
	}
	if p.Geo != nil {
		fields[FieldGeo] = map[string]any{"lat": p.Geo.Lat, "lng": p.Geo.Lng}
	}
	if p.Music != nil {
		fields[FieldMusic] = map[string]any{
			"title":       p.Music.Title,
			"source":      p.Music.Source,
			"url":         p.Music.URL,
			"cover":       p.Music.Cover,
			"soundId":     p.Music.SoundID,
			"storagePath": p.Music.StoragePath,
		}
	}
	if p.Mix != nil {
		fields[FieldMix] = map[string]any{
			"needsServerMix":  p.Mix.NeedsServerMix,
			"videoGainDb":     p.Mix.VideoGainDB,
			"musicGainDb":     p.Mix.MusicGainDB,
			"ducking":         p.Mix.Ducking,
			"duckingAmountDb": p.Mix.DuckingAmountDB,
			"loop":            p.Mix.Loop,
			"startOffsetSec":  p.Mix.StartOffsetSec,
		}
	}
	if p.DeletedAt != nil {
		fields[FieldDeletedAt] = *p.DeletedAt
	}
	return fields
}

func mediaFields(items []MediaItem) []any {
	out := make([]any, 0, len(items))
	for _, m := range items {
		out = append(out, map[string]any{
			"kind":           string(m.Kind),
			"width":          m.Width,
			"height":         m.Height,
			"durationSec":    m.DurationSeconds,
			"thumbUrl":       m.ThumbURL,
			"url":            m.URL,
			"storagePath":    m.StoragePath,
			"smallUrl":       m.SmallURL,
			"smallPath":      m.SmallPath,
			"preview":        m.Preview,
			"ingestUploadId": m.IngestUploadID,
		})
	}
	return out
}

// StoragePaths lists every object-store path the record references.
func (p *PostRecord) StoragePaths() []string {
	var paths []string
	add := func(path string) {
		if path != "" {
			paths = append(paths, path)
		}
	}
	for _, m := range p.Media {
		add(m.StoragePath)
		add(m.SmallPath)
	}
	add(p.MediaThumbPath)
	if p.Music != nil {
		add(p.Music.StoragePath)
	}
	return paths
}

// EditMetadataRequest patches metadata on an existing deed without touching media.
type EditMetadataRequest struct {
	Caption       *string     `json:"caption"`
	Tags          []string    `json:"tags"`
	Visibility    *Visibility `json:"visibility"`
	AllowComments *bool       `json:"allowComments"`
}
