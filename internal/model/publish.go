package model

// MixPreferences is what the author chose in the mixing panel.
type MixPreferences struct {
	Requested       bool    `json:"requested"`
	VideoGainDB     float64 `json:"videoGainDb"`
	MusicGainDB     float64 `json:"musicGainDb"`
	Ducking         bool    `json:"ducking"`
	DuckingAmountDB float64 `json:"duckingAmountDb"`
	Loop            bool    `json:"loop"`
	StartOffsetSec  float64 `json:"startOffsetSec"`
}

// Descriptor converts the preferences into the persisted mix descriptor.
func (m MixPreferences) Descriptor(needsServerMix bool) *MixDescriptor {
	return &MixDescriptor{
		NeedsServerMix:  needsServerMix,
		VideoGainDB:     m.VideoGainDB,
		MusicGainDB:     m.MusicGainDB,
		Ducking:         m.Ducking,
		DuckingAmountDB: m.DuckingAmountDB,
		Loop:            m.Loop,
		StartOffsetSec:  m.StartOffsetSec,
	}
}

// PublishRequest is the body of POST /studio/publish. SelectionIDs refer to
// selections held by the intake; a local audio file travels as a separate
// multipart part.
type PublishRequest struct {
	PostID        string           `json:"postId,omitempty"` // set when editing
	SelectionIDs  []string         `json:"selectionIds"`
	Caption       string           `json:"caption"`
	Tags          []string         `json:"tags"`
	Visibility    Visibility       `json:"visibility"`
	AllowComments *bool            `json:"allowComments"`
	Geo           *GeoPoint        `json:"geo,omitempty"`
	Music         *MusicDescriptor `json:"music,omitempty"`
	Mix           MixPreferences   `json:"mix"`
}

// PublishResponse is returned once the final record write commits.
type PublishResponse struct {
	Post     *PostRecord `json:"post"`
	Strategy string      `json:"strategy"`
}

// ProgressResponse is returned by the progress polling endpoint.
type ProgressResponse struct {
	PostID  string `json:"postId"`
	Stage   string `json:"stage,omitempty"`
	Percent int    `json:"percent"`
}
