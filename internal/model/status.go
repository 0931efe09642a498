package model

import "fmt"

// PostStatus is the lifecycle state of a deed record.
type PostStatus string

const (
	StatusUploading  PostStatus = "uploading"
	StatusProcessing PostStatus = "processing"
	StatusMixing     PostStatus = "mixing"
	StatusReady      PostStatus = "ready"
	StatusFailed     PostStatus = "failed"
	StatusDeleted    PostStatus = "deleted"
)

// transitions lists, for every status, the statuses it may move to.
// A status may always be rewritten to itself.
var transitions = map[PostStatus][]PostStatus{
	StatusUploading:  {StatusProcessing, StatusMixing, StatusReady, StatusFailed, StatusDeleted},
	StatusProcessing: {StatusUploading, StatusMixing, StatusReady, StatusFailed, StatusDeleted},
	StatusMixing:     {StatusProcessing, StatusReady, StatusFailed, StatusDeleted},
	StatusReady:      {StatusProcessing, StatusDeleted},
	StatusFailed:     {StatusProcessing, StatusDeleted},
	StatusDeleted:    nil,
}

// Valid reports whether s is one of the known statuses.
func (s PostStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a record in status s may be moved to next.
// ready only goes back to processing when an edit replaces the media file.
func (s PostStatus) CanTransition(next PostStatus) bool {
	if s == next {
		return s.Valid()
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next if the move is legal, otherwise ErrIllegalTransition.
func (s PostStatus) Transition(next PostStatus) (PostStatus, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return next, nil
}

// PlaceholderStatus is the status a brand-new record is created with.
func PlaceholderStatus(kind PostMediaKind) PostStatus {
	switch kind {
	case PostMediaVideo:
		return StatusUploading
	default:
		return StatusProcessing
	}
}
