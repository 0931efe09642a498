package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures so callers can decide whether
// a failure is fatal, user-facing, or safe to swallow.
type ErrorKind string

const (
	KindUnsupportedMedia  ErrorKind = "UNSUPPORTED_MEDIA"
	KindTooLarge          ErrorKind = "TOO_LARGE"
	KindDecodeFailure     ErrorKind = "DECODE_FAILURE"
	KindTransportFailure  ErrorKind = "TRANSPORT_FAILURE"
	KindPermissionDenied  ErrorKind = "PERMISSION_DENIED"
	KindValidationFailure ErrorKind = "VALIDATION_FAILURE"
)

// Sentinels, one per kind. MediaError unwraps to the matching sentinel so
// errors.Is(err, ErrTooLarge) works on wrapped errors.
var (
	ErrUnsupportedMedia  = errors.New("unsupported media")
	ErrTooLarge          = errors.New("file too large")
	ErrDecodeFailure     = errors.New("decode failure")
	ErrTransportFailure  = errors.New("transport failure")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrValidationFailure = errors.New("validation failure")
)

// Record errors
var (
	ErrPostNotFound      = errors.New("post not found")
	ErrNotPostOwner      = errors.New("not the owner of this post")
	ErrSelectionNotFound = errors.New("selection not found")
	ErrIllegalTransition = errors.New("illegal status transition")
)

var sentinels = map[ErrorKind]error{
	KindUnsupportedMedia:  ErrUnsupportedMedia,
	KindTooLarge:          ErrTooLarge,
	KindDecodeFailure:     ErrDecodeFailure,
	KindTransportFailure:  ErrTransportFailure,
	KindPermissionDenied:  ErrPermissionDenied,
	KindValidationFailure: ErrValidationFailure,
}

// MediaError carries the kind, the operation that failed and the cause.
type MediaError struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *MediaError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = sentinels[e.Kind].Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *MediaError) Unwrap() []error {
	out := []error{sentinels[e.Kind]}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewError builds a MediaError of the given kind.
func NewError(kind ErrorKind, op, msg string, cause error) *MediaError {
	return &MediaError{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// Validationf is shorthand for a ValidationFailure with a formatted message.
func Validationf(op, format string, args ...any) *MediaError {
	return NewError(KindValidationFailure, op, fmt.Sprintf(format, args...), nil)
}

// Transport wraps an SDK or network error as a TransportFailure.
func Transport(op string, cause error) *MediaError {
	return NewError(KindTransportFailure, op, "", cause)
}

// KindOf returns the kind of the first MediaError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var me *MediaError
	if errors.As(err, &me) {
		return me.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}
