package streaming

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stwalsh4118/airwave/internal/playback"
	"github.com/stwalsh4118/airwave/internal/token"
)

// ErrorKind classifies a playback failure
type ErrorKind int

const (
	// KindNetwork indicates the stream connection failed or dropped
	KindNetwork ErrorKind = iota
	// KindAbort indicates the load was aborted
	KindAbort
	// KindStallTimeout indicates no data or no start acknowledgement in time
	KindStallTimeout
	// KindDecode indicates the stream bytes are not playable audio
	KindDecode
	// KindUnsupportedSource indicates the client cannot play this source
	KindUnsupportedSource
	// KindCandidatesExhausted indicates every candidate URL failed
	KindCandidatesExhausted
	// KindTokenParse indicates a token could not be decoded
	KindTokenParse
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAbort:
		return "abort"
	case KindStallTimeout:
		return "stall_timeout"
	case KindDecode:
		return "decode"
	case KindUnsupportedSource:
		return "unsupported_source"
	case KindCandidatesExhausted:
		return "candidates_exhausted"
	case KindTokenParse:
		return "token_parse"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ErrorSeverity represents how loudly a failure should be reported
type ErrorSeverity int

const (
	// SeverityInfo is expected and handled internally
	SeverityInfo ErrorSeverity = iota
	// SeverityWarning is transient and retried
	SeverityWarning
	// SeverityCritical ends the session
	SeverityCritical
)

// String returns the string representation of ErrorSeverity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PlaybackError is a classified playback failure
type PlaybackError struct {
	Kind        ErrorKind
	Severity    ErrorSeverity
	Recoverable bool
	Timestamp   time.Time
	Message     string
	URL         string // redacted
	Cause       error
}

// NewPlaybackError creates a PlaybackError with the kind's default attributes
func NewPlaybackError(kind ErrorKind, message string, cause error) *PlaybackError {
	severity, recoverable := classifyKindAttributes(kind)
	return &PlaybackError{
		Kind:        kind,
		Severity:    severity,
		Recoverable: recoverable,
		Timestamp:   time.Now(),
		Message:     message,
		Cause:       cause,
	}
}

// Error implements the error interface
func (e *PlaybackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *PlaybackError) Unwrap() error {
	return e.Cause
}

// UserMessage is the text shown to listeners for a terminal error
func (e *PlaybackError) UserMessage() string {
	switch e.Kind {
	case KindDecode, KindUnsupportedSource:
		return "This stream format is not supported on this device."
	case KindCandidatesExhausted:
		return "The stream is unavailable right now."
	default:
		return "The stream could not be reached. Check your connection and try again."
	}
}

func classifyKindAttributes(kind ErrorKind) (ErrorSeverity, bool) {
	switch kind {
	case KindNetwork, KindAbort, KindStallTimeout:
		return SeverityWarning, true
	case KindTokenParse:
		return SeverityInfo, false
	default:
		return SeverityCritical, false
	}
}

// ClassifyMediaError maps a media element error code to an ErrorKind.
// Unknown codes are treated as network failures.
func ClassifyMediaError(code playback.MediaErrorCode) ErrorKind {
	switch code {
	case playback.MediaErrAborted:
		return KindAbort
	case playback.MediaErrNetwork:
		return KindNetwork
	case playback.MediaErrDecode:
		return KindDecode
	case playback.MediaErrSrcNotSupported:
		return KindUnsupportedSource
	default:
		return KindNetwork
	}
}

// ClassifyError classifies a Go error into a PlaybackError
func ClassifyError(err error) *PlaybackError {
	if err == nil {
		return nil
	}

	var perr *PlaybackError
	if errors.As(err, &perr) {
		return perr
	}

	var merr *playback.MediaError
	if errors.As(err, &merr) {
		return NewPlaybackError(ClassifyMediaError(merr.Code), "playback failed", err)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewPlaybackError(KindStallTimeout, "operation timed out", err)
	case errors.Is(err, context.Canceled):
		return NewPlaybackError(KindAbort, "operation cancelled", err)
	case errors.Is(err, token.ErrTokenParse):
		return NewPlaybackError(KindTokenParse, "stream token could not be decoded", err)
	default:
		return NewPlaybackError(KindNetwork, "stream request failed", err)
	}
}

// Controller errors
var (
	ErrNotInitialized = errors.New("controller not initialized")
	ErrDisposed       = errors.New("controller disposed")
	ErrInvalidVolume  = errors.New("volume must be between 0 and 1")
	ErrNoCandidates   = errors.New("station has no stream URL")
)
