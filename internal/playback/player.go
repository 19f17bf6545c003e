// Package playback defines the playback resource a session drives and an
// HTTP implementation that pulls live audio from direct and HLS streams.
package playback

import (
	"errors"
	"fmt"
	"time"
)

// MediaErrorCode mirrors the media element error codes players report
type MediaErrorCode int

const (
	MediaErrAborted         MediaErrorCode = 1
	MediaErrNetwork         MediaErrorCode = 2
	MediaErrDecode          MediaErrorCode = 3
	MediaErrSrcNotSupported MediaErrorCode = 4
)

// String returns the string representation of MediaErrorCode
func (c MediaErrorCode) String() string {
	switch c {
	case MediaErrAborted:
		return "aborted"
	case MediaErrNetwork:
		return "network"
	case MediaErrDecode:
		return "decode"
	case MediaErrSrcNotSupported:
		return "src_not_supported"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// MediaError is a playback failure carrying a media error code
type MediaError struct {
	Code  MediaErrorCode
	Cause error
}

// Error implements the error interface
func (e *MediaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("media error %s: %v", e.Code, e.Cause)
	}
	return "media error " + e.Code.String()
}

// Unwrap returns the underlying cause
func (e *MediaError) Unwrap() error {
	return e.Cause
}

func mediaErr(code MediaErrorCode, cause error) error {
	return &MediaError{Code: code, Cause: cause}
}

// CodeOf extracts the media error code from err, defaulting to network
func CodeOf(err error) MediaErrorCode {
	var me *MediaError
	if errors.As(err, &me) {
		return me.Code
	}
	return MediaErrNetwork
}

// EventType identifies a player notification
type EventType string

const (
	// EventPlaying is the start acknowledgement: audio is flowing
	EventPlaying EventType = "playing"
	// EventStalled means no data arrived for the stall timeout
	EventStalled EventType = "stalled"
	// EventError carries a MediaErrorCode
	EventError EventType = "error"
	// EventEnded means the stream closed cleanly
	EventEnded EventType = "ended"
)

// Event is a notification from a Player. Source is the URL the event
// belongs to so late events from a replaced source can be told apart.
type Event struct {
	Type   EventType
	Source string
	Code   MediaErrorCode
	Err    error
}

// Handler receives player events. It is called from player goroutines and
// must not block or call Close.
type Handler func(Event)

// Player is a single playback resource. Start is asynchronous: Play returns
// immediately and EventPlaying follows once audio flows.
type Player interface {
	// Attach installs the event handler used by subsequent Play calls
	Attach(h Handler)
	// Detach removes the event handler
	Detach()
	// SetSource loads a new source and leaves the player paused until Play.
	// Implementations that support seamless swaps keep the previous source
	// audible until the new one starts.
	SetSource(src string)
	// Source returns the loaded source
	Source() string
	Play()
	Pause()
	Paused() bool
	// CurrentTime is the playback position
	CurrentTime() time.Duration
	Seek(pos time.Duration)
	SetVolume(level float64)
	Volume() float64
	// SupportsSeamlessSwap reports whether SetSource while playing avoids
	// an audible gap
	SupportsSeamlessSwap() bool
	// Unload stops playback and releases the source
	Unload()
	// Close releases all resources and waits for background work to exit
	Close() error
}
