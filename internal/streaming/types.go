// Package streaming drives a resilient live audio session: state machine,
// retry policy and proactive token refresh.
package streaming

import (
	"time"

	"github.com/stwalsh4118/airwave/internal/models"
)

// SessionState represents the current state of a listening session
type SessionState string

// Session state constants
const (
	StateIdle       SessionState = "idle"       // Nothing playing
	StateConnecting SessionState = "connecting" // Resolving, loading or waiting to retry
	StateConnected  SessionState = "connected"  // Audio flowing
	StateError      SessionState = "error"      // Terminal until the next Play
)

// String returns the string representation of the session state
func (s SessionState) String() string {
	return string(s)
}

// IsValid checks if the session state is a known valid value
func (s SessionState) IsValid() bool {
	switch s {
	case StateIdle, StateConnecting, StateConnected, StateError:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a transition from current state to newState is valid
func (s SessionState) CanTransitionTo(newState SessionState) bool {
	switch s {
	case StateIdle:
		return newState == StateConnecting
	case StateConnecting:
		return newState == StateConnected || newState == StateError || newState == StateIdle
	case StateConnected:
		// A mid-stream failure goes back to connecting for a retry
		return newState == StateConnecting || newState == StateError || newState == StateIdle
	case StateError:
		return newState == StateConnecting || newState == StateIdle
	default:
		return false
	}
}

// Status is delivered to status subscribers on every state change and retry
type Status struct {
	StationID string       `json:"station_id"`
	State     SessionState `json:"state"`
	URL       string       `json:"url,omitempty"` // redacted
	Attempt   int          `json:"attempt"`
	At        time.Time    `json:"at"`
}

// ErrorEvent is delivered to error subscribers when a session ends in error
type ErrorEvent struct {
	StationID         string    `json:"station_id"`
	Kind              ErrorKind `json:"kind"`
	Message           string    `json:"message"`
	ExternalPlayerURL string    `json:"external_player_url,omitempty"`
	At                time.Time `json:"at"`
}

// Recorder receives session metrics
type Recorder interface {
	RecordState(stationID, state string)
	RecordRetry(stationID, kind string)
	RecordError(stationID, kind string)
	RecordRefresh(stationID, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordState(string, string)   {}
func (nopRecorder) RecordRetry(string, string)   {}
func (nopRecorder) RecordError(string, string)   {}
func (nopRecorder) RecordRefresh(string, string) {}

// Refresh outcomes reported to the Recorder
const (
	RefreshSwapped   = "swapped"
	RefreshUnchanged = "unchanged"
	RefreshFailed    = "failed"
)

func sessionState(s *models.StreamSession) SessionState {
	return SessionState(s.GetState())
}
