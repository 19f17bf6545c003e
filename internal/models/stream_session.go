package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// StreamSession is the live state of one station's listening session.
// It is NOT persisted. Only the owning controller mutates it; everyone else
// reads through the thread-safe getters or Snapshot.
type StreamSession struct {
	ID            uuid.UUID `json:"id"`
	StationID     string    `json:"station_id"`
	State         string    `json:"state"` // stored as string to avoid import cycle with streaming
	CurrentURL    string    `json:"current_url"`
	AttemptCount  int       `json:"attempt_count"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	now           func() time.Time
	mu            sync.RWMutex
}

// SessionSnapshot is an immutable copy of a StreamSession
type SessionSnapshot struct {
	ID            uuid.UUID `json:"id"`
	StationID     string    `json:"station_id"`
	State         string    `json:"state"`
	CurrentURL    string    `json:"current_url,omitempty"`
	AttemptCount  int       `json:"attempt_count"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewStreamSession creates an idle session for a station. now stamps
// StartedAt/UpdatedAt; nil uses the wall clock.
func NewStreamSession(stationID string, now func() time.Time) *StreamSession {
	if now == nil {
		now = time.Now
	}
	ts := now().UTC()
	return &StreamSession{
		ID:        uuid.New(),
		StationID: stationID,
		State:     "idle",
		StartedAt: ts,
		UpdatedAt: ts,
		now:       now,
	}
}

// GetState returns the current state (thread-safe)
func (s *StreamSession) GetState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// SetState sets the state (thread-safe)
// Note: transition validation is done by the caller using streaming.SessionState
func (s *StreamSession) SetState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
	s.UpdatedAt = s.now().UTC()
}

// GetCurrentURL returns the URL currently loaded in the player (thread-safe)
func (s *StreamSession) GetCurrentURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentURL
}

// SetCurrentURL sets the loaded URL (thread-safe)
func (s *StreamSession) SetCurrentURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentURL = u
	s.UpdatedAt = s.now().UTC()
}

// GetAttemptCount returns the consecutive failed attempt count (thread-safe)
func (s *StreamSession) GetAttemptCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AttemptCount
}

// SetAttemptCount sets the attempt count (thread-safe)
func (s *StreamSession) SetAttemptCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AttemptCount = n
}

// GetLastErrorKind returns the most recent failure kind (thread-safe)
func (s *StreamSession) GetLastErrorKind() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastErrorKind
}

// SetLastErrorKind records the most recent failure kind, empty to clear (thread-safe)
func (s *StreamSession) SetLastErrorKind(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastErrorKind = kind
}

// Begin starts a fresh listening attempt: new ID, counters cleared (thread-safe)
func (s *StreamSession) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	s.ID = uuid.New()
	s.CurrentURL = ""
	s.AttemptCount = 0
	s.LastErrorKind = ""
	s.StartedAt = now
	s.UpdatedAt = now
}

// Reset returns the session to idle (thread-safe)
func (s *StreamSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = "idle"
	s.CurrentURL = ""
	s.AttemptCount = 0
	s.LastErrorKind = ""
	s.UpdatedAt = s.now().UTC()
}

// Snapshot returns a copy of the session (thread-safe)
func (s *StreamSession) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSnapshot{
		ID:            s.ID,
		StationID:     s.StationID,
		State:         s.State,
		CurrentURL:    s.CurrentURL,
		AttemptCount:  s.AttemptCount,
		LastErrorKind: s.LastErrorKind,
		StartedAt:     s.StartedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
