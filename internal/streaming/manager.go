package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stwalsh4118/airwave/internal/candidate"
	"github.com/stwalsh4118/airwave/internal/clock"
	"github.com/stwalsh4118/airwave/internal/logger"
	"github.com/stwalsh4118/airwave/internal/token"
)

// Common errors
var (
	ErrUnknownStation = errors.New("station not found")
	ErrManagerStopped = errors.New("stream manager has been stopped")
)

const defaultCleanupInterval = time.Minute

// StationConfig is what a controller needs to know about its station
type StationConfig struct {
	ID                string
	Source            candidate.Source
	ExternalPlayerURL string
}

// StationSource looks stations up by ID. Unknown IDs return an error
// wrapping ErrUnknownStation.
type StationSource interface {
	Lookup(ctx context.Context, stationID string) (StationConfig, error)
}

// ManagerConfig holds the controller settings shared by every station
type ManagerConfig struct {
	Policy          RetryPolicy
	RefreshInterval time.Duration
	Inspector       token.Inspector
	ProbeTimeout    time.Duration
	StartTimeout    time.Duration

	// Profile overrides the per-request capability profile when set
	Profile candidate.Profile

	// Controllers idle or in error for longer than IdleTimeout are disposed.
	// Zero disables cleanup.
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

// ManagerOption customizes a StreamManager
type ManagerOption func(*StreamManager)

// WithManagerClock sets the clock handed to every controller
func WithManagerClock(c clock.Clock) ManagerOption {
	return func(m *StreamManager) { m.clock = c }
}

// WithManagerRecorder sets the metrics recorder handed to every controller
func WithManagerRecorder(r Recorder) ManagerOption {
	return func(m *StreamManager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// StreamManager owns one session controller per station, creating them on
// first use and disposing idle ones in the background
type StreamManager struct {
	registry  *Registry
	stations  StationSource
	resolver  LiveURLResolver
	newPlayer PlayerFactory
	config    ManagerConfig
	clock     clock.Clock
	recorder  Recorder
	log       zerolog.Logger

	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	cleanupDone   chan struct{}
	mu            sync.RWMutex
	stopped       bool
}

// NewStreamManager creates a new stream manager instance
func NewStreamManager(
	stations StationSource,
	resolver LiveURLResolver,
	newPlayer PlayerFactory,
	cfg ManagerConfig,
	opts ...ManagerOption,
) *StreamManager {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Policy == (RetryPolicy{}) {
		cfg.Policy = DefaultRetryPolicy()
	}
	m := &StreamManager{
		registry:    NewRegistry(),
		stations:    stations,
		resolver:    resolver,
		newPlayer:   newPlayer,
		config:      cfg,
		clock:       clock.Real{},
		recorder:    nopRecorder{},
		log:         logger.Component("stream_manager"),
		stopChan:    make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start begins background cleanup of idle controllers
func (m *StreamManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}
	if m.config.IdleTimeout <= 0 || m.cleanupTicker != nil {
		return nil
	}

	m.cleanupTicker = time.NewTicker(m.config.CleanupInterval)
	go m.runCleanupLoop()

	m.log.Info().
		Dur("cleanup_interval", m.config.CleanupInterval).
		Dur("idle_timeout", m.config.IdleTimeout).
		Msg("Stream manager started")

	return nil
}

// Stop ends the cleanup loop and disposes every controller
func (m *StreamManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	ticker := m.cleanupTicker
	m.mu.Unlock()

	close(m.stopChan)
	if ticker != nil {
		<-m.cleanupDone
		ticker.Stop()
	}

	n := m.registry.Len()
	m.registry.DisposeAll()

	m.log.Info().Int("stopped_controllers", n).Msg("Stream manager stopped")
}

// Controller returns the station's controller, creating it on first use.
// profile is the requesting client's capability profile; it only matters
// when the controller is created and is ignored if the config overrides it.
func (m *StreamManager) Controller(ctx context.Context, stationID string, profile candidate.Profile) (*Controller, error) {
	m.mu.RLock()
	stopped := m.stopped
	m.mu.RUnlock()
	if stopped {
		return nil, ErrManagerStopped
	}

	if c, ok := m.registry.Get(stationID); ok {
		return c, nil
	}

	station, err := m.stations.Lookup(ctx, stationID)
	if err != nil {
		return nil, err
	}

	return m.registry.GetOrCreate(stationID, func() (*Controller, error) {
		return m.newController(station, profile)
	})
}

func (m *StreamManager) newController(station StationConfig, profile candidate.Profile) (*Controller, error) {
	if m.config.Profile != "" {
		profile = m.config.Profile
	}

	opts := DefaultOptions(station.ID, station.Source)
	opts.Profile = profile
	opts.ExternalPlayerURL = station.ExternalPlayerURL
	opts.Policy = m.config.Policy
	if m.config.RefreshInterval > 0 {
		opts.RefreshInterval = m.config.RefreshInterval
	}
	if m.config.Inspector.Param != "" {
		opts.Inspector = m.config.Inspector
	}
	if m.config.ProbeTimeout > 0 {
		opts.ProbeTimeout = m.config.ProbeTimeout
	}
	if m.config.StartTimeout > 0 {
		opts.StartTimeout = m.config.StartTimeout
	}

	var resolver LiveURLResolver
	if station.Source.TokenBearing {
		resolver = m.resolver
	}

	c, err := NewController(opts, resolver, m.newPlayer,
		WithClock(m.clock),
		WithRecorder(m.recorder),
		WithLogger(logger.Component("controller")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller for station %s: %w", station.ID, err)
	}

	m.log.Info().
		Str("station_id", station.ID).
		Str("profile", string(opts.Profile)).
		Bool("token_bearing", station.Source.TokenBearing).
		Msg("Session controller created")

	return c, nil
}

// Get returns the station's controller if one exists
func (m *StreamManager) Get(stationID string) (*Controller, bool) {
	return m.registry.Get(stationID)
}

// Release disposes the station's controller, e.g. after the station changed
func (m *StreamManager) Release(stationID string) bool {
	ok := m.registry.Remove(stationID)
	if ok {
		m.log.Info().Str("station_id", stationID).Msg("Session controller released")
	}
	return ok
}

// Len returns the number of live controllers
func (m *StreamManager) Len() int {
	return m.registry.Len()
}

// runCleanupLoop runs periodic cleanup of idle controllers
func (m *StreamManager) runCleanupLoop() {
	defer close(m.cleanupDone)

	for {
		select {
		case <-m.stopChan:
			return
		case <-m.cleanupTicker.C:
			m.performCleanup()
		}
	}
}

// performCleanup disposes controllers that have sat idle or in error past
// the idle timeout
func (m *StreamManager) performCleanup() {
	now := m.clock.Now()
	removed := 0

	for _, c := range m.registry.List() {
		snap := c.Snapshot()
		switch SessionState(snap.State) {
		case StateIdle, StateError:
		default:
			continue
		}
		if now.Sub(snap.UpdatedAt) < m.config.IdleTimeout {
			continue
		}
		if m.registry.Remove(c.StationID()) {
			removed++
		}
	}

	if removed > 0 {
		m.log.Info().
			Int("removed", removed).
			Int("remaining", m.registry.Len()).
			Msg("Idle session controllers cleaned up")
	}
}
