package streaming

import (
	"sync"
	"time"

	"github.com/stwalsh4118/airwave/internal/clock"
)

// DefaultRefreshInterval is the proactive token check cadence
const DefaultRefreshInterval = 30 * time.Second

// RefreshScheduler fires a tick at a fixed cadence until stopped
type RefreshScheduler struct {
	clock    clock.Clock
	interval time.Duration

	mu      sync.Mutex
	timer   clock.Timer
	running bool
	gen     uint64
}

// NewRefreshScheduler creates a scheduler ticking every interval
func NewRefreshScheduler(clk clock.Clock, interval time.Duration) *RefreshScheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &RefreshScheduler{clock: clk, interval: interval}
}

// Start begins ticking. It returns false if already running.
func (s *RefreshScheduler) Start(tick func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.gen++
	s.armLocked(s.gen, tick)
	return true
}

// Stop cancels the pending tick. Safe to call repeatedly.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Running reports whether the scheduler is active
func (s *RefreshScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval returns the tick cadence
func (s *RefreshScheduler) Interval() time.Duration {
	return s.interval
}

func (s *RefreshScheduler) armLocked(gen uint64, tick func()) {
	s.timer = s.clock.AfterFunc(s.interval, func() {
		s.mu.Lock()
		if !s.running || s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.armLocked(gen, tick)
		s.mu.Unlock()

		tick()
	})
}
