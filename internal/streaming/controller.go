package streaming

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stwalsh4118/airwave/internal/candidate"
	"github.com/stwalsh4118/airwave/internal/clock"
	"github.com/stwalsh4118/airwave/internal/models"
	"github.com/stwalsh4118/airwave/internal/playback"
	"github.com/stwalsh4118/airwave/internal/token"
)

// Controller timing defaults
const (
	DefaultProbeTimeout = 8 * time.Second
	DefaultStartTimeout = 15 * time.Second
	DefaultHardSkew     = 10 * time.Second
	DefaultSoftSkew     = 45 * time.Second

	inboxSize = 64
)

// LiveURLResolver turns a token provider's base URL into a live URL
type LiveURLResolver interface {
	ResolveLiveURL(ctx context.Context, baseURL string) (string, error)
}

// PlayerFactory creates the controller's playback resource on first Play
type PlayerFactory func() playback.Player

// Options configures a Controller
type Options struct {
	StationID         string
	Source            candidate.Source
	Profile           candidate.Profile
	Policy            RetryPolicy
	RefreshInterval   time.Duration
	Inspector         token.Inspector
	ProbeTimeout      time.Duration
	StartTimeout      time.Duration
	ExternalPlayerURL string
	InitialVolume     float64
}

// DefaultOptions returns options with the default timing and full volume
func DefaultOptions(stationID string, src candidate.Source) Options {
	return Options{
		StationID:       stationID,
		Source:          src,
		Profile:         candidate.ProfileGeneric,
		Policy:          DefaultRetryPolicy(),
		RefreshInterval: DefaultRefreshInterval,
		Inspector:       token.NewInspector(token.DefaultParam, DefaultHardSkew, DefaultSoftSkew),
		ProbeTimeout:    DefaultProbeTimeout,
		StartTimeout:    DefaultStartTimeout,
		InitialVolume:   1,
	}
}

// Option customizes a Controller
type Option func(*Controller)

// WithClock sets the clock driving retry, start and refresh timers
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithLogger sets the controller's logger
func WithLogger(l zerolog.Logger) Option {
	return func(ctrl *Controller) { ctrl.log = l }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(ctrl *Controller) {
		if r != nil {
			ctrl.recorder = r
		}
	}
}

type probePurpose int

const (
	purposeConnect probePurpose = iota
	purposeRefresh
)

func (p probePurpose) String() string {
	if p == purposeRefresh {
		return "refresh"
	}
	return "connect"
}

type probe struct {
	purpose probePurpose
	base    string
	cancel  context.CancelFunc
}

// Controller owns one station's listening session. Every state change runs
// on a single event-loop goroutine; timers, probes and player callbacks post
// back to it and are dropped if they belong to an older generation.
type Controller struct {
	opts      Options
	resolver  LiveURLResolver
	newPlayer PlayerFactory
	clock     clock.Clock
	log       zerolog.Logger
	recorder  Recorder
	scheduler *RefreshScheduler
	session   *models.StreamSession
	notifier  *notifier
	volume    atomic.Uint64

	inbox    chan func()
	quit     chan struct{}
	loopDone chan struct{}
	done     chan struct{}
	probes   sync.WaitGroup

	lifeMu   sync.Mutex
	started  bool
	disposed bool

	// loop-owned
	player     playback.Player
	list       candidate.List
	cursor     int
	budget     Budget
	gen        uint64
	probe      *probe
	retryTimer clock.Timer
	startTimer clock.Timer
	startSeq   uint64
}

// NewController creates a controller. Call Init before use and Dispose when done.
func NewController(opts Options, resolver LiveURLResolver, newPlayer PlayerFactory, options ...Option) (*Controller, error) {
	if strings.TrimSpace(opts.Source.StreamURL) == "" && strings.TrimSpace(opts.Source.SegmentedURL) == "" {
		return nil, ErrNoCandidates
	}
	if opts.Source.TokenBearing {
		if strings.TrimSpace(opts.Source.StreamURL) == "" {
			return nil, ErrNoCandidates
		}
		if resolver == nil {
			return nil, errors.New("token-bearing source requires a resolver")
		}
	}
	if newPlayer == nil {
		return nil, errors.New("player factory is required")
	}
	if !validVolume(opts.InitialVolume) {
		return nil, ErrInvalidVolume
	}
	if opts.Policy.MaxAttempts < 0 || opts.Policy.BaseDelay <= 0 || opts.Policy.CapDelay < opts.Policy.BaseDelay {
		return nil, fmt.Errorf("invalid retry policy: %+v", opts.Policy)
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.Profile == "" {
		opts.Profile = candidate.ProfileGeneric
	}
	if opts.Inspector.Param == "" {
		opts.Inspector.Param = token.DefaultParam
	}

	c := &Controller{
		opts:      opts,
		resolver:  resolver,
		newPlayer: newPlayer,
		clock:     clock.Real{},
		recorder:  nopRecorder{},
		notifier:  newNotifier(),
		inbox:     make(chan func(), inboxSize),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range options {
		o(c)
	}
	c.log = c.log.With().Str("station_id", opts.StationID).Logger()
	c.session = models.NewStreamSession(opts.StationID, c.clock.Now)
	c.scheduler = NewRefreshScheduler(c.clock, opts.RefreshInterval)
	c.volume.Store(math.Float64bits(opts.InitialVolume))
	c.budget = opts.Policy.NewBudget()
	return c, nil
}

// StationID returns the station this controller plays
func (c *Controller) StationID() string {
	return c.opts.StationID
}

// Init starts the event loop. Calling it again is a no-op.
func (c *Controller) Init() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.started {
		return nil
	}
	c.started = true
	c.notifier.start()
	go c.loop()
	return nil
}

// Dispose stops playback, releases the player and ends every goroutine the
// controller started. The controller cannot be reused.
func (c *Controller) Dispose() {
	c.lifeMu.Lock()
	if c.disposed {
		c.lifeMu.Unlock()
		return
	}
	c.disposed = true
	started := c.started
	c.lifeMu.Unlock()
	defer close(c.done)

	if !started {
		return
	}

	c.exec(func() {
		c.handleStop()
		if c.player != nil {
			if err := c.player.Close(); err != nil {
				c.log.Warn().Err(err).Msg("Failed to close player")
			}
			c.player = nil
		}
	})
	close(c.quit)
	<-c.loopDone
	c.probes.Wait()
	c.notifier.stop()
	c.log.Debug().Msg("Controller disposed")
}

// Done is closed once Dispose has finished. Subscriptions end with it.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Play starts a session. It is a no-op while connecting or connected.
func (c *Controller) Play() error {
	return c.call(c.handlePlay)
}

// Stop ends the session and cancels all pending work
func (c *Controller) Stop() error {
	return c.call(c.handleStop)
}

// SetVolume sets the output level in [0, 1]
func (c *Controller) SetVolume(level float64) error {
	if !validVolume(level) {
		return ErrInvalidVolume
	}
	return c.call(func() {
		c.volume.Store(math.Float64bits(level))
		if c.player != nil {
			c.player.SetVolume(level)
		}
	})
}

// Volume returns the output level
func (c *Controller) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

// State returns the current session state
func (c *Controller) State() SessionState {
	return sessionState(c.session)
}

// Snapshot returns a copy of the session with the token redacted
func (c *Controller) Snapshot() models.SessionSnapshot {
	snap := c.session.Snapshot()
	snap.CurrentURL = c.opts.Inspector.Redact(snap.CurrentURL)
	return snap
}

// Status returns the current status as delivered to subscribers
func (c *Controller) Status() Status {
	snap := c.Snapshot()
	return Status{
		StationID: snap.StationID,
		State:     SessionState(snap.State),
		URL:       snap.CurrentURL,
		Attempt:   snap.AttemptCount,
		At:        c.clock.Now(),
	}
}

// SubscribeStatus registers fn for status changes. Callbacks run in order on
// a dedicated goroutine and may call back into the controller.
func (c *Controller) SubscribeStatus(fn func(Status)) (unsubscribe func()) {
	return c.notifier.subscribeStatus(fn)
}

// SubscribeError registers fn for terminal errors
func (c *Controller) SubscribeError(fn func(ErrorEvent)) (unsubscribe func()) {
	return c.notifier.subscribeError(fn)
}

func validVolume(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.quit:
			return
		}
	}
}

// post queues fn on the event loop. It returns false once the loop is gone.
func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// exec runs fn on the event loop and waits for it
func (c *Controller) exec(fn func()) bool {
	done := make(chan struct{})
	if !c.post(func() {
		fn()
		close(done)
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-c.loopDone:
		return false
	}
}

func (c *Controller) call(fn func()) error {
	c.lifeMu.Lock()
	disposed, started := c.disposed, c.started
	c.lifeMu.Unlock()
	if disposed {
		return ErrDisposed
	}
	if !started {
		return ErrNotInitialized
	}
	if !c.exec(fn) {
		return ErrDisposed
	}
	return nil
}

func (c *Controller) state() SessionState {
	return sessionState(c.session)
}

func (c *Controller) redact(u string) string {
	return c.opts.Inspector.Redact(u)
}

func (c *Controller) transition(to SessionState) {
	from := c.state()
	if from == to {
		return
	}
	if !from.CanTransitionTo(to) {
		c.log.Error().Str("from", from.String()).Str("to", to.String()).Msg("Invalid session state transition")
		return
	}
	c.session.SetState(to.String())
	c.recorder.RecordState(c.opts.StationID, to.String())
	c.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("Session state changed")
	c.publishStatus()
}

func (c *Controller) publishStatus() {
	c.notifier.publishStatus(Status{
		StationID: c.opts.StationID,
		State:     c.state(),
		URL:       c.redact(c.session.GetCurrentURL()),
		Attempt:   c.budget.Attempt,
		At:        c.clock.Now(),
	})
}

func (c *Controller) handlePlay() {
	switch c.state() {
	case StateConnecting, StateConnected:
		c.log.Debug().Str("state", c.state().String()).Msg("Play ignored, session already active")
		return
	}

	c.gen++
	c.budget = c.opts.Policy.NewBudget()
	c.list = candidate.Build(c.opts.Source, c.opts.Profile)
	c.cursor = 0
	c.session.Begin()
	c.ensurePlayer()

	c.log.Info().
		Int("candidates", c.list.Len()).
		Bool("token_bearing", c.list.TokenBearing()).
		Str("profile", string(c.opts.Profile)).
		Msg("Starting session")

	c.transition(StateConnecting)
	c.attempt(true)
}

func (c *Controller) ensurePlayer() {
	if c.player == nil {
		c.player = c.newPlayer()
	}
	c.player.SetVolume(c.Volume())
	gen := c.gen
	c.player.Attach(func(ev playback.Event) {
		c.post(func() { c.handlePlayerEvent(gen, ev) })
	})
}

// attempt loads the candidate at the cursor. Token providers are resolved
// first when this is a fresh Play or the current token is no longer usable.
func (c *Controller) attempt(fresh bool) {
	base := c.list.At(c.cursor)
	if !c.list.TokenBearing() {
		c.connect(base)
		return
	}

	cur := c.session.GetCurrentURL()
	now := c.clock.Now()
	if !fresh && cur != "" {
		c.checkToken(cur)
	}
	if fresh || cur == "" || c.opts.Inspector.Expired(cur, now) || c.opts.Inspector.RefreshSoon(cur, now) {
		c.resolve(purposeConnect, base)
		return
	}
	c.connect(cur)
}

func (c *Controller) resolve(purpose probePurpose, base string) {
	if c.probe != nil {
		if purpose == purposeConnect && c.probe.purpose == purposeRefresh {
			c.log.Debug().Msg("Reactive recovery taking over in-flight refresh probe")
			c.probe.purpose = purposeConnect
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ProbeTimeout)
	p := &probe{purpose: purpose, base: base, cancel: cancel}
	c.probe = p

	c.log.Debug().Str("purpose", purpose.String()).Str("base_url", c.redact(base)).Msg("Resolving live URL")

	c.probes.Add(1)
	go func() {
		defer c.probes.Done()
		live, err := c.resolver.ResolveLiveURL(ctx, base)
		c.post(func() { c.handleResolved(p, live, err) })
	}()
}

func (c *Controller) handleResolved(p *probe, live string, err error) {
	p.cancel()
	if c.probe != p {
		return
	}
	c.probe = nil
	if live == "" {
		live = p.base
	}

	switch p.purpose {
	case purposeConnect:
		if c.state() != StateConnecting {
			return
		}
		if err != nil {
			perr := ClassifyError(c.opts.Inspector.RedactError(err))
			if perr.Kind == KindStallTimeout {
				perr.Message = "live URL probe timed out"
				c.handleFailure(perr)
				return
			}
			c.log.Warn().
				Err(perr).
				Str("kind", perr.Kind.String()).
				Str("base_url", c.redact(p.base)).
				Msg("Live URL probe failed, falling back to base URL")
		}
		c.connect(live)

	case purposeRefresh:
		if c.state() != StateConnected {
			return
		}
		if err != nil {
			c.recorder.RecordRefresh(c.opts.StationID, RefreshFailed)
			c.log.Warn().Err(c.opts.Inspector.RedactError(err)).Msg("Proactive refresh probe failed, keeping current stream")
			return
		}
		c.swap(live)
	}
}

func (c *Controller) connect(u string) {
	c.session.SetCurrentURL(u)
	c.log.Debug().Str("url", c.redact(u)).Int("cursor", c.cursor).Int("attempt", c.budget.Attempt).Msg("Loading stream")
	c.player.SetSource(u)
	c.player.Play()
	c.armStartTimer()
}

// swap loads a refreshed URL without losing position or pause state
func (c *Controller) swap(live string) {
	cur := c.session.GetCurrentURL()
	if live == cur {
		c.recorder.RecordRefresh(c.opts.StationID, RefreshUnchanged)
		return
	}

	pos := c.player.CurrentTime()
	paused := c.player.Paused()
	if !c.player.SupportsSeamlessSwap() {
		c.log.Debug().Msg("Player cannot swap seamlessly, a short gap is expected")
	}

	c.session.SetCurrentURL(live)
	c.player.SetSource(live)
	c.player.Seek(pos)
	if !paused {
		c.player.Play()
		c.armStartTimer()
	}

	c.recorder.RecordRefresh(c.opts.StationID, RefreshSwapped)
	c.log.Info().
		Str("url", c.redact(live)).
		Dur("position", pos).
		Bool("paused", paused).
		Msg("Swapped in refreshed stream URL")
}

func (c *Controller) armStartTimer() {
	c.cancelStartTimer()
	c.startSeq++
	gen, seq := c.gen, c.startSeq
	c.startTimer = c.clock.AfterFunc(c.opts.StartTimeout, func() {
		c.post(func() { c.handleStartTimeout(gen, seq) })
	})
}

func (c *Controller) cancelStartTimer() {
	if c.startTimer != nil {
		c.startTimer.Stop()
		c.startTimer = nil
	}
}

func (c *Controller) cancelRetryTimer() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Controller) cancelProbe() {
	if c.probe != nil {
		c.probe.cancel()
		c.probe = nil
	}
}

func (c *Controller) handleStartTimeout(gen, seq uint64) {
	if gen != c.gen || seq != c.startSeq || c.startTimer == nil {
		return
	}
	c.startTimer = nil
	c.handleFailure(NewPlaybackError(KindStallTimeout,
		fmt.Sprintf("playback did not start within %s", c.opts.StartTimeout), nil))
}

func (c *Controller) handlePlayerEvent(gen uint64, ev playback.Event) {
	if gen != c.gen {
		return
	}
	if ev.Source != c.session.GetCurrentURL() {
		c.log.Debug().Str("event", string(ev.Type)).Str("source", c.redact(ev.Source)).Msg("Dropping event from replaced source")
		return
	}

	switch ev.Type {
	case playback.EventPlaying:
		c.handlePlaying()
	case playback.EventStalled:
		c.handleFailure(NewPlaybackError(KindStallTimeout, "stream stalled", ev.Err))
	case playback.EventEnded:
		c.handleFailure(NewPlaybackError(KindNetwork, "stream ended unexpectedly", ev.Err))
	case playback.EventError:
		kind := ClassifyMediaError(ev.Code)
		c.handleFailure(NewPlaybackError(kind, "playback error: "+ev.Code.String(), ev.Err))
	}
}

func (c *Controller) handlePlaying() {
	c.cancelStartTimer()

	switch c.state() {
	case StateConnecting:
		c.budget = c.opts.Policy.NewBudget()
		c.session.SetAttemptCount(0)
		c.session.SetLastErrorKind("")
		c.transition(StateConnected)

		if c.list.TokenBearing() {
			gen := c.gen
			c.scheduler.Start(func() {
				c.post(func() { c.handleRefreshTick(gen) })
			})
		}
	case StateConnected:
		c.log.Debug().Msg("Refreshed stream started")
	}
}

func (c *Controller) handleFailure(perr *PlaybackError) {
	st := c.state()
	if st != StateConnecting && st != StateConnected {
		return
	}

	c.cancelStartTimer()
	c.scheduler.Stop()

	perr.URL = c.redact(c.session.GetCurrentURL())
	c.opts.Inspector.RedactError(perr.Cause)
	c.session.SetLastErrorKind(perr.Kind.String())
	c.recorder.RecordError(c.opts.StationID, perr.Kind.String())

	log := c.log.With().
		Str("kind", perr.Kind.String()).
		Str("url", perr.URL).
		Int("attempt", c.budget.Attempt).
		Logger()

	if !c.opts.Policy.IsRetryable(perr.Kind) {
		severityEvent(&log, perr.Severity).Err(perr).Msg("Playback failed, not retryable")
		c.fail(perr)
		return
	}
	if !c.opts.Policy.ShouldRetry(c.budget) {
		log.Error().Err(perr).Int("max_attempts", c.budget.MaxAttempts).Msg("Playback failed, retry budget exhausted")
		c.fail(perr)
		return
	}

	if st == StateConnecting && c.list.Len() > 1 {
		if c.cursor+1 >= c.list.Len() {
			log.Error().Err(perr).Msg("Playback failed on every candidate")
			c.fail(NewPlaybackError(KindCandidatesExhausted, "all stream candidates failed", perr))
			return
		}
		c.cursor++
	}

	delay := c.opts.Policy.NextDelay(c.budget.Attempt)
	c.budget.Attempt++
	c.session.SetAttemptCount(c.budget.Attempt)
	c.recorder.RecordRetry(c.opts.StationID, perr.Kind.String())

	severityEvent(&log, perr.Severity).Err(perr).Dur("delay", delay).Int("cursor", c.cursor).Msg("Playback failed, retrying")

	if st == StateConnected {
		c.transition(StateConnecting)
	} else {
		c.publishStatus()
	}

	c.cancelRetryTimer()
	gen := c.gen
	c.retryTimer = c.clock.AfterFunc(delay, func() {
		c.post(func() { c.handleRetry(gen) })
	})
}

func (c *Controller) handleRetry(gen uint64) {
	if gen != c.gen || c.state() != StateConnecting {
		return
	}
	c.retryTimer = nil
	c.attempt(false)
}

// fail ends the session in the error state. The attempt count is kept
// until the next Play.
func (c *Controller) fail(perr *PlaybackError) {
	c.cancelStartTimer()
	c.cancelRetryTimer()
	c.scheduler.Stop()
	c.cancelProbe()
	if c.player != nil {
		c.player.Unload()
	}

	c.session.SetLastErrorKind(perr.Kind.String())
	c.transition(StateError)

	c.notifier.publishError(ErrorEvent{
		StationID:         c.opts.StationID,
		Kind:              perr.Kind,
		Message:           perr.UserMessage(),
		ExternalPlayerURL: c.opts.ExternalPlayerURL,
		At:                c.clock.Now(),
	})
}

func (c *Controller) handleStop() {
	c.gen++
	c.cancelStartTimer()
	c.cancelRetryTimer()
	c.scheduler.Stop()
	c.cancelProbe()
	if c.player != nil {
		c.player.Detach()
		c.player.Unload()
	}
	c.budget = c.opts.Policy.NewBudget()
	c.cursor = 0

	from := c.state()
	if from == StateIdle {
		return
	}
	c.session.Reset()
	c.recorder.RecordState(c.opts.StationID, StateIdle.String())
	c.log.Info().Str("from", from.String()).Str("to", StateIdle.String()).Msg("Session state changed")
	c.publishStatus()
}

func (c *Controller) handleRefreshTick(gen uint64) {
	if gen != c.gen || c.state() != StateConnected || !c.list.TokenBearing() {
		return
	}
	if c.probe != nil {
		return
	}

	cur := c.session.GetCurrentURL()
	c.checkToken(cur)
	if !c.opts.Inspector.RefreshSoon(cur, c.clock.Now()) {
		c.log.Debug().Msg("Token still fresh, skipping refresh")
		return
	}

	c.log.Info().Msg("Token nearing expiry, refreshing live URL")
	c.resolve(purposeRefresh, c.list.At(0))
}

// checkToken records an unreadable token on the loaded URL. The session is
// not failed: an unreadable token counts as expired and forces a refresh.
func (c *Controller) checkToken(u string) {
	if _, err := c.opts.Inspector.Claim(u); err != nil {
		perr := ClassifyError(err)
		c.recorder.RecordError(c.opts.StationID, perr.Kind.String())
		severityEvent(&c.log, perr.Severity).
			Err(perr).
			Str("kind", perr.Kind.String()).
			Str("url", c.redact(u)).
			Msg("Stream token unreadable, forcing refresh")
	}
}

func severityEvent(log *zerolog.Logger, s ErrorSeverity) *zerolog.Event {
	switch s {
	case SeverityInfo:
		return log.Info()
	case SeverityWarning:
		return log.Warn()
	default:
		return log.Error()
	}
}
