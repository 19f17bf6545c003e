package token

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/stwalsh4118/airwave/internal/clock"
)

// ErrProbeStatus is returned when the provider answers the probe with an HTTP error
var ErrProbeStatus = errors.New("live url probe returned error status")

// Probe outcomes reported to the ProbeObserver
const (
	ProbeResolved    = "resolved"
	ProbeFailed      = "failed"
	ProbeTimeout     = "timeout"
	ProbeCircuitOpen = "circuit_open"
)

// ProbeObserver is notified once per completed probe
type ProbeObserver func(outcome string, elapsed time.Duration)

// ResolverConfig configures a Resolver
type ResolverConfig struct {
	Client           *http.Client
	Param            string
	UserAgent        string
	RateLimit        float64 // probes per second, 0 disables limiting
	Burst            int
	BreakerThreshold int
	BreakerReset     time.Duration
	Clock            clock.Clock
	Logger           zerolog.Logger
	Observer         ProbeObserver
}

// Resolver follows a provider's redirect chain to discover the current
// token-bearing live URL.
type Resolver struct {
	client    *http.Client
	param     string
	userAgent string
	limiter   *rate.Limiter
	breaker   *CircuitBreaker
	clock     clock.Clock
	logger    zerolog.Logger
	observer  ProbeObserver
	group     singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context of the probe shared by every caller waiting on one
// base URL. It is cancelled when the last waiter leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewResolver creates a Resolver from cfg
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
				MaxIdleConnsPerHost:   2,
			},
		}
	}
	if cfg.Param == "" {
		cfg.Param = DefaultParam
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Resolver{
		client:    cfg.Client,
		param:     cfg.Param,
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(limit, burst),
		breaker:   NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerReset, cfg.Clock),
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
		flights:   make(map[string]*flight),
	}
}

// Breaker exposes the resolver's circuit breaker
func (r *Resolver) Breaker() *CircuitBreaker {
	return r.breaker
}

// ResolveLiveURL probes baseURL and returns the final URL after redirects.
// On any failure it returns baseURL together with the error so callers can
// fall back to letting the player follow the redirect itself.
// Concurrent calls for the same baseURL share a single probe, which keeps
// running until every caller has returned.
func (r *Resolver) ResolveLiveURL(ctx context.Context, baseURL string) (string, error) {
	f := r.join(ctx, baseURL)
	defer r.leave(baseURL, f)

	ch := r.group.DoChan(baseURL, func() (interface{}, error) {
		return r.probe(f.ctx, baseURL)
	})

	select {
	case <-ctx.Done():
		return baseURL, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return baseURL, res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Resolver) join(ctx context.Context, baseURL string) *flight {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flights[baseURL]
	if !ok {
		probeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		if deadline, ok := ctx.Deadline(); ok {
			var cancelDeadline context.CancelFunc
			probeCtx, cancelDeadline = context.WithDeadline(probeCtx, deadline)
			parent := cancel
			cancel = func() {
				cancelDeadline()
				parent()
			}
		}
		f = &flight{ctx: probeCtx, cancel: cancel}
		r.flights[baseURL] = f
	}
	f.waiters++
	return f
}

func (r *Resolver) leave(baseURL string, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if r.flights[baseURL] == f {
		delete(r.flights, baseURL)
		// a later caller must start a new probe rather than join the cancelled one
		r.group.Forget(baseURL)
	}
}

func (r *Resolver) probe(ctx context.Context, baseURL string) (string, error) {
	start := r.clock.Now()
	log := r.logger.With().Str("base_url", Redact(baseURL, r.param)).Logger()

	if !r.breaker.CanAttempt() {
		r.observe(ProbeCircuitOpen, start)
		log.Warn().Msg("Live URL probe skipped, circuit breaker open")
		return "", ErrCircuitOpen
	}

	if err := r.limiter.Wait(ctx); err != nil {
		r.observe(outcomeFor(err), start)
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	liveURL, err := r.fetch(ctx, baseURL)
	if err != nil && errors.Is(err, context.Canceled) {
		// every caller left; says nothing about the provider
		log.Debug().Msg("Live URL probe abandoned")
		return "", err
	}
	if err != nil {
		r.breaker.RecordFailure()
		r.observe(outcomeFor(err), start)
		log.Warn().
			Err(err).
			Str("breaker", r.breaker.State().String()).
			Msg("Live URL probe failed")
		return "", err
	}

	r.breaker.RecordSuccess()
	r.observe(ProbeResolved, start)
	log.Debug().
		Str("live_url", Redact(liveURL, r.param)).
		Dur("elapsed", r.clock.Now().Sub(start)).
		Msg("Live URL resolved")
	return liveURL, nil
}

func (r *Resolver) fetch(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return "", fmt.Errorf("build probe request: %w", RedactError(err, r.param))
	}
	req.Header.Set("Accept", "*/*")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe request: %w", RedactError(err, r.param))
	}
	// Only the final request URL matters; the audio body is never read.
	_ = resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: %d", ErrProbeStatus, resp.StatusCode)
	}

	return resp.Request.URL.String(), nil
}

func (r *Resolver) observe(outcome string, start time.Time) {
	if r.observer != nil {
		r.observer(outcome, r.clock.Now().Sub(start))
	}
}

func outcomeFor(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ProbeTimeout
	}
	return ProbeFailed
}
