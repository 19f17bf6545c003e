package streaming

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stwalsh4118/airwave/internal/playback"
)

// fakePlayer records every call and lets tests emit events as the player
type fakePlayer struct {
	mu       sync.Mutex
	handler  playback.Handler
	src      string
	paused   bool
	pos      time.Duration
	volume   float64
	seamless bool
	closed   bool
	calls    []string
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{paused: true, volume: 1, seamless: true}
}

func (p *fakePlayer) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *fakePlayer) Attach(h playback.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
	p.record("attach")
}

func (p *fakePlayer) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = nil
	p.record("detach")
}

func (p *fakePlayer) SetSource(src string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.src = src
	p.paused = true
	p.record("setSource:" + src)
}

func (p *fakePlayer) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src
}

func (p *fakePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.record("play")
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.record("pause")
}

func (p *fakePlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *fakePlayer) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *fakePlayer) Seek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
	p.record(fmt.Sprintf("seek:%s", pos))
}

func (p *fakePlayer) SetVolume(level float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = level
}

func (p *fakePlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *fakePlayer) SupportsSeamlessSwap() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seamless
}

func (p *fakePlayer) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.src = ""
	p.paused = true
	p.record("unload")
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.record("close")
	return nil
}

// setPlayback simulates the listener's position and pause state
func (p *fakePlayer) setPlayback(pos time.Duration, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
	p.paused = paused
}

func (p *fakePlayer) currentHandler() playback.Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

func (p *fakePlayer) emit(ev playback.Event) {
	if h := p.currentHandler(); h != nil {
		h(ev)
	}
}

func (p *fakePlayer) emitPlaying() {
	p.emit(playback.Event{Type: playback.EventPlaying, Source: p.Source()})
}

func (p *fakePlayer) emitError(code playback.MediaErrorCode) {
	p.emit(playback.Event{Type: playback.EventError, Source: p.Source(), Code: code})
}

func (p *fakePlayer) sources() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if len(c) > len("setSource:") && c[:len("setSource:")] == "setSource:" {
			out = append(out, c[len("setSource:"):])
		}
	}
	return out
}

// callsSince returns the calls recorded after the n-th
func (p *fakePlayer) callsSince(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.calls) {
		return nil
	}
	return append([]string(nil), p.calls[n:]...)
}

func (p *fakePlayer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakePlayer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeResolver returns scripted live URLs. When gate is set each call waits
// for a value on it (or for its context).
type fakeResolver struct {
	calls   atomic.Int32
	gate    chan struct{}
	resolve func(base string, call int) (string, error)
}

func (r *fakeResolver) ResolveLiveURL(ctx context.Context, base string) (string, error) {
	n := int(r.calls.Add(1))
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return base, ctx.Err()
		}
	}
	return r.resolve(base, n)
}

func (r *fakeResolver) count() int {
	return int(r.calls.Load())
}

// tokenURL builds a provider URL whose token expires at exp
func tokenURL(exp int64, tag string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"exp":%d,"jti":%q}`, exp, tag)))
	return "https://stream.zeno.fm/live/abc123?zt=eyJhbGciOiJIUzI1NiJ9." + payload + ".c2ln"
}

type statusLog struct {
	mu       sync.Mutex
	statuses []Status
	errors   []ErrorEvent
}

func (l *statusLog) onStatus(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
}

func (l *statusLog) onError(e ErrorEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, e)
}

func (l *statusLog) states() []SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SessionState, 0, len(l.statuses))
	for _, s := range l.statuses {
		if len(out) > 0 && out[len(out)-1] == s.State {
			continue
		}
		out = append(out, s.State)
	}
	return out
}

func (l *statusLog) errorEvents() []ErrorEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ErrorEvent(nil), l.errors...)
}

// fakeRecorder keeps the error kinds reported by a controller
type fakeRecorder struct {
	nopRecorder
	mu     sync.Mutex
	errors []string
}

func (r *fakeRecorder) RecordError(_, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, kind)
}

func (r *fakeRecorder) errorKinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// lockedBuffer is a log sink safe for concurrent writers
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
