package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultStallTimeout = 15 * time.Second
	defaultSniffBytes   = 16 * 1024
	maxPlaylistBytes    = 1 << 20
	readBufferSize      = 32 * 1024
)

// ErrUnexpectedStatus is returned for non-2xx stream responses
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// ErrUnsupportedContent is returned when the response is clearly not audio
var ErrUnsupportedContent = errors.New("unsupported content type")

// ErrSinkWrite wraps a failure to write audio bytes to the sink
var ErrSinkWrite = errors.New("sink write failed")

// VolumeSink is implemented by sinks that can apply a volume level
type VolumeSink interface {
	SetVolume(level float64)
}

// HTTPPlayerConfig configures an HTTPPlayer
type HTTPPlayerConfig struct {
	Client       *http.Client
	Sink         io.Writer     // receives audio bytes, io.Discard when nil
	StallTimeout time.Duration // no bytes for this long reports EventStalled
	SniffBytes   int           // bytes inspected for MPEG frame sync
	UserAgent    string
	Logger       zerolog.Logger
	Redact       func(string) string
}

// HTTPPlayer is a headless Player that pulls a live stream over HTTP and
// copies its bytes to a sink. Direct streams (ICY/Icecast, MP3/AAC) and HLS
// playlists are supported. Nothing is decoded.
type HTTPPlayer struct {
	cfg HTTPPlayerConfig

	sinkMu sync.Mutex

	mu           sync.Mutex
	handler      Handler
	src          string
	paused       bool
	volume       float64
	active       *streamConn
	draining     *streamConn
	position     time.Duration
	playingSince time.Time
	closed       bool
	wg           sync.WaitGroup
}

type streamConn struct {
	src     string
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	stalled atomic.Bool
	started bool
	synced  bool
	sniff   []byte
	watch   *time.Timer
}

// NewHTTPPlayer creates an HTTPPlayer
func NewHTTPPlayer(cfg HTTPPlayerConfig) *HTTPPlayer {
	if cfg.Client == nil {
		cfg.Client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 15 * time.Second,
			},
		}
	}
	if cfg.Sink == nil {
		cfg.Sink = io.Discard
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = defaultStallTimeout
	}
	if cfg.SniffBytes <= 0 {
		cfg.SniffBytes = defaultSniffBytes
	}
	if cfg.Redact == nil {
		cfg.Redact = func(s string) string { return s }
	}
	return &HTTPPlayer{cfg: cfg, paused: true, volume: 1}
}

// Attach installs the event handler
func (p *HTTPPlayer) Attach(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// Detach removes the event handler
func (p *HTTPPlayer) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = nil
}

// SetSource loads src. A playing connection keeps feeding the sink until
// the next Play produces bytes from src.
func (p *HTTPPlayer) SetSource(src string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.freezePositionLocked()
	p.paused = true
	p.src = src

	if p.draining != nil {
		p.draining.cancel()
		p.draining = nil
	}
	if p.active != nil {
		if p.active.started {
			p.draining = p.active
		} else {
			p.active.cancel()
		}
		p.active = nil
	}
}

// Source returns the loaded source
func (p *HTTPPlayer) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src
}

// Play starts pulling the loaded source
func (p *HTTPPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.src == "" {
		return
	}
	p.paused = false
	if p.active != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &streamConn{src: p.src, handler: p.handler, ctx: ctx, cancel: cancel}
	c.watch = time.AfterFunc(p.cfg.StallTimeout, func() {
		c.stalled.Store(true)
		c.cancel()
	})
	p.active = c

	p.wg.Add(1)
	go p.run(c)
}

// Pause stops pulling data and freezes the position
func (p *HTTPPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freezePositionLocked()
	p.paused = true
	p.dropConnsLocked()
}

// Paused reports whether playback is paused
func (p *HTTPPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// CurrentTime returns the playback position
func (p *HTTPPlayer) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTimeLocked()
}

// Seek sets the playback position. Live streams cannot rewind, so this only
// moves the reported position.
func (p *HTTPPlayer) Seek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
	if !p.playingSince.IsZero() {
		p.playingSince = time.Now()
	}
}

// SetVolume records the level and forwards it to a VolumeSink
func (p *HTTPPlayer) SetVolume(level float64) {
	p.mu.Lock()
	p.volume = level
	p.mu.Unlock()

	if vs, ok := p.cfg.Sink.(VolumeSink); ok {
		p.sinkMu.Lock()
		vs.SetVolume(level)
		p.sinkMu.Unlock()
	}
}

// Volume returns the current level
func (p *HTTPPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SupportsSeamlessSwap is true: the old connection drains until the new one starts
func (p *HTTPPlayer) SupportsSeamlessSwap() bool {
	return true
}

// Unload stops playback and forgets the source
func (p *HTTPPlayer) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.src = ""
	p.position = 0
	p.playingSince = time.Time{}
	p.dropConnsLocked()
}

// Close unloads the player and waits for its connections to exit
func (p *HTTPPlayer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.handler = nil
	p.mu.Unlock()

	p.Unload()
	p.wg.Wait()
	return nil
}

func (p *HTTPPlayer) currentTimeLocked() time.Duration {
	if p.playingSince.IsZero() {
		return p.position
	}
	return p.position + time.Since(p.playingSince)
}

func (p *HTTPPlayer) freezePositionLocked() {
	p.position = p.currentTimeLocked()
	p.playingSince = time.Time{}
}

func (p *HTTPPlayer) dropConnsLocked() {
	if p.active != nil {
		p.active.cancel()
		p.active = nil
	}
	if p.draining != nil {
		p.draining.cancel()
		p.draining = nil
	}
}

func (p *HTTPPlayer) run(c *streamConn) {
	defer p.wg.Done()
	defer c.watch.Stop()
	defer c.cancel()

	log := p.cfg.Logger.With().Str("source", p.cfg.Redact(c.src)).Logger()
	err := p.stream(c)

	p.mu.Lock()
	current := p.active == c
	if current {
		p.active = nil
		p.freezePositionLocked()
	}
	if p.draining == c {
		p.draining = nil
	}
	p.mu.Unlock()

	if !current {
		return
	}

	var ev Event
	switch {
	case c.stalled.Load():
		ev = Event{Type: EventStalled, Source: c.src}
	case c.ctx.Err() != nil:
		return
	case err == nil:
		ev = Event{Type: EventEnded, Source: c.src}
	default:
		ev = Event{Type: EventError, Source: c.src, Code: CodeOf(err), Err: err}
	}

	log.Debug().Err(err).Str("event", string(ev.Type)).Msg("Stream connection finished")
	if c.handler != nil {
		c.handler(ev)
	}
}

// stream returns nil when the source ended cleanly
func (p *HTTPPlayer) stream(c *streamConn) error {
	resp, err := p.get(c, c.src)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if isPlaylist(ct, c.src) {
		return p.streamHLS(c, resp)
	}
	if !audioContentType(ct) {
		return mediaErr(MediaErrSrcNotSupported, fmt.Errorf("%w: %s", ErrUnsupportedContent, ct))
	}

	return p.pump(c, resp.Body, isMPEGAudio(ct))
}

func (p *HTTPPlayer) get(c *streamConn, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, mediaErr(MediaErrSrcNotSupported, p.redactErr(err))
	}
	req.Header.Set("Accept", "*/*")
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return nil, mediaErr(MediaErrNetwork, p.redactErr(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		code := MediaErrNetwork
		if resp.StatusCode == http.StatusUnsupportedMediaType || resp.StatusCode == http.StatusNotAcceptable {
			code = MediaErrSrcNotSupported
		}
		return nil, mediaErr(code, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode))
	}
	return resp, nil
}

// pump copies body to the sink until EOF. The first delivered bytes are the
// start acknowledgement.
func (p *HTTPPlayer) pump(c *streamConn, body io.Reader, checkSync bool) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			c.watch.Reset(p.cfg.StallTimeout)
			chunk := buf[:n]

			if checkSync && !c.synced {
				c.sniff = append(c.sniff, chunk...)
				if !hasID3Header(c.sniff) && findFrameSync(c.sniff) < 0 {
					if len(c.sniff) >= p.cfg.SniffBytes {
						return mediaErr(MediaErrDecode, ErrNoFrameSync)
					}
					continue
				}
				c.synced = true
				chunk = c.sniff
				c.sniff = nil
			}

			if werr := p.deliver(c, chunk); werr != nil {
				return mediaErr(MediaErrAborted, fmt.Errorf("%w: %w", ErrSinkWrite, werr))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return mediaErr(MediaErrNetwork, err)
		}
	}
}

// deliver writes chunk to the sink if c is still wanted
func (p *HTTPPlayer) deliver(c *streamConn, chunk []byte) error {
	p.mu.Lock()
	write := false
	ack := false
	switch {
	case c == p.active:
		write = true
		if !c.started {
			c.started = true
			ack = true
			if p.draining != nil {
				p.draining.cancel()
				p.draining = nil
			}
			if p.playingSince.IsZero() {
				p.playingSince = time.Now()
			}
		}
	case c == p.draining:
		write = true
	}
	p.mu.Unlock()

	if ack && c.handler != nil {
		c.handler(Event{Type: EventPlaying, Source: c.src})
	}
	if !write {
		return nil
	}
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	_, err := p.cfg.Sink.Write(chunk)
	return err
}

func (p *HTTPPlayer) streamHLS(c *streamConn, resp *http.Response) error {
	media, err := p.loadMedia(c, resp)
	if err != nil {
		return err
	}

	lastSeq := -1
	if edge := media.LiveEdge(); len(edge) > 0 {
		lastSeq = edge[0].Sequence - 1
	}
	playlistURL := resp.Request.URL.String()

	for {
		for _, seg := range media.Segments {
			if seg.Sequence <= lastSeq {
				continue
			}
			if err := p.fetchSegment(c, seg.URI); err != nil {
				return err
			}
			lastSeq = seg.Sequence
		}
		if media.Ended {
			return nil
		}

		wait := time.Duration(media.TargetDuration) * time.Second / 2
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-time.After(wait):
		}

		reload, err := p.get(c, playlistURL)
		if err != nil {
			return err
		}
		media, err = p.loadMedia(c, reload)
		_ = reload.Body.Close()
		if err != nil {
			return err
		}
	}
}

// loadMedia parses a playlist response, following a master playlist to its
// lowest-bandwidth variant
func (p *HTTPPlayer) loadMedia(c *streamConn, resp *http.Response) (*MediaPlaylist, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return nil, mediaErr(MediaErrNetwork, err)
	}
	c.watch.Reset(p.cfg.StallTimeout)

	master, media, err := ParsePlaylist(bytes.NewReader(data), resp.Request.URL)
	if err != nil {
		return nil, mediaErr(MediaErrDecode, err)
	}
	if media != nil {
		return media, nil
	}

	variant, err := master.LowestBandwidth()
	if err != nil {
		return nil, mediaErr(MediaErrDecode, err)
	}
	vresp, err := p.get(c, variant.URI)
	if err != nil {
		return nil, err
	}
	defer vresp.Body.Close()

	data, err = io.ReadAll(io.LimitReader(vresp.Body, maxPlaylistBytes))
	if err != nil {
		return nil, mediaErr(MediaErrNetwork, err)
	}
	_, media, err = ParsePlaylist(bytes.NewReader(data), vresp.Request.URL)
	if err != nil {
		return nil, mediaErr(MediaErrDecode, err)
	}
	if media == nil {
		return nil, mediaErr(MediaErrSrcNotSupported, errors.New("nested master playlists"))
	}
	return media, nil
}

func (p *HTTPPlayer) fetchSegment(c *streamConn, rawURL string) error {
	resp, err := p.get(c, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return p.pump(c, resp.Body, false)
}

// redactErr hides the source URL net/http embeds in its errors
func (p *HTTPPlayer) redactErr(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = p.cfg.Redact(ue.URL)
	}
	return err
}

func audioContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return true
	}
	for _, bad := range []string{"text/html", "application/json", "text/xml", "application/xml", "image/"} {
		if strings.HasPrefix(ct, bad) {
			return false
		}
	}
	return true
}

func isMPEGAudio(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "audio/mpeg") || strings.HasPrefix(ct, "audio/mp3")
}
