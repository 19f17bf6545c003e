package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/airwave/internal/db"
	"github.com/stwalsh4118/airwave/internal/logger"
	"github.com/stwalsh4118/airwave/internal/playback"
	"github.com/stwalsh4118/airwave/internal/station"
	"github.com/stwalsh4118/airwave/internal/streaming"
)

// autoPlayer starts instantly: every Play reports EventPlaying for the
// loaded source
type autoPlayer struct {
	mu      sync.Mutex
	handler playback.Handler
	src     string
	paused  bool
	volume  float64
}

func newAutoPlayer() playback.Player {
	return &autoPlayer{paused: true, volume: 1}
}

func (p *autoPlayer) Attach(h playback.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *autoPlayer) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = nil
}

func (p *autoPlayer) SetSource(src string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.src = src
	p.paused = true
}

func (p *autoPlayer) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src
}

func (p *autoPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	if h := p.handler; h != nil {
		ev := playback.Event{Type: playback.EventPlaying, Source: p.src}
		go h(ev)
	}
}

func (p *autoPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

func (p *autoPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *autoPlayer) CurrentTime() time.Duration { return 0 }
func (p *autoPlayer) Seek(time.Duration)         {}

func (p *autoPlayer) SetVolume(level float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = level
}

func (p *autoPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *autoPlayer) SupportsSeamlessSwap() bool { return true }
func (p *autoPlayer) Unload()                    { p.SetSource("") }
func (p *autoPlayer) Close() error               { return nil }

type testEnv struct {
	router   *gin.Engine
	stations *station.Service
	manager  *streaming.StreamManager
}

// setupTestEnv wires the real catalog on a temp database and a stream
// manager whose players start instantly
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger.Init("error", false)

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	sqlDB, err := database.GetSQLDB()
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(sqlDB, "file://../../migrations"))

	stations := station.NewService(database, db.NewRepositories(database), []string{"zeno.fm"})
	manager := streaming.NewStreamManager(stations, nil, newAutoPlayer, streaming.ManagerConfig{})
	t.Cleanup(manager.Stop)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	apiGroup := router.Group("/api")
	SetupHealthRoutes(apiGroup, database, manager)
	SetupStationRoutes(apiGroup, stations, manager)
	SetupPlayerRoutes(apiGroup, manager)

	return &testEnv{router: router, stations: stations, manager: manager}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func jazzRequest() StationRequest {
	return StationRequest{
		Name:         "jazz",
		DisplayName:  "Jazz FM",
		StreamURL:    "https://radio.example.org/jazz.mp3",
		SegmentedURL: "https://radio.example.org/jazz.m3u8",
	}
}

// createStation creates a station through the API and returns it
func (e *testEnv) createStation(t *testing.T, req StationRequest) StationResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/stations", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[StationResponse](t, w)
}
