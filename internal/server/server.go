// Package server provides the HTTP server setup and routing configuration.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/airwave/internal/api"
	"github.com/stwalsh4118/airwave/internal/candidate"
	"github.com/stwalsh4118/airwave/internal/config"
	"github.com/stwalsh4118/airwave/internal/db"
	"github.com/stwalsh4118/airwave/internal/logger"
	"github.com/stwalsh4118/airwave/internal/metrics"
	"github.com/stwalsh4118/airwave/internal/middleware"
	"github.com/stwalsh4118/airwave/internal/playback"
	"github.com/stwalsh4118/airwave/internal/station"
	"github.com/stwalsh4118/airwave/internal/streaming"
	"github.com/stwalsh4118/airwave/internal/token"
)

// Server represents the HTTP server
type Server struct {
	config        *config.Config
	db            *db.DB
	stations      *station.Service
	metrics       *metrics.Metrics
	streamManager *streaming.StreamManager
	router        *gin.Engine

	mu     sync.Mutex
	seeded station.Input
	server *http.Server
	// cancels request contexts so event streams end before shutdown waits
	cancelRequests context.CancelFunc
}

// New creates a new server instance
func New(cfg *config.Config, database *db.DB) (*Server, error) {
	profile, err := candidate.ParseProfile(cfg.Player.Profile)
	if err != nil {
		return nil, err
	}

	repos := db.NewRepositories(database)
	stations := station.NewService(database, repos, cfg.Player.TokenHosts)
	m := metrics.New()
	resolver := NewResolver(&cfg.Player, m.RecordProbe)

	streamManager := streaming.NewStreamManager(
		stations,
		resolver,
		NewPlayerFactory(&cfg.Player, nil),
		ManagerConfig(&cfg.Player, profile),
		streaming.WithManagerRecorder(m),
	)

	return &Server{
		config:        cfg,
		db:            database,
		stations:      stations,
		metrics:       m,
		streamManager: streamManager,
	}, nil
}

// NewResolver builds the live URL resolver from the player config
func NewResolver(cfg *config.PlayerConfig, observer token.ProbeObserver) *token.Resolver {
	return token.NewResolver(token.ResolverConfig{
		Param:            cfg.TokenParam,
		UserAgent:        cfg.UserAgent,
		RateLimit:        cfg.ProbeRate,
		Burst:            cfg.ProbeBurst,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerReset:     cfg.BreakerReset,
		Logger:           logger.Component("resolver"),
		Observer:         observer,
	})
}

// NewPlayerFactory returns a factory for headless HTTP players. sink
// receives the audio bytes and may be nil to discard them.
func NewPlayerFactory(cfg *config.PlayerConfig, sink io.Writer) streaming.PlayerFactory {
	inspector := inspector(cfg)
	return func() playback.Player {
		return playback.NewHTTPPlayer(playback.HTTPPlayerConfig{
			Sink:         sink,
			StallTimeout: cfg.StallTimeout,
			UserAgent:    cfg.UserAgent,
			Logger:       logger.Component("player"),
			Redact:       inspector.Redact,
		})
	}
}

// ManagerConfig maps the player config onto the stream manager settings
func ManagerConfig(cfg *config.PlayerConfig, profile candidate.Profile) streaming.ManagerConfig {
	return streaming.ManagerConfig{
		Policy: streaming.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BackoffBase,
			CapDelay:    cfg.BackoffCap,
		},
		RefreshInterval: cfg.RefreshInterval,
		Inspector:       inspector(cfg),
		ProbeTimeout:    cfg.ProbeTimeout,
		StartTimeout:    cfg.StartTimeout,
		Profile:         profile,
		IdleTimeout:     cfg.IdleTimeout,
	}
}

func inspector(cfg *config.PlayerConfig) token.Inspector {
	return token.NewInspector(cfg.TokenParam, cfg.HardSkew, cfg.SoftSkew)
}

// DefaultStation returns the catalog input for the configured station
func DefaultStation(cfg *config.PlayerConfig) station.Input {
	return station.Input{
		Name:              cfg.StationName,
		DisplayName:       cfg.DisplayName,
		StreamURL:         cfg.StreamURL,
		SegmentedURL:      cfg.SegmentedURL,
		Mirrors:           cfg.Mirrors,
		Provider:          cfg.Provider,
		ExternalPlayerURL: cfg.ExternalPlayerURL,
	}
}

// seedDefaultStation upserts the configured station so it is playable
// without a catalog request
func (s *Server) seedDefaultStation(ctx context.Context) error {
	in := DefaultStation(&s.config.Player)
	if in.StreamURL == "" {
		return nil
	}

	st, created, err := s.stations.EnsureDefault(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to seed default station: %w", err)
	}

	s.mu.Lock()
	s.seeded = in
	s.mu.Unlock()

	logger.Log.Info().
		Str("station_id", st.ID.String()).
		Str("name", st.Name).
		Bool("created", created).
		Bool("token_bearing", s.stations.TokenBearing(st)).
		Msg("Default station ready")
	return nil
}

// ReloadDefaultStation applies an edited config file to the default station.
// When the station changed its live controller is released so the next play
// uses the new URLs. Other player settings need a restart.
func (s *Server) ReloadDefaultStation(ctx context.Context, player *config.PlayerConfig) error {
	in := DefaultStation(player)
	if in.StreamURL == "" {
		return nil
	}

	s.mu.Lock()
	unchanged := reflect.DeepEqual(in, s.seeded)
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	st, _, err := s.stations.EnsureDefault(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to reload default station: %w", err)
	}

	s.mu.Lock()
	s.seeded = in
	s.mu.Unlock()

	released := s.streamManager.Release(st.ID.String())
	logger.Log.Info().
		Str("station_id", st.ID.String()).
		Bool("released_controller", released).
		Msg("Default station reloaded")
	return nil
}

// setupRouter initializes the Gin router with middleware and routes
func (s *Server) setupRouter() {
	// Set Gin mode based on log level
	if s.config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(middleware.RequestLogger(inspector(&s.config.Player).Redact))
	s.router.Use(gin.Recovery())
	s.router.Use(cors.Default())

	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler(func() {
		s.metrics.SetActiveControllers(s.streamManager.Len())
	})))

	apiGroup := s.router.Group("/api")

	api.SetupHealthRoutes(apiGroup, s.db, s.streamManager)
	api.SetupStationRoutes(apiGroup, s.stations, s.streamManager)
	api.SetupPlayerRoutes(apiGroup, s.streamManager)
}

// Handler returns the configured router, building it on first use
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.setupRouter()
	}
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	if err := s.seedDefaultStation(ctx); err != nil {
		return err
	}

	if err := s.streamManager.Start(); err != nil {
		return fmt.Errorf("failed to start stream manager: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:           addr,
		Handler:        s.Handler(),
		BaseContext:    func(net.Listener) context.Context { return baseCtx },
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	s.mu.Lock()
	s.server = srv
	s.cancelRequests = cancel
	s.mu.Unlock()

	logger.Log.Info().
		Str("host", s.config.Server.Host).
		Int("port", s.config.Server.Port).
		Msg("Starting HTTP server")

	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Info().Msg("Shutting down server gracefully")

	s.mu.Lock()
	srv, cancel := s.server, s.cancelRequests
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.streamManager != nil {
		s.streamManager.Stop()
	}

	// Check if server was started before attempting shutdown
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	logger.Log.Info().Msg("Server stopped")
	return nil
}
