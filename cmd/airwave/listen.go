package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/airwave/internal/candidate"
	"github.com/stwalsh4118/airwave/internal/config"
	"github.com/stwalsh4118/airwave/internal/logger"
	"github.com/stwalsh4118/airwave/internal/server"
	"github.com/stwalsh4118/airwave/internal/streaming"
)

var listenOpts struct {
	streamURL    string
	segmentedURL string
	mirrors      []string
	provider     string
	profile      string
	output       string
	duration     time.Duration
	volume       float64
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Play a station headlessly",
	Long: `Plays a station without the HTTP API. Audio bytes go to --output
("-" for stdout, empty to discard) and logs go to stderr, so the stream can
be piped into a decoder:

  airwave listen --url https://stream.zeno.fm/abc123 -o - | mpv -`,
	RunE: runListen,
}

func init() {
	f := listenCmd.Flags()
	f.StringVar(&listenOpts.streamURL, "url", "", "direct stream URL (default: the configured station)")
	f.StringVar(&listenOpts.segmentedURL, "segmented", "", "HLS playlist URL")
	f.StringSliceVar(&listenOpts.mirrors, "mirror", nil, "fallback stream URL, repeatable")
	f.StringVar(&listenOpts.provider, "provider", "", "auto, token or static (default: configured provider)")
	f.StringVar(&listenOpts.profile, "profile", "", "capability profile: generic or safari")
	f.StringVarP(&listenOpts.output, "output", "o", "", `write audio to this file, "-" for stdout`)
	f.DurationVar(&listenOpts.duration, "duration", 0, "stop after this long (0 plays until interrupted)")
	f.Float64Var(&listenOpts.volume, "volume", 1, "output volume in [0, 1]")
}

// listenSource applies the command line overrides to the configured station
func listenSource(cfg *config.PlayerConfig) (candidate.Source, error) {
	src := candidate.Source{
		StreamURL:    cfg.StreamURL,
		SegmentedURL: cfg.SegmentedURL,
		Mirrors:      cfg.Mirrors,
	}
	provider := cfg.Provider
	if listenOpts.streamURL != "" {
		src = candidate.Source{
			StreamURL:    listenOpts.streamURL,
			SegmentedURL: listenOpts.segmentedURL,
			Mirrors:      listenOpts.mirrors,
		}
	}
	if listenOpts.provider != "" {
		provider = listenOpts.provider
	}
	if src.StreamURL == "" && src.SegmentedURL == "" {
		return src, errors.New("no stream configured: pass --url or set AIRWAVE_PLAYER_STREAMURL")
	}

	switch provider {
	case "token":
		src.TokenBearing = true
	case "static":
	case "", "auto":
		src.TokenBearing = candidate.IsTokenProvider(src.StreamURL, cfg.TokenHosts)
	default:
		return src, fmt.Errorf("unknown provider %q", provider)
	}
	return src, nil
}

func openOutput(path string) (io.WriteCloser, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return os.Stdout, nil
	default:
		return os.Create(path)
	}
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout may carry audio
	logger.InitWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Pretty)

	src, err := listenSource(&cfg.Player)
	if err != nil {
		return err
	}

	profile, err := candidate.ParseProfile(listenOpts.profile)
	if err != nil {
		return err
	}
	if profile == "" {
		if profile, err = candidate.ParseProfile(cfg.Player.Profile); err != nil {
			return err
		}
	}

	out, err := openOutput(listenOpts.output)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	var sink io.Writer
	if out != nil {
		sink = out
		if out != os.Stdout {
			defer func() { _ = out.Close() }()
		}
	}

	mc := server.ManagerConfig(&cfg.Player, profile)
	opts := streaming.DefaultOptions(cfg.Player.StationName, src)
	opts.Policy = mc.Policy
	opts.RefreshInterval = mc.RefreshInterval
	opts.Inspector = mc.Inspector
	opts.ProbeTimeout = mc.ProbeTimeout
	opts.StartTimeout = mc.StartTimeout
	opts.ExternalPlayerURL = cfg.Player.ExternalPlayerURL
	opts.InitialVolume = listenOpts.volume
	if profile != "" {
		opts.Profile = profile
	}

	var resolver streaming.LiveURLResolver
	if src.TokenBearing {
		resolver = server.NewResolver(&cfg.Player, nil)
	}

	ctrl, err := streaming.NewController(opts, resolver, server.NewPlayerFactory(&cfg.Player, sink),
		streaming.WithLogger(logger.Component("controller")),
	)
	if err != nil {
		return err
	}
	if err := ctrl.Init(); err != nil {
		return err
	}
	defer ctrl.Dispose()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if listenOpts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, listenOpts.duration)
		defer cancel()
	}

	failed := make(chan streaming.ErrorEvent, 1)
	unsubscribeStatus := ctrl.SubscribeStatus(func(s streaming.Status) {
		logger.Log.Info().
			Str("state", s.State.String()).
			Str("url", s.URL).
			Int("attempt", s.Attempt).
			Msg("Status changed")
	})
	defer unsubscribeStatus()
	unsubscribeError := ctrl.SubscribeError(func(e streaming.ErrorEvent) {
		select {
		case failed <- e:
		default:
		}
	})
	defer unsubscribeError()

	if err := ctrl.Play(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case e := <-failed:
		if e.ExternalPlayerURL != "" {
			return fmt.Errorf("%s (try %s)", e.Message, e.ExternalPlayerURL)
		}
		return errors.New(e.Message)
	}
}
