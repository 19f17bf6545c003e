package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/airwave/internal/config"
	"github.com/stwalsh4118/airwave/internal/logger"
	"github.com/stwalsh4118/airwave/internal/server"
	"github.com/stwalsh4118/airwave/internal/token"
)

var inspectResolve bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <url>",
	Short: "Show a stream URL's token expiry",
	Long: `Decodes the token carried by a stream URL and reports when it expires.
With --resolve the URL is treated as a provider base URL and probed first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger.InitWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Pretty)

		rawURL := args[0]
		if inspectResolve {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Player.ProbeTimeout)
			defer cancel()
			rawURL, err = server.NewResolver(&cfg.Player, nil).ResolveLiveURL(ctx, rawURL)
			if err != nil {
				return fmt.Errorf("probe failed: %w", err)
			}
		}

		return printInspection(cmd.OutOrStdout(), &cfg.Player, rawURL, time.Now())
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectResolve, "resolve", false, "probe the provider for the current live URL first")
}

func printInspection(w io.Writer, cfg *config.PlayerConfig, rawURL string, now time.Time) error {
	inspector := token.NewInspector(cfg.TokenParam, cfg.HardSkew, cfg.SoftSkew)

	fmt.Fprintf(w, "url:           %s\n", inspector.Redact(rawURL))
	if !token.HasToken(rawURL, inspector.Param) {
		fmt.Fprintf(w, "token:         none (%s parameter missing)\n", inspector.Param)
		return nil
	}

	claim, err := inspector.Claim(rawURL)
	if err != nil {
		fmt.Fprintf(w, "token:         unreadable, treated as expired\n")
		return err
	}

	expiry := claim.Expiry()
	fmt.Fprintf(w, "expires:       %s (%s)\n", expiry.UTC().Format(time.RFC3339), expiry.Sub(now).Round(time.Second))
	fmt.Fprintf(w, "expired:       %t\n", inspector.Expired(rawURL, now))
	fmt.Fprintf(w, "refresh soon:  %t\n", inspector.RefreshSoon(rawURL, now))
	return nil
}
