// Package config provides configuration management using Viper.
// It loads configuration from environment variables, .env files, and config files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerPort                = 8080
	defaultServerHost                = "0.0.0.0"
	defaultReadTimeout               = 30 * time.Second
	defaultWriteTimeout              = 30 * time.Second
	defaultDatabasePath              = "./data/airwave.db"
	defaultDatabaseConnectionTimeout = 5 * time.Second
	defaultDatabaseEnableWAL         = true
	defaultMigrationsPath            = "file://./migrations"
	defaultLogLevel                  = "info"
	defaultLogPretty                 = false
	envPrefix                        = "AIRWAVE"
)

// Player defaults
const (
	defaultStationName      = "default"
	defaultProvider         = "auto"
	defaultTokenParam       = "zt"
	defaultMaxAttempts      = 3
	defaultBackoffBase      = 1 * time.Second
	defaultBackoffCap       = 10 * time.Second
	defaultRefreshInterval  = 30 * time.Second
	defaultHardSkew         = 10 * time.Second
	defaultSoftSkew         = 45 * time.Second
	defaultProbeTimeout     = 8 * time.Second
	defaultStartTimeout     = 15 * time.Second
	defaultStallTimeout     = 10 * time.Second
	defaultProbeRate        = 1.0
	defaultProbeBurst       = 3
	defaultBreakerThreshold = 5
	defaultBreakerReset     = 30 * time.Second
	defaultUserAgent        = "airwave/1.0"
	defaultIdleTimeout      = 10 * time.Minute
)

var (
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validProviders = []string{"auto", "token", "static"}
	validProfiles  = []string{"", "auto", "generic", "safari"}
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Player   PlayerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Path              string
	ConnectionTimeout time.Duration
	EnableWAL         bool
	MigrationsPath    string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// PlayerConfig holds the default station and the session controller tuning
type PlayerConfig struct {
	// Default station, seeded into the catalog when StreamURL is set
	StationName       string
	DisplayName       string
	StreamURL         string
	SegmentedURL      string
	Mirrors           []string
	Provider          string
	ExternalPlayerURL string

	// Token providers
	TokenHosts []string
	TokenParam string

	// Capability profile override; empty or "auto" detects from User-Agent
	Profile string

	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	RefreshInterval time.Duration
	HardSkew        time.Duration
	SoftSkew        time.Duration
	ProbeTimeout    time.Duration
	StartTimeout    time.Duration
	StallTimeout    time.Duration

	ProbeRate        float64
	ProbeBurst       int
	BreakerThreshold int
	BreakerReset     time.Duration
	UserAgent        string

	// Controllers idle this long are released; zero keeps them forever
	IdleTimeout time.Duration
}

// Load reads configuration from .env file, config files, environment variables, and defaults
func Load() (*Config, error) {
	// .env is optional in production and CI where env vars are set directly
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/airwave")

	return load(v)
}

// LoadFile reads configuration from an explicit YAML file plus env overrides
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	return load(v)
}

// WatchFile reloads path whenever it changes on disk and passes the result
// to onChange. A reload that fails validation is reported through err and
// the previous configuration stays in effect.
func WatchFile(path string, onChange func(cfg *Config, err error)) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(load(v))
	})
	v.WatchConfig()
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.host", defaultServerHost)
	v.SetDefault("server.readtimeout", defaultReadTimeout)
	v.SetDefault("server.writetimeout", defaultWriteTimeout)

	// Database defaults
	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("database.connectiontimeout", defaultDatabaseConnectionTimeout)
	v.SetDefault("database.enablewal", defaultDatabaseEnableWAL)
	v.SetDefault("database.migrationspath", defaultMigrationsPath)

	// Logging defaults
	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.pretty", defaultLogPretty)

	// Player defaults
	v.SetDefault("player.stationname", defaultStationName)
	v.SetDefault("player.displayname", "")
	v.SetDefault("player.streamurl", "")
	v.SetDefault("player.segmentedurl", "")
	v.SetDefault("player.mirrors", []string{})
	v.SetDefault("player.provider", defaultProvider)
	v.SetDefault("player.externalplayerurl", "")
	v.SetDefault("player.tokenhosts", []string{"zeno.fm"})
	v.SetDefault("player.tokenparam", defaultTokenParam)
	v.SetDefault("player.profile", "")
	v.SetDefault("player.maxattempts", defaultMaxAttempts)
	v.SetDefault("player.backoffbase", defaultBackoffBase)
	v.SetDefault("player.backoffcap", defaultBackoffCap)
	v.SetDefault("player.refreshinterval", defaultRefreshInterval)
	v.SetDefault("player.hardskew", defaultHardSkew)
	v.SetDefault("player.softskew", defaultSoftSkew)
	v.SetDefault("player.probetimeout", defaultProbeTimeout)
	v.SetDefault("player.starttimeout", defaultStartTimeout)
	v.SetDefault("player.stalltimeout", defaultStallTimeout)
	v.SetDefault("player.proberate", defaultProbeRate)
	v.SetDefault("player.probeburst", defaultProbeBurst)
	v.SetDefault("player.breakerthreshold", defaultBreakerThreshold)
	v.SetDefault("player.breakerreset", defaultBreakerReset)
	v.SetDefault("player.useragent", defaultUserAgent)
	v.SetDefault("player.idletimeout", defaultIdleTimeout)
}

// Validate checks that configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("invalid read timeout: %v (must be > 0)", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("invalid write timeout: %v (must be > 0)", c.Server.WriteTimeout)
	}
	if c.Database.ConnectionTimeout <= 0 {
		return fmt.Errorf("invalid database connection timeout: %v (must be > 0)", c.Database.ConnectionTimeout)
	}

	if !contains(validLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	return c.Player.Validate()
}

// Validate checks the player section
func (p *PlayerConfig) Validate() error {
	if !contains(validProviders, p.Provider) {
		return fmt.Errorf("invalid player provider: %s (must be one of: %s)", p.Provider, strings.Join(validProviders, ", "))
	}
	if !contains(validProfiles, strings.ToLower(p.Profile)) {
		return fmt.Errorf("invalid player profile: %s (must be auto, generic or safari)", p.Profile)
	}
	for _, u := range append([]string{p.StreamURL, p.SegmentedURL, p.ExternalPlayerURL}, p.Mirrors...) {
		if u == "" {
			continue
		}
		if err := validateHTTPURL(u); err != nil {
			return err
		}
	}
	if p.StreamURL == "" && (p.SegmentedURL != "" || len(p.Mirrors) > 0) {
		return errors.New("player stream url is required when segmented url or mirrors are set")
	}
	if p.TokenParam == "" {
		return errors.New("player token param must not be empty")
	}

	if p.MaxAttempts < 0 {
		return fmt.Errorf("invalid max attempts: %d (must be >= 0)", p.MaxAttempts)
	}
	if p.BackoffBase <= 0 {
		return fmt.Errorf("invalid backoff base: %v (must be > 0)", p.BackoffBase)
	}
	if p.BackoffCap < p.BackoffBase {
		return fmt.Errorf("invalid backoff cap: %v (must be >= backoff base %v)", p.BackoffCap, p.BackoffBase)
	}
	if p.RefreshInterval <= 0 {
		return fmt.Errorf("invalid refresh interval: %v (must be > 0)", p.RefreshInterval)
	}
	if p.HardSkew < 0 {
		return fmt.Errorf("invalid hard skew: %v (must be >= 0)", p.HardSkew)
	}
	if p.SoftSkew <= p.HardSkew {
		return fmt.Errorf("invalid soft skew: %v (must be > hard skew %v)", p.SoftSkew, p.HardSkew)
	}
	for name, d := range map[string]time.Duration{
		"probe timeout": p.ProbeTimeout,
		"start timeout": p.StartTimeout,
		"stall timeout": p.StallTimeout,
		"breaker reset": p.BreakerReset,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %v (must be > 0)", name, d)
		}
	}
	if p.ProbeRate <= 0 {
		return fmt.Errorf("invalid probe rate: %v (must be > 0)", p.ProbeRate)
	}
	if p.ProbeBurst < 1 {
		return fmt.Errorf("invalid probe burst: %d (must be >= 1)", p.ProbeBurst)
	}
	if p.IdleTimeout < 0 {
		return fmt.Errorf("invalid idle timeout: %v (must be >= 0)", p.IdleTimeout)
	}
	if p.BreakerThreshold < 1 {
		return fmt.Errorf("invalid breaker threshold: %d (must be >= 1)", p.BreakerThreshold)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid stream url: %q (must be an absolute http or https url)", raw)
	}
	return nil
}

// contains checks if a string slice contains a specific value
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
