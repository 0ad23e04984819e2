// Package config loads the ytmc configuration from a json5 file with YTMC_*
// environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/ytmc/internal/store"
)

const (
	DefaultPort = 9863
	DefaultHost = "0.0.0.0"

	envPrefix = "YTMC_"
)

// Config is the root configuration.
type Config struct {
	DataDir    string          `json:"data_dir,omitempty"`
	Server     ServerConfig    `json:"server"`
	Pairing    PairingConfig   `json:"pairing"`
	Player     PlayerConfig    `json:"player"`
	RateLimits RateLimitConfig `json:"rate_limits"`
	Store      store.Config    `json:"store"`
	Content    ContentConfig   `json:"content"`
	Admin      AdminConfig     `json:"admin"`
	Security   SecurityConfig  `json:"security"`
	Log        LogConfig       `json:"log"`
	Redis      RedisConfig     `json:"redis"`
	Tailscale  TailscaleConfig `json:"tailscale"`
	Telemetry  TelemetryConfig `json:"telemetry"`
}

// ServerConfig controls the companion HTTP listener.
type ServerConfig struct {
	// Enabled mirrors the companion-server plugin toggle. Turning it off at
	// runtime closes the pairing gate.
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type PairingConfig struct {
	WindowSec         int `json:"window_sec"`
	CodeTTLSec        int `json:"code_ttl_sec"`
	ConsentTimeoutSec int `json:"consent_timeout_sec"`
	DisconnectPollMs  int `json:"disconnect_poll_ms"`
}

type PlayerConfig struct {
	// SettleMs is how long a transient playback code must persist before
	// Unknown is published.
	SettleMs int `json:"settle_ms"`
	// CatalogTimeoutMs bounds the playlist round trip to the embedded player.
	CatalogTimeoutMs int `json:"catalog_timeout_ms"`
}

// RateLimit allows Max requests per WindowMs for one requester.
type RateLimit struct {
	Max      int `json:"max"`
	WindowMs int `json:"window_ms"`
}

// Window returns the limit window as a duration.
func (r RateLimit) Window() time.Duration { return time.Duration(r.WindowMs) * time.Millisecond }

type RateLimitConfig struct {
	Global      RateLimit `json:"global"`
	RequestCode RateLimit `json:"request_code"`
	Request     RateLimit `json:"request"`
	State       RateLimit `json:"state"`
	Playlists   RateLimit `json:"playlists"`
	Command     RateLimit `json:"command"`
}

// ContentConfig secures the /content link used by the embedded player.
type ContentConfig struct {
	Secret string `json:"secret,omitempty"`
}

// AdminConfig secures the /ws/admin operator channel.
type AdminConfig struct {
	Token string `json:"token,omitempty"`
}

type SecurityConfig struct {
	// EncryptionKey seals the pairing gate values. Empty means resolve from
	// the OS keychain (or a key file).
	EncryptionKey string `json:"encryption_key,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// RedisConfig enables mirroring realtime events to a Redis channel.
type RedisConfig struct {
	URL     string `json:"url,omitempty"`
	Channel string `json:"channel,omitempty"`
}

type TailscaleConfig struct {
	Hostname string `json:"hostname,omitempty"`
	AuthKey  string `json:"auth_key,omitempty"`
	StateDir string `json:"state_dir,omitempty"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // grpc, http
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// Default returns a config with every value populated.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Server: ServerConfig{
			Enabled: true,
			Host:    DefaultHost,
			Port:    DefaultPort,
		},
		Pairing: PairingConfig{
			WindowSec:         300,
			CodeTTLSec:        20,
			ConsentTimeoutSec: 30,
			DisconnectPollMs:  250,
		},
		Player: PlayerConfig{
			SettleMs:         1500,
			CatalogTimeoutMs: 5000,
		},
		RateLimits: RateLimitConfig{
			Global:      RateLimit{Max: 100, WindowMs: 60_000},
			RequestCode: RateLimit{Max: 5, WindowMs: 60_000},
			Request:     RateLimit{Max: 5, WindowMs: 60_000},
			State:       RateLimit{Max: 1, WindowMs: 5_000},
			Playlists:   RateLimit{Max: 1, WindowMs: 30_000},
			Command:     RateLimit{Max: 2, WindowMs: 1_000},
		},
		Store: store.Config{Driver: "sqlite"},
		Log:   LogConfig{Level: "info", Format: "text"},
		Redis: RedisConfig{Channel: "ytmc:events"},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "ytmc",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ytmc"
	}
	return filepath.Join(home, ".ytmc")
}

// DefaultPath is ~/.ytmc/config.json5.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.json5")
}

// ResolvePath picks the config path: explicit flag, YTMC_CONFIG, default.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(envPrefix + "CONFIG"); v != "" {
		return v
	}
	return DefaultPath()
}

// Load reads path over Default(). A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as indented JSON (a json5 subset) with owner-only perms.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"HOST":           &c.Server.Host,
		"DATA_DIR":       &c.DataDir,
		"ADMIN_TOKEN":    &c.Admin.Token,
		"CONTENT_SECRET": &c.Content.Secret,
		"ENCRYPTION_KEY": &c.Security.EncryptionKey,
		"STORE_DRIVER":   &c.Store.Driver,
		"STORE_PATH":     &c.Store.Path,
		"STORE_DSN":      &c.Store.DSN,
		"REDIS_URL":      &c.Redis.URL,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FORMAT":     &c.Log.Format,
		"OTEL_ENDPOINT":  &c.Telemetry.Endpoint,
		"TSNET_AUTHKEY":  &c.Tailscale.AuthKey,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", envPrefix, err)
		}
		c.Server.Port = port
	}
	if v, ok := os.LookupEnv(envPrefix + "SERVER_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSERVER_ENABLED: %w", envPrefix, err)
		}
		c.Server.Enabled = enabled
	}
	return nil
}

func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case "sqlite":
			c.Store.Path = filepath.Join(c.DataDir, "ytmc.db")
		case "file":
			c.Store.Path = filepath.Join(c.DataDir, "store.json")
		}
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Pairing.WindowSec <= 0 {
		errs = append(errs, errors.New("pairing.window_sec must be positive"))
	}
	if c.Pairing.CodeTTLSec <= 0 {
		errs = append(errs, errors.New("pairing.code_ttl_sec must be positive"))
	}
	if c.Pairing.ConsentTimeoutSec <= 0 || c.Pairing.DisconnectPollMs <= 0 {
		errs = append(errs, errors.New("pairing consent timeout and poll interval must be positive"))
	}
	if c.Pairing.CodeTTLSec > c.Pairing.ConsentTimeoutSec {
		errs = append(errs, fmt.Errorf("pairing.code_ttl_sec (%d) must not exceed consent_timeout_sec (%d)",
			c.Pairing.CodeTTLSec, c.Pairing.ConsentTimeoutSec))
	}
	if c.Player.SettleMs < 0 || c.Player.CatalogTimeoutMs <= 0 {
		errs = append(errs, errors.New("player timings must be positive"))
	}
	for name, rl := range map[string]RateLimit{
		"global": c.RateLimits.Global, "request_code": c.RateLimits.RequestCode,
		"request": c.RateLimits.Request, "state": c.RateLimits.State,
		"playlists": c.RateLimits.Playlists, "command": c.RateLimits.Command,
	} {
		if rl.Max <= 0 || rl.WindowMs <= 0 {
			errs = append(errs, fmt.Errorf("rate_limits.%s: max and window_ms must be positive", name))
		}
	}
	switch c.Store.Driver {
	case "sqlite", "file", "memory":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Addr is host:port for the companion listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (p PairingConfig) Window() time.Duration {
	return time.Duration(p.WindowSec) * time.Second
}

func (p PairingConfig) CodeTTL() time.Duration {
	return time.Duration(p.CodeTTLSec) * time.Second
}

func (p PairingConfig) ConsentTimeout() time.Duration {
	return time.Duration(p.ConsentTimeoutSec) * time.Second
}

func (p PairingConfig) DisconnectPoll() time.Duration {
	return time.Duration(p.DisconnectPollMs) * time.Millisecond
}

func (p PlayerConfig) Settle() time.Duration {
	return time.Duration(p.SettleMs) * time.Millisecond
}

func (p PlayerConfig) CatalogTimeout() time.Duration {
	return time.Duration(p.CatalogTimeoutMs) * time.Millisecond
}
