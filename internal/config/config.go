// Package config loads fleetview configuration from a yaml file with
// environment overrides. Every knob has a documented default, so an empty
// file (or none at all) yields a working local setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/fleetview/internal/telemetry"
)

// ServerConfig names the remote gateway endpoints.
type ServerConfig struct {
	WSURL     string `yaml:"ws_url"`     // primary push transport
	SSEURL    string `yaml:"sse_url"`    // fallback push transport
	StateURL  string `yaml:"state_url"`  // full-state fetch
	DetailURL string `yaml:"detail_url"` // on-demand detail fetch, /{entity_id} appended
}

// TransportConfig tunes reconnection and polling.
type TransportConfig struct {
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffCeiling    time.Duration `yaml:"backoff_ceiling"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// LayoutConfig tunes placement geometry and names the position database.
type LayoutConfig struct {
	MinRadius float64 `yaml:"min_radius"`
	Spacing   float64 `yaml:"spacing"`
	Padding   float64 `yaml:"padding"`
	MaxPasses int     `yaml:"max_passes"`
	DBPath    string  `yaml:"db_path"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Transport TransportConfig  `yaml:"transport"`
	Layout    LayoutConfig     `yaml:"layout"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	LogLevel  string           `yaml:"log_level"`
}

// Default returns the documented defaults.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Server: ServerConfig{
			WSURL:     "ws://localhost:8080/ws",
			SSEURL:    "http://localhost:8080/events",
			StateURL:  "http://localhost:8080/api/state",
			DetailURL: "http://localhost:8080/api/detail",
		},
		Transport: TransportConfig{
			BackoffBase:       2 * time.Second,
			BackoffMultiplier: 1.5,
			BackoffCeiling:    30 * time.Second,
			PollInterval:      5 * time.Second,
		},
		Layout: LayoutConfig{
			MinRadius: 220,
			Spacing:   90,
			Padding:   20,
			MaxPasses: 3,
			DBPath:    filepath.Join(home, ".fleetview", "layout.db"),
		},
		Telemetry: telemetry.Config{Enabled: false},
		LogLevel:  "info",
	}
}

// Load reads config from path, layering yaml over the defaults and env
// overrides over both. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLEETVIEW_WS_URL"); v != "" {
		cfg.Server.WSURL = v
	}
	if v := os.Getenv("FLEETVIEW_SSE_URL"); v != "" {
		cfg.Server.SSEURL = v
	}
	if v := os.Getenv("FLEETVIEW_STATE_URL"); v != "" {
		cfg.Server.StateURL = v
	}
	if v := os.Getenv("FLEETVIEW_DETAIL_URL"); v != "" {
		cfg.Server.DetailURL = v
	}
	if v := os.Getenv("FLEETVIEW_LAYOUT_DB"); v != "" {
		cfg.Layout.DBPath = v
	}
	if v := os.Getenv("FLEETVIEW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c *Config) validate() error {
	if c.Server.WSURL == "" {
		return fmt.Errorf("server.ws_url is required")
	}
	if c.Server.StateURL == "" {
		return fmt.Errorf("server.state_url is required")
	}
	if c.Transport.BackoffMultiplier != 0 && c.Transport.BackoffMultiplier <= 1 {
		return fmt.Errorf("transport.backoff_multiplier must be greater than 1")
	}
	return nil
}
