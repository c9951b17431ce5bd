// Package config loads searchd's yaml configuration from $SEARCHD_HOME.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// BraveConfig holds the brave.* settings. The subscription token lives under
// brave.apikey; the BRAVE_API_KEY env var overrides it.
type BraveConfig struct {
	APIKey         string `yaml:"apikey"`
	SearchURL      string `yaml:"search_url"`
	SummarizerURL  string `yaml:"summarizer_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// APIKeyEntry names a gateway client key.
type APIKeyEntry struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// AuthConfig controls gateway authentication.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Keys    []APIKeyEntry `yaml:"keys"`
}

// CORSConfig controls cross-origin access to the gateway.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// TelemetryConfig controls the OpenTelemetry exporters.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	// MetricsEnabled enables metrics export alongside traces.
	MetricsEnabled *bool `yaml:"metrics_enabled,omitempty"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// MaxRequestBytes bounds gateway request bodies. 0 uses the default (1MB).
	MaxRequestBytes int64 `yaml:"max_request_bytes"`

	Brave     BraveConfig     `yaml:"brave"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// NeedsBootstrap is set when no config.yaml existed; main writes the
	// starter file and reloads.
	NeedsBootstrap bool `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		BindAddr:        "127.0.0.1:18990",
		LogLevel:        "info",
		MaxRequestBytes: 1 << 20,
		Brave: BraveConfig{
			TimeoutSeconds: 10,
		},
	}
}

// HomeDir resolves the searchd data directory, honoring SEARCHD_HOME.
func HomeDir() string {
	if override := os.Getenv("SEARCHD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".searchd")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// PolicyPath returns the path to policy.yaml within the given home directory.
func PolicyPath(homeDir string) string {
	return filepath.Join(homeDir, "policy.yaml")
}

func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads config.yaml under homeDir, applying defaults and env overrides.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create searchd home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsBootstrap = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRAVE_API_KEY"); v != "" {
		cfg.Brave.APIKey = v
	}
	if v := os.Getenv("SEARCHD_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("SEARCHD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18990"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 1 << 20
	}
	if cfg.Brave.TimeoutSeconds <= 0 {
		cfg.Brave.TimeoutSeconds = 10
	}
	cfg.Brave.APIKey = strings.TrimSpace(cfg.Brave.APIKey)
}

// Fingerprint returns a stable hash of the active config, exposed in healthz
// so operators can tell which config a running daemon picked up. The API key
// itself never enters the hash input.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|search=%s|summarizer=%s|timeout=%d|keyset=%t|auth=%t",
		c.BindAddr, c.LogLevel, c.Brave.SearchURL, c.Brave.SummarizerURL,
		c.Brave.TimeoutSeconds, c.Brave.APIKey != "", c.Auth.Enabled)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// Starter is the config.yaml written on first start.
const Starter = `# searchd configuration.
bind_addr: 127.0.0.1:18990
log_level: info

brave:
  # Brave Search API subscription token. Get one at https://brave.com/search/api/.
  # The BRAVE_API_KEY environment variable overrides this value.
  apikey: ""
  timeout_seconds: 10

auth:
  enabled: false
  keys: []

cors:
  enabled: false

telemetry:
  enabled: false
  exporter: stdout
`

// WriteStarter writes the starter config.yaml if none exists.
func WriteStarter(homeDir string) error {
	path := ConfigPath(homeDir)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(Starter), 0o644)
}
