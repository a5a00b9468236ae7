// Package config handles application configuration
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"milista/backend"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Store names accepted by the store option
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRemote   = "remote"
	StoreGoogle   = "google"
)

// ValidStores lists every supported store name
var ValidStores = []string{StoreSQLite, StorePostgres, StoreRemote, StoreGoogle}

// Config represents the application configuration
type Config struct {
	Store      string        `yaml:"store" toml:"store"`
	Collection string        `yaml:"collection" toml:"collection"`
	Stores     StoresConfig  `yaml:"stores" toml:"stores"`
	Server     ServerConfig  `yaml:"server" toml:"server"`
	Logging    LoggingConfig `yaml:"logging" toml:"logging"`
}

// StoresConfig holds the settings of every store
type StoresConfig struct {
	SQLite   SQLiteConfig   `yaml:"sqlite" toml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
	Remote   RemoteConfig   `yaml:"remote" toml:"remote"`
	Google   GoogleConfig   `yaml:"google" toml:"google"`
}

// SQLiteConfig holds SQLite store configuration
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// PostgresConfig holds PostgreSQL store configuration
type PostgresConfig struct {
	DSN string `yaml:"dsn" toml:"dsn"`
}

// RemoteConfig holds the document server client configuration.
// The API key is never read from the file.
type RemoteConfig struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Project  string `yaml:"project" toml:"project"`
}

// GoogleConfig holds Google Tasks store configuration
type GoogleConfig struct {
	ListID          string `yaml:"list_id" toml:"list_id"`
	OAuthClientPath string `yaml:"oauth_client_path" toml:"oauth_client_path"`
	TokenPath       string `yaml:"token_path" toml:"token_path"`
	PollInterval    string `yaml:"poll_interval" toml:"poll_interval"` // e.g. "10s"
}

// ServerConfig holds settings for milista serve
type ServerConfig struct {
	Listen     string `yaml:"listen" toml:"listen"`
	Project    string `yaml:"project" toml:"project"`
	APIKeyHash string `yaml:"api_key_hash" toml:"api_key_hash"`
	KeepAlive  string `yaml:"keep_alive" toml:"keep_alive"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Verbose           bool  `yaml:"verbose" toml:"verbose"`
	BackgroundEnabled *bool `yaml:"background_enabled" toml:"background_enabled"` // TUI log file (default: true)
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store:      StoreSQLite,
		Collection: backend.DefaultCollection,
		Stores: StoresConfig{
			SQLite: SQLiteConfig{
				Path: filepath.Join(GetDataDir(), "tasks.db"),
			},
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8750",
		},
	}
}

// DefaultPath returns the config file used when no path is given
func DefaultPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it creates one from the sample.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if isTOML(configPath) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		if err := writeSample(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, isTOML(configPath))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML (or TOML when asTOML is set) and applies defaults
func Parse(data []byte, asTOML bool) (*Config, error) {
	cfg := &Config{}
	if asTOML {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid TOML in config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Store == "" {
		c.Store = defaults.Store
	}
	if c.Collection == "" {
		c.Collection = defaults.Collection
	}
	if c.Stores.SQLite.Path == "" {
		c.Stores.SQLite.Path = defaults.Stores.SQLite.Path
	}
	if c.Server.Listen == "" {
		c.Server.Listen = defaults.Server.Listen
	}
	c.Stores.SQLite.Path = ExpandPath(c.Stores.SQLite.Path)
	c.Stores.Google.OAuthClientPath = ExpandPath(c.Stores.Google.OAuthClientPath)
	c.Stores.Google.TokenPath = ExpandPath(c.Stores.Google.TokenPath)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func writeSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite:
		if c.Stores.SQLite.Path == "" {
			return fmt.Errorf("stores.sqlite.path is required for the sqlite store")
		}
	case StorePostgres:
		if c.Stores.Postgres.DSN == "" {
			return fmt.Errorf("stores.postgres.dsn is required for the postgres store")
		}
	case StoreRemote:
		if c.Stores.Remote.Endpoint == "" {
			return fmt.Errorf("stores.remote.endpoint is required for the remote store")
		}
	case StoreGoogle:
		if c.Stores.Google.OAuthClientPath == "" || c.Stores.Google.TokenPath == "" {
			return fmt.Errorf("stores.google.oauth_client_path and stores.google.token_path are required for the google store")
		}
	default:
		return fmt.Errorf("unknown store: %q (must be one of %s)", c.Store, strings.Join(ValidStores, ", "))
	}

	if c.Stores.Google.PollInterval != "" {
		d, err := time.ParseDuration(c.Stores.Google.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid duration for stores.google.poll_interval: %q", c.Stores.Google.PollInterval)
		}
		if d < time.Second {
			return fmt.Errorf("stores.google.poll_interval must be at least 1s, got %q", c.Stores.Google.PollInterval)
		}
	}
	if c.Server.KeepAlive != "" {
		if _, err := time.ParseDuration(c.Server.KeepAlive); err != nil {
			return fmt.Errorf("invalid duration for server.keep_alive: %q", c.Server.KeepAlive)
		}
	}
	return nil
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(store string, verbose bool) {
	if store != "" {
		c.Store = store
	}
	if verbose {
		c.Logging.Verbose = true
	}
}

// GooglePollInterval returns the poll interval, or zero for the store default
func (c *Config) GooglePollInterval() time.Duration {
	d, err := time.ParseDuration(c.Stores.Google.PollInterval)
	if err != nil {
		return 0
	}
	return d
}

// ServerKeepAlive returns the SSE keep-alive interval, or zero for the server default
func (c *Config) ServerKeepAlive() time.Duration {
	d, err := time.ParseDuration(c.Server.KeepAlive)
	if err != nil {
		return 0
	}
	return d
}

// IsBackgroundLoggingEnabled returns true if the TUI log file is enabled.
// Returns true (default) if not configured.
func (c *Config) IsBackgroundLoggingEnabled() bool {
	if c.Logging.BackgroundEnabled == nil {
		return true
	}
	return *c.Logging.BackgroundEnabled
}

// getXDGDir returns a directory path following the XDG base directory layout.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "milista")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "milista")
	}
	return filepath.Join(home, fallbackPath, "milista")
}

// GetConfigDir returns the configuration directory following the XDG base directory layout
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following the XDG base directory layout
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
