package configuration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/atsn/emily/internal/file"
)

const (
	// DefaultAPIURL is used when no API URL is configured.
	DefaultAPIURL = "https://agent-emily.onrender.com"
	// APIURLEnv overrides the configured API URL.
	APIURLEnv = "EMILY_API_URL"
)

var defaultConfig = Config{
	APIURL:         DefaultAPIURL,
	RequestTimeout: 30,

	Auth: &AuthConfig{},

	Storage: &StorageConfig{
		Driver:         "sqlite",
		Path:           "~/.config/emily/storage.db",
		PollIntervalMs: 250,
	},

	Dashboard: &DashboardConfig{
		CellWidthPx:   8,
		DefaultFilter: "all",
	},

	Logging: &LoggingConfig{
		Level: "info",
		File:  "/tmp/emily-debug.log",
	},

	Server: &ServerConfig{
		Port: 3030,
	},
}

// Config holds configuration for the emily tool.
type Config struct {
	APIURL         string `json:"api_url" validate:"required,url"`
	RequestTimeout int    `json:"request_timeout" validate:"gt=0"`

	Auth      *AuthConfig      `json:"auth" validate:"required"`
	Storage   *StorageConfig   `json:"storage" validate:"required"`
	Dashboard *DashboardConfig `json:"dashboard" validate:"required"`
	Logging   *LoggingConfig   `json:"logging" validate:"required"`
	Server    *ServerConfig    `json:"server" validate:"required"`
}

// AuthConfig holds the Supabase project used to sign in.
type AuthConfig struct {
	SupabaseURL string `json:"supabase_url" validate:"omitempty,url"`
	SupabaseKey string `json:"supabase_key"`
}

// StorageConfig holds configuration of the durable key-value store.
type StorageConfig struct {
	// One of sqlite, bolt, postgres, memory.
	Driver string `json:"driver" validate:"oneof=sqlite bolt postgres memory"`
	// Path of the database file for the file backends.
	Path string `json:"path"`
	// URL of the postgres database.
	URL string `json:"url" validate:"required_if=Driver postgres"`
	// How often other processes' writes are picked up, in milliseconds.
	PollIntervalMs int `json:"poll_interval_ms" validate:"gte=0"`
}

// DashboardConfig holds configuration of the terminal dashboard.
type DashboardConfig struct {
	// Logical pixels per terminal column, used against the layout breakpoint.
	CellWidthPx int `json:"cell_width_px" validate:"gt=0"`
	// Message filter selected on start.
	DefaultFilter string `json:"default_filter" validate:"oneof=all emily chase leo"`
}

// LoggingConfig holds configuration of the debug log.
type LoggingConfig struct {
	Level string `json:"level" validate:"oneof=debug info warn error"`
	File  string `json:"file"`
}

// ServerConfig holds configuration of the web dashboard.
type ServerConfig struct {
	Port int `json:"port" validate:"gt=0,lt=65536"`
}

// Parse a configuration file.
func Parse(path string) (*Config, error) {
	path, err := file.ExpandPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "expanding path")
	}

	if err := initializeIfNotPresent(path); err != nil {
		return nil, errors.Wrap(err, "initializing configuration")
	}
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading file")
	}

	config := &Config{}
	if err = json.Unmarshal(bytes, config); err != nil {
		return nil, errors.Wrap(err, "unmarshaling into config")
	}
	if err := config.finalize(); err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns a finalized copy of the default configuration.
func Default() (*Config, error) {
	config := &Config{}
	if err := config.finalize(); err != nil {
		return nil, err
	}
	return config, nil
}

// finalize fills in defaults, applies environment overrides and validates.
func (c *Config) finalize() error {
	defaults := defaultConfig.clone()
	if err := mergo.Merge(c, defaults); err != nil {
		return errors.Wrap(err, "merging defaults")
	}

	if env, ok := os.LookupEnv(APIURLEnv); ok {
		c.APIURL = env
	}
	c.APIURL = NormalizeAPIURL(c.APIURL)

	if c.Storage.Path != "" {
		expanded, err := file.ExpandPath(c.Storage.Path)
		if err != nil {
			return errors.Wrap(err, "expanding storage path")
		}
		c.Storage.Path = expanded
	}

	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "validating config")
	}
	return nil
}

// clone deep-copies the nested sections so merging never aliases the defaults.
func (c Config) clone() Config {
	auth, storage, dashboard, logging, server := *c.Auth, *c.Storage, *c.Dashboard, *c.Logging, *c.Server
	c.Auth, c.Storage, c.Dashboard, c.Logging, c.Server = &auth, &storage, &dashboard, &logging, &server
	return c
}

// NormalizeAPIURL applies the API base rules: empty falls back to the default host,
// a missing scheme means http, and a trailing slash is dropped.
func NormalizeAPIURL(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		return DefaultAPIURL
	}
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	return strings.TrimSuffix(url, "/")
}

// save a configuration file.
func (c *Config) save(path string) error {
	bytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}

	err = os.WriteFile(path, bytes, 0644)
	if err != nil {
		return errors.Wrap(err, "writing file")
	}

	return nil
}

// initializeIfNotPresent initializes a config if it does not exist.
func initializeIfNotPresent(path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}

	// Create the directories.
	dir, _ := filepath.Split(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating folders")
	}

	defaults := defaultConfig.clone()
	if err := defaults.save(path); err != nil {
		return errors.Wrap(err, "saving default config")
	}
	return nil
}
