package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete meilidash configuration
type Config struct {
	Meilisearch   MeilisearchConfig   `mapstructure:"meilisearch"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	TUI           TUIConfig           `mapstructure:"tui"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// MeilisearchConfig identifies the service instance to administer
type MeilisearchConfig struct {
	// Host is the base URL of the Meilisearch HTTP API (default: "http://localhost:7700")
	Host string `mapstructure:"host"`
	// APIKey is sent as a bearer token. Empty means no Authorization header.
	APIKey string `mapstructure:"api_key"`
	// Index is the index UID used when a command is given none
	Index string `mapstructure:"index"`
	// TimeoutSeconds bounds every HTTP request (default: 10)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// SyncConfig controls the settings synchronization workflow
type SyncConfig struct {
	// RefetchDelayMs is how long to wait after a successful save before
	// re-reading the settings (default: 450)
	RefetchDelayMs int `mapstructure:"refetch_delay_ms"`
	// PollTasks waits for the submitted task to finish instead of relying on
	// the fixed delay (default: false)
	PollTasks bool `mapstructure:"poll_tasks"`
	// PollIntervalMs is the minimum spacing between task status requests (default: 250)
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// Format is the editor text format: "json" or "yaml" (default: "json")
	Format string `mapstructure:"format"`
}

// CacheConfig controls the last-known-value cache of the fetch layer
type CacheConfig struct {
	// TTLSeconds is how long a fetched value is served as last-known data (default: 300)
	TTLSeconds int `mapstructure:"ttl_seconds"`
	// MaxEntries bounds the number of cached keys (default: 256)
	MaxEntries int `mapstructure:"max_entries"`
}

// NotificationsConfig controls task-submitted and failure notifications
type NotificationsConfig struct {
	// Enabled controls whether notifications are shown at all (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Bell rings the terminal bell when a save fails (default: false)
	Bell bool `mapstructure:"bell"`
}

// TUIConfig controls the terminal UI behavior
type TUIConfig struct {
	// EditorHeight is the number of rows of the settings editor (default: 24)
	EditorHeight int `mapstructure:"editor_height"`
	// StatusTimeoutMs is how long a status message stays visible (default: 4000)
	StatusTimeoutMs int `mapstructure:"status_timeout_ms"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is written to a file (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the log directory. Empty means {ConfigDir}/logs.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Meilisearch: MeilisearchConfig{
			Host:           "http://localhost:7700",
			TimeoutSeconds: 10,
		},
		Sync: SyncConfig{
			RefetchDelayMs: 450,
			PollTasks:      false,
			PollIntervalMs: 250,
			Format:         "json",
		},
		Cache: CacheConfig{
			TTLSeconds: 300,
			MaxEntries: 256,
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Bell:    false,
		},
		TUI: TUIConfig{
			EditorHeight:    24,
			StatusTimeoutMs: 4000,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Timeout returns the per-request timeout as a time.Duration
func (c *MeilisearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RefetchDelay returns the post-save refetch delay as a time.Duration
func (c *SyncConfig) RefetchDelay() time.Duration {
	return time.Duration(c.RefetchDelayMs) * time.Millisecond
}

// PollInterval returns the task polling interval as a time.Duration
func (c *SyncConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// TTL returns the cache TTL as a time.Duration
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// StatusTimeout returns the status message lifetime as a time.Duration
func (c *TUIConfig) StatusTimeout() time.Duration {
	return time.Duration(c.StatusTimeoutMs) * time.Millisecond
}

// ResolveDir returns the log directory, expanding ~ and defaulting to
// {ConfigDir}/logs.
func (c *LoggingConfig) ResolveDir() string {
	if c.Dir == "" {
		return filepath.Join(ConfigDir(), "logs")
	}

	path := c.Dir
	if strings.HasPrefix(path, "~/") || path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

// SetDefaults registers every default with viper so that keys resolve even
// without a config file
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("meilisearch.host", defaults.Meilisearch.Host)
	viper.SetDefault("meilisearch.api_key", defaults.Meilisearch.APIKey)
	viper.SetDefault("meilisearch.index", defaults.Meilisearch.Index)
	viper.SetDefault("meilisearch.timeout_seconds", defaults.Meilisearch.TimeoutSeconds)

	viper.SetDefault("sync.refetch_delay_ms", defaults.Sync.RefetchDelayMs)
	viper.SetDefault("sync.poll_tasks", defaults.Sync.PollTasks)
	viper.SetDefault("sync.poll_interval_ms", defaults.Sync.PollIntervalMs)
	viper.SetDefault("sync.format", defaults.Sync.Format)

	viper.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)
	viper.SetDefault("cache.max_entries", defaults.Cache.MaxEntries)

	viper.SetDefault("notifications.enabled", defaults.Notifications.Enabled)
	viper.SetDefault("notifications.bell", defaults.Notifications.Bell)

	viper.SetDefault("tui.editor_height", defaults.TUI.EditorHeight)
	viper.SetDefault("tui.status_timeout_ms", defaults.TUI.StatusTimeoutMs)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is invalid
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "meilidash")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".meilidash"
	}
	return filepath.Join(home, ".config", "meilidash")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidFormats returns the list of valid editor text formats
func ValidFormats() []string {
	return []string{"json", "yaml"}
}
