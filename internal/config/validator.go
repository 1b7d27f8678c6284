package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/Iron-Ham/meilidash/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "sync.refetch_delay_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateMeilisearch()...)
	errors = append(errors, c.validateSync()...)
	errors = append(errors, c.validateCache()...)
	errors = append(errors, c.validateTUI()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateMeilisearch() []ValidationError {
	var errors []ValidationError

	u, err := url.Parse(c.Meilisearch.Host)
	if c.Meilisearch.Host == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "meilisearch.host",
			Value:   c.Meilisearch.Host,
			Message: "must be an http(s) URL",
		})
	}

	if c.Meilisearch.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "meilisearch.timeout_seconds",
			Value:   c.Meilisearch.TimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateSync() []ValidationError {
	var errors []ValidationError

	if c.Sync.RefetchDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "sync.refetch_delay_ms",
			Value:   c.Sync.RefetchDelayMs,
			Message: "must be non-negative",
		})
	}

	// The delay only papers over server task latency; anything this long
	// means the user wants poll_tasks instead.
	const maxRefetchDelayMs = 60000
	if c.Sync.RefetchDelayMs > maxRefetchDelayMs {
		errors = append(errors, ValidationError{
			Field:   "sync.refetch_delay_ms",
			Value:   c.Sync.RefetchDelayMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxRefetchDelayMs),
		})
	}

	if c.Sync.PollTasks && c.Sync.PollIntervalMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "sync.poll_interval_ms",
			Value:   c.Sync.PollIntervalMs,
			Message: "must be positive when poll_tasks is enabled",
		})
	}

	if c.Sync.Format != "" && !slices.Contains(ValidFormats(), c.Sync.Format) {
		errors = append(errors, ValidationError{
			Field:   "sync.format",
			Value:   c.Sync.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidFormats(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateCache() []ValidationError {
	var errors []ValidationError

	if c.Cache.TTLSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "cache.ttl_seconds",
			Value:   c.Cache.TTLSeconds,
			Message: "must be non-negative",
		})
	}
	if c.Cache.MaxEntries <= 0 {
		errors = append(errors, ValidationError{
			Field:   "cache.max_entries",
			Value:   c.Cache.MaxEntries,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateTUI() []ValidationError {
	var errors []ValidationError

	if c.TUI.EditorHeight < 5 || c.TUI.EditorHeight > 200 {
		errors = append(errors, ValidationError{
			Field:   "tui.editor_height",
			Value:   c.TUI.EditorHeight,
			Message: "must be between 5 and 200",
		})
	}
	if c.TUI.StatusTimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "tui.status_timeout_ms",
			Value:   c.TUI.StatusTimeoutMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(logging.ValidLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
