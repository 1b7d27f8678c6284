// Package config provides CLI commands for managing meilidash configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/meilidash/internal/config"
)

// Wrapper functions for exec to allow testing
var execLookPath = exec.LookPath
var execCommand = exec.Command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify meilidash configuration",
	Long: `View or modify meilidash configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  meilidash config set meilisearch.host http://localhost:7700
  meilidash config set sync.format yaml
  meilidash config set sync.poll_tasks true

Run 'meilidash config show' to see every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/meilidash/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in your editor",
	Long: `Open the config file in your preferred editor.

Uses $EDITOR environment variable, or falls back to common editors (vim, nano, vi).
If no config file exists, creates one with default values first.`,
	RunE: runConfigEdit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)
}

// Register adds all config-related commands to the given parent command.
// This is the main entry point for integrating the config subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

// maskedKeys are shown as a placeholder instead of their value.
var maskedKeys = []string{"meilisearch.api_key"}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	if _, err := appconfig.Load(); err != nil {
		fmt.Fprintf(out, "Warning: %v\n\n", err)
	}

	return writeSettings(out, viper.AllSettings())
}

func writeSettings(w io.Writer, settings map[string]any) error {
	for _, key := range maskedKeys {
		maskKey(settings, key)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	return enc.Close()
}

// maskKey replaces a non-empty value at the dotted path key.
func maskKey(settings map[string]any, key string) {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return
	}
	m, ok := settings[section].(map[string]any)
	if !ok {
		return
	}
	if v, ok := m[field].(string); ok && v != "" {
		m[field] = "********"
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	// Only keys with a registered default exist
	if !slices.Contains(viper.AllKeys(), key) {
		return fmt.Errorf("unknown configuration key: %s\nRun 'meilidash config show' to see valid keys", key)
	}

	typedValue, err := coerce(key, value, viper.Get(key))
	if err != nil {
		return err
	}

	previous := viper.Get(key)
	viper.Set(key, typedValue)
	if _, err := appconfig.Load(); err != nil {
		viper.Set(key, previous)
		return err
	}

	// Ensure config directory exists
	configDir := appconfig.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write to config file
	configFile := targetConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	if slices.Contains(maskedKeys, key) {
		fmt.Fprintf(out, "Set %s\n", key)
	} else {
		fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	}
	fmt.Fprintf(out, "Config saved to %s\n", configFile)

	return nil
}

// coerce converts value to the type of the key's current value.
func coerce(key, value string, current any) (any, error) {
	switch current.(type) {
	case bool:
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case int, int64:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return intVal, nil
	default:
		return value, nil
	}
}

// targetConfigFile is the file in use, or the default path when none is.
func targetConfigFile() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return appconfig.ConfigFile()
}

const defaultConfigContent = `# meilidash configuration

# Meilisearch instance
meilisearch:
  # Base URL of the HTTP API
  host: http://localhost:7700
  # API key sent as a bearer token (prefer MEILIDASH_MEILISEARCH_API_KEY)
  api_key: ""
  # Index used when a command is given none
  index: ""
  # Per-request timeout in seconds
  timeout_seconds: 10

# Settings synchronization
sync:
  # Wait after an accepted save before re-reading the settings
  refetch_delay_ms: 450
  # Wait for the update task to finish instead of the fixed delay
  poll_tasks: false
  # Minimum spacing between task status requests
  poll_interval_ms: 250
  # Editor text format: json or yaml
  format: json

# Last-known-value cache
cache:
  ttl_seconds: 300
  max_entries: 256

# Save notifications
notifications:
  enabled: true
  # Ring the terminal bell when a save fails
  bell: false

# Terminal UI
tui:
  # Rows of the settings editor
  editor_height: 24
  # How long status messages stay visible
  status_timeout_ms: 4000

# Debug logging
logging:
  enabled: true
  # debug, info, warn or error
  level: info
  # Empty means ~/.config/meilidash/logs
  dir: ""
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := appconfig.ConfigDir()
	configFile := appconfig.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'meilidash config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to point meilidash at your instance.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := appconfig.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/meilidash/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: MEILIDASH_* (e.g., MEILIDASH_MEILISEARCH_HOST)")

	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	// Check if config file exists, if not create it
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "Config file doesn't exist, creating with defaults...\n")
		if err := runConfigInit(cmd, args); err != nil {
			return err
		}
	}

	// Find an editor
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		// Try common editors
		for _, e := range []string{"vim", "nano", "vi"} {
			if _, err := execLookPath(e); err == nil {
				editor = e
				break
			}
		}
	}
	if editor == "" {
		return fmt.Errorf("no editor found. Set $EDITOR environment variable")
	}

	// Open the editor
	editorCmd := execCommand(editor, configFile)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Config file saved: %s\n", configFile)
	return nil
}
