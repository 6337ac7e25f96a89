package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "3s"
// or from plain nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SiteRule maps a page URL pattern to the busy selector to watch there.
// Patterns support a single * wildcard. Rules are checked in order and the
// first match wins.
type SiteRule struct {
	// URLPattern matches the page URL (e.g., "https://claude.ai/*")
	URLPattern string `yaml:"url_pattern"`

	// BusySelector is the DOM marker whose presence means a run is in
	// progress. Opaque to the daemon; it is handed to the page observer.
	BusySelector string `yaml:"busy_selector"`
}

// Config holds the application configuration
type Config struct {
	// Theme is the color theme to use (mocha, macchiato, frappe, latte)
	Theme string `yaml:"theme"`

	// Sites lists the pages to monitor and their busy selectors
	Sites []SiteRule `yaml:"sites"`

	// MinRunDuration filters out runs too short to notify about
	MinRunDuration Duration `yaml:"min_run_duration"`

	// ReminderDelay is how long "Remind in 5 min" actually waits
	ReminderDelay Duration `yaml:"reminder_delay"`

	// StoppedRevertDelay is how long a finished run stays displayed
	// before the tab reverts to monitoring
	StoppedRevertDelay Duration `yaml:"stopped_revert_delay"`

	// HistoryLimit caps per-tab run history
	HistoryLimit int `yaml:"history_limit"`

	// SocketPath is the unix socket observers connect to
	SocketPath string `yaml:"socket_path"`

	// DBPath is the SQLite state database
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home := os.Getenv("HOME")
	return &Config{
		Theme: "mocha",
		Sites: []SiteRule{
			{URLPattern: "https://claude.ai/*", BusySelector: `button[aria-label="Stop response"]`},
			{URLPattern: "https://chat.openai.com/*", BusySelector: `button[aria-label="Stop generating"]`},
			{URLPattern: "https://chatgpt.com/*", BusySelector: `button[aria-label="Stop generating"]`},
			{URLPattern: "https://gemini.google.com/*", BusySelector: `button[aria-label="Stop response"]`},
		},
		MinRunDuration:     Duration(3 * time.Second),
		ReminderDelay:      Duration(5 * time.Minute),
		StoppedRevertDelay: Duration(5 * time.Second),
		HistoryLimit:       20,
		SocketPath:         filepath.Join(home, ".local", "share", "runbell", "runbell.sock"),
		DBPath:             filepath.Join(home, ".local", "share", "runbell", "state.db"),
	}
}

// Load reads the config from a YAML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) //nolint:gosec // config path from known locations
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDefaultPath attempts to load config from standard locations
func LoadFromDefaultPath() (*Config, error) {
	// Check in order: current dir, ~/.config/runbell/, XDG_CONFIG_HOME
	paths := []string{
		"config.yaml",
		filepath.Join(os.Getenv("HOME"), ".config", "runbell", "config.yaml"),
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "runbell", "config.yaml"))
	}

	for _, path := range paths {
		cleanPath := filepath.Clean(path)
		if _, err := os.Stat(cleanPath); err == nil { //nolint:gosec // config path from known locations
			return Load(cleanPath)
		}
	}

	return DefaultConfig(), nil
}

// MatchPattern checks if a pattern matches a value (supports a single *
// wildcard anywhere in the pattern)
func MatchPattern(pattern, value string) bool {
	// Exact match
	if pattern == value {
		return true
	}

	// Wildcard match
	// e.g., "https://claude.ai/*" matches "https://claude.ai/chat/abc"
	if strings.Contains(pattern, "*") {
		parts := strings.SplitN(pattern, "*", 2)
		if len(parts) == 2 {
			prefix := parts[0]
			suffix := parts[1]
			return strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix)
		}
	}

	return false
}

// global config instance
var globalConfig *Config

// Global returns the global config instance, loading it if necessary
func Global() *Config {
	if globalConfig == nil {
		cfg, err := LoadFromDefaultPath()
		if err != nil {
			cfg = DefaultConfig()
		}
		globalConfig = cfg
	}
	return globalConfig
}

// SetGlobal sets the global config instance (useful for testing)
func SetGlobal(cfg *Config) {
	globalConfig = cfg
}
