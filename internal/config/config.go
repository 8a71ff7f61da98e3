package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the file name looked up in the working directory.
const DefaultConfigFile = "pagescope.yaml"

// Config holds all pagescope configuration.
type Config struct {
	Name string `yaml:"name"`

	// DebugMode is the global flag gating internal diagnostic output.
	DebugMode bool `yaml:"debug_mode"`

	Logging    LoggingConfig    `yaml:"logging"`
	Limits     LimitsConfig     `yaml:"limits"`
	Pressure   PressureConfig   `yaml:"pressure"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Browser    BrowserConfig    `yaml:"browser"`
}

// InstrumentConfig tunes the page-side hooks.
type InstrumentConfig struct {
	// BodyCap truncates captured response bodies (characters).
	BodyCap int `yaml:"body_cap"`
	// StorageDebounce delays the recapture after a storage mutation.
	StorageDebounce string `yaml:"storage_debounce"`
	// InitialSnapshotDelay delays the first storage capture after install.
	InitialSnapshotDelay string `yaml:"initial_snapshot_delay"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "pagescope",

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},

		Limits: LimitsConfig{
			MaxLogs:     1000,
			MaxRequests: 50,
		},

		Pressure: PressureConfig{
			KeepLogs:     50,
			KeepRequests: 10,
		},

		Instrument: InstrumentConfig{
			BodyCap:              5000,
			StorageDebounce:      "10ms",
			InitialSnapshotDelay: "500ms",
		},

		Browser: BrowserConfig{
			Headless:          false,
			ViewportWidth:     390,
			ViewportHeight:    844,
			Mobile:            true,
			NavigationTimeout: "30s",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PAGESCOPE_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DebugMode = b
		}
	}
	if url := os.Getenv("PAGESCOPE_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if v := os.Getenv("PAGESCOPE_MAX_LOGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.MaxLogs = n
		}
	}
	if v := os.Getenv("PAGESCOPE_MAX_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.MaxRequests = n
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.ValidateLimits(); err != nil {
		return err
	}
	if c.Instrument.BodyCap < 1000 || c.Instrument.BodyCap > 5000 {
		return fmt.Errorf("instrument.body_cap must be within [1000, 5000], got %d", c.Instrument.BodyCap)
	}
	for name, raw := range map[string]string{
		"instrument.storage_debounce":       c.Instrument.StorageDebounce,
		"instrument.initial_snapshot_delay": c.Instrument.InitialSnapshotDelay,
		"browser.navigation_timeout":        c.Browser.NavigationTimeout,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
	}
	return nil
}

// GetStorageDebounce returns the storage recapture debounce as a duration.
func (c *Config) GetStorageDebounce() time.Duration {
	d, err := time.ParseDuration(c.Instrument.StorageDebounce)
	if err != nil {
		return 10 * time.Millisecond
	}
	return d
}

// GetInitialSnapshotDelay returns the delay before the first storage capture.
func (c *Config) GetInitialSnapshotDelay() time.Duration {
	d, err := time.ParseDuration(c.Instrument.InitialSnapshotDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetNavigationTimeout returns the browser navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.NavigationTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
