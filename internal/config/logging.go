package config

import "pagescope/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // json, text
	File       string          `yaml:"file"`       // empty = stderr
	Categories map[string]bool `yaml:"categories"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug mode is off.
func (c *Config) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Logging.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := c.Logging.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// LoggingOptions converts the config into logging.Initialize options.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		DebugMode:  c.DebugMode,
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		Categories: c.Logging.Categories,
	}
}
