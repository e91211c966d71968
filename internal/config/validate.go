package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"tools.archive_timeout":  c.Tools.ArchiveTimeout,
		"tools.compress_timeout": c.Tools.CompressTimeout,
		"watch.settle_seconds":   c.Watch.SettleSeconds,
	}); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		return errors.New("paths.temp_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.SourceDir != "" && c.Paths.OutputDir != "" {
		if filepath.Clean(c.Paths.TempDir) == filepath.Clean(c.Paths.OutputDir) {
			return errors.New("paths.temp_dir must differ from paths.output_dir")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
