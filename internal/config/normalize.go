package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTools()
	if err := c.normalizeVerify(); err != nil {
		return err
	}
	if c.Watch.SettleSeconds <= 0 {
		c.Watch.SettleSeconds = defaultSettleSeconds
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.SourceDir, err = expandPath(strings.TrimSpace(c.Paths.SourceDir)); err != nil {
		return fmt.Errorf("paths.source_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir()
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.Chdman = orDefault(c.Tools.Chdman, defaultChdman)
	c.Tools.SevenZip = orDefault(c.Tools.SevenZip, defaultSevenZip)
	c.Tools.Unrar = orDefault(c.Tools.Unrar, defaultUnrar)
	c.Tools.Unecm = orDefault(c.Tools.Unecm, defaultUnecm)
	c.Tools.Mdf2Iso = orDefault(c.Tools.Mdf2Iso, defaultMdf2Iso)
	c.Tools.PowerISO = orDefault(c.Tools.PowerISO, defaultPowerISO)
	if c.Tools.ArchiveTimeout <= 0 {
		c.Tools.ArchiveTimeout = defaultArchiveTimeout
	}
	if c.Tools.CompressTimeout <= 0 {
		c.Tools.CompressTimeout = defaultCompressTimeout
	}
	if c.Tools.ArchivePassword == "" {
		if value, ok := os.LookupEnv("DISCNORM_ARCHIVE_PASSWORD"); ok {
			c.Tools.ArchivePassword = value
		}
	}
}

func (c *Config) normalizeVerify() error {
	c.Verify.DatPath = strings.TrimSpace(c.Verify.DatPath)
	if c.Verify.DatPath == "" {
		if value, ok := os.LookupEnv("DISCNORM_DAT"); ok {
			c.Verify.DatPath = strings.TrimSpace(value)
		}
	}
	if c.Verify.DatPath == "" {
		return nil
	}
	var err error
	if c.Verify.DatPath, err = expandPath(c.Verify.DatPath); err != nil {
		return fmt.Errorf("verify.dat_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
