package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	SourceDir string `toml:"source_dir"`
	OutputDir string `toml:"output_dir"`
	TempDir   string `toml:"temp_dir"`
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
}

// Tools contains external binary names and their time limits.
type Tools struct {
	Chdman          string `toml:"chdman"`
	SevenZip        string `toml:"seven_zip"`
	Unrar           string `toml:"unrar"`
	Unecm           string `toml:"unecm"`
	Mdf2Iso         string `toml:"mdf2iso"`
	PowerISO        string `toml:"poweriso"`
	ArchiveTimeout  int    `toml:"archive_timeout"`
	CompressTimeout int    `toml:"compress_timeout"`
	NativeArchives  bool   `toml:"native_archives"`
	ArchivePassword string `toml:"archive_password"`
}

// Compress contains defaults for the compress command.
type Compress struct {
	Overwrite    bool `toml:"overwrite"`
	RemoveSource bool `toml:"remove_source"`
	RepackCHD    bool `toml:"repack_chd"`
}

// Verify contains catalog verification policy.
type Verify struct {
	DatPath            string `toml:"dat_path"`
	AllowCueMismatches bool   `toml:"allow_cue_mismatches"`
	RequireAllTracks   bool   `toml:"require_all_tracks"`
	AcceptClosest      bool   `toml:"accept_closest"`
	WriteMetadata      bool   `toml:"write_metadata"`
}

// History contains run history settings.
type History struct {
	Enabled bool `toml:"enabled"`
}

// Watch contains settings for the directory watcher.
type Watch struct {
	SettleSeconds int `toml:"settle_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for discnorm.
//
// Configuration sections by subsystem:
//   - Paths: source, output, scratch, state, and log directories
//   - Tools: external converter binaries and timeouts
//   - Compress: overwrite/remove-source/repack defaults
//   - Verify: DAT location and match acceptance policy
//   - History: SQLite run history
//   - Watch: directory watcher timing
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Tools    Tools    `toml:"tools"`
	Compress Compress `toml:"compress"`
	Verify   Verify   `toml:"verify"`
	History  History  `toml:"history"`
	Watch    Watch    `toml:"watch"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/discnorm/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("discnorm.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories discnorm writes to. The output
// directory is created on a best-effort basis so verify-only runs work when
// it lives on unavailable storage.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.TempDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		_ = os.MkdirAll(c.Paths.OutputDir, 0o755)
	}
	return nil
}

// HistoryPath returns the SQLite database location for run history.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LockDir returns the directory holding per-output lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// ArchiveTimeout returns the bound applied to archive extraction.
func (c *Config) ArchiveTimeout() time.Duration {
	return time.Duration(c.Tools.ArchiveTimeout) * time.Second
}

// CompressTimeout returns the bound applied to CHD compression.
func (c *Config) CompressTimeout() time.Duration {
	return time.Duration(c.Tools.CompressTimeout) * time.Second
}

// SettleDuration returns how long a watched group must stay quiet before processing.
func (c *Config) SettleDuration() time.Duration {
	return time.Duration(c.Watch.SettleSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultTempDir() string {
	return filepath.Join(os.TempDir(), "discnorm")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
