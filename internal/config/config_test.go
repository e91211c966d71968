package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"discnorm/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("DISCNORM_DAT", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "discnorm")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.HistoryPath() != filepath.Join(wantState, "history.db") {
		t.Fatalf("unexpected history path: %q", cfg.HistoryPath())
	}
	if cfg.Tools.Chdman != "chdman" {
		t.Fatalf("unexpected chdman default: %q", cfg.Tools.Chdman)
	}
	if cfg.Tools.ArchiveTimeout != 300 {
		t.Fatalf("unexpected archive timeout: %d", cfg.Tools.ArchiveTimeout)
	}
	if !cfg.Tools.NativeArchives {
		t.Fatal("expected native archives enabled by default")
	}
	if !cfg.Verify.AllowCueMismatches {
		t.Fatal("expected cue mismatches to be allowed by default")
	}
	if cfg.Verify.AcceptClosest {
		t.Fatal("expected closest matches to be rejected by default")
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}
}

func TestLoadReadsFileAndEnvFallbacks(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	datPath := filepath.Join(tempHome, "psx.dat")
	t.Setenv("DISCNORM_DAT", datPath)
	t.Setenv("DISCNORM_ARCHIVE_PASSWORD", "hunter2")

	configPath := filepath.Join(tempHome, "config.toml")
	content := `[paths]
source_dir = "~/dumps"
output_dir = "~/chd"

[tools]
chdman = "/opt/mame/chdman"
archive_timeout = 60

[logging]
format = "JSON"
level = "Debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config %q to be found, got %q exists=%v", configPath, resolved, exists)
	}
	if cfg.Paths.SourceDir != filepath.Join(tempHome, "dumps") {
		t.Fatalf("unexpected source dir: %q", cfg.Paths.SourceDir)
	}
	if cfg.Paths.OutputDir != filepath.Join(tempHome, "chd") {
		t.Fatalf("unexpected output dir: %q", cfg.Paths.OutputDir)
	}
	if cfg.Tools.Chdman != "/opt/mame/chdman" {
		t.Fatalf("unexpected chdman: %q", cfg.Tools.Chdman)
	}
	if cfg.ArchiveTimeout().Seconds() != 60 {
		t.Fatalf("unexpected archive timeout: %v", cfg.ArchiveTimeout())
	}
	if cfg.Tools.SevenZip != "7z" {
		t.Fatalf("expected 7z default retained, got %q", cfg.Tools.SevenZip)
	}
	if cfg.Tools.ArchivePassword != "hunter2" {
		t.Fatalf("expected archive password from env, got %q", cfg.Tools.ArchivePassword)
	}
	if cfg.Verify.DatPath != datPath {
		t.Fatalf("expected dat path from env, got %q", cfg.Verify.DatPath)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging, got %q/%q", cfg.Logging.Format, cfg.Logging.Level)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	configPath := filepath.Join(tempHome, "config.toml")
	if err := os.WriteFile(configPath, []byte("[paths]\nlibrary_dir = \"/x\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "verbose"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("expected logging.level error, got %v", err)
	}
}

func TestValidateRejectsNonPositiveTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.CompressTimeout = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "tools.compress_timeout") {
		t.Fatalf("expected compress_timeout error, got %v", err)
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	path := filepath.Join(tempHome, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded map[string]any
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}
	if _, ok := decoded["verify"]; !ok {
		t.Fatal("expected sample to contain [verify]")
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}

func TestEnsureDirectoriesCreatesStateAndLogDirs(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.TempDir = filepath.Join(base, "tmp")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.TempDir, cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.OutputDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}
