package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"discnorm/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryReadable("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDat(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.dat")
	xml := `<datafile><header><name>Sony - PlayStation</name></header>` +
		`<game name="A"><rom name="A.bin" size="4" sha1="da39a3ee5e6b4b0d3255bfef95601890afd80709"/></game></datafile>`
	if err := os.WriteFile(good, []byte(xml), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDat(good)
	if !result.Passed || !strings.Contains(result.Detail, "1 games, 1 roms") {
		t.Fatalf("unexpected result: %#v", result)
	}

	bad := filepath.Join(dir, "bad.dat")
	if err := os.WriteFile(bad, []byte("<datafile>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if CheckDat(bad).Passed {
		t.Fatal("expected failure for malformed dat")
	}
}

func TestRunAll(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.SourceDir = filepath.Join(base, "source")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.TempDir = filepath.Join(base, "tmp")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	for _, dir := range []string{cfg.Paths.SourceDir, cfg.Paths.OutputDir, cfg.Paths.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	results := RunAll(&cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 checks, got %#v", results)
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "State directory" {
		t.Fatalf("expected only the missing state dir to fail, got %#v", failed)
	}
}
