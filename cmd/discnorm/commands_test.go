package main

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"discnorm/internal/history"
	"discnorm/internal/testsupport"
	"discnorm/internal/verify"
)

func TestRootPrintsHelp(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	for _, name := range []string{"compress", "verify", "rename", "watch", "history", "doctor", "clean"} {
		requireContains(t, out, name)
	}
}

func TestCompressPassesThroughCHDAndRecordsHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteText(t, filepath.Join(env.cfg.Paths.SourceDir, "Game.chd"), "chd-data")

	out, _, err := runCLI(t, env, "compress")
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	requireContains(t, out, "[OK]")
	requireContains(t, out, "Game.chd")

	data, err := os.ReadFile(filepath.Join(env.cfg.Paths.OutputDir, "Game.chd"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "chd-data" {
		t.Fatalf("output = %q", data)
	}

	// A second run leaves the existing output alone and is not a failure.
	out, _, err = runCLI(t, env, "compress")
	if err != nil {
		t.Fatalf("second compress: %v", err)
	}
	requireContains(t, out, "[WARN]")
	requireContains(t, out, "already exists")

	out, _, err = runCLI(t, env, "history", "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var runs []history.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Status != "skipped" || runs[1].Status != "succeeded" {
		t.Fatalf("unexpected statuses: %s, %s", runs[0].Status, runs[1].Status)
	}
	if runs[1].Command != "compress" || runs[1].Group != "Game" {
		t.Fatalf("unexpected run: %+v", runs[1])
	}
	if runs[0].RunID == runs[1].RunID {
		t.Fatal("expected a fresh run id per invocation")
	}

	out, _, err = runCLI(t, env, "history")
	if err != nil {
		t.Fatalf("history table: %v", err)
	}
	requireContains(t, out, "Game")
	requireContains(t, out, "Totals: skipped=1 succeeded=1")
}

func TestCompressFailsWhenAGroupFails(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteText(t, filepath.Join(env.cfg.Paths.SourceDir, "notes.txt"), "not a disc")
	testsupport.WriteText(t, filepath.Join(env.cfg.Paths.SourceDir, "Disc.chd"), "chd")

	out, _, err := runCLI(t, env, "compress")
	if err == nil {
		t.Fatal("expected compress to fail")
	}
	requireContains(t, err.Error(), "1 of 2 groups failed")
	requireContains(t, out, "[ERROR]")
	if _, statErr := os.Stat(filepath.Join(env.cfg.Paths.OutputDir, "Disc.chd")); statErr != nil {
		t.Fatalf("expected the healthy group to be converted: %v", statErr)
	}
}

func TestCompressRequiresChdman(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Tools.Chdman = "discnorm-missing-chdman"
	writeTestConfig(t, env.configPath, env.cfg)

	_, _, err := runCLI(t, env, "compress")
	if err == nil {
		t.Fatal("expected missing chdman to fail")
	}
	requireContains(t, err.Error(), "chdman")
}

func writeDat(t *testing.T, dir, game, rom string, content []byte) string {
	t.Helper()
	sum := sha1.Sum(content)
	xml := fmt.Sprintf(`<datafile><header><name>Test System</name></header><game name=%q><rom name=%q size="%d" sha1=%q/></game></datafile>`,
		game, rom, len(content), hex.EncodeToString(sum[:]))
	path := filepath.Join(dir, "system.dat")
	if err := os.WriteFile(path, []byte(xml), 0o644); err != nil {
		t.Fatalf("write dat: %v", err)
	}
	return path
}

func TestVerifyDirectoryAgainstDat(t *testing.T) {
	env := setupCLITestEnv(t)
	content := bytes.Repeat([]byte{0x5A}, 4096)
	datPath := writeDat(t, env.baseDir, "Game (USA)", "Game (USA).bin", content)
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.SourceDir, "Game (USA).bin"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, env, "verify", "--dat", datPath, "--json")
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	var entries []verifyEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Status != string(verify.StatusMatch) || !entries[0].Verified || entries[0].Game != "Game (USA)" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestVerifyReportsUnverifiedInputs(t *testing.T) {
	env := setupCLITestEnv(t)
	datPath := writeDat(t, env.baseDir, "Game (USA)", "Game (USA).bin", bytes.Repeat([]byte{0x01}, 64))
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.SourceDir, "Other.bin"), bytes.Repeat([]byte{0x02}, 32), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, env, "verify", "--dat", datPath)
	if err == nil {
		t.Fatal("expected verification failure")
	}
	requireContains(t, err.Error(), "1 of 1 inputs not verified")
	requireContains(t, out, "Other")
}

func TestVerifyRequiresDat(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, env, "verify")
	if err == nil || !strings.Contains(err.Error(), "requires a DAT") {
		t.Fatalf("expected missing DAT error, got %v", err)
	}
}

func TestRenameUsesSidecars(t *testing.T) {
	env := setupCLITestEnv(t)
	out := env.cfg.Paths.OutputDir
	testsupport.WriteText(t, filepath.Join(out, "rr.chd"), "chd")
	report := &verify.Report{
		Status:    verify.StatusMatch,
		Message:   "verified",
		Timestamp: "2026-01-01T00:00:00Z",
		Game:      &verify.GameInfo{Name: "Ridge Racer (USA)", Files: []string{"Ridge Racer (USA).bin"}},
	}
	if err := verify.WriteSidecar(filepath.Join(out, "rr.json"), report); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := runCLI(t, env, "rename", "--dry-run")
	if err != nil {
		t.Fatalf("rename --dry-run: %v", err)
	}
	requireContains(t, stdout, "would rename")
	if _, err := os.Stat(filepath.Join(out, "rr.chd")); err != nil {
		t.Fatal("dry run must not move files")
	}

	if _, _, err := runCLI(t, env, "rename"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	for _, name := range []string{"Ridge Racer (USA).chd", "Ridge Racer (USA).json"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
}

func TestHistoryEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No runs recorded")
}

func TestHistoryDisabled(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithoutHistory())
	if _, _, err := runCLI(t, env, "history"); err == nil {
		t.Fatal("expected error when history is disabled")
	}
}

func TestDoctor(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "External tools")
	requireContains(t, out, "chdman:")

	env.cfg.Tools.Chdman = "discnorm-missing-chdman"
	writeTestConfig(t, env.configPath, env.cfg)
	out, _, err = runCLI(t, env, "doctor")
	if err == nil {
		t.Fatal("expected doctor to report the missing tool")
	}
	requireContains(t, out, "[ERROR]")
}

func TestCleanRemovesStaleWorkspaces(t *testing.T) {
	env := setupCLITestEnv(t)
	stale := filepath.Join(env.cfg.Paths.TempDir, "work-stale")
	fresh := filepath.Join(env.cfg.Paths.TempDir, "work-fresh")
	for _, dir := range []string{stale, fresh} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, env, "clean", "--max-age", "24h", "--history-age", "720h")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	requireContains(t, out, "1 stale workspace(s) removed")
	requireContains(t, out, "0 history record(s) pruned")
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale workspace should be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh workspace should remain")
	}
}
