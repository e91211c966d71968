package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"discnorm/internal/logging"
	"discnorm/internal/pipeline"
	"discnorm/internal/services"
	"discnorm/internal/storage"
	"discnorm/internal/textutil"
	"discnorm/internal/verify"
)

type stubTools struct {
	mu       sync.Mutex
	calls    []string
	archives map[string]map[string]string
	failures map[string]error
	block    bool
	fs       afero.Fs
}

func (s *stubTools) files() afero.Fs {
	if s.fs == nil {
		return afero.NewOsFs()
	}
	return s.fs
}

func (s *stubTools) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubTools) called(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (s *stubTools) Extract(ctx context.Context, archive, destDir string) error {
	s.record("extract " + filepath.Base(archive))
	if err := s.failures[filepath.Base(archive)]; err != nil {
		return err
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := s.files().MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	for name, content := range s.archives[filepath.Base(archive)] {
		path := filepath.Join(destDir, name)
		if err := s.files().MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(s.files(), path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubTools) DecodeECM(_ context.Context, src string) (string, error) {
	s.record("unecm " + filepath.Base(src))
	out := strings.TrimSuffix(src, ".ecm")
	if filepath.Ext(out) == "" {
		out += ".bin"
	}
	return out, afero.WriteFile(s.files(), out, []byte("decoded"), 0o644)
}

func (s *stubTools) ConvertMDF(_ context.Context, src string) (string, error) {
	s.record("mdf2iso " + filepath.Base(src))
	out := strings.TrimSuffix(src, filepath.Ext(src)) + ".iso"
	return out, afero.WriteFile(s.files(), out, []byte("iso"), 0o644)
}

func (s *stubTools) ConvertToBin(_ context.Context, src string) (string, error) {
	s.record("poweriso " + filepath.Base(src))
	out := strings.TrimSuffix(src, filepath.Ext(src)) + ".bin"
	return out, afero.WriteFile(s.files(), out, []byte("bin"), 0o644)
}

func (s *stubTools) ExtractCHD(_ context.Context, src, destDir string) (string, error) {
	s.record("extractcd " + filepath.Base(src))
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	cuePath := filepath.Join(destDir, base+".cue")
	if err := afero.WriteFile(s.files(), filepath.Join(destDir, base+".bin"), []byte("raw"), 0o644); err != nil {
		return "", err
	}
	text := "FILE \"" + base + ".bin\" BINARY\n  TRACK 01 MODE2/2352\n    INDEX 01 00:00:00\n"
	return cuePath, afero.WriteFile(s.files(), cuePath, []byte(text), 0o644)
}

func (s *stubTools) CompressCHD(_ context.Context, sheet, output string) error {
	s.record("createcd " + filepath.Base(sheet))
	data, err := afero.ReadFile(s.files(), sheet)
	if err != nil {
		return err
	}
	return afero.WriteFile(s.files(), output, append([]byte("chd:"), data...), 0o644)
}

func (s *stubTools) VerifyCHD(_ context.Context, path string) error {
	s.record("verify " + filepath.Base(path))
	return nil
}

type fixture struct {
	src      string
	out      string
	tools    *stubTools
	registry *storage.Registry
	pipeline *pipeline.Pipeline
}

func newFixture(t *testing.T, mutate func(*pipeline.Options), extra ...pipeline.Option) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		src:      filepath.Join(root, "src"),
		out:      filepath.Join(root, "out"),
		tools:    &stubTools{archives: map[string]map[string]string{}, failures: map[string]error{}},
		registry: storage.NewRegistry(logging.NewNop()),
	}
	for _, dir := range []string{f.src, f.out} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	opts := pipeline.Options{
		OutputDir:     f.out,
		LockDir:       filepath.Join(root, "locks"),
		WriteMetadata: true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := pipeline.New(f.tools, storage.NewLocal(filepath.Join(root, "tmp")), f.registry, opts, extra...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	f.pipeline = p
	return f
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.src, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (f *fixture) run(t *testing.T, name string, files ...string) (*pipeline.Result, error) {
	t.Helper()
	result, err := f.pipeline.Run(context.Background(), pipeline.Group{Name: name, Files: files})
	if f.registry.Live() != 0 {
		t.Fatalf("expected every workspace released, %d live", f.registry.Live())
	}
	return result, err
}

func baseNames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

const gameCue = "FILE \"game.bin\" BINARY\n  TRACK 01 MODE2/2352\n    INDEX 01 00:00:00\n"

func TestRunExtractsArchiveToFixpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.tools.archives["game.zip"] = map[string]string{
		"game.cue":        gameCue,
		"nested/game.bin": "data",
	}
	zip := f.write(t, "game.zip", "zip")

	result, err := f.run(t, "game", zip)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := baseNames(result.Files); !slices.Equal(got, []string{"game.bin", "game.cue"}) {
		t.Fatalf("unexpected settled files: %v", got)
	}
	if len(result.Outputs) != 1 || result.Outputs[0] != filepath.Join(f.out, "game.chd") {
		t.Fatalf("unexpected outputs: %v", result.Outputs)
	}
	if calls := f.tools.called("createcd"); !slices.Equal(calls, []string{"createcd game.cue"}) {
		t.Fatalf("unexpected compress calls: %v", calls)
	}
	if _, err := os.Stat(zip); err != nil {
		t.Fatalf("source archive should be kept without remove-source: %v", err)
	}
}

func TestRunRefusesExistingOutputWithoutWork(t *testing.T) {
	f := newFixture(t, nil)
	f.tools.archives["game.zip"] = map[string]string{"game.cue": gameCue, "game.bin": "data"}
	zip := f.write(t, "game.zip", "zip")

	if _, err := f.run(t, "game", zip); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	before := len(f.tools.called(""))

	_, err := f.run(t, "game", zip)
	if !errors.Is(err, services.ErrFatalPipeline) || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected already exists error, got %v", err)
	}
	if services.FailureLabel(err) != "skipped" {
		t.Fatalf("expected skipped label, got %q", services.FailureLabel(err))
	}
	if after := len(f.tools.called("")); after != before {
		t.Fatalf("second run invoked tools: %v", f.tools.calls[before:])
	}
}

func TestRunOverwriteReplacesOutput(t *testing.T) {
	f := newFixture(t, func(o *pipeline.Options) { o.Overwrite = true })
	bin := f.write(t, "game.bin", "data")
	sheet := f.write(t, "game.cue", gameCue)
	if err := os.WriteFile(filepath.Join(f.out, "game.chd"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.run(t, "game", bin, sheet); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(f.out, "game.chd"))
	if !strings.HasPrefix(string(data), "chd:") {
		t.Fatalf("expected output replaced, got %q", data)
	}
}

func TestRunKeepsFileWhoseHandlerFailed(t *testing.T) {
	f := newFixture(t, nil)
	f.tools.failures["extras.7z"] = errors.New("corrupt archive")
	files := []string{
		f.write(t, "extras.7z", "bad"),
		f.write(t, "game.bin", "data"),
		f.write(t, "game.cue", gameCue),
	}

	result, err := f.run(t, "game", files...)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := baseNames(result.Failed); !slices.Equal(got, []string{"extras.7z"}) {
		t.Fatalf("unexpected failed files: %v", got)
	}
	if !slices.Contains(baseNames(result.Files), "extras.7z") {
		t.Fatalf("failed archive should remain in the working set: %v", result.Files)
	}
	if calls := f.tools.called("extract"); len(calls) != 1 {
		t.Fatalf("failed handler should not be retried, got %v", calls)
	}
	if len(result.Outputs) != 1 {
		t.Fatalf("expected compression to proceed, got %v", result.Outputs)
	}
}

func TestRunArchiveCollisionMovesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.tools.archives["game.zip"] = map[string]string{"extra.txt": "notes", "game.bin": "other"}
	files := []string{
		f.write(t, "game.zip", "zip"),
		f.write(t, "game.bin", "data"),
		f.write(t, "game.cue", gameCue),
	}

	result, err := f.run(t, "game", files...)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := baseNames(result.Failed); !slices.Equal(got, []string{"game.zip"}) {
		t.Fatalf("expected colliding archive kept as failed, got %v", got)
	}
	if got := baseNames(result.Files); !slices.Equal(got, []string{"game.bin", "game.cue", "game.zip"}) {
		t.Fatalf("expected no entries from the colliding archive, got %v", got)
	}
}

func TestRunConvertsCCDThroughStorage(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := storage.NewWithFs(fsys, "/tmp")
	tools := &stubTools{fs: fsys}
	registry := storage.NewRegistry(logging.NewNop())
	p, err := pipeline.New(tools, store, registry, pipeline.Options{OutputDir: "/out"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ccdText := "[Entry 0]\nPoint=0x01\nControl=0x04\nPMin=0\nPSec=2\nPFrame=0\nPLBA=0\n"
	if err := store.Write("/src/game.ccd", []byte(ccdText)); err != nil {
		t.Fatal(err)
	}
	if err := store.Write("/src/game.img", []byte("image")); err != nil {
		t.Fatal(err)
	}

	result, err := p.Run(context.Background(), pipeline.Group{Name: "game", Files: []string{"/src/game.ccd", "/src/game.img"}})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("expected no failed handlers, got %v", result.Failed)
	}
	if got := baseNames(result.Files); !slices.Equal(got, []string{"game.bin", "game.cue"}) {
		t.Fatalf("unexpected settled files: %v", got)
	}
	data, err := afero.ReadFile(fsys, "/out/game.chd")
	if err != nil {
		t.Fatalf("expected output in storage: %v", err)
	}
	if !strings.Contains(string(data), `FILE "game.bin" BINARY`) {
		t.Fatalf("expected cue retargeted to game.bin, got %q", data)
	}
	if registry.Live() != 0 {
		t.Fatalf("expected workspace released, %d live", registry.Live())
	}
}

func TestRunArchiveTimeoutIsHandlerFailure(t *testing.T) {
	f := newFixture(t, func(o *pipeline.Options) { o.ArchiveTimeout = 20 * time.Millisecond })
	f.tools.block = true
	files := []string{
		f.write(t, "game.rar", "slow"),
		f.write(t, "game.bin", "data"),
	}
	result, err := f.run(t, "game", files...)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := baseNames(result.Failed); !slices.Equal(got, []string{"game.rar"}) {
		t.Fatalf("expected timed out archive kept, got %v", got)
	}
}

func TestRunSynthesizesCueForLoneBin(t *testing.T) {
	f := newFixture(t, nil)
	bin := f.write(t, "game.bin", "data")

	result, err := f.run(t, "game", bin)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	data, err := os.ReadFile(result.Outputs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `FILE "game.bin" BINARY`) || !strings.Contains(string(data), "MODE2/2352") {
		t.Fatalf("expected synthesized cue to be compressed, got %q", data)
	}
}

func TestRunFailsWithoutCandidates(t *testing.T) {
	f := newFixture(t, nil)
	files := []string{f.write(t, "a.bin", "a"), f.write(t, "b.bin", "b")}
	_, err := f.run(t, "game", files...)
	if !errors.Is(err, services.ErrFatalPipeline) || !strings.Contains(err.Error(), "no matching files found") {
		t.Fatalf("expected no matching files error, got %v", err)
	}
}

func TestRunPassesThroughCHD(t *testing.T) {
	f := newFixture(t, nil)
	chd := f.write(t, "game.chd", "existing chd")

	result, err := f.run(t, "game", chd)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.PassThrough || len(f.tools.calls) != 0 {
		t.Fatalf("expected pass-through without tools, got %+v calls=%v", result, f.tools.calls)
	}
	data, _ := os.ReadFile(filepath.Join(f.out, "game.chd"))
	if string(data) != "existing chd" {
		t.Fatalf("expected chd copied unchanged, got %q", data)
	}
}

func TestRunRepacksCHD(t *testing.T) {
	f := newFixture(t, func(o *pipeline.Options) {
		o.RepackCHD = true
		o.VerifyOutput = true
	})
	chd := f.write(t, "game.chd", "old chd")

	result, err := f.run(t, "game", chd)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.PassThrough {
		t.Fatal("expected recompression")
	}
	want := []string{"extractcd game.chd", "createcd game.cue", "verify game.chd"}
	if !slices.Equal(f.tools.calls, want) {
		t.Fatalf("unexpected tool calls: %v", f.tools.calls)
	}
}

func TestRunRenamesDecodedECMToCueName(t *testing.T) {
	f := newFixture(t, nil)
	files := []string{
		f.write(t, "game.cue", gameCue),
		f.write(t, "track.ecm", "ecm"),
	}
	result, err := f.run(t, "game", files...)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := baseNames(result.Files); !slices.Equal(got, []string{"game.bin", "game.cue"}) {
		t.Fatalf("expected decoded image renamed to game.bin, got %v", got)
	}
}

func TestRunConvertsCCDAndIMG(t *testing.T) {
	f := newFixture(t, nil)
	ccdText := "[CloneCD]\nVersion=3\n[Entry 0]\nSession=1\nPoint=0xa0\nControl=0x04\nPLBA=-150\n" +
		"[Entry 1]\nSession=1\nPoint=0x01\nControl=0x04\nPMin=0\nPSec=2\nPFrame=0\nPLBA=0\n"
	files := []string{
		f.write(t, "game.ccd", ccdText),
		f.write(t, "game.img", "image"),
	}
	result, err := f.run(t, "game", files...)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := baseNames(result.Files); !slices.Equal(got, []string{"game.bin", "game.cue"}) {
		t.Fatalf("unexpected settled files: %v", got)
	}
	data, _ := os.ReadFile(result.Outputs[0])
	if !strings.Contains(string(data), `FILE "game.bin" BINARY`) || !strings.Contains(string(data), "TRACK 01 MODE1/2352") {
		t.Fatalf("expected cue retargeted to game.bin, got %q", data)
	}
}

func TestRunConvertsMDFThroughISO(t *testing.T) {
	f := newFixture(t, nil)
	result, err := f.run(t, "game", f.write(t, "game.mdf", "mdf"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	want := []string{"mdf2iso game.mdf", "poweriso game.iso", "createcd game.cue"}
	if !slices.Equal(f.tools.calls, want) {
		t.Fatalf("unexpected tool calls: %v", f.tools.calls)
	}
	if got := baseNames(result.Files); !slices.Equal(got, []string{"game.bin", "game.cue"}) {
		t.Fatalf("unexpected settled files: %v", got)
	}
}

func TestRunRemovesSourcesAfterOutput(t *testing.T) {
	f := newFixture(t, func(o *pipeline.Options) { o.RemoveSource = true })
	bin := f.write(t, "game.bin", "data")
	sheet := f.write(t, "game.cue", gameCue)
	if _, err := f.run(t, "game", bin, sheet); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for _, p := range []string{bin, sheet} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed", p)
		}
	}
}

func TestRunRejectsLockedOutput(t *testing.T) {
	f := newFixture(t, nil)
	lockDir := filepath.Join(filepath.Dir(f.src), "locks")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		t.Fatal(err)
	}
	held := flock.New(filepath.Join(lockDir, textutil.SanitizeToken("game.chd")+".lock"))
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("failed to take lock: %v", err)
	}
	defer func() { _ = held.Unlock() }()

	_, err := f.run(t, "game", f.write(t, "game.bin", "data"))
	if err == nil || !strings.Contains(err.Error(), "another run") {
		t.Fatalf("expected lock error, got %v", err)
	}
}

type stubVerifier struct {
	groups []string
	files  [][]string
}

func (s *stubVerifier) VerifyFiles(_ context.Context, group string, files []string) (*verify.Report, error) {
	s.groups = append(s.groups, group)
	s.files = append(s.files, baseNames(files))
	return &verify.Report{Status: verify.StatusMatch, Message: "ok", Timestamp: "2026-01-01T00:00:00Z", Verified: true}, nil
}

func TestRunVerifiesBeforeCompressionAndWritesSidecar(t *testing.T) {
	v := &stubVerifier{}
	f := newFixture(t, nil, pipeline.WithVerifier(v))
	files := []string{f.write(t, "game.bin", "data"), f.write(t, "game.cue", gameCue)}

	result, err := f.run(t, "game", files...)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(v.files) != 1 || !slices.Equal(v.files[0], []string{"game.cue", "game.bin"}) {
		t.Fatalf("unexpected verification input: %v", v.files)
	}
	output := filepath.Join(f.out, "game.chd")
	if result.Reports[output] == nil {
		t.Fatalf("expected report for %s, got %v", output, result.Reports)
	}
	report, err := verify.ReadSidecar(filepath.Join(f.out, "game.json"))
	if err != nil {
		t.Fatalf("ReadSidecar returned error: %v", err)
	}
	if report.Status != verify.StatusMatch {
		t.Fatalf("unexpected sidecar status: %q", report.Status)
	}
}

func TestRunDirectoryContinuesAfterGroupFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "alpha.bin", "a")
	f.write(t, "alpha.cue", strings.ReplaceAll(gameCue, "game.bin", "alpha.bin"))
	f.write(t, "beta.txt", "notes")
	f.write(t, "gamma.bin", "g")
	if err := os.Mkdir(filepath.Join(f.src, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	results, err := f.pipeline.RunDirectory(context.Background(), f.src)
	if err != nil {
		t.Fatalf("RunDirectory returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected three groups, got %d", len(results))
	}
	byGroup := map[string]*pipeline.Result{}
	for _, r := range results {
		byGroup[r.Group] = r
	}
	if byGroup["alpha"].Err != nil || byGroup["gamma"].Err != nil {
		t.Fatalf("expected alpha and gamma to succeed: %v / %v", byGroup["alpha"].Err, byGroup["gamma"].Err)
	}
	if !errors.Is(byGroup["beta"].Err, services.ErrFatalPipeline) {
		t.Fatalf("expected beta to fail fatally, got %v", byGroup["beta"].Err)
	}
	for _, name := range []string{"alpha.chd", "gamma.chd"} {
		if _, err := os.Stat(filepath.Join(f.out, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
}

func TestRunDirectoryRequiresDirectory(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.pipeline.RunDirectory(context.Background(), filepath.Join(f.src, "missing"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}
