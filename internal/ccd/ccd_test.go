package ccd_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"discnorm/internal/ccd"
	"discnorm/internal/cue"
	"discnorm/internal/storage"
)

const sampleCCD = `[CloneCD]
Version=3
[Disc]
TocEntries=4
Sessions=1
DataTracksScrambled=0
CDTextLength=0
[Session 1]
PreGapMode=2
PreGapSubC=0
[Entry 0]
Session=1
Point=0xa0
ADR=0x01
Control=0x04
TrackNo=0
AMin=0
ASec=0
AFrame=0
ALBA=-150
Zero=0
PMin=1
PSec=32
PFrame=0
PLBA=4350
[Entry 1]
Session=1
Point=0xa1
ADR=0x01
Control=0x04
TrackNo=0
AMin=0
ASec=0
AFrame=0
ALBA=-150
Zero=0
PMin=1
PSec=0
PFrame=0
PLBA=4350
[Entry 2]
Session=1
Point=0xa2
ADR=0x01
Control=0x04
TrackNo=0
AMin=0
ASec=0
AFrame=0
ALBA=-150
Zero=0
PMin=45
PSec=12
PFrame=40
PLBA=203290
[Entry 3]
Session=1
Point=0x01
ADR=0x01
Control=0x04
TrackNo=0
AMin=0
ASec=0
AFrame=0
ALBA=-150
Zero=0
PMin=0
PSec=2
PFrame=0
PLBA=0
[TRACK 1]
MODE=1
INDEX 1=0
`

func TestConvertSampleCCD(t *testing.T) {
	dir := t.TempDir()
	ccdPath := filepath.Join(dir, "Game.ccd")
	if err := os.WriteFile(ccdPath, []byte(sampleCCD), 0o644); err != nil {
		t.Fatalf("write ccd: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Game.img"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write img: %v", err)
	}

	text, image, err := ccd.Convert(storage.NewLocal(t.TempDir()), ccdPath)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if filepath.Base(image) != "Game.img" {
		t.Fatalf("unexpected image: %q", image)
	}
	if strings.Count(text, "TRACK") != 1 {
		t.Fatalf("expected exactly one track, got:\n%s", text)
	}
	if !strings.Contains(text, "TRACK 01 MODE1/2352") || !strings.Contains(text, "INDEX 01 00:00:00") {
		t.Fatalf("unexpected cue text:\n%s", text)
	}
	sheet, err := cue.Parse(text)
	if err != nil {
		t.Fatalf("generated cue does not parse: %v", err)
	}
	if sheet.Files[0].Name != "Game.img" {
		t.Fatalf("unexpected file reference: %q", sheet.Files[0].Name)
	}
}

func TestFindImagePrefersImgThenBinThenIso(t *testing.T) {
	dir := t.TempDir()
	ccdPath := filepath.Join(dir, "Game.ccd")
	for _, name := range []string{"Game.iso", "Game.bin"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	image, err := ccd.FindImage(storage.NewLocal(t.TempDir()), ccdPath)
	if err != nil {
		t.Fatalf("FindImage returned error: %v", err)
	}
	if filepath.Base(image) != "Game.bin" {
		t.Fatalf("expected .bin to win over .iso, got %q", image)
	}
}

func TestConvertWithoutImageFails(t *testing.T) {
	dir := t.TempDir()
	ccdPath := filepath.Join(dir, "Game.ccd")
	if err := os.WriteFile(ccdPath, []byte(sampleCCD), 0o644); err != nil {
		t.Fatalf("write ccd: %v", err)
	}
	_, _, err := ccd.Convert(storage.NewLocal(t.TempDir()), ccdPath)
	if !errors.Is(err, ccd.ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}

func TestWriteCueThroughStorage(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := storage.NewWithFs(fsys, "/tmp")
	if err := store.Write("/src/Game.ccd", []byte(sampleCCD)); err != nil {
		t.Fatal(err)
	}
	if err := store.Write("/src/Game.img", []byte("data")); err != nil {
		t.Fatal(err)
	}

	cuePath, err := ccd.WriteCue(store, "/src/Game.ccd")
	if err != nil {
		t.Fatalf("WriteCue returned error: %v", err)
	}
	if cuePath != "/src/Game.cue" {
		t.Fatalf("unexpected cue path: %q", cuePath)
	}
	data, err := afero.ReadFile(fsys, cuePath)
	if err != nil {
		t.Fatalf("cue not written to storage: %v", err)
	}
	if !strings.Contains(string(data), `FILE "Game.img" BINARY`) {
		t.Fatalf("unexpected cue text:\n%s", data)
	}
}

func TestEntryTimestampRules(t *testing.T) {
	cases := []struct {
		name  string
		entry ccd.Entry
		want  string
	}{
		{"pregap removed", ccd.Entry{PMin: 0, PSec: 2, PFrame: 0}, "00:00:00"},
		{"borrow minute", ccd.Entry{PMin: 3, PSec: 0, PFrame: 17}, "02:58:17"},
		{"plain", ccd.Entry{PMin: 12, PSec: 40, PFrame: 5}, "12:38:05"},
		{"unguarded underflow", ccd.Entry{PMin: 0, PSec: 1, PFrame: 0}, "00:-1:00"},
		{"clamped then underflow", ccd.Entry{PMin: 0, PSec: 0, PFrame: 0}, "00:-2:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.entry.Timestamp(); got != tc.want {
				t.Fatalf("Timestamp() = %q want %q", got, tc.want)
			}
		})
	}
}

func TestRenderMixedModeDisc(t *testing.T) {
	entries := []ccd.Entry{
		{Point: 0xa0, PLBA: 4350, Session: 1},
		{Point: 0x01, Control: 0x04, PMin: 0, PSec: 2, PLBA: 0, Session: 1},
		{Point: 0x02, Control: 0x00, PMin: 10, PSec: 30, PFrame: 12, PLBA: 47100, Session: 1},
	}
	text, err := ccd.Render(entries, "Game.img")
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	want := "FILE \"Game.img\" BINARY\n" +
		"  TRACK 01 MODE1/2352\n    INDEX 01 00:00:00\n" +
		"  TRACK 02 AUDIO\n    INDEX 01 10:28:12\n"
	if text != want {
		t.Fatalf("unexpected render:\n%s", text)
	}
}

func TestRenderWithoutTracksFails(t *testing.T) {
	if _, err := ccd.Render([]ccd.Entry{{Point: 0xa0, PLBA: 4350}}, "x.img"); err == nil {
		t.Fatal("expected error when no entry has PLBA 0")
	}
}

func TestParseEntriesRejectsBadNumbers(t *testing.T) {
	_, err := ccd.ParseEntries(strings.NewReader("[Entry 0]\nPoint=zz\n"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}
