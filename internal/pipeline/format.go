package pipeline

import (
	"path/filepath"
	"strings"
)

// Format identifies a disc image or container by file extension.
type Format int

const (
	FormatUnknown Format = iota
	FormatBin
	FormatCue
	FormatGDI
	FormatCHD
	FormatECM
	FormatZip
	Format7z
	FormatRar
	FormatCCD
	FormatMDF
	FormatISO
	FormatNRG
	FormatIMG
)

var formatNames = map[Format]string{
	FormatUnknown: "unknown",
	FormatBin:     "bin",
	FormatCue:     "cue",
	FormatGDI:     "gdi",
	FormatCHD:     "chd",
	FormatECM:     "ecm",
	FormatZip:     "zip",
	Format7z:      "7z",
	FormatRar:     "rar",
	FormatCCD:     "ccd",
	FormatMDF:     "mdf",
	FormatISO:     "iso",
	FormatNRG:     "nrg",
	FormatIMG:     "img",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// FormatOf classifies path by its lowercase extension.
func FormatOf(path string) Format {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for f, name := range formatNames {
		if f != FormatUnknown && name == ext {
			return f
		}
	}
	return FormatUnknown
}

// IsArchive reports whether f is a general-purpose archive.
func (f Format) IsArchive() bool {
	return f == FormatZip || f == Format7z || f == FormatRar
}

// IsSheet reports whether f can be handed to the compressor.
func (f Format) IsSheet() bool {
	return f == FormatCue || f == FormatGDI
}
