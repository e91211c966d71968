package textutil

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName returns the NFC form of a file or game name.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// SameName reports whether two file names are identical after NFC
// normalization. Directory components are ignored.
func SameName(a, b string) bool {
	return NormalizeName(filepath.Base(a)) == NormalizeName(filepath.Base(b))
}

// BaseName returns name without directory and without its final extension.
func BaseName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
