// Package dat loads Redump/No-Intro style XML catalogs and answers lookups
// by content hash and by combined track size.
//
// A Dat is read-only once loaded and may be shared across goroutines.
package dat
