// Package textutil provides name normalization, filename sanitization, and
// token-based similarity scoring for disc and catalog names.
//
// Catalog names are compared after Unicode NFC normalization so that dumps
// copied from filesystems storing decomposed names (NFD) still match. The
// similarity helpers rank how closely a dump's basename resembles a catalog
// game name; they are advisory and never decide a verification outcome.
package textutil
