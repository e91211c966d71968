// Package verify checks converted disc images against a loaded catalog.
//
// VerifyBinCue is the exact check: every bin must be recorded in the
// catalog under its own name, size, and SHA-1, and all bins must belong to
// one game. Track completeness is only enforced with RequireAllTracks.
// Runner layers the size-based fallback on top and produces the Report
// written next to each output as a JSON sidecar. A size-based result keeps
// the catalog's match or closest tag but is never reported as a match;
// whether it is accepted is the caller's choice.
package verify
