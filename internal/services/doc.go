// Package services defines shared plumbing consumed by the conversion pipeline,
// the verification runner, and the external tool wrappers.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, group names, and stage names so log
//     lines emitted deep inside a handler can be traced back to one disc.
//   - Sentinel error markers plus the Wrap helper so callers can classify a
//     failure (parsing, extraction, verification, fatal) with errors.Is while
//     still seeing the original cause.
//
// Use these helpers when adding a new handler or tool wrapper so failure
// classification and log shape stay uniform across the repository.
package services
