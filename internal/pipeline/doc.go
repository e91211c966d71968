// Package pipeline turns the files that make up one disc into a single
// compressed image.
//
// A run copies a group's source files into a scratch workspace, then
// repeatedly applies the handler for each file's format (archives are
// extracted, ECM is decoded, CCD/MDF/ISO/NRG/IMG are converted toward
// bin/cue) until a pass makes no progress. Handler failures are logged and
// the file is kept, so one bad file never aborts the disc. The stabilised
// bin/cue or gdi set is optionally verified against a DAT and compressed to
// CHD in the output directory.
//
// RunDirectory groups a source directory by base name and runs each group
// independently; a fatal error in one group does not stop its siblings.
package pipeline
