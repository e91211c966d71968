// Package tools wraps the external converters discnorm shells out to
// (chdman, 7z, unrar, unecm, mdf2iso, poweriso) and the in-process archive
// extractor.
//
// Every binary runs through an Executor so tests can stub command
// execution. Toolbox bundles the wrappers behind the method set the
// conversion pipeline consumes.
package tools
