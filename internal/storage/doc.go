// Package storage is the narrow filesystem contract the pipeline and
// verifier depend on, plus the scoped scratch workspaces each disc group
// owns while it is processed.
//
// Local implements Storage on an afero filesystem: the OS filesystem in
// production and an in-memory one in tests. A Workspace is a scratch
// directory whose Release removes it; a Registry tracks live workspaces so a
// signal handler can release them all before the process exits.
package storage
