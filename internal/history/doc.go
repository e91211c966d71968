// Package history persists one row per processed group in a SQLite
// database under the state directory.
//
// The compress, verify, and rename commands record every group they touch
// (run id, command, group, output, status, verification result, error) so
// `discnorm history` can show what happened to a dump after the terminal
// output is gone. The schema is versioned through a schema_version table;
// a mismatched database must be deleted, as the history is advisory.
package history
