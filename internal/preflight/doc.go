// Package preflight provides readiness checks for the directories and
// catalog discnorm depends on.
//
// The doctor command runs RunAll and prints each Result; compress and watch
// run it before touching any source so a read-only output directory or an
// unreadable DAT fails fast instead of after minutes of extraction.
package preflight
