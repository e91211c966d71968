// Package main hosts the discnorm CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration, applies flag overrides, and
// hands each invocation to the internal packages: pipeline for compress and
// watch, verify for catalog checks, rename for sidecar-driven renames, and
// history, preflight, deps, and staging for the maintenance commands.
//
// Keep this package thin. New behavior belongs in internal/ first and is
// surfaced here through a command or flag.
package main
