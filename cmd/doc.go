// Package cmd implements the command-line interface of fcache. It gives shell
// scripts access to a file cache directory shared with Go programs using the
// library packages.
//
// The package is organized into several subpackages:
//
//   - cache: Commands operating on entries (get, set, destroy, perf, metrics)
//   - inspect: Reports on the files of a cache group
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be given as environment variable with the FCACHE_ prefix
// (e.g. FCACHE_BASE_DIR), either exported or in a .env / .env.local file.
//
// See fcache -help for a list of all commands.
package cmd
