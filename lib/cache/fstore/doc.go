// Package fstore provides the file back-end of the cache. Every entry is a
// file below a base directory, so the cache survives restarts and is shared by
// all processes using the same directory.
//
// Directory Layout:
//
//	<base>/
//	  .locks/<aa>/<bb>/<sha256>.lock     lock files, never deleted
//	  <group>/<c1>/<c2>/<key>.obj        entry files (see package pathres)
//
// Writes go to a temporary file in the target directory which is then renamed
// over the entry file. Readers therefore never observe a partially written
// entry, even if a writer crashes.
//
// Cross-process exclusion uses advisory file locks (see package lockmgr). If
// the filesystem does not support them the cache keeps working without
// cross-process exclusion and logs a warning once.
package fstore
