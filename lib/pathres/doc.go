// Package pathres maps cache identities to filesystem paths.
//
// Layout:
//
//	<base>/<group>/<c1>/<c2>/<key>.obj
//
// Group and key are sanitized into single path segments (see Sanitize). The
// cluster directories c1..cN are derived from the xxhash of the key, so
// entries spread evenly and no directory grows beyond a fixed number of
// subdirectories, independent of the number of keys. With the default of two
// levels of two hex characters a group holding one million keys has 65536
// leaf directories with about 15 files each.
//
// Resolving a path is pure; directories are created lazily by EnsureDir on the
// first write.
package pathres
