// Package transform converts cache entries (value plus creation time) to
// bytes and back. The file back-end stores exactly these bytes per entry.
//
// Key Components:
//
//   - ITransformer: Core interface that all transformers must satisfy.
//
//   - gobTransformerImpl: Go's gob encoding. The default, it handles every Go
//     type without struct tags but is only readable by Go programs.
//
//   - jsonTransformerImpl: JSON encoding, human-readable and useful when other
//     tools inspect the cache directory.
//
//   - cborTransformerImpl: CBOR encoding (github.com/fxamacker/cbor), compact
//     and self-describing.
//
//   - zstdTransformerImpl: wraps any of the above with zstd compression
//     (github.com/klauspost/compress/zstd).
//
// Thread Safety:
//
//	All transformers are safe for concurrent use across multiple goroutines.
//
// Usage:
//
//	t, err := transform.ByName[User]("json+zstd")
//	data, err := t.Encode(cache.NewEntry(user, time.Now()))
//	entry, err := t.Decode(data)
package transform
