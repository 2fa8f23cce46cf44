package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ValentinKolb/fcache/lib/cache"
)

// ITransformer converts cache entries to bytes and back. Decoding bytes
// produced by Encode must yield an equal entry.
type ITransformer[T any] interface {
	// Encode serializes an entry
	Encode(e cache.Entry[T]) ([]byte, error)
	// Decode deserializes an entry. Malformed input results in an error
	// matching ErrMalformed, never in a panic.
	Decode(b []byte) (cache.Entry[T], error)
}

// ErrMalformed is returned when bytes cannot be decoded into an entry.
var ErrMalformed = errors.New("transform: malformed data")

// Names lists the transformer names accepted by ByName
var Names = []string{"gob", "json", "cbor", "gob+zstd", "json+zstd", "cbor+zstd"}

// ByName returns the transformer with the given name. A "+zstd" suffix wraps
// the base format with zstd compression.
func ByName[T any](name string) (ITransformer[T], error) {
	base, compressed := strings.CutSuffix(strings.ToLower(name), "+zstd")

	var t ITransformer[T]
	switch base {
	case "gob", "":
		t = NewGOBTransformer[T]()
	case "json":
		t = NewJSONTransformer[T]()
	case "cbor":
		c, err := NewCBORTransformer[T]()
		if err != nil {
			return nil, err
		}
		t = c
	default:
		return nil, fmt.Errorf("transform: unknown transformer %q (expected one of: %s)", name, strings.Join(Names, ", "))
	}

	if compressed {
		return NewZstdTransformer[T](t)
	}
	return t, nil
}

// malformed wraps a decode error so that it matches ErrMalformed
func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
