package transform

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/fcache/lib/cache"
)

// NewGOBTransformer creates a new transformer using Go's binary gob format.
// Values holding interface types must have their concrete types registered
// with gob.Register.
func NewGOBTransformer[T any]() ITransformer[T] {
	return &gobTransformerImpl[T]{}
}

// gobTransformerImpl implements the ITransformer interface using gob encoding
type gobTransformerImpl[T any] struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transform.ITransformer)
// --------------------------------------------------------------------------

func (g *gobTransformerImpl[T]) Encode(e cache.Entry[T]) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *gobTransformerImpl[T]) Decode(b []byte) (cache.Entry[T], error) {
	var e cache.Entry[T]
	dec := gob.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&e); err != nil {
		return cache.Entry[T]{}, malformed(err)
	}
	return e, nil
}
