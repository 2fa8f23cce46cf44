package transform

import (
	"encoding/json"

	"github.com/ValentinKolb/fcache/lib/cache"
)

// NewJSONTransformer creates a new transformer using json encoding
func NewJSONTransformer[T any]() ITransformer[T] {
	return &jsonTransformerImpl[T]{}
}

// jsonTransformerImpl implements the ITransformer interface using json encoding
type jsonTransformerImpl[T any] struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transform.ITransformer)
// --------------------------------------------------------------------------

func (j *jsonTransformerImpl[T]) Encode(e cache.Entry[T]) ([]byte, error) {
	return json.Marshal(e)
}

func (j *jsonTransformerImpl[T]) Decode(b []byte) (cache.Entry[T], error) {
	var e cache.Entry[T]
	if err := json.Unmarshal(b, &e); err != nil {
		return cache.Entry[T]{}, malformed(err)
	}
	return e, nil
}
