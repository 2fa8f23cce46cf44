package transform

import (
	"github.com/ValentinKolb/fcache/lib/cache"
	"github.com/fxamacker/cbor/v2"
)

// NewCBORTransformer creates a new transformer using CBOR (RFC 8949) encoding.
// Times are encoded as RFC 3339 strings with nanoseconds, so the creation
// time of an entry survives a round trip exactly.
func NewCBORTransformer[T any]() (ITransformer[T], error) {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &cborTransformerImpl[T]{em: em, dm: dm}, nil
}

// cborTransformerImpl implements the ITransformer interface using cbor encoding
type cborTransformerImpl[T any] struct {
	em cbor.EncMode
	dm cbor.DecMode
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transform.ITransformer)
// --------------------------------------------------------------------------

func (c *cborTransformerImpl[T]) Encode(e cache.Entry[T]) ([]byte, error) {
	return c.em.Marshal(e)
}

func (c *cborTransformerImpl[T]) Decode(b []byte) (cache.Entry[T], error) {
	var e cache.Entry[T]
	if err := c.dm.Unmarshal(b, &e); err != nil {
		return cache.Entry[T]{}, malformed(err)
	}
	return e, nil
}
