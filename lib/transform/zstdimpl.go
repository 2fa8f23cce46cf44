package transform

import (
	"github.com/ValentinKolb/fcache/lib/cache"
	"github.com/klauspost/compress/zstd"
)

// NewZstdTransformer wraps inner with zstd compression. Worth it for large,
// repetitive values; small entries usually grow by the frame overhead.
func NewZstdTransformer[T any](inner ITransformer[T]) (ITransformer[T], error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdTransformerImpl[T]{inner: inner, enc: enc, dec: dec}, nil
}

// zstdTransformerImpl compresses the output of another transformer. EncodeAll
// and DecodeAll are safe for concurrent use, so one encoder and decoder are
// shared by all goroutines.
type zstdTransformerImpl[T any] struct {
	inner ITransformer[T]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transform.ITransformer)
// --------------------------------------------------------------------------

func (z *zstdTransformerImpl[T]) Encode(e cache.Entry[T]) ([]byte, error) {
	b, err := z.inner.Encode(e)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(b, nil), nil
}

func (z *zstdTransformerImpl[T]) Decode(b []byte) (cache.Entry[T], error) {
	raw, err := z.dec.DecodeAll(b, nil)
	if err != nil {
		return cache.Entry[T]{}, malformed(err)
	}
	return z.inner.Decode(raw)
}
