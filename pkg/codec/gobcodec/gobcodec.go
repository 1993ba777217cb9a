// Package gobcodec provides the default meshmap.Codec implementation,
// built on encoding/gob. It is the obvious zero-configuration choice for
// a generic Map[K,V]: gob already knows how to encode any type the
// caller's K/V can be instantiated with, without per-type registration
// for the common cases (structs, maps, slices of those).
package gobcodec

import (
	"bytes"
	"encoding/gob"
)

// Codec implements meshmap.Codec[T] via encoding/gob.
type Codec[T any] struct{}

// New returns a gob-backed codec for T.
func New[T any]() Codec[T] {
	return Codec[T]{}
}

func (Codec[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Codec[T]) Decode(data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}
