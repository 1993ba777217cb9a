package meshmap

// Codec is the value/key serialization contract the map is built against.
// meshmap never ties itself to a specific wire encoding; the caller
// injects one Codec per key type and one per value type. See
// pkg/codec/gobcodec for the default encoding/gob-backed implementation.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}
