package codec

// Codec encodes/decodes values V to []byte for storage. The cache core treats
// payloads as opaque; the codec owns the value representation.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
