package mongodb

// Serializer transforms the payload bytes before they are persisted.
// Implementations must be deterministic and free of side effects.
type Serializer interface {
	Serialize(b []byte) []byte
}

// SerializerFunc adapts a plain function to Serializer.
type SerializerFunc func([]byte) []byte

// Serialize calls f(b).
func (f SerializerFunc) Serialize(b []byte) []byte {
	return f(b)
}

// Identity returns its input unchanged.
var Identity Serializer = SerializerFunc(func(b []byte) []byte { return b })

// serialize applies s to b, or returns b when s is nil.
func serialize(s Serializer, b []byte) []byte {
	if s == nil {
		return b
	}
	return s.Serialize(b)
}
