package codecs

// Codec marshals and unmarshals payloads, metadata, positions and projection
// state to and from JSON bytes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Object decodes a JSON object. NULL columns and empty input give an empty map.
func Object(c Codec, data []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := c.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// IsEmpty reports whether data holds no meaningful JSON value.
func IsEmpty(data []byte) bool {
	switch string(data) {
	case "", "null", "{}", "[]":
		return true
	}
	return false
}
