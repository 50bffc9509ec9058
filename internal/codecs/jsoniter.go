package codecs

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONIterCodec is the default codec. Output is byte-compatible with
// encoding/json, so stored documents stay readable by other clients.
type JSONIterCodec struct{}

func NewJSONIter() *JSONIterCodec {
	return &JSONIterCodec{}
}

func (c *JSONIterCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONIterCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
