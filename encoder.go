package transferq

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Encoder defines the serialization of values handlers attach to task progress.
type Encoder interface {
	// Encode serializes a value to bytes.
	Encode(any) ([]byte, error)
	// Decode deserializes bytes to a value.
	Decode([]byte, any) error
}

// JSONEncoder is the default Encoder.
// It uses standard library for encoding and sonic for decoding.
type JSONEncoder struct{}

// Encode serializes a value to JSON using standard library.
func (*JSONEncoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes JSON bytes using sonic.
func (*JSONEncoder) Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// DecodeExtra decodes a progress extra written by SetExtra into v.
func DecodeExtra(extras map[string]string, key string, v any) (bool, error) {
	raw, ok := extras[key]
	if !ok {
		return false, nil
	}
	var enc Encoder = &JSONEncoder{}
	return true, enc.Decode([]byte(raw), v)
}
