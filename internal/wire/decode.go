package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeStrict decodes a JSON payload into v, rejecting unknown fields. Use
// this at every process boundary instead of json.Unmarshal so a malformed
// or unexpected payload fails loudly rather than silently dropping fields.
func DecodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("wire: strict decode: %w", err)
	}
	return nil
}
