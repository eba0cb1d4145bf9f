package settings

import (
	"encoding/json"
	"fmt"
)

// Decode merges a JSON snapshot over the defaults. Fields missing from the
// payload keep their default value; out-of-range values are clamped.
func Decode(data []byte) (Settings, []string, error) {
	s := Defaults()
	if len(data) == 0 {
		return s, nil, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Defaults(), nil, fmt.Errorf("decode settings: %w", err)
	}
	clean, touched := s.Sanitize()
	return clean, touched, nil
}

// Encode serializes a snapshot.
func Encode(s Settings) ([]byte, error) {
	return json.Marshal(s)
}
