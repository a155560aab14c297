package utils

import (
	"encoding/json"
	"fmt"
)

func ToRawMessage(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal struct to JSON: %w", err)
	}
	return json.RawMessage(data), nil
}

// CloneMap is a shallow copy. Nested values stay shared with the source.
func CloneMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
