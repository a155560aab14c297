package entity

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrRequestTimeout means no result appeared within the wait deadline.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrMalformedRecord means a value read from the broker was not
	// well-formed JSON. Terminal for the job's wait/relay.
	ErrMalformedRecord = errors.New("malformed broker record")
)

// Result is the terminal outcome of a job, written once by a worker under
// result:<id>. Exactly one of Error or Data is meaningful.
type Result struct {
	Error string         `json:"error,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

func DecodeResult(raw []byte) (*Result, error) {
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: result: %v", ErrMalformedRecord, err)
	}
	return &res, nil
}

// StreamChunk is one incremental unit of worker output, appended under
// stream:<id>. Keys beyond content and stop are passthrough metadata and are
// relayed to the caller untouched.
type StreamChunk map[string]any

func DecodeStreamChunk(raw []byte) (StreamChunk, error) {
	var chunk StreamChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, fmt.Errorf("%w: stream chunk: %v", ErrMalformedRecord, err)
	}
	return chunk, nil
}

func (c StreamChunk) Content() string {
	s, _ := c["content"].(string)
	return s
}

func (c StreamChunk) Stop() bool {
	b, _ := c["stop"].(bool)
	return b
}
