package tts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// StatusOK is the envelope code the synthesis API uses for success.
	StatusOK = 200

	urlField = "url"
)

// StatusCode accepts the envelope's "code" field as either a JSON number or a
// numeric string.
type StatusCode int

// UnmarshalJSON implements json.Unmarshaler.
func (c *StatusCode) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	raw := strings.Trim(string(trimmed), `"`)

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid status code %s: %w", trimmed, err)
	}

	*c = StatusCode(value)

	return nil
}

// Envelope is the synthesis API's JSON response.
type Envelope struct {
	Code    StatusCode `json:"code"`
	Message string     `json:"msg,omitempty"`
	URL     string     `json:"url,omitempty"`
}

// OK reports whether the envelope carries the success code.
func (e Envelope) OK() bool {
	return int(e.Code) == StatusOK
}

// ParseEnvelope decodes the synthesis API response. When the top-level "url"
// is absent, the first "url" string found in nested objects is used.
func ParseEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope

	err := parseJSON(data, &envelope)
	if err != nil {
		return Envelope{}, err
	}

	if envelope.URL == "" {
		if nested, ok := ExtractAudioURL(data); ok {
			envelope.URL = nested
		}
	}

	return envelope, nil
}

// ExtractAudioURL returns the first non-empty string value keyed "url" in the
// JSON document, preferring the top level. It reports false for malformed
// input or when no such field exists.
func ExtractAudioURL(data []byte) (string, bool) {
	var document any

	err := json.Unmarshal(data, &document)
	if err != nil {
		return "", false
	}

	return findURL(document)
}

// findURL walks the document breadth first so shallower fields win. Object
// keys are visited in sorted order to keep the result deterministic.
func findURL(root any) (string, bool) {
	queue := []any{root}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		switch value := node.(type) {
		case map[string]any:
			if url, ok := value[urlField].(string); ok && url != "" {
				return url, true
			}

			keys := make([]string, 0, len(value))
			for key := range value {
				keys = append(keys, key)
			}

			sort.Strings(keys)

			for _, key := range keys {
				queue = append(queue, value[key])
			}
		case []any:
			queue = append(queue, value...)
		}
	}

	return "", false
}
