package tts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var errEmptyDocument = errors.New("empty JSON document")

// parseJSON parses a JSON response body into target. Blank bodies are
// rejected up front so callers get a clearer error than "unexpected end".
func parseJSON(data []byte, target any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errEmptyDocument
	}

	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}
