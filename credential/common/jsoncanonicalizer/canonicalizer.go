// Package jsoncanonicalizer produces the RFC 8785 canonical JSON form used for
// content identifiers and hash pre-images.
package jsoncanonicalizer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Transform returns the canonical form of a JSON object or array.
func Transform(data []byte) ([]byte, error) {
	if !json.Valid(data) {
		return nil, errors.New("failed to parse JSON: invalid document")
	}
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize JSON: %w", err)
	}
	return out, nil
}

// Marshal encodes v with encoding/json and canonicalizes the result.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return Transform(raw)
}
