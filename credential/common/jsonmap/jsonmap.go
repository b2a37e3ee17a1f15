package jsonmap

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-credential-chain/credential/common/jsoncanonicalizer"
)

// JSONMap represents a JSON object as a map.
type JSONMap map[string]interface{}

// FromStruct converts any JSON-serializable value into a JSONMap.
func FromStruct(v interface{}) (JSONMap, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON object.
func Parse(data []byte) (JSONMap, error) {
	var m JSONMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSONMap: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("JSON document is not an object")
	}
	return m, nil
}

// Canonicalize returns the canonical JSON form of the whole document.
func (m *JSONMap) Canonicalize() ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("JSONMap is nil")
	}

	data, err := jsoncanonicalizer.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize JSONMap: %w", err)
	}
	return data, nil
}

// ContentDigest is keccak256 over the canonical form.
func (m *JSONMap) ContentDigest() (common.Hash, error) {
	data, err := m.Canonicalize()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(data), nil
}
