package prover

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-credential-chain/commitment"
)

// Endpoint paths of the prover API.
const (
	PathCommit            = "/commit"
	PathCommitWithBinding = "/commit-with-binding"
	PathVerify            = "/verify"
	PathCommitTxHash      = "/commit-tx-hash"
)

type commitRequest struct {
	Value      json.Number `json:"value"`
	Blinding   string      `json:"blinding"`
	BindingTag string      `json:"bindingTag,omitempty"`
}

type commitTxHashRequest struct {
	TxHash     string `json:"txHash"`
	BindingTag string `json:"bindingTag,omitempty"`
}

type verifyRequest struct {
	Commitment string `json:"commitment"`
	Proof      string `json:"proof"`
	BindingTag string `json:"bindingTag,omitempty"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (r commitRequest) value() (uint64, error) {
	v, err := strconv.ParseUint(r.Value.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value must be an unsigned 64-bit integer: %w", err)
	}
	return v, nil
}

func optionalTag(s string) (*common.Hash, error) {
	if s == "" {
		return nil, nil
	}
	tag, err := commitment.ParseTag(s)
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func requiredHash(name, s string) (common.Hash, error) {
	if s == "" {
		return common.Hash{}, fmt.Errorf("%s is required", name)
	}
	h, err := commitment.ParseTag(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", name, err)
	}
	return h, nil
}
