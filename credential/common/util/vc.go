package util

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-credential-chain/credential/common/dto"
)

// Legacy map keys for the proofs object.
const (
	legacyIssuerProofKey = "issuerProof"
	legacyHolderProofKey = "holderProof"
)

// ZeroAddress is the placeholder holder of a listing credential.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// EthrDID builds a did:ethr identifier for an address.
func EthrDID(chainID int64, address string) string {
	return fmt.Sprintf("did:ethr:%d:%s", chainID, address)
}

// AddressFromDID returns the trailing address segment of a DID.
func AddressFromDID(did string) (string, bool) {
	if did == "" {
		return "", false
	}
	parts := strings.Split(did, ":")
	addr := parts[len(parts)-1]
	if !common.IsHexAddress(addr) {
		return "", false
	}
	return addr, true
}

// ChainIDFromDID returns the chain id segment of a did:ethr:<chainId>:<address> identifier.
func ChainIDFromDID(did string) (int64, bool) {
	parts := strings.Split(did, ":")
	if len(parts) != 4 || parts[0] != "did" || parts[1] != "ethr" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// StripHexPrefix removes a leading 0x or 0X.
func StripHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// NormalizeHex lower-cases a hex string and drops its 0x prefix.
func NormalizeHex(s string) string {
	return strings.ToLower(StripHexPrefix(strings.TrimSpace(s)))
}

// ShortHex renders the first bytes of a hex value for log lines.
func ShortHex(s string) string {
	s = NormalizeHex(s)
	if len(s) > 10 {
		return s[:10] + "…"
	}
	return s
}

// HexToBytes32 decodes exactly 32 bytes of hex, with or without 0x.
func HexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(StripHexPrefix(s))
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// ParseProofs reads the proof field of a credential, which may be a single
// proof object or an array of them.
func ParseProofs(raw interface{}) ([]dto.Proof, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		p, err := ParseProof(v)
		if err != nil {
			return nil, err
		}
		return []dto.Proof{p}, nil
	case []interface{}:
		proofs := make([]dto.Proof, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("failed to parse proof at index %d: expected object, got %T", i, item)
			}
			p, err := ParseProof(m)
			if err != nil {
				return nil, fmt.Errorf("failed to parse proof at index %d: %w", i, err)
			}
			proofs = append(proofs, p)
		}
		return proofs, nil
	default:
		return nil, fmt.Errorf("failed to parse proof: expected object or array, got %T", raw)
	}
}

// ParseLegacyProofs reads the legacy proofs.issuerProof / proofs.holderProof map.
func ParseLegacyProofs(raw map[string]interface{}) ([]dto.Proof, error) {
	var proofs []dto.Proof
	for _, entry := range []struct {
		key  string
		role dto.Role
	}{
		{legacyIssuerProofKey, dto.RoleIssuer},
		{legacyHolderProofKey, dto.RoleHolder},
	} {
		item, ok := raw[entry.key]
		if !ok || item == nil {
			continue
		}
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("failed to parse %s: expected object, got %T", entry.key, item)
		}
		p, err := ParseProof(m)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.key, err)
		}
		if p.Role == "" {
			p.Role = entry.role
		}
		proofs = append(proofs, p)
	}
	return proofs, nil
}

// ParseProof converts a single proof map into a Proof struct.
func ParseProof(proof map[string]interface{}) (dto.Proof, error) {
	var result dto.Proof
	if t, ok := proof["type"].(string); ok && t != "" {
		result.Type = t
	} else {
		return dto.Proof{}, fmt.Errorf("failed to parse proof: invalid or missing type field")
	}
	if vm, ok := proof["verificationMethod"].(string); ok && vm != "" {
		result.VerificationMethod = vm
	} else {
		return dto.Proof{}, fmt.Errorf("failed to parse proof: invalid or missing verificationMethod field")
	}
	if jws, ok := proof["jws"].(string); ok && jws != "" {
		result.JWS = jws
	} else {
		return dto.Proof{}, fmt.Errorf("failed to parse proof: invalid or missing jws field")
	}
	if created, ok := proof["created"].(string); ok {
		result.Created = created
	}
	if pp, ok := proof["proofPurpose"].(string); ok {
		result.ProofPurpose = pp
	}
	if ph, ok := proof["payloadHash"].(string); ok {
		result.PayloadHash = ph
	}
	if r, ok := proof["role"].(string); ok {
		if role, known := dto.ParseRole(r); known {
			result.Role = role
		}
	}
	return result, nil
}
