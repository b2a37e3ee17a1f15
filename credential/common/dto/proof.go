package dto

import "strings"

// Role identifies which party produced a proof.
type Role string

const (
	RoleIssuer Role = "issuer"
	RoleHolder Role = "holder"
)

// ParseRole maps a role label to a Role. "seller" and "buyer" are accepted as aliases.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "issuer", "seller":
		return RoleIssuer, true
	case "holder", "buyer":
		return RoleHolder, true
	default:
		return "", false
	}
}

// Proof types and purposes emitted by the signer.
const (
	ProofTypeEIP712       = "EcdsaSecp256k1Signature2019"
	ProofPurposeAssertion = "assertionMethod"
)

// Proof is an EIP-712 signature over a credential's signing payload.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	ProofPurpose       string `json:"proofPurpose"`
	VerificationMethod string `json:"verificationMethod"`
	JWS                string `json:"jws"`
	PayloadHash        string `json:"payloadHash,omitempty"`
	Role               Role   `json:"role,omitempty"`
}
