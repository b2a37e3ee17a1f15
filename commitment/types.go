package commitment

import (
	"errors"

	"github.com/pilacorp/go-credential-chain/commitment/bindingtag"
)

// Labels written into commitment objects.
const (
	ProtocolPedersen = "bulletproofs-pedersen"
	ProtocolVersion  = "1.0"
	EncodingHex      = "hex"
	ProofTypeRange   = "zkRangeProof-v1"

	rangeProofDescription = "This ZKP proves the price is in the allowed range without revealing it."
)

var (
	// ErrProverUnavailable is returned when the prover cannot be reached or times out.
	ErrProverUnavailable = errors.New("prover unavailable")
	// ErrMalformedCommitmentResponse is returned when the prover answers without a usable commitment or proof.
	ErrMalformedCommitmentResponse = errors.New("malformed commitment response")
	// ErrCommitmentMismatch reports a commitment that differs from its reference value.
	ErrCommitmentMismatch = errors.New("commitment mismatch")
	// ErrUnverifiedCommitment is attached as a warning when the prover could not verify its own output.
	ErrUnverifiedCommitment = errors.New("prover did not verify the commitment")
	// ErrInvalidValue is returned for inputs the engine refuses to forward.
	ErrInvalidValue = errors.New("invalid commitment input")
)

// ZKPProof is the hidden-price object embedded in a credential's price field.
type ZKPProof struct {
	Protocol       string              `json:"protocol"`
	Version        string              `json:"version"`
	Commitment     string              `json:"commitment"`
	Proof          string              `json:"proof"`
	Encoding       string              `json:"encoding"`
	Verified       bool                `json:"verified"`
	Description    string              `json:"description,omitempty"`
	ProofType      string              `json:"proofType"`
	BindingTag     string              `json:"bindingTag,omitempty"`
	BindingContext *bindingtag.Context `json:"bindingContext,omitempty"`
}

// TxHashCommitment is a commitment to a settlement transaction hash.
type TxHashCommitment struct {
	Commitment string `json:"commitment"`
	Proof      string `json:"proof"`
	Protocol   string `json:"protocol"`
	Version    string `json:"version"`
	Encoding   string `json:"encoding"`
	BindingTag string `json:"bindingTag,omitempty"`
}

// Result is the validated outcome of a prover call.
type Result struct {
	Commitment string
	Proof      string
	Verified   bool
	BindingTag string
	// Warning is set when the prover returned verified=false. The caller decides
	// whether to use the commitment anyway.
	Warning error
}

// ZKPProof wraps the result as a price object bound to ctx.
func (r *Result) ZKPProof(ctx *bindingtag.Context) *ZKPProof {
	return &ZKPProof{
		Protocol:       ProtocolPedersen,
		Version:        ProtocolVersion,
		Commitment:     r.Commitment,
		Proof:          r.Proof,
		Encoding:       EncodingHex,
		Verified:       r.Verified,
		Description:    rangeProofDescription,
		ProofType:      ProofTypeRange,
		BindingTag:     r.BindingTag,
		BindingContext: ctx,
	}
}

// TxHashCommitment wraps the result as a transaction-hash commitment.
func (r *Result) TxHashCommitment() *TxHashCommitment {
	return &TxHashCommitment{
		Commitment: r.Commitment,
		Proof:      r.Proof,
		Protocol:   ProtocolPedersen,
		Version:    ProtocolVersion,
		Encoding:   EncodingHex,
		BindingTag: r.BindingTag,
	}
}
