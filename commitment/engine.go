// Package commitment prepares Pedersen-style commitments to hidden values and
// transaction hashes. The arithmetic and proofs are delegated to a Prover; the
// engine derives deterministic inputs and validates what comes back.
package commitment

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/pilacorp/go-credential-chain/commitment/bindingtag"
	"github.com/pilacorp/go-credential-chain/credential/common/util"
)

// ProverResponse is the prover's answer to a commit request.
type ProverResponse struct {
	Commitment string `json:"commitment"`
	Proof      string `json:"proof"`
	Verified   bool   `json:"verified"`
	BindingTag string `json:"bindingTag,omitempty"`
}

// Prover generates and checks commitment proofs.
type Prover interface {
	Commit(ctx context.Context, value uint64, blinding common.Hash) (*ProverResponse, error)
	CommitWithBinding(ctx context.Context, value uint64, blinding, bindingTag common.Hash) (*ProverResponse, error)
	CommitTxHash(ctx context.Context, txHash common.Hash, bindingTag *common.Hash) (*ProverResponse, error)
	Verify(ctx context.Context, commitment, proof string, bindingTag *common.Hash) (bool, error)
}

// Engine wraps a Prover with input derivation and response validation.
type Engine struct {
	prover Prover
}

// NewEngine creates an Engine backed by p.
func NewEngine(p Prover) *Engine {
	return &Engine{prover: p}
}

// DeriveBlinding computes keccak256(encodePacked(address escrow, address seller)).
//
// Both parties can recompute it, so the blinding factor never has to be stored
// or transmitted.
func DeriveBlinding(escrowAddr, sellerAddr string) (common.Hash, error) {
	packed, err := bindingtag.EncodePacked([]string{"address", "address"}, []string{escrowAddr, sellerAddr})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// CommitValue commits to value without a binding tag.
func (e *Engine) CommitValue(ctx context.Context, value uint64, blinding common.Hash) (*Result, error) {
	resp, err := e.prover.Commit(ctx, value, blinding)
	if err != nil {
		return nil, classify("commit value", err)
	}
	return validate(resp, "")
}

// CommitValueWithBinding commits to value and binds the proof to bindingTag.
func (e *Engine) CommitValueWithBinding(ctx context.Context, value uint64, blinding, bindingTag common.Hash) (*Result, error) {
	resp, err := e.prover.CommitWithBinding(ctx, value, blinding, bindingTag)
	if err != nil {
		return nil, classify("commit value with binding", err)
	}
	return validate(resp, TagHex(bindingTag))
}

// CommitTxHash commits to a 32-byte transaction hash, optionally bound to a linkage tag.
func (e *Engine) CommitTxHash(ctx context.Context, txHash string, bindingTag *common.Hash) (*Result, error) {
	raw, err := util.HexToBytes32(txHash)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction hash: %w", ErrInvalidValue, err)
	}

	resp, err := e.prover.CommitTxHash(ctx, common.Hash(raw), bindingTag)
	if err != nil {
		return nil, classify("commit tx hash", err)
	}

	tag := ""
	if bindingTag != nil {
		tag = TagHex(*bindingTag)
	}
	return validate(resp, tag)
}

// Verify asks the prover whether proof opens commitment under bindingTag.
func (e *Engine) Verify(ctx context.Context, commitment, proof string, bindingTag *common.Hash) (bool, error) {
	ok, err := e.prover.Verify(ctx, util.NormalizeHex(commitment), util.NormalizeHex(proof), bindingTag)
	if err != nil {
		return false, classify("verify commitment", err)
	}
	return ok, nil
}

// VerifyCommitment reports whether two commitments are the same bytes,
// ignoring case and a 0x prefix. Empty values never match.
func VerifyCommitment(vcCommitment, onChainCommitment string) bool {
	a, b := util.NormalizeHex(vcCommitment), util.NormalizeHex(onChainCommitment)
	if a == "" || b == "" {
		return false
	}
	return a == b
}

// VerifyBindingTagsMatch reports whether a purchase and a delivery commitment
// carry the same linkage tag. Missing commitments or tags never match.
func VerifyBindingTagsMatch(purchase, delivery *TxHashCommitment) bool {
	if purchase == nil || delivery == nil {
		return false
	}
	return VerifyCommitment(purchase.BindingTag, delivery.BindingTag)
}

// TagHex renders a tag as lowercase hex without prefix.
func TagHex(h common.Hash) string {
	return hex.EncodeToString(h[:])
}

// ParseTag reads a tag written by TagHex, with or without 0x.
func ParseTag(s string) (common.Hash, error) {
	raw, err := util.HexToBytes32(strings.TrimSpace(s))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: binding tag: %w", ErrInvalidValue, err)
	}
	return common.Hash(raw), nil
}

func validate(resp *ProverResponse, bindingTag string) (*Result, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedCommitmentResponse)
	}

	c, p := util.NormalizeHex(resp.Commitment), util.NormalizeHex(resp.Proof)
	if c == "" {
		return nil, fmt.Errorf("%w: missing commitment", ErrMalformedCommitmentResponse)
	}
	if p == "" {
		return nil, fmt.Errorf("%w: missing proof", ErrMalformedCommitmentResponse)
	}
	if _, err := hex.DecodeString(c); err != nil {
		return nil, fmt.Errorf("%w: commitment is not hex", ErrMalformedCommitmentResponse)
	}
	if _, err := hex.DecodeString(p); err != nil {
		return nil, fmt.Errorf("%w: proof is not hex", ErrMalformedCommitmentResponse)
	}

	res := &Result{
		Commitment: c,
		Proof:      p,
		Verified:   resp.Verified,
		BindingTag: bindingTag,
	}
	if !resp.Verified {
		res.Warning = ErrUnverifiedCommitment
		log.Warn("Prover returned an unverified commitment", "commitment", util.ShortHex(c))
	} else {
		log.Debug("Commitment generated", "commitment", util.ShortHex(c), "bound", bindingTag != "")
	}
	return res, nil
}

func classify(op string, err error) error {
	if errors.Is(err, ErrProverUnavailable) || errors.Is(err, ErrMalformedCommitmentResponse) || errors.Is(err, ErrInvalidValue) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("failed to %s: %w: %w", op, ErrProverUnavailable, err)
}
