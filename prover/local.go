package prover

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-credential-chain/commitment"
)

const (
	pointSize  = bn254.SizeOfG1AffineCompressed
	scalarSize = fr.Bytes
	proofSize  = pointSize + 2*scalarSize

	// Domain separation for the second generator and the tx-hash blinding.
	generatorDST    = "CHAINVC-PEDERSEN-H-BN254-V1"
	txBlindingLabel = "chainvc-tx-hash-blinding-v1"
)

var (
	// g is the bn254 G1 generator; h is hashed to the curve so that nobody
	// knows log_g(h).
	g bn254.G1Affine
	h bn254.G1Affine
)

func init() {
	_, _, g, _ = bn254.Generators()

	var err error
	h, err = bn254.HashToG1([]byte("pedersen value commitment"), []byte(generatorDST))
	if err != nil {
		panic(fmt.Sprintf("failed to derive pedersen generator: %v", err))
	}
}

// Local is an in-process prover over bn254. A commitment is C = v*G + r*H
// compressed to 32 bytes; the proof is a Fiat-Shamir proof of knowledge of
// (v, r) whose challenge absorbs the binding tag, so a proof made for one tag
// does not verify under another.
//
// It proves knowledge of an opening, not a range.
type Local struct{}

// NewLocal creates a Local prover.
func NewLocal() *Local {
	return &Local{}
}

var _ commitment.Prover = (*Local)(nil)

// Commit implements commitment.Prover.
func (l *Local) Commit(ctx context.Context, value uint64, blinding common.Hash) (*commitment.ProverResponse, error) {
	var v, r fr.Element
	v.SetUint64(value)
	r.SetBytes(blinding[:])
	return l.commit(ctx, &v, &r, nil)
}

// CommitWithBinding implements commitment.Prover.
func (l *Local) CommitWithBinding(ctx context.Context, value uint64, blinding, bindingTag common.Hash) (*commitment.ProverResponse, error) {
	var v, r fr.Element
	v.SetUint64(value)
	r.SetBytes(blinding[:])

	resp, err := l.commit(ctx, &v, &r, bindingTag[:])
	if err != nil {
		return nil, err
	}
	resp.BindingTag = commitment.TagHex(bindingTag)
	return resp, nil
}

// CommitTxHash implements commitment.Prover. The blinding is derived from the
// hash itself, so retries produce the same commitment.
func (l *Local) CommitTxHash(ctx context.Context, txHash common.Hash, bindingTag *common.Hash) (*commitment.ProverResponse, error) {
	var v, r fr.Element
	v.SetBytes(txHash[:])
	r.SetBytes(crypto.Keccak256([]byte(txBlindingLabel), txHash[:]))

	var tag []byte
	if bindingTag != nil {
		tag = bindingTag[:]
	}
	resp, err := l.commit(ctx, &v, &r, tag)
	if err != nil {
		return nil, err
	}
	if bindingTag != nil {
		resp.BindingTag = commitment.TagHex(*bindingTag)
	}
	return resp, nil
}

// Verify implements commitment.Prover.
func (l *Local) Verify(ctx context.Context, commitmentHex, proofHex string, bindingTag *common.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	cBytes, err := hex.DecodeString(commitmentHex)
	if err != nil || len(cBytes) != pointSize {
		return false, nil
	}
	proof, err := hex.DecodeString(proofHex)
	if err != nil || len(proof) != proofSize {
		return false, nil
	}

	var c, a bn254.G1Affine
	if _, err := c.SetBytes(cBytes); err != nil {
		return false, nil
	}
	if _, err := a.SetBytes(proof[:pointSize]); err != nil {
		return false, nil
	}
	var z1, z2 fr.Element
	if err := z1.SetBytesCanonical(proof[pointSize : pointSize+scalarSize]); err != nil {
		return false, nil
	}
	if err := z2.SetBytesCanonical(proof[pointSize+scalarSize:]); err != nil {
		return false, nil
	}

	var tag []byte
	if bindingTag != nil {
		tag = bindingTag[:]
	}
	e := challenge(&c, &a, tag)

	// z1*G + z2*H == A + e*C
	lhs := combine(&z1, &z2)
	var eC, rhs bn254.G1Affine
	eC.ScalarMultiplication(&c, e.BigInt(new(big.Int)))
	rhs.Add(&a, &eC)

	return lhs.Equal(&rhs), nil
}

func (l *Local) commit(ctx context.Context, v, r *fr.Element, tag []byte) (*commitment.ProverResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := combine(v, r)

	var k1, k2 fr.Element
	if _, err := k1.SetRandom(); err != nil {
		return nil, fmt.Errorf("failed to sample nonce: %w", err)
	}
	if _, err := k2.SetRandom(); err != nil {
		return nil, fmt.Errorf("failed to sample nonce: %w", err)
	}
	a := combine(&k1, &k2)
	e := challenge(&c, &a, tag)

	var z1, z2 fr.Element
	z1.Mul(&e, v).Add(&z1, &k1)
	z2.Mul(&e, r).Add(&z2, &k2)

	cBytes := c.Bytes()
	aBytes := a.Bytes()
	z1Bytes := z1.Bytes()
	z2Bytes := z2.Bytes()

	proof := make([]byte, 0, proofSize)
	proof = append(proof, aBytes[:]...)
	proof = append(proof, z1Bytes[:]...)
	proof = append(proof, z2Bytes[:]...)

	resp := &commitment.ProverResponse{
		Commitment: hex.EncodeToString(cBytes[:]),
		Proof:      hex.EncodeToString(proof),
	}

	var tagHash *common.Hash
	if tag != nil {
		th := common.BytesToHash(tag)
		tagHash = &th
	}
	ok, err := l.Verify(ctx, resp.Commitment, resp.Proof, tagHash)
	if err != nil {
		return nil, err
	}
	resp.Verified = ok
	return resp, nil
}

// combine returns x*G + y*H.
func combine(x, y *fr.Element) bn254.G1Affine {
	var xG, yH, out bn254.G1Affine
	xG.ScalarMultiplication(&g, x.BigInt(new(big.Int)))
	yH.ScalarMultiplication(&h, y.BigInt(new(big.Int)))
	out.Add(&xG, &yH)
	return out
}

func challenge(c, a *bn254.G1Affine, tag []byte) fr.Element {
	cBytes := c.Bytes()
	aBytes := a.Bytes()

	var e fr.Element
	e.SetBytes(crypto.Keccak256(cBytes[:], aBytes[:], tag))
	return e
}
