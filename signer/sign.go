// Package signer produces and checks EIP-712 signatures over credential
// signing payloads.
package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/pilacorp/go-credential-chain/credential/common/dto"
	"github.com/pilacorp/go-credential-chain/credential/common/util"
	"github.com/pilacorp/go-credential-chain/credential/vc"
)

// ErrSignatureInvalid is returned when a signature does not recover to the
// expected signer.
var ErrSignatureInvalid = errors.New("signature invalid")

const proofTimeLayout = "2006-01-02T15:04:05.000Z"

// Sign signs the credential as role under domain and returns the proof. The
// key handle's address must be the address of the role's party DID.
//
// If key implements TypedDataSigner the typed structure is handed to it;
// otherwise the EIP-712 digest is signed directly.
func Sign(ctx context.Context, c *vc.Credential, role dto.Role, key SignerProvider, domain Domain) (*dto.Proof, error) {
	party := c.Issuer
	if role == dto.RoleHolder {
		party = c.Holder
	}
	expected, ok := party.Address()
	if !ok {
		return nil, fmt.Errorf("%w: %s DID %q has no address", vc.ErrMissingField, role, party.ID)
	}
	if !common.IsHexAddress(key.GetAddress()) {
		return nil, fmt.Errorf("invalid signer address %q", key.GetAddress())
	}
	signerAddr := common.HexToAddress(key.GetAddress())
	if signerAddr != expected {
		return nil, fmt.Errorf("%w: signer %s is not the %s %s", ErrSignatureInvalid, signerAddr, role, expected)
	}
	if err := vc.CheckSchemaVersion(c.SchemaVersion); err != nil {
		return nil, err
	}

	payload := c.SigningPayload()
	typedData := TypedData(payload, domain, TypesV1)
	hash, err := PayloadHash(payload, domain, TypesV1)
	if err != nil {
		return nil, err
	}

	var sig []byte
	if tds, ok := key.(TypedDataSigner); ok {
		sig, err = tds.SignTypedData(ctx, typedData)
	} else {
		sig, err = key.Sign(hash.Bytes())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("invalid signature length: expected %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] < 27 {
		sig[crypto.RecoveryIDOffset] += 27
	}

	recovered, err := RecoverAddress(hash, hexutil.Encode(sig))
	if err != nil {
		return nil, err
	}
	if recovered != expected {
		return nil, fmt.Errorf("%w: signature recovers to %s, expected %s", ErrSignatureInvalid, recovered, expected)
	}

	log.Debug("Signed credential", "id", c.ID, "role", role, "payloadHash", hash, "contract", domain.VerifyingContract)
	return &dto.Proof{
		Type:               dto.ProofTypeEIP712,
		Created:            time.Now().UTC().Format(proofTimeLayout),
		ProofPurpose:       dto.ProofPurposeAssertion,
		VerificationMethod: util.EthrDID(domain.ChainID, strings.ToLower(signerAddr.Hex())),
		JWS:                hexutil.Encode(sig),
		PayloadHash:        hash.Hex(),
		Role:               role,
	}, nil
}

// SignAndAppend signs the credential and appends the proof to it.
func SignAndAppend(ctx context.Context, c *vc.Credential, role dto.Role, key SignerProvider, domain Domain) error {
	proof, err := Sign(ctx, c, role, key, domain)
	if err != nil {
		return err
	}
	return c.AppendProof(*proof)
}

// RecoverAddress recovers the signer of hash from a 65-byte hex signature
// with V in {0, 1, 27, 28}.
func RecoverAddress(hash common.Hash, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: failed to decode signature: %v", ErrSignatureInvalid, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d signature bytes, got %d", ErrSignatureInvalid, crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: failed to recover public key: %v", ErrSignatureInvalid, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
