package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignerProvider signs 32-byte digests with the key behind an address.
type SignerProvider interface {
	Sign(payload []byte) ([]byte, error)
	GetAddress() string
}

// TypedDataSigner is implemented by key handles that sign EIP-712 structures
// themselves, such as wallets that display the typed data before signing.
type TypedDataSigner interface {
	SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error)
	GetAddress() string
}

// DefaultProvider signs with an in-memory secp256k1 key.
type DefaultProvider struct {
	priv *ecdsa.PrivateKey
}

// NewDefaultProvider creates a signer provider from a hex private key.
//
// privHex is the private key in hex format, with or without 0x.
func NewDefaultProvider(privHex string) (*DefaultProvider, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &DefaultProvider{priv: priv}, nil
}

// Sign signs a 32-byte digest.
// Returns a 65-byte [R || S || V] signature with V in {0, 1}.
func (s *DefaultProvider) Sign(hashPayload []byte) ([]byte, error) {
	signature, err := crypto.Sign(hashPayload, s.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	if len(signature) != crypto.SignatureLength {
		return nil, fmt.Errorf("invalid signature length: expected %d bytes, got %d", crypto.SignatureLength, len(signature))
	}

	return signature, nil
}

// GetAddress returns the lower-cased address of the signer.
func (s *DefaultProvider) GetAddress() string {
	return strings.ToLower(crypto.PubkeyToAddress(s.priv.PublicKey).Hex())
}
