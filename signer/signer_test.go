package signer

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-credential-chain/credential/common/dto"
	"github.com/pilacorp/go-credential-chain/credential/common/util"
	"github.com/pilacorp/go-credential-chain/credential/vc"
)

const (
	sellerKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	buyerKey  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	escrowA   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	escrowB   = "0xabababababababababababababababababababab"
	chainID   = int64(11155111)
)

func providers(t *testing.T) (*DefaultProvider, *DefaultProvider) {
	t.Helper()
	seller, err := NewDefaultProvider(sellerKey)
	require.NoError(t, err)
	buyer, err := NewDefaultProvider(buyerKey)
	require.NoError(t, err)
	return seller, buyer
}

func sampleCredential(seller, buyer string) *vc.Credential {
	c := &vc.Credential{
		ID:            "https://example.edu/credentials/1",
		SchemaVersion: vc.SchemaVersion1,
		Issuer:        vc.Party{ID: util.EthrDID(chainID, common.HexToAddress(seller).Hex()), Name: vc.SellerName},
		Holder:        vc.Party{ID: util.EthrDID(chainID, common.HexToAddress(buyer).Hex()), Name: vc.BuyerName},
		IssuanceDate:  "2025-01-01T00:00:00.000Z",
		CredentialSubject: vc.Subject{
			ID:                 util.EthrDID(chainID, buyer),
			ProductName:        "Battery",
			Batch:              "B-1",
			Quantity:           5,
			PreviousCredential: "0xlisting",
			Price:              vc.EmptyPrice(),
		},
	}
	vc.Normalize(c)
	return c
}

func TestNewDefaultProvider(t *testing.T) {
	seller, err := NewDefaultProvider(sellerKey)
	require.NoError(t, err)
	assert.Equal(t, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", seller.GetAddress())

	_, err = NewDefaultProvider("0xzz")
	assert.Error(t, err)
}

func TestSignProducesRecoverableProof(t *testing.T) {
	seller, buyer := providers(t)
	c := sampleCredential(seller.GetAddress(), buyer.GetAddress())
	domain := NewDomain(chainID, escrowA)

	proof, err := Sign(context.Background(), c, dto.RoleIssuer, seller, domain)
	require.NoError(t, err)

	assert.Equal(t, dto.ProofTypeEIP712, proof.Type)
	assert.Equal(t, dto.ProofPurposeAssertion, proof.ProofPurpose)
	assert.Equal(t, util.EthrDID(chainID, seller.GetAddress()), proof.VerificationMethod)
	assert.Equal(t, dto.RoleIssuer, proof.Role)

	sig, err := hexutil.Decode(proof.JWS)
	require.NoError(t, err)
	assert.Contains(t, []byte{27, 28}, sig[64])

	hash, err := PayloadHash(c.SigningPayload(), domain, TypesV1)
	require.NoError(t, err)
	assert.Equal(t, hash.Hex(), proof.PayloadHash)

	addr, err := RecoverAddress(hash, proof.JWS)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(seller.GetAddress()), addr)

	require.NoError(t, c.AppendProof(*proof))
	require.NoError(t, SignAndAppend(context.Background(), c, dto.RoleHolder, buyer, domain))
	assert.True(t, c.IsDelivered())
}

func TestSignRejectsWrongKey(t *testing.T) {
	seller, buyer := providers(t)
	c := sampleCredential(seller.GetAddress(), buyer.GetAddress())

	_, err := Sign(context.Background(), c, dto.RoleIssuer, buyer, NewDomain(chainID, ""))
	assert.True(t, errors.Is(err, ErrSignatureInvalid))

	c.SchemaVersion = "2.0"
	_, err = Sign(context.Background(), c, dto.RoleIssuer, seller, NewDomain(chainID, ""))
	assert.True(t, errors.Is(err, vc.ErrSchemaVersionUnsupported))
}

func TestPayloadHashDomainSeparation(t *testing.T) {
	seller, buyer := providers(t)
	payload := sampleCredential(seller.GetAddress(), buyer.GetAddress()).SigningPayload()

	hash := func(d Domain, set TypeSet) common.Hash {
		h, err := PayloadHash(payload, d, set)
		require.NoError(t, err)
		return h
	}

	noContract := hash(NewDomain(chainID, ""), TypesV1)
	withA := hash(NewDomain(chainID, escrowA), TypesV1)
	withB := hash(NewDomain(chainID, escrowB), TypesV1)
	otherChain := hash(NewDomain(1, escrowA), TypesV1)
	legacy := hash(NewDomain(chainID, ""), TypesLegacy)

	assert.NotEqual(t, withA, withB)
	assert.NotEqual(t, noContract, withA)
	assert.NotEqual(t, withA, otherChain)
	assert.NotEqual(t, noContract, legacy)
	assert.Equal(t, withA, hash(NewDomain(chainID, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"), TypesV1))
}

func TestPayloadHashCoversSignedFields(t *testing.T) {
	seller, buyer := providers(t)
	domain := NewDomain(chainID, escrowA)
	base := sampleCredential(seller.GetAddress(), buyer.GetAddress())
	want, err := PayloadHash(base.SigningPayload(), domain, TypesV1)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(c *vc.Credential)
		changes bool
	}{
		{name: "quantity", mutate: func(c *vc.Credential) { c.CredentialSubject.Quantity = 6 }, changes: true},
		{name: "previous credential", mutate: func(c *vc.Credential) { c.CredentialSubject.PreviousCredential = "0xother" }, changes: true},
		{name: "components", mutate: func(c *vc.Credential) { c.CredentialSubject.ComponentCredentials = []string{"x"} }, changes: true},
		{name: "certificate", mutate: func(c *vc.Credential) { c.CredentialSubject.CertificateCredential.CID = "cid" }, changes: true},
		{name: "holder name", mutate: func(c *vc.Credential) { c.Holder.Name = "Other" }, changes: true},
		{name: "DID case", mutate: func(c *vc.Credential) { c.Issuer.ID = util.EthrDID(chainID, seller.GetAddress()) }, changes: false},
		{name: "vcHash", mutate: func(c *vc.Credential) { c.CredentialSubject.VCHash = "0x01" }, changes: false},
		{name: "delivery status", mutate: func(c *vc.Credential) {
			delivered := true
			c.CredentialSubject.DeliveryStatus = &delivered
		}, changes: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base.Clone()
			tt.mutate(c)
			got, err := PayloadHash(c.SigningPayload(), domain, TypesV1)
			require.NoError(t, err)
			if tt.changes {
				assert.NotEqual(t, want, got)
			} else {
				assert.Equal(t, want, got)
			}
		})
	}
}

// walletSigner signs typed data itself and returns V in {27, 28}.
type walletSigner struct {
	*DefaultProvider
	calls int
}

func (w *walletSigner) SignTypedData(_ context.Context, td apitypes.TypedData) ([]byte, error) {
	w.calls++
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, w.priv)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func TestSignWithTypedDataSigner(t *testing.T) {
	seller, buyer := providers(t)
	wallet := &walletSigner{DefaultProvider: seller}
	c := sampleCredential(seller.GetAddress(), buyer.GetAddress())

	proof, err := Sign(context.Background(), c, dto.RoleIssuer, wallet, NewDomain(chainID, escrowA))
	require.NoError(t, err)
	assert.Equal(t, 1, wallet.calls)

	direct, err := Sign(context.Background(), c, dto.RoleIssuer, seller, NewDomain(chainID, escrowA))
	require.NoError(t, err)
	assert.Equal(t, direct.PayloadHash, proof.PayloadHash)
	assert.Equal(t, direct.JWS, proof.JWS)
}

func TestRecoverAddressRejectsGarbage(t *testing.T) {
	_, err := RecoverAddress(common.Hash{1}, "0x1234")
	assert.True(t, errors.Is(err, ErrSignatureInvalid))

	_, err = RecoverAddress(common.Hash{1}, "nothex")
	assert.True(t, errors.Is(err, ErrSignatureInvalid))
}
