package signer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/pilacorp/go-credential-chain/credential/vc"
)

// Domain defaults.
const (
	DomainName    = "VC"
	DomainVersion = "1.0"
)

const primaryType = "Credential"

// TypeSet selects the EIP-712 type definitions used for a credential.
type TypeSet int

const (
	// TypesV1 includes schemaVersion as a signed field.
	TypesV1 TypeSet = iota
	// TypesLegacy is the type set of credentials that predate schemaVersion.
	TypesLegacy
)

func (s TypeSet) String() string {
	if s == TypesLegacy {
		return "legacy"
	}
	return "v1"
}

// Domain is the EIP-712 signing domain. VerifyingContract is optional;
// omitting it keeps old signatures verifiable but gives up cross-contract
// replay protection.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

// NewDomain returns the credential signing domain for chainID. Pass an empty
// verifyingContract to omit it.
func NewDomain(chainID int64, verifyingContract string) Domain {
	return Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

func (d Domain) typedDataDomain() apitypes.TypedDataDomain {
	td := apitypes.TypedDataDomain{
		Name:    d.Name,
		Version: d.Version,
		ChainId: math.NewHexOrDecimal256(d.ChainID),
	}
	if d.VerifyingContract != "" {
		td.VerifyingContract = common.HexToAddress(d.VerifyingContract).Hex()
	}
	return td
}

func (d Domain) types() []apitypes.Type {
	fields := []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	}
	if d.VerifyingContract != "" {
		fields = append(fields, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	return fields
}

// Types returns the EIP-712 type definitions for a credential under domain d.
func Types(d Domain, set TypeSet) apitypes.Types {
	credential := []apitypes.Type{
		{Name: "id", Type: "string"},
		{Name: "@context", Type: "string[]"},
		{Name: "type", Type: "string[]"},
	}
	if set == TypesV1 {
		credential = append(credential, apitypes.Type{Name: "schemaVersion", Type: "string"})
	}
	credential = append(credential,
		apitypes.Type{Name: "issuer", Type: "Party"},
		apitypes.Type{Name: "holder", Type: "Party"},
		apitypes.Type{Name: "issuanceDate", Type: "string"},
		apitypes.Type{Name: "credentialSubject", Type: "CredentialSubject"},
	)

	return apitypes.Types{
		"EIP712Domain": d.types(),
		primaryType:    credential,
		"Party": {
			{Name: "id", Type: "string"},
			{Name: "name", Type: "string"},
		},
		"CredentialSubject": {
			{Name: "id", Type: "string"},
			{Name: "productName", Type: "string"},
			{Name: "batch", Type: "string"},
			{Name: "quantity", Type: "uint256"},
			{Name: "previousCredential", Type: "string"},
			{Name: "componentCredentials", Type: "string[]"},
			{Name: "certificateCredential", Type: "Certificate"},
			{Name: "price", Type: "string"},
		},
		"Certificate": {
			{Name: "name", Type: "string"},
			{Name: "cid", Type: "string"},
		},
	}
}

// TypedData assembles the EIP-712 structure for a signing payload.
func TypedData(p *vc.SigningPayload, d Domain, set TypeSet) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       Types(d, set),
		PrimaryType: primaryType,
		Domain:      d.typedDataDomain(),
		Message:     message(p, set),
	}
}

// PayloadHash returns the EIP-712 digest of p under d.
func PayloadHash(p *vc.SigningPayload, d Domain, set TypeSet) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(TypedData(p, d, set))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}

func message(p *vc.SigningPayload, set TypeSet) apitypes.TypedDataMessage {
	s := p.CredentialSubject
	msg := apitypes.TypedDataMessage{
		"id":           p.ID,
		"@context":     stringsToInterfaces(p.Context),
		"type":         stringsToInterfaces(p.Type),
		"issuer":       party(p.Issuer),
		"holder":       party(p.Holder),
		"issuanceDate": p.IssuanceDate,
		"credentialSubject": map[string]interface{}{
			"id":                   s.ID,
			"productName":          s.ProductName,
			"batch":                s.Batch,
			"quantity":             new(big.Int).SetUint64(s.Quantity),
			"previousCredential":   s.PreviousCredential,
			"componentCredentials": stringsToInterfaces(s.ComponentCredentials),
			"certificateCredential": map[string]interface{}{
				"name": s.CertificateCredential.Name,
				"cid":  s.CertificateCredential.CID,
			},
			"price": s.Price,
		},
	}
	if set == TypesV1 {
		msg["schemaVersion"] = p.SchemaVersion
	}
	return msg
}

func party(p vc.Party) map[string]interface{} {
	return map[string]interface{}{"id": p.ID, "name": p.Name}
}

func stringsToInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
