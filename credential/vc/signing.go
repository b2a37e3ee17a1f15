package vc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SigningSubject is the signed part of credentialSubject.
type SigningSubject struct {
	ID                    string      `json:"id"`
	ProductName           string      `json:"productName"`
	Batch                 string      `json:"batch"`
	Quantity              uint64      `json:"quantity"`
	PreviousCredential    string      `json:"previousCredential"`
	ComponentCredentials  []string    `json:"componentCredentials"`
	CertificateCredential Certificate `json:"certificateCredential"`
	Price                 string      `json:"price"`
}

// SigningPayload is the view of a credential covered by issuer and holder
// signatures. Proofs, transaction commitments, vcHash, transactionId,
// subjectDetails and deliveryStatus are excluded; the price is its string form
// and DIDs are lower-cased.
type SigningPayload struct {
	ID                string         `json:"id"`
	Context           []string       `json:"@context"`
	Type              []string       `json:"type"`
	SchemaVersion     string         `json:"schemaVersion"`
	Issuer            Party          `json:"issuer"`
	Holder            Party          `json:"holder"`
	IssuanceDate      string         `json:"issuanceDate"`
	CredentialSubject SigningSubject `json:"credentialSubject"`

	// Legacy is set when the stored credential had no schemaVersion.
	Legacy bool `json:"-"`
}

// SigningPayload builds the signing view of the credential.
func (c *Credential) SigningPayload() *SigningPayload {
	cp := c.Clone()
	Normalize(cp)

	s := cp.CredentialSubject
	p := &SigningPayload{
		ID:            cp.ID,
		Context:       cp.Context,
		Type:          cp.Type,
		SchemaVersion: cp.SchemaVersion,
		Issuer:        Party{ID: strings.ToLower(cp.Issuer.ID), Name: cp.Issuer.Name},
		Holder:        Party{ID: strings.ToLower(cp.Holder.ID), Name: cp.Holder.Name},
		IssuanceDate:  cp.IssuanceDate,
		CredentialSubject: SigningSubject{
			ID:                    strings.ToLower(s.ID),
			ProductName:           s.ProductName,
			Batch:                 s.Batch,
			Quantity:              uint64(s.Quantity),
			PreviousCredential:    s.PreviousCredential,
			ComponentCredentials:  s.ComponentCredentials,
			CertificateCredential: s.CertificateCredential,
			Price:                 s.Price.String(),
		},
	}
	if p.SchemaVersion == "" {
		p.SchemaVersion = SchemaVersion1
		p.Legacy = true
	}
	return p
}

// SigningDigest is keccak256 of the signing payload's JSON encoding. The
// payload is a fixed struct, so the encoding is deterministic and integers are
// exact. It changes whenever a signed field changes.
func (c *Credential) SigningDigest() (common.Hash, error) {
	data, err := json.Marshal(c.SigningPayload())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode signing payload: %w", err)
	}
	return crypto.Keccak256Hash(data), nil
}
