package vc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-credential-chain/commitment"
	"github.com/pilacorp/go-credential-chain/commitment/bindingtag"
	"github.com/pilacorp/go-credential-chain/credential/common/dto"
	"github.com/pilacorp/go-credential-chain/credential/common/jsonmap"
	"github.com/pilacorp/go-credential-chain/credential/common/schema"
	"github.com/pilacorp/go-credential-chain/credential/common/util"
)

// Defaults written into every credential.
const (
	DefaultContext       = "https://www.w3.org/2018/credentials/v1"
	DefaultType          = "VerifiableCredential"
	SchemaVersion1       = "1.0"
	credentialIDBaseURL  = "https://example.edu/credentials/"
	placeholderHolderTag = "T.B.D."
)

var (
	// ErrSignedPayloadMutation is returned when a change would alter the signed
	// payload of a credential that already carries a proof.
	ErrSignedPayloadMutation = errors.New("signed payload mutation")
	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing required field")
	// ErrChainLinkBroken is returned when a previous credential cannot be resolved.
	ErrChainLinkBroken = errors.New("chain link broken")
	// ErrSchemaVersionUnsupported is returned for credentials with an unknown schemaVersion.
	ErrSchemaVersionUnsupported = errors.New("schema version unsupported")
	// ErrInvalidStage is returned when a stage transition is attempted from the wrong stage.
	ErrInvalidStage = errors.New("invalid stage")
)

// Party is an issuer or holder.
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Address returns the account address embedded in the party DID.
func (p Party) Address() (common.Address, bool) {
	addr, ok := util.AddressFromDID(p.ID)
	if !ok {
		return common.Address{}, false
	}
	return common.HexToAddress(addr), true
}

// Certificate references a certificate credential.
type Certificate struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}

// SubjectDetails carries unsigned references to on-chain state.
type SubjectDetails struct {
	ProductContract   string `json:"productContract"`
	Transporter       string `json:"transporter,omitempty"`
	OnChainCommitment string `json:"onChainCommitment,omitempty"`
}

// Quantity is a product quantity. It accepts a JSON number or a decimal string.
type Quantity uint64

// maxExactQuantity is the largest integer a JSON number holds exactly as a double.
const maxExactQuantity = 1 << 53

// MarshalJSON writes a number, or a decimal string above maxExactQuantity so
// canonicalization cannot round it.
func (q Quantity) MarshalJSON() ([]byte, error) {
	s := strconv.FormatUint(uint64(q), 10)
	if q > maxExactQuantity {
		return []byte(`"` + s + `"`), nil
	}
	return []byte(s), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*q = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid quantity %s: %w", string(data), err)
	}
	*q = Quantity(n)
	return nil
}

// Subject is the credentialSubject of a supply-chain credential.
type Subject struct {
	ID                       string                       `json:"id"`
	ProductName              string                       `json:"productName"`
	Batch                    string                       `json:"batch"`
	Quantity                 Quantity                     `json:"quantity"`
	SubjectDetails           *SubjectDetails              `json:"subjectDetails,omitempty"`
	PreviousCredential       string                       `json:"previousCredential"`
	ComponentCredentials     []string                     `json:"componentCredentials"`
	CertificateCredential    Certificate                  `json:"certificateCredential"`
	Price                    PriceField                   `json:"price"`
	PurchaseTxHashCommitment *commitment.TxHashCommitment `json:"purchaseTxHashCommitment,omitempty"`
	TxHashCommitment         *commitment.TxHashCommitment `json:"txHashCommitment,omitempty"`
	DeliveryStatus           *bool                        `json:"deliveryStatus,omitempty"`
	VCHash                   string                       `json:"vcHash,omitempty"`
	TransactionID            string                       `json:"transactionId,omitempty"`
}

// Credential is one stage of a product's credential chain.
type Credential struct {
	Context           []string    `json:"@context"`
	ID                string      `json:"id"`
	Type              []string    `json:"type"`
	SchemaVersion     string      `json:"schemaVersion,omitempty"`
	Issuer            Party       `json:"issuer"`
	Holder            Party       `json:"holder"`
	IssuanceDate      string      `json:"issuanceDate"`
	CredentialSubject Subject     `json:"credentialSubject"`
	Proof             []dto.Proof `json:"proof,omitempty"`
}

type credentialAlias Credential

// UnmarshalJSON accepts the proof field as a single object or an array, and
// folds the legacy proofs.issuerProof/proofs.holderProof map into it.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var aux struct {
		credentialAlias
		Proof  interface{}            `json:"proof"`
		Proofs map[string]interface{} `json:"proofs"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	proofs, err := util.ParseProofs(aux.Proof)
	if err != nil {
		return err
	}
	if len(aux.Proofs) > 0 {
		legacy, err := util.ParseLegacyProofs(skipEmptyProofs(aux.Proofs))
		if err != nil {
			return err
		}
		proofs = append(proofs, legacy...)
	}

	*c = Credential(aux.credentialAlias)
	c.Proof = proofs
	return nil
}

// Listing placeholders carry "proofs": {"issuerProof": {}, "holderProof": {}}.
func skipEmptyProofs(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if obj, ok := v.(map[string]interface{}); ok && len(obj) == 0 {
			continue
		}
		out[k] = v
	}
	return out
}

// CredentialOpt configures credential parsing.
type CredentialOpt func(*credentialOptions)

type credentialOptions struct {
	isValidateSchema bool
}

// WithSchemaValidation enables JSON schema validation during parsing.
func WithSchemaValidation() CredentialOpt {
	return func(c *credentialOptions) {
		c.isValidateSchema = true
	}
}

func getOptions(opts ...CredentialOpt) *credentialOptions {
	options := &credentialOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// ParseCredential decodes a credential and normalizes its proofs and optional fields.
func ParseCredential(raw []byte, opts ...CredentialOpt) (*Credential, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("JSON string is empty")
	}

	options := getOptions(opts...)
	if options.isValidateSchema {
		if err := schema.ValidateCredential(raw); err != nil {
			return nil, err
		}
	}

	var c Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse credential: %w", err)
	}
	if err := CheckSchemaVersion(c.SchemaVersion); err != nil {
		return nil, err
	}
	Normalize(&c)
	return &c, nil
}

// CheckSchemaVersion accepts "1.0" and the absent version of legacy credentials.
func CheckSchemaVersion(v string) error {
	if v == "" || v == SchemaVersion1 {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrSchemaVersionUnsupported, v)
}

// JSONMap returns the credential as a generic JSON object.
func (c *Credential) JSONMap() (jsonmap.JSONMap, error) {
	return jsonmap.FromStruct(c)
}

// Canonical returns the canonical JSON of the full credential, proofs included.
// It is the byte string written to the content store.
func (c *Credential) Canonical() ([]byte, error) {
	m, err := c.JSONMap()
	if err != nil {
		return nil, err
	}
	return m.Canonicalize()
}

// ContentDigest returns keccak256 of the canonical credential.
func (c *Credential) ContentDigest() (common.Hash, error) {
	m, err := c.JSONMap()
	if err != nil {
		return common.Hash{}, err
	}
	return m.ContentDigest()
}

// ProofFor returns the proof produced by role. Proofs without a role are
// matched by their verificationMethod against the party DID.
func (c *Credential) ProofFor(role dto.Role) (*dto.Proof, bool) {
	for i := range c.Proof {
		if c.Proof[i].Role == role {
			return &c.Proof[i], true
		}
	}

	party := c.Issuer
	if role == dto.RoleHolder {
		party = c.Holder
	}
	want, ok := util.AddressFromDID(party.ID)
	if !ok {
		return nil, false
	}
	for i := range c.Proof {
		if c.Proof[i].Role != "" {
			continue
		}
		if got, ok := util.AddressFromDID(c.Proof[i].VerificationMethod); ok && strings.EqualFold(got, want) {
			return &c.Proof[i], true
		}
	}
	return nil, false
}

// IsDelivered reports whether both issuer and holder have signed.
func (c *Credential) IsDelivered() bool {
	_, issuer := c.ProofFor(dto.RoleIssuer)
	_, holder := c.ProofFor(dto.RoleHolder)
	return issuer && holder
}

// Stage infers the chain stage of the credential.
func (c *Credential) Stage() int {
	s := c.CredentialSubject
	if s.PreviousCredential == "" {
		return 0
	}
	if z := s.Price.ZKP(); z != nil && z.BindingContext != nil && z.BindingContext.Stage == bindingtag.MaxStage {
		return 2
	}
	if s.TxHashCommitment != nil || (s.SubjectDetails != nil && (s.SubjectDetails.Transporter != "" || s.SubjectDetails.OnChainCommitment != "")) {
		return 2
	}
	return 1
}

// Clone returns a deep copy of the credential.
func (c *Credential) Clone() *Credential {
	out := *c
	out.Context = cloneStrings(c.Context)
	out.Type = cloneStrings(c.Type)
	out.Proof = append([]dto.Proof(nil), c.Proof...)

	s := &out.CredentialSubject
	s.ComponentCredentials = cloneStrings(c.CredentialSubject.ComponentCredentials)
	s.Price = c.CredentialSubject.Price.clone()
	if d := c.CredentialSubject.SubjectDetails; d != nil {
		cp := *d
		s.SubjectDetails = &cp
	}
	if t := c.CredentialSubject.PurchaseTxHashCommitment; t != nil {
		cp := *t
		s.PurchaseTxHashCommitment = &cp
	}
	if t := c.CredentialSubject.TxHashCommitment; t != nil {
		cp := *t
		s.TxHashCommitment = &cp
	}
	if d := c.CredentialSubject.DeliveryStatus; d != nil {
		cp := *d
		s.DeliveryStatus = &cp
	}
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}
