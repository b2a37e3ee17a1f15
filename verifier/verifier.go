// Package verifier checks credentials of a chain: signatures, price and
// transaction-hash commitments, purchase/delivery linkage and on-chain events.
//
// Every check reports one of verified, failed, not-present or not-checked. A
// missing optional feature is never reported as a failure, and a check that
// could not run is never reported as passing.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/pilacorp/go-credential-chain/chain"
	"github.com/pilacorp/go-credential-chain/commitment"
	"github.com/pilacorp/go-credential-chain/commitment/bindingtag"
	"github.com/pilacorp/go-credential-chain/credential/common/dto"
	"github.com/pilacorp/go-credential-chain/credential/common/util"
	"github.com/pilacorp/go-credential-chain/credential/vc"
	"github.com/pilacorp/go-credential-chain/signer"
	"github.com/pilacorp/go-credential-chain/store"
)

const (
	defaultChainID     = int64(1337)
	defaultConcurrency = 8
	// DefaultMaxDepth bounds the provenance walk.
	DefaultMaxDepth = 10
)

// CommitmentVerifier checks a commitment proof. *commitment.Engine
// satisfies it.
type CommitmentVerifier interface {
	Verify(ctx context.Context, commitment, proof string, bindingTag *common.Hash) (bool, error)
}

// Verifier runs credential checks against a prover and, optionally, chain
// state and a content store.
type Verifier struct {
	commitments CommitmentVerifier
	escrows     chain.EscrowReader
	content     vc.ContentGetter
	chainID     int64
	concurrency int
	maxDepth    int
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithEscrowReader enables on-chain commitment and event checks.
func WithEscrowReader(r chain.EscrowReader) Option {
	return func(v *Verifier) {
		v.escrows = r
	}
}

// WithContentGetter enables previous-credential and provenance checks.
func WithContentGetter(g vc.ContentGetter) Option {
	return func(v *Verifier) {
		v.content = g
	}
}

// WithChainID sets the chain id used when no DID carries one.
func WithChainID(chainID int64) Option {
	return func(v *Verifier) {
		v.chainID = chainID
	}
}

// WithConcurrency bounds parallel fetches during a provenance walk.
func WithConcurrency(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// WithMaxDepth bounds the provenance walk depth.
func WithMaxDepth(depth int) Option {
	return func(v *Verifier) {
		if depth > 0 {
			v.maxDepth = depth
		}
	}
}

// New creates a Verifier that checks commitment proofs with cv.
func New(cv CommitmentVerifier, opts ...Option) *Verifier {
	v := &Verifier{
		commitments: cv,
		chainID:     defaultChainID,
		concurrency: defaultConcurrency,
		maxDepth:    DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyOptions selects the inputs of VerifyAll.
type VerifyOptions struct {
	// ContentID is the credential's content id, used for event correlation.
	ContentID string
	// ContractAddress is the expected verifyingContract and escrow. When
	// empty, subjectDetails.productContract is used.
	ContractAddress string
}

// VerifyAll runs every check on c.
func (v *Verifier) VerifyAll(ctx context.Context, c *vc.Credential, opts VerifyOptions) *Report {
	contract := opts.ContractAddress
	if contract == "" {
		contract = productContract(c)
	}

	r := &Report{ContentID: opts.ContentID, Stage: c.Stage()}
	r.Issuer, r.Holder = v.CheckSignatures(c, contract)
	r.PriceCommitment = v.CheckPriceCommitment(ctx, c)
	r.OnChainCommitment = v.CheckOnChainCommitment(ctx, c, contract)
	r.PurchaseTxCommitment, r.DeliveryTxCommitment = v.CheckTxHashCommitments(ctx, c)
	r.Linkage = CheckLinkage(c)
	r.PreviousCredential = v.CheckPreviousCredential(ctx, c)
	r.PurchaseEvent = v.CheckOnChainEvent(ctx, c, chain.PurchaseEvent, opts.ContentID, contract)
	r.DeliveryEvent = v.CheckOnChainEvent(ctx, c, chain.DeliveryEvent, opts.ContentID, contract)

	log.Debug("Verified credential", "id", c.ID, "stage", r.Stage, "failed", strings.Join(r.FailedChecks(), ","))
	return r
}

// CheckSignatures verifies the issuer and holder proofs of c.
//
// Each proof is checked under the domain without a verifyingContract and,
// when expectedContract is set, under the domain naming it. A domain is
// accepted only if it reproduces the proof's payloadHash and the signature
// recovers to the role's DID address.
func (v *Verifier) CheckSignatures(c *vc.Credential, expectedContract string) (issuer, holder SignatureCheck) {
	return v.checkSignature(c, dto.RoleIssuer, expectedContract), v.checkSignature(c, dto.RoleHolder, expectedContract)
}

func (v *Verifier) checkSignature(c *vc.Credential, role dto.Role, expectedContract string) SignatureCheck {
	proof, ok := c.ProofFor(role)
	if !ok {
		return SignatureCheck{Check: notPresent("no %s proof", role)}
	}
	if err := vc.CheckSchemaVersion(c.SchemaVersion); err != nil {
		return SignatureCheck{Check: failed(err)}
	}

	party := c.Issuer
	if role == dto.RoleHolder {
		party = c.Holder
	}
	expected, ok := party.Address()
	if !ok {
		return SignatureCheck{Check: failed(fmt.Errorf("%w: %s DID %q has no address", signer.ErrSignatureInvalid, role, party.ID))}
	}
	if vm, ok := util.AddressFromDID(proof.VerificationMethod); ok && common.HexToAddress(vm) != expected {
		return SignatureCheck{Check: failed(fmt.Errorf("%w: verificationMethod %s is not the %s", signer.ErrSignatureInvalid, proof.VerificationMethod, role))}
	}

	chainID := v.chainIDFor(proof, party)
	payload := c.SigningPayload()
	sets := []signer.TypeSet{signer.TypesV1}
	if payload.Legacy {
		sets = append(sets, signer.TypesLegacy)
	}
	domains := []signer.Domain{signer.NewDomain(chainID, "")}
	if expectedContract != "" {
		domains = append(domains, signer.NewDomain(chainID, expectedContract))
	}

	for _, set := range sets {
		for _, d := range domains {
			hash, err := signer.PayloadHash(payload, d, set)
			if err != nil {
				return SignatureCheck{Check: failed(err)}
			}
			if proof.PayloadHash != "" && !strings.EqualFold(proof.PayloadHash, hash.Hex()) {
				continue
			}
			addr, err := signer.RecoverAddress(hash, proof.JWS)
			if err != nil {
				return SignatureCheck{Check: failed(err)}
			}
			if addr != expected {
				continue
			}
			log.Trace("Signature verified", "role", role, "types", set, "contract", d.VerifyingContract)
			return SignatureCheck{
				Check:    verified("%s signature verified", role),
				Signer:   addr.Hex(),
				Contract: d.VerifyingContract,
			}
		}
	}
	return SignatureCheck{Check: failed(fmt.Errorf("%w: no signing domain reproduces the %s proof", signer.ErrSignatureInvalid, role))}
}

// chainIDFor takes the chain id from the proof's verificationMethod, then
// the party DID, then the verifier default.
func (v *Verifier) chainIDFor(p *dto.Proof, party vc.Party) int64 {
	if id, ok := util.ChainIDFromDID(p.VerificationMethod); ok {
		return id
	}
	if id, ok := util.ChainIDFromDID(party.ID); ok {
		return id
	}
	return v.chainID
}

// CheckPriceCommitment verifies the hidden price's proof with the prover.
// When the commitment carries a binding context, the tag is re-derived and
// the context is matched against the credential before the prover is asked.
func (v *Verifier) CheckPriceCommitment(ctx context.Context, c *vc.Credential) Check {
	z := c.CredentialSubject.Price.ZKP()
	if z == nil {
		return notPresent("price is not hidden")
	}
	if z.Proof == "" {
		return failed(fmt.Errorf("%w: price commitment has no proof", commitment.ErrMalformedCommitmentResponse))
	}

	tag, err := priceTag(c, z)
	if err != nil {
		return failed(err)
	}
	return v.verifyProof(ctx, "price", z.Commitment, z.Proof, tag)
}

func priceTag(c *vc.Credential, z *commitment.ZKPProof) (*common.Hash, error) {
	if z.BindingTag == "" {
		if z.BindingContext != nil {
			return nil, fmt.Errorf("%w: binding context without tag", ErrBindingTagMismatch)
		}
		return nil, nil
	}
	tag, err := commitment.ParseTag(z.BindingTag)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBindingTagMismatch, err)
	}
	if z.BindingContext == nil {
		return &tag, nil
	}

	bctx := *z.BindingContext
	derived, err := bindingtag.DeriveContextTag(bctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBindingTagMismatch, err)
	}
	if derived != tag {
		return nil, fmt.Errorf("%w: tag does not match its binding context", ErrBindingTagMismatch)
	}
	if err := checkContextChain(c, bctx); err != nil {
		return nil, err
	}
	if escrow := productContract(c); escrow != "" && !strings.EqualFold(escrow, bctx.EscrowAddr) {
		return nil, fmt.Errorf("%w: commitment is bound to escrow %s", ErrBindingTagMismatch, bctx.EscrowAddr)
	}
	if bctx.PreviousVCCid != "" && bctx.PreviousVCCid != c.CredentialSubject.PreviousCredential {
		return nil, fmt.Errorf("%w: commitment is bound to previous credential %s", ErrBindingTagMismatch, bctx.PreviousVCCid)
	}
	return &tag, nil
}

// checkContextChain rejects a binding context whose chain id differs from the
// issuer DID's chain.
func checkContextChain(c *vc.Credential, bctx bindingtag.Context) error {
	didChain, ok := util.ChainIDFromDID(c.Issuer.ID)
	if !ok {
		return nil
	}
	ctxChain, err := bctx.ChainID.Uint256()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBindingTagMismatch, err)
	}
	if !ctxChain.IsUint64() || ctxChain.Uint64() != uint64(didChain) {
		return fmt.Errorf("%w: commitment is bound to chain %s, issuer is on chain %d", ErrBindingTagMismatch, bctx.ChainID, didChain)
	}
	return nil
}

// CheckOnChainCommitment compares the price commitment with the escrow's
// stored commitment. The escrow is escrowAddr, or subjectDetails.productContract
// when empty.
func (v *Verifier) CheckOnChainCommitment(ctx context.Context, c *vc.Credential, escrowAddr string) Check {
	if v.escrows == nil {
		return notChecked("no chain reader configured", nil)
	}
	z := c.CredentialSubject.Price.ZKP()
	if z == nil {
		return notPresent("price is not hidden")
	}
	escrow, ok := escrowFor(c, escrowAddr)
	if !ok {
		return notChecked("escrow address unknown", nil)
	}

	stored, err := v.escrows.PublicPriceCommitment(ctx, escrow)
	switch {
	case errors.Is(err, chain.ErrCallReverted), errors.Is(err, chain.ErrNoData):
		log.Debug("Escrow has no commitment accessor", "escrow", escrow, "err", err)
		stored = common.Hash{}
	case err != nil:
		return notChecked("chain read failed", err)
	}
	if stored == (common.Hash{}) {
		return notPresent("escrow stores no price commitment")
	}
	if !commitment.VerifyCommitment(z.Commitment, stored.Hex()) {
		return failed(fmt.Errorf("%w: credential and escrow %s commitments differ", commitment.ErrCommitmentMismatch, escrow))
	}
	return verified("price commitment matches escrow %s", escrow)
}

// CheckTxHashCommitments verifies the purchase and delivery transaction-hash
// commitments, passing their binding tags to the prover.
func (v *Verifier) CheckTxHashCommitments(ctx context.Context, c *vc.Credential) (purchase, delivery Check) {
	s := c.CredentialSubject
	return v.checkTx(ctx, vc.PurchaseTx, s.PurchaseTxHashCommitment), v.checkTx(ctx, vc.DeliveryTx, s.TxHashCommitment)
}

func (v *Verifier) checkTx(ctx context.Context, kind vc.TxCommitmentKind, tc *commitment.TxHashCommitment) Check {
	if tc == nil {
		return notPresent("no %s", kind)
	}
	if tc.Commitment == "" || tc.Proof == "" {
		return failed(fmt.Errorf("%w: %s needs a commitment and a proof", commitment.ErrMalformedCommitmentResponse, kind))
	}

	var tag *common.Hash
	if tc.BindingTag != "" {
		t, err := commitment.ParseTag(tc.BindingTag)
		if err != nil {
			return failed(fmt.Errorf("%w: %w", ErrBindingTagMismatch, err))
		}
		tag = &t
	}
	return v.verifyProof(ctx, kind.String(), tc.Commitment, tc.Proof, tag)
}

func (v *Verifier) verifyProof(ctx context.Context, what, commitmentHex, proof string, tag *common.Hash) Check {
	if v.commitments == nil {
		return notChecked("no prover configured", nil)
	}
	ok, err := v.commitments.Verify(ctx, commitmentHex, proof, tag)
	if err != nil {
		log.Warn("Commitment verification unavailable", "value", what, "err", err)
		return notChecked("prover unavailable", err)
	}
	if !ok {
		return failed(fmt.Errorf("%w: %s", ErrProofRejected, what))
	}
	if tag != nil {
		return verified("%s proof verified with binding tag", what)
	}
	return verified("%s proof verified", what)
}

// CheckLinkage reports whether the purchase and delivery transaction-hash
// commitments carry the same linkage tag.
func CheckLinkage(c *vc.Credential) Check {
	p, d := c.CredentialSubject.PurchaseTxHashCommitment, c.CredentialSubject.TxHashCommitment
	if p == nil || d == nil {
		return notPresent("linkage needs both purchase and delivery commitments")
	}
	if p.BindingTag == "" || d.BindingTag == "" {
		return notPresent("commitments carry no linkage tag")
	}
	if !commitment.VerifyBindingTagsMatch(p, d) {
		return failed(fmt.Errorf("%w: purchase and delivery linkage tags differ", ErrBindingTagMismatch))
	}
	return verified("purchase and delivery commitments are linked")
}

// CheckPreviousCredential checks that the previous credential resolves in the
// content store.
func (v *Verifier) CheckPreviousCredential(ctx context.Context, c *vc.Credential) Check {
	prev := c.CredentialSubject.PreviousCredential
	if prev == "" {
		return notPresent("credential is a chain root")
	}
	if v.content == nil {
		return notChecked("no content store configured", nil)
	}
	if _, err := v.content.Get(ctx, prev); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failed(fmt.Errorf("%w: %s: %w", vc.ErrChainLinkBroken, prev, err))
		}
		return notChecked("content store unavailable", err)
	}
	return verified("previous credential %s resolves", prev)
}

// CheckOnChainEvent correlates a transaction-hash commitment with the escrow
// event emitted by the transaction. Only the block number is surfaced.
//
// The purchase event of a delivery credential names the order confirmation,
// so its previous credential id is matched instead of contentID.
func (v *Verifier) CheckOnChainEvent(ctx context.Context, c *vc.Credential, kind chain.EventKind, contentID, escrowAddr string) EventCheck {
	if v.escrows == nil {
		return EventCheck{Check: notChecked("no chain reader configured", nil)}
	}
	tc := c.CredentialSubject.TxHashCommitment
	if kind == chain.PurchaseEvent {
		tc = c.CredentialSubject.PurchaseTxHashCommitment
	}
	if tc == nil || tc.Commitment == "" {
		return EventCheck{Check: notPresent("no %s commitment", kind)}
	}
	if h, err := chain.FormatBytes32(tc.Commitment); err == nil && h == (common.Hash{}) {
		return EventCheck{Check: notPresent("%s commitment is zero", kind)}
	}
	escrow, ok := escrowFor(c, escrowAddr)
	if !ok {
		return EventCheck{Check: notChecked("escrow address unknown", nil)}
	}

	cid := contentID
	if kind == chain.PurchaseEvent && c.Stage() == bindingtag.MaxStage {
		cid = c.CredentialSubject.PreviousCredential
	}
	q := chain.EventQuery{Kind: kind, Commitment: tc.Commitment, VCCID: cid}
	if z := c.CredentialSubject.Price.ZKP(); z != nil && z.BindingContext != nil {
		if id, err := z.BindingContext.ProductID.Uint256(); err == nil {
			q.ProductID = id.ToBig()
		}
	}

	m, err := v.escrows.FindCommitmentEvent(ctx, escrow, q)
	switch {
	case errors.Is(err, chain.ErrZeroCommitment):
		return EventCheck{Check: notPresent("%s commitment is zero", kind)}
	case errors.Is(err, chain.ErrEventNotFound), errors.Is(err, chain.ErrMalformedCommitment):
		return EventCheck{Check: failed(err)}
	case err != nil:
		return EventCheck{Check: notChecked("event query failed", err)}
	}

	check := verified("%s transaction executed on-chain", kind)
	if !m.VCCIDMatched {
		check.Message = fmt.Sprintf("%s transaction executed on-chain; event names a different credential", kind)
	}
	return EventCheck{Check: check, BlockNumber: m.BlockNumber}
}

func productContract(c *vc.Credential) string {
	if sd := c.CredentialSubject.SubjectDetails; sd != nil {
		return sd.ProductContract
	}
	return ""
}

// escrowFor resolves the escrow from the explicit address, subjectDetails,
// then the price binding context.
func escrowFor(c *vc.Credential, explicit string) (common.Address, bool) {
	candidates := []string{explicit, productContract(c)}
	if z := c.CredentialSubject.Price.ZKP(); z != nil && z.BindingContext != nil {
		candidates = append(candidates, z.BindingContext.EscrowAddr)
	}
	for _, s := range candidates {
		if common.IsHexAddress(s) {
			return common.HexToAddress(s), true
		}
	}
	return common.Address{}, false
}
