package vc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/pilacorp/go-credential-chain/commitment"
	"github.com/pilacorp/go-credential-chain/commitment/bindingtag"
	"github.com/pilacorp/go-credential-chain/credential/common/util"
	"github.com/pilacorp/go-credential-chain/store"
)

// Display names written by the builder.
const (
	SellerName = "Seller"
	BuyerName  = "Buyer"
)

// issuanceDateLayout matches ECMAScript Date.prototype.toISOString.
const issuanceDateLayout = "2006-01-02T15:04:05.000Z"

// PriceCommitter produces price and transaction-hash commitments.
// *commitment.Engine satisfies it.
type PriceCommitter interface {
	CommitValueWithBinding(ctx context.Context, value uint64, blinding, bindingTag common.Hash) (*commitment.Result, error)
	CommitTxHash(ctx context.Context, txHash string, bindingTag *common.Hash) (*commitment.Result, error)
}

// ContentGetter resolves content ids. store.Store satisfies it.
type ContentGetter interface {
	Get(ctx context.Context, contentID string) ([]byte, error)
}

// Builder constructs the stages of a credential chain.
type Builder struct {
	committer PriceCommitter
	chainID   int64
	content   ContentGetter
	now       func() time.Time
	newID     func() string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithChainID sets the chain id used in DIDs and binding contexts.
func WithChainID(chainID int64) BuilderOption {
	return func(b *Builder) {
		b.chainID = chainID
	}
}

// WithContentGetter makes the builder check that previous credentials are
// retrievable before building on them.
func WithContentGetter(g ContentGetter) BuilderOption {
	return func(b *Builder) {
		b.content = g
	}
}

// WithClock overrides the issuance clock.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// WithIDGenerator overrides credential id generation.
func WithIDGenerator(newID func() string) BuilderOption {
	return func(b *Builder) {
		b.newID = newID
	}
}

// NewBuilder returns a Builder backed by committer.
func NewBuilder(committer PriceCommitter, opts ...BuilderOption) *Builder {
	b := &Builder{
		committer: committer,
		chainID:   1337,
		now:       time.Now,
		newID:     func() string { return credentialIDBaseURL + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ChainID returns the builder's chain id.
func (b *Builder) ChainID() int64 {
	return b.chainID
}

// ListingInput describes a product listing.
type ListingInput struct {
	SellerAddr           string
	EscrowAddr           string
	ProductID            bindingtag.Decimal
	ProductName          string
	Batch                string
	Quantity             uint64
	Price                uint64
	ComponentCredentials []string
	Certificate          Certificate
}

// BuildListing builds the stage 0 credential. The seller is issuer, the holder
// is the zero-address placeholder and the price is committed under a stage 0
// binding tag.
func (b *Builder) BuildListing(ctx context.Context, in ListingInput) (*Credential, error) {
	if in.ProductName == "" {
		return nil, fmt.Errorf("%w: productName", ErrMissingField)
	}
	seller, err := checkAddress("seller", in.SellerAddr)
	if err != nil {
		return nil, err
	}
	escrow, err := checkAddress("escrow", in.EscrowAddr)
	if err != nil {
		return nil, err
	}

	bctx := bindingtag.Context{
		ChainID:       bindingtag.DecimalFromInt64(b.chainID),
		EscrowAddr:    escrow.Hex(),
		ProductID:     in.ProductID,
		Stage:         0,
		SchemaVersion: SchemaVersion1,
	}
	price, err := b.commitPrice(ctx, in.Price, escrow, seller, bctx)
	if err != nil {
		return nil, err
	}

	zeroDID := util.EthrDID(b.chainID, util.ZeroAddress)
	c := &Credential{
		Context:       []string{DefaultContext},
		ID:            b.newID(),
		Type:          []string{DefaultType},
		SchemaVersion: SchemaVersion1,
		Issuer:        Party{ID: util.EthrDID(b.chainID, seller.Hex()), Name: SellerName},
		Holder:        Party{ID: zeroDID, Name: placeholderHolderTag},
		IssuanceDate:  b.now().UTC().Format(issuanceDateLayout),
		CredentialSubject: Subject{
			ID:                    zeroDID,
			ProductName:           in.ProductName,
			Batch:                 in.Batch,
			Quantity:              Quantity(in.Quantity),
			SubjectDetails:        &SubjectDetails{ProductContract: escrow.Hex()},
			ComponentCredentials:  cloneStrings(in.ComponentCredentials),
			CertificateCredential: in.Certificate,
			Price:                 price,
		},
	}
	Normalize(c)

	log.Debug("Built listing credential", "id", c.ID, "escrow", escrow)
	return c, nil
}

// OrderInput describes the purchase that moves a listing to stage 1.
type OrderInput struct {
	BuyerAddr string
	// PurchaseTxHash is optional. When set, a commitment to it is stored
	// under the purchase/delivery linkage tag.
	PurchaseTxHash string
	// ProductID is used when the listing carries no binding context.
	ProductID bindingtag.Decimal
}

// BuildOrderConfirmation builds the stage 1 credential from a listing and its
// content id. The buyer becomes holder; issuance date and id are preserved.
func (b *Builder) BuildOrderConfirmation(ctx context.Context, listing *Credential, listingCID string, in OrderInput) (*Credential, error) {
	if listing == nil {
		return nil, fmt.Errorf("%w: listing credential", ErrMissingField)
	}
	if listingCID == "" {
		return nil, fmt.Errorf("%w: listing content id", ErrMissingField)
	}
	if listing.CredentialSubject.PreviousCredential != "" {
		return nil, fmt.Errorf("%w: order confirmation must follow a listing", ErrInvalidStage)
	}
	buyer, err := checkAddress("buyer", in.BuyerAddr)
	if err != nil {
		return nil, err
	}
	seller, ok := listing.Issuer.Address()
	if !ok {
		return nil, fmt.Errorf("%w: issuer address", ErrMissingField)
	}

	c := listing.Clone()
	c.Proof = nil
	c.Issuer = Party{ID: util.EthrDID(b.chainID, seller.Hex()), Name: SellerName}
	c.Holder = Party{ID: util.EthrDID(b.chainID, buyer.Hex()), Name: BuyerName}
	c.CredentialSubject.ID = c.Holder.ID
	c.CredentialSubject.PreviousCredential = listingCID
	if c.SchemaVersion == "" {
		c.SchemaVersion = SchemaVersion1
	}

	if in.PurchaseTxHash != "" {
		lctx, err := b.linkageContext(listing, buyer, in.ProductID)
		if err != nil {
			return nil, err
		}
		tc, err := b.commitTx(ctx, in.PurchaseTxHash, lctx)
		if err != nil {
			return nil, err
		}
		c.CredentialSubject.PurchaseTxHashCommitment = tc
	}
	Normalize(c)

	log.Debug("Built order confirmation credential", "id", c.ID, "previous", listingCID)
	return c, nil
}

// DeliveryInput describes the buyer's delivery draft.
type DeliveryInput struct {
	// Price is the value the buyer observed. Its commitment must reproduce
	// the order confirmation's commitment.
	Price             uint64
	TransporterAddr   string
	OnChainCommitment string
	// EscrowAddr and ProductID are used when no binding context can be
	// recovered from the order confirmation.
	EscrowAddr string
	ProductID  bindingtag.Decimal
}

// DeliveryDraft is an unsigned stage 2 credential.
type DeliveryDraft struct {
	Credential *Credential
	// ContextSynthesized is set when the previous stage had no binding
	// context and a fresh one was generated.
	ContextSynthesized bool
}

// BuildDeliveryDraft builds the buyer's stage 2 draft from the order
// confirmation and its content id. The price is re-committed with the same
// deterministic blinding under a stage 2 tag that names the previous content
// id; the commitment must match the previous one.
func (b *Builder) BuildDeliveryDraft(ctx context.Context, order *Credential, orderCID string, in DeliveryInput) (*DeliveryDraft, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: order credential", ErrMissingField)
	}
	if orderCID == "" {
		return nil, fmt.Errorf("%w: order content id", ErrMissingField)
	}
	if order.CredentialSubject.PreviousCredential == "" {
		return nil, fmt.Errorf("%w: delivery must follow an order confirmation", ErrInvalidStage)
	}
	if err := b.requireStored(ctx, orderCID); err != nil {
		return nil, err
	}
	seller, ok := order.Issuer.Address()
	if !ok {
		return nil, fmt.Errorf("%w: issuer address", ErrMissingField)
	}

	bctx, synthesized, err := b.deliveryContext(order, orderCID, in)
	if err != nil {
		return nil, err
	}
	escrow := common.HexToAddress(bctx.EscrowAddr)
	price, err := b.commitPrice(ctx, in.Price, escrow, seller, bctx)
	if err != nil {
		return nil, err
	}
	if prev := order.CredentialSubject.Price.ZKP(); prev != nil {
		if !commitment.VerifyCommitment(prev.Commitment, price.ZKP().Commitment) {
			return nil, fmt.Errorf("%w: delivery price commitment differs from the order confirmation", commitment.ErrCommitmentMismatch)
		}
	}

	c := order.Clone()
	c.Proof = nil
	c.CredentialSubject.PreviousCredential = orderCID
	c.CredentialSubject.Price = price
	details := SubjectDetails{ProductContract: escrow.Hex()}
	if c.CredentialSubject.SubjectDetails != nil {
		details = *c.CredentialSubject.SubjectDetails
	}
	if in.TransporterAddr != "" {
		t, err := checkAddress("transporter", in.TransporterAddr)
		if err != nil {
			return nil, err
		}
		details.Transporter = t.Hex()
	}
	if in.OnChainCommitment != "" {
		details.OnChainCommitment = in.OnChainCommitment
	}
	c.CredentialSubject.SubjectDetails = &details
	c.CredentialSubject.TxHashCommitment = nil
	c.CredentialSubject.DeliveryStatus = nil
	Normalize(c)

	log.Debug("Built delivery draft", "id", c.ID, "previous", orderCID, "synthesized", synthesized)
	return &DeliveryDraft{Credential: c, ContextSynthesized: synthesized}, nil
}

// CommitDeliveryTx commits the delivery settlement transaction hash into a
// countersigned delivery credential, reusing the purchase commitment's
// linkage tag when one exists.
func (b *Builder) CommitDeliveryTx(ctx context.Context, c *Credential, txHash string) error {
	if !c.IsDelivered() {
		return fmt.Errorf("%w: issuer and holder proofs are required before the delivery commitment", ErrMissingField)
	}

	var tag common.Hash
	if p := c.CredentialSubject.PurchaseTxHashCommitment; p != nil && p.BindingTag != "" {
		t, err := commitment.ParseTag(p.BindingTag)
		if err != nil {
			return fmt.Errorf("failed to read purchase linkage tag: %w", err)
		}
		tag = t
	} else {
		buyer, ok := c.Holder.Address()
		if !ok {
			return fmt.Errorf("%w: holder address", ErrMissingField)
		}
		lctx, err := b.linkageContext(c, buyer, "")
		if err != nil {
			return err
		}
		if tag, err = bindingtag.DeriveLinkageTag(lctx); err != nil {
			return err
		}
	}

	res, err := b.committer.CommitTxHash(ctx, txHash, &tag)
	if err != nil {
		return err
	}
	warnUnverified(res, "delivery transaction")
	return c.AttachTxHashCommitment(DeliveryTx, res.TxHashCommitment())
}

func (b *Builder) commitPrice(ctx context.Context, value uint64, escrow, seller common.Address, bctx bindingtag.Context) (PriceField, error) {
	blinding, err := commitment.DeriveBlinding(escrow.Hex(), seller.Hex())
	if err != nil {
		return PriceField{}, err
	}
	tag, err := bindingtag.DeriveContextTag(bctx)
	if err != nil {
		return PriceField{}, err
	}
	res, err := b.committer.CommitValueWithBinding(ctx, value, blinding, tag)
	if err != nil {
		return PriceField{}, err
	}
	warnUnverified(res, "price")
	return HiddenPrice(res.ZKPProof(&bctx))
}

func (b *Builder) commitTx(ctx context.Context, txHash string, lctx bindingtag.LinkageContext) (*commitment.TxHashCommitment, error) {
	tag, err := bindingtag.DeriveLinkageTag(lctx)
	if err != nil {
		return nil, err
	}
	res, err := b.committer.CommitTxHash(ctx, txHash, &tag)
	if err != nil {
		return nil, err
	}
	warnUnverified(res, "purchase transaction")
	return res.TxHashCommitment(), nil
}

// deliveryContext recovers the binding context of the previous stage, or
// synthesizes one from the builder and input when none is present.
func (b *Builder) deliveryContext(order *Credential, orderCID string, in DeliveryInput) (bindingtag.Context, bool, error) {
	if z := order.CredentialSubject.Price.ZKP(); z != nil && z.BindingContext != nil {
		bctx := *z.BindingContext
		bctx.Stage = 2
		bctx.PreviousVCCid = orderCID
		if bctx.SchemaVersion == "" {
			bctx.SchemaVersion = SchemaVersion1
		}
		return bctx, false, nil
	}

	escrowAddr := in.EscrowAddr
	if escrowAddr == "" && order.CredentialSubject.SubjectDetails != nil {
		escrowAddr = order.CredentialSubject.SubjectDetails.ProductContract
	}
	escrow, err := checkAddress("escrow", escrowAddr)
	if err != nil {
		return bindingtag.Context{}, false, err
	}
	log.Warn("Binding context missing from previous credential, generating a fresh one", "previous", orderCID, "escrow", escrow)
	return bindingtag.Context{
		ChainID:       bindingtag.DecimalFromInt64(b.chainID),
		EscrowAddr:    escrow.Hex(),
		ProductID:     in.ProductID,
		Stage:         2,
		SchemaVersion: SchemaVersion1,
		PreviousVCCid: orderCID,
	}, true, nil
}

// linkageContext takes chain, escrow and product from the credential's price
// binding context, falling back to the builder chain id, subjectDetails and
// productID.
func (b *Builder) linkageContext(c *Credential, buyer common.Address, productID bindingtag.Decimal) (bindingtag.LinkageContext, error) {
	lctx := bindingtag.LinkageContext{
		ChainID:   bindingtag.DecimalFromInt64(b.chainID),
		ProductID: productID,
		BuyerAddr: buyer.Hex(),
	}
	if c.CredentialSubject.SubjectDetails != nil {
		lctx.EscrowAddr = c.CredentialSubject.SubjectDetails.ProductContract
	}
	if z := c.CredentialSubject.Price.ZKP(); z != nil && z.BindingContext != nil {
		lctx.ChainID = z.BindingContext.ChainID
		lctx.EscrowAddr = z.BindingContext.EscrowAddr
		lctx.ProductID = z.BindingContext.ProductID
	}
	if err := lctx.Validate(); err != nil {
		return bindingtag.LinkageContext{}, fmt.Errorf("failed to build linkage context: %w", err)
	}
	return lctx, nil
}

func (b *Builder) requireStored(ctx context.Context, contentID string) error {
	if b.content == nil {
		return nil
	}
	if _, err := b.content.Get(ctx, contentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s: %w", ErrChainLinkBroken, contentID, err)
		}
		return fmt.Errorf("failed to resolve previous credential %s: %w", contentID, err)
	}
	return nil
}

func warnUnverified(res *commitment.Result, what string) {
	if res.Warning != nil {
		log.Warn("Using unverified commitment", "value", what, "commitment", util.ShortHex(res.Commitment))
	}
}

func checkAddress(label, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s address %q is not a valid address", ErrMissingField, label, s)
	}
	return common.HexToAddress(s), nil
}
