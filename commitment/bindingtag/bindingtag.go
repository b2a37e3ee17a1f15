// Package bindingtag derives the deterministic tags that scope a commitment
// proof to one credential instance, and the linkage tag that ties a purchase
// transaction commitment to its delivery counterpart.
//
// Both issuer and holder compute the same tag from public inputs, so no
// handshake is needed to agree on it.
package bindingtag

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Protocol discriminators. Each derivation hashes its own label first so that
// tags of different families can never collide.
const (
	ContextProtocolV1 = "zkp-bind-v1"
	ContextProtocolV2 = "zkp-bind-v2"
	LinkageProtocolV1 = "tx-hash-bind-v1"
)

// MaxStage is the last stage of a credential chain.
const MaxStage = 2

// ErrInvalidContext is returned when tag inputs fail validation.
var ErrInvalidContext = errors.New("invalid binding context")

// Decimal is a non-negative integer carried as a decimal string. It accepts
// either a JSON string or a JSON number.
type Decimal string

// UnmarshalJSON implements json.Unmarshaler.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Decimal(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decimal must be a string or number: %w", err)
	}
	*d = Decimal(n.String())
	return nil
}

// DecimalFromInt64 formats n as a Decimal.
func DecimalFromInt64(n int64) Decimal {
	return Decimal(strconv.FormatInt(n, 10))
}

// Uint256 parses the decimal as an unsigned 256-bit integer.
func (d Decimal) Uint256() (*uint256.Int, error) {
	if d == "" {
		return nil, fmt.Errorf("%w: empty integer", ErrInvalidContext)
	}
	v, err := uint256.FromDecimal(string(d))
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a non-negative integer: %v", ErrInvalidContext, string(d), err)
	}
	return v, nil
}

// Context is the binding context stored next to a price commitment.
type Context struct {
	ChainID       Decimal `json:"chainId"`
	EscrowAddr    string  `json:"escrowAddr"`
	ProductID     Decimal `json:"productId"`
	Stage         uint8   `json:"stage"`
	SchemaVersion string  `json:"schemaVersion"`
	PreviousVCCid string  `json:"previousVCCid,omitempty"`
}

// LinkageContext identifies one purchase/delivery pair.
type LinkageContext struct {
	ChainID    Decimal `json:"chainId"`
	EscrowAddr string  `json:"escrowAddr"`
	ProductID  Decimal `json:"productId"`
	BuyerAddr  string  `json:"buyerAddr"`
}

// Validate checks the context fields.
func (c Context) Validate() error {
	if _, err := c.ChainID.Uint256(); err != nil {
		return fmt.Errorf("chainId: %w", err)
	}
	if _, err := c.ProductID.Uint256(); err != nil {
		return fmt.Errorf("productId: %w", err)
	}
	if !common.IsHexAddress(c.EscrowAddr) {
		return fmt.Errorf("%w: invalid escrow address %q", ErrInvalidContext, c.EscrowAddr)
	}
	if c.Stage > MaxStage {
		return fmt.Errorf("%w: stage %d out of range 0..%d", ErrInvalidContext, c.Stage, MaxStage)
	}
	if c.SchemaVersion == "" {
		return fmt.Errorf("%w: schemaVersion is required", ErrInvalidContext)
	}
	return nil
}

// Validate checks the linkage context fields.
func (c LinkageContext) Validate() error {
	if _, err := c.ChainID.Uint256(); err != nil {
		return fmt.Errorf("chainId: %w", err)
	}
	if _, err := c.ProductID.Uint256(); err != nil {
		return fmt.Errorf("productId: %w", err)
	}
	if !common.IsHexAddress(c.EscrowAddr) {
		return fmt.Errorf("%w: invalid escrow address %q", ErrInvalidContext, c.EscrowAddr)
	}
	if !common.IsHexAddress(c.BuyerAddr) {
		return fmt.Errorf("%w: invalid buyer address %q", ErrInvalidContext, c.BuyerAddr)
	}
	return nil
}

// DeriveContextTag computes
//
//	keccak256(encodePacked(protocol, chainId, escrow, productId, uint8 stage, schemaVersion[, previousVCCid]))
//
// using the v2 protocol label when a previous credential id is present.
func DeriveContextTag(ctx Context) (common.Hash, error) {
	if err := ctx.Validate(); err != nil {
		return common.Hash{}, err
	}
	chainID, _ := ctx.ChainID.Uint256()
	productID, _ := ctx.ProductID.Uint256()

	types := []string{"string", "uint256", "address", "uint256", "uint8", "string"}
	values := []string{
		ContextProtocolV1,
		chainID.Dec(),
		common.HexToAddress(ctx.EscrowAddr).Hex(),
		productID.Dec(),
		strconv.Itoa(int(ctx.Stage)),
		ctx.SchemaVersion,
	}
	if ctx.PreviousVCCid != "" {
		values[0] = ContextProtocolV2
		types = append(types, "string")
		values = append(values, ctx.PreviousVCCid)
	}

	packed, err := EncodePacked(types, values)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode binding context: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// DeriveLinkageTag computes
//
//	keccak256(encodePacked("tx-hash-bind-v1", chainId, escrow, productId, buyer))
func DeriveLinkageTag(ctx LinkageContext) (common.Hash, error) {
	if err := ctx.Validate(); err != nil {
		return common.Hash{}, err
	}
	chainID, _ := ctx.ChainID.Uint256()
	productID, _ := ctx.ProductID.Uint256()

	packed, err := EncodePacked(
		[]string{"string", "uint256", "address", "uint256", "address"},
		[]string{
			LinkageProtocolV1,
			chainID.Dec(),
			common.HexToAddress(ctx.EscrowAddr).Hex(),
			productID.Dec(),
			common.HexToAddress(ctx.BuyerAddr).Hex(),
		},
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode linkage context: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}
