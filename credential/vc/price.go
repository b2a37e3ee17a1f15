package vc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pilacorp/go-credential-chain/commitment"
)

const emptyPrice = "{}"

// PriceField is the credentialSubject.price value: either a hidden price
// carrying a commitment, or empty.
//
// The signed form of the price is its exact string. A parsed price keeps the
// string it was read from so that re-signing and verification hash the same
// bytes the original signer saw.
type PriceField struct {
	zkp *commitment.ZKPProof
	raw string
	// asObject records that the price was stored as a JSON object.
	asObject bool
}

type hiddenPrice struct {
	Hidden   bool                 `json:"hidden"`
	ZKPProof *commitment.ZKPProof `json:"zkpProof,omitempty"`
}

// HiddenPrice returns a price field holding a commitment.
func HiddenPrice(z *commitment.ZKPProof) (PriceField, error) {
	if z == nil || z.Commitment == "" {
		return PriceField{}, fmt.Errorf("%w: price commitment", ErrMissingField)
	}
	raw, err := json.Marshal(hiddenPrice{Hidden: true, ZKPProof: z})
	if err != nil {
		return PriceField{}, fmt.Errorf("failed to marshal price: %w", err)
	}
	cp := *z
	return PriceField{zkp: &cp, raw: string(raw)}, nil
}

// EmptyPrice returns a price field with no commitment.
func EmptyPrice() PriceField {
	return PriceField{raw: emptyPrice}
}

// IsHidden reports whether the field carries a commitment.
func (p PriceField) IsHidden() bool {
	return p.zkp != nil
}

// ZKP returns the commitment object, or nil for an empty price.
func (p PriceField) ZKP() *commitment.ZKPProof {
	if p.zkp == nil {
		return nil
	}
	cp := *p.zkp
	return &cp
}

// String returns the signed string form of the price.
func (p PriceField) String() string {
	if p.raw == "" {
		return emptyPrice
	}
	return p.raw
}

// MarshalJSON writes the price in the form it was read in. Prices created
// locally are written as JSON strings.
func (p PriceField) MarshalJSON() ([]byte, error) {
	if p.asObject {
		return []byte(p.String()), nil
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a JSON string containing the price object, the price
// object itself, or null.
func (p *PriceField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*p = EmptyPrice()
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to parse price: %w", err)
		}
		if s == "" {
			*p = EmptyPrice()
			return nil
		}
		parsed, err := parsePrice([]byte(s))
		if err != nil {
			return err
		}
		parsed.raw = s
		*p = parsed
		return nil
	case data[0] == '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return fmt.Errorf("failed to parse price: %w", err)
		}
		parsed, err := parsePrice(buf.Bytes())
		if err != nil {
			return err
		}
		parsed.raw = buf.String()
		parsed.asObject = true
		*p = parsed
		return nil
	default:
		return fmt.Errorf("failed to parse price: expected string or object, got %s", string(data))
	}
}

func parsePrice(data []byte) (PriceField, error) {
	var hp hiddenPrice
	if err := json.Unmarshal(data, &hp); err != nil {
		return PriceField{}, fmt.Errorf("failed to parse price object: %w", err)
	}
	if hp.ZKPProof == nil || hp.ZKPProof.Commitment == "" {
		return PriceField{}, nil
	}
	return PriceField{zkp: hp.ZKPProof}, nil
}

func (p PriceField) clone() PriceField {
	out := p
	out.zkp = p.ZKP()
	return out
}
