package bindingtag

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EncodePacked encodes values the way Solidity's abi.encodePacked does: tight
// packing, no padding, no length prefixes.
//
// Supported types: string, address, uint8 ... uint256, bytes1 ... bytes32.
// Values are strings: decimal for uints, hex for addresses and fixed bytes.
func EncodePacked(types []string, values []string) ([]byte, error) {
	if len(types) != len(values) {
		return nil, fmt.Errorf("types and values length mismatch")
	}

	var result []byte
	for i, typeStr := range types {
		typ, err := abi.NewType(typeStr, "", nil)
		if err != nil {
			return nil, fmt.Errorf("invalid type %s: %w", typeStr, err)
		}

		encoded, err := packValue(typ, values[i])
		if err != nil {
			return nil, err
		}
		result = append(result, encoded...)
	}

	return result, nil
}

func packValue(typ abi.Type, value string) ([]byte, error) {
	switch typ.T {
	case abi.StringTy:
		return []byte(value), nil

	case abi.AddressTy:
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("invalid address: %s", value)
		}
		return common.HexToAddress(value).Bytes(), nil

	case abi.UintTy:
		val, ok := new(big.Int).SetString(value, 10)
		if !ok || val.Sign() < 0 {
			return nil, fmt.Errorf("invalid uint value: %s", value)
		}
		if val.BitLen() > typ.Size {
			return nil, fmt.Errorf("value %s exceeds uint%d max value", value, typ.Size)
		}
		encoded := make([]byte, typ.Size/8)
		val.FillBytes(encoded)
		return encoded, nil

	case abi.FixedBytesTy:
		raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid bytes%d %s: %w", typ.Size, value, err)
		}
		if len(raw) != typ.Size {
			return nil, fmt.Errorf("bytes%d must be %d bytes, got %d", typ.Size, typ.Size, len(raw))
		}
		return raw, nil

	default:
		return nil, fmt.Errorf("unsupported type: %s", typ.String())
	}
}
