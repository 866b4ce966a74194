package trader

import (
	"fmt"
	"math/big"
)

// Order data for both traders is a single 32-byte big-endian minimum output
// amount. Empty data means no minimum.

// EncodeOrderData builds the Data payload for a sale action.
func EncodeOrderData(minOutputAmount *big.Int) []byte {
	data := make([]byte, 32)
	if minOutputAmount != nil {
		minOutputAmount.FillBytes(data)
	}
	return data
}

func decodeOrderData(data []byte) (*big.Int, error) {
	switch len(data) {
	case 0:
		return new(big.Int), nil
	case 32:
		return new(big.Int).SetBytes(data), nil
	default:
		return nil, fmt.Errorf("order data length %d: %w", len(data), ErrInvalidOrderData)
	}
}
