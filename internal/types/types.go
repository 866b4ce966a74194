package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MarketID identifies a registered market on the margin ledger.
// Assigned at registration, immutable thereafter.
type MarketID uint64

// AccountInfo identifies a sub-ledger of balances under one owner.
// Many accounts per owner; never shared between owners.
type AccountInfo struct {
	Owner  common.Address
	Number uint64
}

func (a AccountInfo) String() string {
	return fmt.Sprintf("%s:%d", a.Owner.Hex(), a.Number)
}

// Wei is a signed token amount as seen by the margin ledger.
// Sign and magnitude are kept consistent: a zero value has Sign == false
// and Value == 0.
type Wei struct {
	Sign  bool // true = positive (collateral), false = negative (debt) or zero
	Value *big.Int
}

// NewWei builds a Wei from a signed big.Int.
func NewWei(signed *big.Int) Wei {
	if signed == nil || signed.Sign() == 0 {
		return Wei{Sign: false, Value: new(big.Int)}
	}
	if signed.Sign() > 0 {
		return Wei{Sign: true, Value: new(big.Int).Set(signed)}
	}
	return Wei{Sign: false, Value: new(big.Int).Neg(signed)}
}

// Signed returns the balance as a signed big.Int.
func (w Wei) Signed() *big.Int {
	if w.Value == nil {
		return new(big.Int)
	}
	if w.Sign {
		return new(big.Int).Set(w.Value)
	}
	return new(big.Int).Neg(w.Value)
}

// IsZero reports whether the balance is zero.
func (w Wei) IsZero() bool {
	return w.Value == nil || w.Value.Sign() == 0
}

func (w Wei) String() string {
	if w.IsZero() {
		return "0"
	}
	if w.Sign {
		return w.Value.String()
	}
	return "-" + w.Value.String()
}

// MonetaryPrice is a ledger oracle price. Value carries 36 - tokenDecimals
// decimals of precision so that price * amount always yields a 36-decimal
// USD value regardless of the token's own precision.
type MonetaryPrice struct {
	Value *big.Int
}

// Standard token precisions used across the GLP ecosystem.
const (
	GlpDecimals  = 18
	GmxDecimals  = 18
	UsdcDecimals = 6
	WethDecimals = 18

	// GlpPricePrecision is the precision of raw GLP pool prices (USD, 1e30).
	GlpPricePrecision = 30

	// OraclePrecisionTotal is the combined precision of a ledger price and
	// its token amount (36 decimals).
	OraclePrecisionTotal = 36
)

var (
	// ZeroAddress is the null address; never a valid owner.
	ZeroAddress = common.Address{}

	tenPow = func(n int64) *big.Int {
		return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
	}

	// OneGlp is one canonical unit of GLP (1e18).
	OneGlp = tenPow(GlpDecimals)
)

// TenPow returns 10^n. n must be non-negative.
func TenPow(n int64) *big.Int {
	return tenPow(n)
}

// DeriveAddress produces a stable pseudo-address for an in-process component
// from a seed label. Distinct seeds never collide in practice (keccak-256).
func DeriveAddress(seed string) common.Address {
	hash := crypto.Keccak256([]byte("dolomite-margin-modules:" + seed))
	return common.BytesToAddress(hash[12:])
}
