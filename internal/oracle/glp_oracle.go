package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/gmx"
	"github.com/midaseth/dolomite-margin-modules/internal/margin"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
)

var (
	// ErrInvalidToken is returned when an oracle is asked to price a token
	// it is not registered for.
	ErrInvalidToken = errors.New("oracle cannot price token")

	// ErrRedemptionPaused propagates the external pause flag: a price
	// computed while redemption is halted is not actionable.
	ErrRedemptionPaused = errors.New("external redemption is paused")
)

const feeBasisPointsDivisor = 10_000

// GlpPriceOracle prices the wrapped market's token (the vault factory) by
// composing the liquid asset's oracle price with the pool's redemption rate
// for one canonical GLP unit. The worst-case burn fee is deducted, so this
// spot price always sits at or below the unwrapper's realizable price; the
// gap is bounded by the pool's dynamic fee band.
type GlpPriceOracle struct {
	pool         *gmx.Pool
	wrappedToken common.Address // the factory, as registered with the ledger
	liquidToken  common.Address
	liquidOracle margin.PriceOracle
}

func NewGlpPriceOracle(pool *gmx.Pool, wrappedToken, liquidToken common.Address, liquidOracle margin.PriceOracle) *GlpPriceOracle {
	return &GlpPriceOracle{
		pool:         pool,
		wrappedToken: wrappedToken,
		liquidToken:  liquidToken,
		liquidOracle: liquidOracle,
	}
}

// GetPrice returns the ledger price (36 - 18 decimals) for the wrapped token.
func (o *GlpPriceOracle) GetPrice(tokenAddr common.Address) (types.MonetaryPrice, error) {
	if tokenAddr != o.wrappedToken {
		return types.MonetaryPrice{}, fmt.Errorf("token %s: %w", tokenAddr.Hex(), ErrInvalidToken)
	}
	if o.pool.IsRedemptionPaused() {
		return types.MonetaryPrice{}, ErrRedemptionPaused
	}

	liquidPrice, err := o.liquidOracle.GetPrice(o.liquidToken)
	if err != nil {
		return types.MonetaryPrice{}, fmt.Errorf("liquid asset price: %w", err)
	}

	// Minimized AUM price with the full fee bound deducted.
	glpPrice := o.pool.GlpPrice(false)
	maxFee := o.pool.MaxRedemptionFeeBps()
	value := new(big.Int).Mul(glpPrice, big.NewInt(feeBasisPointsDivisor-int64(maxFee)))
	value.Div(value, big.NewInt(feeBasisPointsDivisor))

	// Scale by the liquid asset's own oracle price (1 for a dollar-pegged
	// asset) and adjust from pool precision (1e30) down to the ledger's
	// 36 - 18 = 18 decimal convention.
	value.Mul(value, liquidPrice.Value)
	value.Div(value, types.TenPow(types.OraclePrecisionTotal-types.UsdcDecimals))
	value.Div(value, types.TenPow(types.GlpPricePrecision-(types.OraclePrecisionTotal-types.GlpDecimals)))

	return types.MonetaryPrice{Value: value}, nil
}

// StaticPriceOracle serves fixed prices per token, the way test deployments
// pin liquid-asset prices. Safe for concurrent use.
type StaticPriceOracle struct {
	mu     sync.Mutex
	prices map[common.Address]*big.Int
}

func NewStaticPriceOracle() *StaticPriceOracle {
	return &StaticPriceOracle{prices: make(map[common.Address]*big.Int)}
}

// SetPrice pins a token's ledger price.
func (o *StaticPriceOracle) SetPrice(tokenAddr common.Address, value *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[tokenAddr] = new(big.Int).Set(value)
}

func (o *StaticPriceOracle) GetPrice(tokenAddr common.Address) (types.MonetaryPrice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.prices[tokenAddr]
	if !ok {
		return types.MonetaryPrice{}, fmt.Errorf("token %s: %w", tokenAddr.Hex(), ErrInvalidToken)
	}
	return types.MonetaryPrice{Value: new(big.Int).Set(p)}, nil
}
