package gmx

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/token"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
)

var (
	// ErrRedemptionPaused is surfaced unmodified to callers: masking it
	// would hide real economic risk.
	ErrRedemptionPaused = errors.New("glp redemption is paused")

	// ErrUnsupportedToken is returned for a mint/redeem token the pool
	// does not hold.
	ErrUnsupportedToken = errors.New("token not supported by glp pool")

	// ErrInsufficientOutput is returned when a conversion lands below the
	// caller's minimum.
	ErrInsufficientOutput = errors.New("output below minimum")

	// ErrNotKeeper guards keeper-only pool administration.
	ErrNotKeeper = errors.New("caller is not the pool keeper")

	// ErrZeroAmount rejects zero-size conversions.
	ErrZeroAmount = errors.New("amount must be positive")
)

const feeBasisPointsDivisor = 10_000

// Pool models the GLP liquidity pool: receipt-token supply backed by pool
// assets, with amount-dependent mint/burn fees. Rates are deterministic for a
// fixed pool state, which is what makes quotes reproducible within a batch.
//
// Prices carry 30 decimals of USD precision. AUM is tracked as a min/max
// band the way the reward protocol does: minting prices GLP at the maximized
// AUM, redemption at the minimized one.
type Pool struct {
	mu sync.Mutex

	addr   common.Address
	keeper common.Address

	sGlp *token.TestToken // staked GLP receipt token
	usdc *token.TestToken // sole liquid pool asset in this deployment

	aumMin    *big.Int // USD, 1e30
	aumMax    *big.Int // USD, 1e30
	glpSupply *big.Int // 1e18

	baseFeeBps uint64 // flat mint/burn fee
	taxFeeBps  uint64 // size-dependent fee component, linear in trade share of AUM

	redemptionPaused bool
}

type poolSnapshot struct {
	aumMin    *big.Int
	aumMax    *big.Int
	glpSupply *big.Int
	paused    bool
}

// NewPool creates a pool. Initial liquidity and supply are established with
// SeedLiquidity before first use.
func NewPool(addr, keeper common.Address, sGlp, usdc *token.TestToken, baseFeeBps, taxFeeBps uint64) *Pool {
	return &Pool{
		addr:       addr,
		keeper:     keeper,
		sGlp:       sGlp,
		usdc:       usdc,
		aumMin:     new(big.Int),
		aumMax:     new(big.Int),
		glpSupply:  new(big.Int),
		baseFeeBps: baseFeeBps,
		taxFeeBps:  taxFeeBps,
	}
}

func (p *Pool) Address() common.Address { return p.addr }

// SeedLiquidity establishes the pool state: usdcLiquidity is credited to the
// pool, glpSupply minted to the seeder, and the AUM band set. Keeper only.
func (p *Pool) SeedLiquidity(caller, seeder common.Address, usdcLiquidity, glpSupply, aumMin, aumMax *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.keeper {
		return fmt.Errorf("seed liquidity: %w", ErrNotKeeper)
	}
	p.usdc.Mint(p.addr, usdcLiquidity)
	p.sGlp.Mint(seeder, glpSupply)
	p.glpSupply = new(big.Int).Add(p.glpSupply, glpSupply)
	p.aumMin = new(big.Int).Set(aumMin)
	p.aumMax = new(big.Int).Set(aumMax)
	return nil
}

// SetRedemptionPaused flips the emergency pause flag. Keeper only.
func (p *Pool) SetRedemptionPaused(caller common.Address, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.keeper {
		return fmt.Errorf("set paused: %w", ErrNotKeeper)
	}
	p.redemptionPaused = paused
	return nil
}

// IsRedemptionPaused reports the emergency pause flag.
func (p *Pool) IsRedemptionPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.redemptionPaused
}

// MaxRedemptionFeeBps returns the worst-case burn fee. Oracles deduct this
// bound so their price always sits at or below any realizable redemption.
func (p *Pool) MaxRedemptionFeeBps() uint64 {
	return p.baseFeeBps + p.taxFeeBps
}

// GlpPrice returns the USD price (1e30) of one whole GLP. maximize selects
// the AUM bound: true for minting, false for redemption.
func (p *Pool) GlpPrice(maximize bool) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.glpPriceLocked(maximize)
}

func (p *Pool) glpPriceLocked(maximize bool) *big.Int {
	aum := p.aumMin
	if maximize {
		aum = p.aumMax
	}
	if p.glpSupply.Sign() == 0 {
		return new(big.Int)
	}
	price := new(big.Int).Mul(aum, types.OneGlp)
	return price.Div(price, p.glpSupply)
}

// GetRedemptionAmount quotes redeeming glpAmount of GLP into outputToken.
// Pure: no state change. The realized fee grows with trade size, so quotes
// for differing amounts are not proportional.
func (p *Pool) GetRedemptionAmount(outputToken common.Address, glpAmount *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.redemptionAmountLocked(outputToken, glpAmount)
}

func (p *Pool) redemptionAmountLocked(outputToken common.Address, glpAmount *big.Int) (*big.Int, error) {
	if outputToken != p.usdc.Address() {
		return nil, fmt.Errorf("redeem to %s: %w", outputToken.Hex(), ErrUnsupportedToken)
	}
	if glpAmount == nil || glpAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	usd := new(big.Int).Mul(glpAmount, p.glpPriceLocked(false))
	usd.Div(usd, types.OneGlp)

	fee := p.dynamicFeeBpsLocked(usd)
	usdAfterFee := new(big.Int).Mul(usd, big.NewInt(feeBasisPointsDivisor-int64(fee)))
	usdAfterFee.Div(usdAfterFee, big.NewInt(feeBasisPointsDivisor))

	// 1e30 USD -> 1e6 USDC at $1.00
	out := new(big.Int).Div(usdAfterFee, types.TenPow(types.GlpPricePrecision-types.UsdcDecimals))
	return out, nil
}

// GetMintAmount quotes minting GLP from inputAmount of inputToken. Pure.
func (p *Pool) GetMintAmount(inputToken common.Address, inputAmount *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mintAmountLocked(inputToken, inputAmount)
}

func (p *Pool) mintAmountLocked(inputToken common.Address, inputAmount *big.Int) (*big.Int, error) {
	if inputToken != p.usdc.Address() {
		return nil, fmt.Errorf("mint from %s: %w", inputToken.Hex(), ErrUnsupportedToken)
	}
	if inputAmount == nil || inputAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	usd := new(big.Int).Mul(inputAmount, types.TenPow(types.GlpPricePrecision-types.UsdcDecimals))
	fee := p.dynamicFeeBpsLocked(usd)
	usdAfterFee := new(big.Int).Mul(usd, big.NewInt(feeBasisPointsDivisor-int64(fee)))
	usdAfterFee.Div(usdAfterFee, big.NewInt(feeBasisPointsDivisor))

	price := p.glpPriceLocked(true)
	if price.Sign() == 0 {
		return nil, fmt.Errorf("mint: pool not seeded: %w", ErrUnsupportedToken)
	}
	out := new(big.Int).Mul(usdAfterFee, types.OneGlp)
	out.Div(out, price)
	return out, nil
}

// UnstakeAndRedeemGlp burns the caller's GLP and pays out the liquid token.
// Fails with ErrRedemptionPaused while the emergency flag is set and with
// ErrInsufficientOutput when the realized amount is below minOut.
func (p *Pool) UnstakeAndRedeemGlp(
	caller common.Address,
	outputToken common.Address,
	glpAmount *big.Int,
	minOut *big.Int,
	receiver common.Address,
) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.redemptionPaused {
		return nil, ErrRedemptionPaused
	}
	out, err := p.redemptionAmountLocked(outputToken, glpAmount)
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("redeemed %s, minimum %s: %w", out, minOut, ErrInsufficientOutput)
	}

	if err := p.sGlp.Burn(caller, glpAmount); err != nil {
		return nil, fmt.Errorf("burn glp: %w", err)
	}
	if err := p.usdc.Transfer(p.addr, receiver, out); err != nil {
		return nil, fmt.Errorf("pay out: %w", err)
	}
	p.reduceAumLocked(glpAmount)
	p.glpSupply = new(big.Int).Sub(p.glpSupply, glpAmount)
	return out, nil
}

// MintAndStakeGlp pulls the liquid token from the caller and mints staked GLP
// to the receiver.
func (p *Pool) MintAndStakeGlp(
	caller common.Address,
	inputToken common.Address,
	inputAmount *big.Int,
	minGlp *big.Int,
	receiver common.Address,
) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out, err := p.mintAmountLocked(inputToken, inputAmount)
	if err != nil {
		return nil, err
	}
	if minGlp != nil && out.Cmp(minGlp) < 0 {
		return nil, fmt.Errorf("minted %s, minimum %s: %w", out, minGlp, ErrInsufficientOutput)
	}

	if err := p.usdc.Transfer(caller, p.addr, inputAmount); err != nil {
		return nil, fmt.Errorf("pull funds: %w", err)
	}
	p.sGlp.Mint(receiver, out)
	p.growAumLocked(inputAmount)
	p.glpSupply = new(big.Int).Add(p.glpSupply, out)
	return out, nil
}

// dynamicFeeBpsLocked computes the size-dependent fee: the flat base plus a
// tax share that scales linearly with the trade's USD size relative to AUM,
// capped at base + tax.
func (p *Pool) dynamicFeeBpsLocked(usd *big.Int) uint64 {
	if p.aumMin.Sign() == 0 {
		return p.baseFeeBps + p.taxFeeBps
	}
	tax := new(big.Int).Mul(usd, new(big.Int).SetUint64(p.taxFeeBps))
	tax.Div(tax, p.aumMin)
	if !tax.IsUint64() || tax.Uint64() > p.taxFeeBps {
		return p.baseFeeBps + p.taxFeeBps
	}
	return p.baseFeeBps + tax.Uint64()
}

func (p *Pool) reduceAumLocked(glpAmount *big.Int) {
	for _, aum := range []*big.Int{p.aumMin, p.aumMax} {
		delta := new(big.Int).Mul(glpAmount, aum)
		if p.glpSupply.Sign() != 0 {
			delta.Div(delta, p.glpSupply)
		}
		aum.Sub(aum, delta)
	}
}

func (p *Pool) growAumLocked(usdcAmount *big.Int) {
	usd := new(big.Int).Mul(usdcAmount, types.TenPow(types.GlpPricePrecision-types.UsdcDecimals))
	p.aumMin.Add(p.aumMin, usd)
	p.aumMax.Add(p.aumMax, usd)
}

// Snapshot captures pool-level state for batch rollback. Token balances are
// snapshotted separately by their own Reversible registrations.
func (p *Pool) Snapshot() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return poolSnapshot{
		aumMin:    new(big.Int).Set(p.aumMin),
		aumMax:    new(big.Int).Set(p.aumMax),
		glpSupply: new(big.Int).Set(p.glpSupply),
		paused:    p.redemptionPaused,
	}
}

// Restore rewinds pool-level state to a snapshot.
func (p *Pool) Restore(snapshot any) {
	snap, ok := snapshot.(poolSnapshot)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aumMin = new(big.Int).Set(snap.aumMin)
	p.aumMax = new(big.Int).Set(snap.aumMax)
	p.glpSupply = new(big.Int).Set(snap.glpSupply)
	p.redemptionPaused = snap.paused
}
