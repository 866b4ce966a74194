package testutil

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/event"
	"github.com/midaseth/dolomite-margin-modules/internal/gmx"
	"github.com/midaseth/dolomite-margin-modules/internal/margin"
	"github.com/midaseth/dolomite-margin-modules/internal/oracle"
	"github.com/midaseth/dolomite-margin-modules/internal/token"
	"github.com/midaseth/dolomite-margin-modules/internal/trader"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
	"github.com/midaseth/dolomite-margin-modules/internal/vaults"
)

// Pool fee configuration used across tests: 25 bps flat plus up to 50 bps
// size-dependent tax, giving a 75 bps worst-case redemption fee.
const (
	BaseFeeBps = 25
	TaxFeeBps  = 50
)

// Fixture wires the whole wrapped-collateral stack against an in-memory
// simulated reward protocol: seeded liquidity pool, reward router, vester,
// margin ledger with a liquid market and the wrapped market, vault factory,
// and the trader pair, fully initialized.
type Fixture struct {
	Governance common.Address
	Keeper     common.Address
	Whale      common.Address // holds the seeded receipt-token supply
	Alice      common.Address
	Bob        common.Address

	Ledger    *margin.Ledger
	Registry  *gmx.Registry
	Factory   *vaults.Factory
	Unwrapper *trader.Unwrapper
	Wrapper   *trader.Wrapper

	GlpOracle  *oracle.GlpPriceOracle
	UsdcOracle *oracle.StaticPriceOracle

	UsdcMarket    types.MarketID
	WrappedMarket types.MarketID
}

// NewFixture builds the stack. The pool is seeded so GLP redeems at $1.00
// and mints at $1.01 before fees; USDC is pinned at $1.00.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()

	f := &Fixture{
		Governance: types.DeriveAddress("test:governance"),
		Keeper:     types.DeriveAddress("test:keeper"),
		Whale:      types.DeriveAddress("test:whale"),
		Alice:      types.DeriveAddress("test:alice"),
		Bob:        types.DeriveAddress("test:bob"),
	}

	sGlp := token.NewTestToken(types.DeriveAddress("test:sglp"), "sGLP", types.GlpDecimals)
	usdc := token.NewTestToken(types.DeriveAddress("test:usdc"), "USDC", types.UsdcDecimals)
	gmxTok := token.NewTestToken(types.DeriveAddress("test:gmx"), "GMX", 18)
	esGmx := token.NewTestToken(types.DeriveAddress("test:esgmx"), "esGMX", 18)
	weth := token.NewTestToken(types.DeriveAddress("test:weth"), "WETH", 18)

	pool := gmx.NewPool(types.DeriveAddress("test:glp-pool"), f.Keeper, sGlp, usdc, BaseFeeBps, TaxFeeBps)
	if err := pool.SeedLiquidity(
		f.Keeper,
		f.Whale,
		Usdc(100_000_000),
		Glp(100_000_000),
		Usd30(100_000_000),
		Usd30(101_000_000),
	); err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	vester := gmx.NewVester(types.DeriveAddress("test:vester"), f.Keeper, gmxTok, esGmx)
	router := gmx.NewRewardRouter(types.DeriveAddress("test:reward-router"), f.Keeper, gmxTok, esGmx, weth, vester)

	f.Registry = &gmx.Registry{
		Pool:         pool,
		RewardRouter: router,
		Vester:       vester,
		SGlp:         sGlp,
		Usdc:         usdc,
		Gmx:          gmxTok,
		EsGmx:        esGmx,
		Weth:         weth,
	}

	f.Ledger = margin.NewLedger(types.DeriveAddress("test:ledger"), f.Governance, event.NopRecorder{}, nil)

	f.UsdcOracle = oracle.NewStaticPriceOracle()
	f.UsdcOracle.SetPrice(usdc.Address(), types.TenPow(types.OraclePrecisionTotal-types.UsdcDecimals))

	var err error
	f.UsdcMarket, err = f.Ledger.OwnerAddMarket(f.Governance, usdc, f.UsdcOracle, margin.AlwaysZeroInterestSetter{}, false)
	if err != nil {
		t.Fatalf("add usdc market: %v", err)
	}

	f.Factory = vaults.NewFactory(
		types.DeriveAddress("test:vault-factory"),
		f.Ledger,
		f.Registry,
		nil, nil,
		event.NopRecorder{},
		nil,
	)

	// The wrapped market is registered closing so it can never be borrowed:
	// every wrapped unit must stay backed by vault custody.
	f.GlpOracle = oracle.NewGlpPriceOracle(pool, f.Factory.Address(), usdc.Address(), f.UsdcOracle)
	f.WrappedMarket, err = f.Ledger.OwnerAddMarket(f.Governance, f.Factory, f.GlpOracle, margin.AlwaysZeroInterestSetter{}, true)
	if err != nil {
		t.Fatalf("add wrapped market: %v", err)
	}

	f.Unwrapper = trader.NewUnwrapper(types.DeriveAddress("test:unwrapper"), f.Ledger, f.Factory, f.Registry)
	f.Wrapper = trader.NewWrapper(types.DeriveAddress("test:wrapper"), f.Ledger, f.Factory, f.Registry)
	f.Ledger.RegisterExchangeWrapper(f.Unwrapper.Address(), f.Unwrapper)
	f.Ledger.RegisterExchangeWrapper(f.Wrapper.Address(), f.Wrapper)

	for _, operator := range []common.Address{f.Factory.Address(), f.Unwrapper.Address(), f.Wrapper.Address()} {
		if err := f.Ledger.OwnerSetGlobalOperator(f.Governance, operator, true); err != nil {
			t.Fatalf("set global operator: %v", err)
		}
	}

	for _, r := range []margin.Reversible{sGlp, usdc, gmxTok, esGmx, weth, pool, f.Factory} {
		f.Ledger.RegisterReversible(r)
	}
	f.Ledger.RegisterAccountValidator(f.Factory)

	if err := f.Factory.OwnerInitialize(f.Governance, f.Unwrapper.Address(), f.Wrapper.Address()); err != nil {
		t.Fatalf("initialize factory: %v", err)
	}

	return f
}

// CreateVault deploys (or fetches) the owner's vault and approves it to pull
// the owner's receipt tokens.
func (f *Fixture) CreateVault(t *testing.T, owner common.Address) *vaults.Vault {
	t.Helper()
	vault, err := f.Factory.CreateVaultFor(owner)
	if err != nil {
		t.Fatalf("create vault for %s: %v", owner.Hex(), err)
	}
	f.Registry.SGlp.Approve(owner, vault.Address(), MaxUint256())
	return vault
}

// GiveSGlp moves seeded receipt tokens from the whale to an account.
func (f *Fixture) GiveSGlp(t *testing.T, to common.Address, amount *big.Int) {
	t.Helper()
	if err := f.Registry.SGlp.Transfer(f.Whale, to, amount); err != nil {
		t.Fatalf("fund sGLP: %v", err)
	}
}

// GiveUsdc mints USDC to an account.
func (f *Fixture) GiveUsdc(to common.Address, amount *big.Int) {
	f.Registry.Usdc.Mint(to, amount)
}

// Glp returns n whole GLP in wei.
func Glp(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), types.TenPow(types.GlpDecimals))
}

// Usdc returns n whole USDC in its 6-decimal unit.
func Usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), types.TenPow(types.UsdcDecimals))
}

// Usd30 returns n whole dollars at the pool's 30-decimal USD precision.
func Usd30(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), types.TenPow(types.GlpPricePrecision))
}

// MaxUint256 returns the conventional unlimited approval amount.
func MaxUint256() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}
