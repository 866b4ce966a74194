package trader_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/midaseth/dolomite-margin-modules/internal/gmx"
	"github.com/midaseth/dolomite-margin-modules/internal/margin"
	"github.com/midaseth/dolomite-margin-modules/internal/testutil"
	"github.com/midaseth/dolomite-margin-modules/internal/trader"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
	"github.com/midaseth/dolomite-margin-modules/internal/vaults"
)

// ============================================================================
// Test: unwrapping
// ============================================================================

func TestUnwrap_EndToEnd(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	f.GiveSGlp(t, f.Alice, testutil.Glp(100))
	if err := v.DepositIntoVaultForDolomiteMargin(f.Alice, 0, testutil.Glp(100)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	quote, err := f.Unwrapper.GetExchangeCost(
		f.Registry.Usdc.Address(), f.Factory.Address(), testutil.Glp(100), nil)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	actions, err := f.Unwrapper.CreateActionsForUnwrapping(0, v.Address(), testutil.Glp(100), quote)
	if err != nil {
		t.Fatalf("build actions: %v", err)
	}
	if len(actions) != f.Unwrapper.ActionsLength() {
		t.Fatalf("got %d actions, want %d", len(actions), f.Unwrapper.ActionsLength())
	}

	acct := types.AccountInfo{Owner: v.Address(), Number: 0}
	if err := f.Ledger.Operate(v.Address(), []types.AccountInfo{acct}, actions); err != nil {
		t.Fatalf("operate: %v", err)
	}

	// The wrapped position converts fully into the liquid asset at the
	// quoted rate; custody is drained.
	if got := f.Ledger.GetAccountWei(acct, f.WrappedMarket); !got.IsZero() {
		t.Errorf("wrapped balance got %s, want 0", got)
	}
	if got := f.Ledger.GetAccountWei(acct, f.UsdcMarket).Signed(); got.Cmp(quote) != 0 {
		t.Errorf("liquid balance got %s, want %s", got, quote)
	}
	if got := v.UnderlyingBalanceOf(); got.Sign() != 0 {
		t.Errorf("vault custody not drained: %s", got)
	}
	if got := f.Factory.BalanceOf(f.Ledger.Address()); got.Sign() != 0 {
		t.Errorf("ledger wrapped balance not burned: %s", got)
	}
}

func TestUnwrap_QuoteMatchesExecutionAcrossSizes(t *testing.T) {
	f := testutil.NewFixture(t)

	for _, n := range []int64{1, 37, 5_000, 1_000_000} {
		v := f.CreateVault(t, f.Alice)
		f.GiveSGlp(t, f.Alice, testutil.Glp(n))
		if err := v.DepositIntoVaultForDolomiteMargin(f.Alice, 0, testutil.Glp(n)); err != nil {
			t.Fatalf("size %d: deposit: %v", n, err)
		}

		acct := types.AccountInfo{Owner: v.Address(), Number: 0}
		before := f.Ledger.GetAccountWei(acct, f.UsdcMarket).Signed()
		quote, err := f.Unwrapper.GetExchangeCost(
			f.Registry.Usdc.Address(), f.Factory.Address(), testutil.Glp(n), nil)
		if err != nil {
			t.Fatalf("size %d: quote: %v", n, err)
		}

		actions, err := f.Unwrapper.CreateActionsForUnwrapping(0, v.Address(), testutil.Glp(n), quote)
		if err != nil {
			t.Fatalf("size %d: build: %v", n, err)
		}
		if err := f.Ledger.Operate(v.Address(), []types.AccountInfo{acct}, actions); err != nil {
			t.Fatalf("size %d: operate: %v", n, err)
		}

		got := new(big.Int).Sub(f.Ledger.GetAccountWei(acct, f.UsdcMarket).Signed(), before)
		if got.Cmp(quote) != 0 {
			t.Errorf("size %d: realized %s, quoted %s", n, got, quote)
		}
	}
}

func TestUnwrap_SlippageFailureRollsBackBatch(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	f.GiveSGlp(t, f.Alice, testutil.Glp(100))
	if err := v.DepositIntoVaultForDolomiteMargin(f.Alice, 0, testutil.Glp(100)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	// Demand more than the pool can pay: the sale fails after the custody
	// hook already moved underlying, so the rollback must restore both.
	impossible := testutil.Usdc(101)
	actions, err := f.Unwrapper.CreateActionsForUnwrapping(0, v.Address(), testutil.Glp(100), impossible)
	if err != nil {
		t.Fatalf("build actions: %v", err)
	}

	acct := types.AccountInfo{Owner: v.Address(), Number: 0}
	err = f.Ledger.Operate(v.Address(), []types.AccountInfo{acct}, actions)
	if !errors.Is(err, gmx.ErrInsufficientOutput) {
		t.Fatalf("got %v, want ErrInsufficientOutput", err)
	}

	if got := f.Ledger.GetAccountWei(acct, f.WrappedMarket).Signed(); got.Cmp(testutil.Glp(100)) != 0 {
		t.Errorf("wrapped balance not restored: got %s", got)
	}
	if got := v.UnderlyingBalanceOf(); got.Cmp(testutil.Glp(100)) != 0 {
		t.Errorf("vault custody not restored: got %s", got)
	}
	if got := f.Registry.SGlp.BalanceOf(f.Unwrapper.Address()); got.Sign() != 0 {
		t.Errorf("unwrapper kept underlying after revert: %s", got)
	}
}

func TestUnwrap_LiquidationSeizesAndConverts(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	f.GiveSGlp(t, f.Alice, testutil.Glp(100))
	if err := v.DepositIntoVaultForDolomiteMargin(f.Alice, 0, testutil.Glp(100)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	// Bob liquidates: his vault account receives the seized wrapped
	// collateral and sells it; Alice's vault account releases custody.
	liquidator := f.CreateVault(t, f.Bob)
	if err := f.Ledger.OwnerSetGlobalOperator(f.Governance, f.Bob, true); err != nil {
		t.Fatalf("grant: %v", err)
	}

	quote, err := f.Unwrapper.GetExchangeCost(
		f.Registry.Usdc.Address(), f.Factory.Address(), testutil.Glp(100), nil)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	actions, err := f.Unwrapper.CreateActionsForUnwrappingForLiquidation(
		0, 1, v.Address(), testutil.Glp(100), quote)
	if err != nil {
		t.Fatalf("build actions: %v", err)
	}
	if len(actions) != f.Unwrapper.ActionsLength()+1 {
		t.Fatalf("got %d actions, want %d", len(actions), f.Unwrapper.ActionsLength()+1)
	}

	solid := types.AccountInfo{Owner: liquidator.Address(), Number: 0}
	liquid := types.AccountInfo{Owner: v.Address(), Number: 0}
	if err := f.Ledger.Operate(f.Bob, []types.AccountInfo{solid, liquid}, actions); err != nil {
		t.Fatalf("operate: %v", err)
	}

	if got := f.Ledger.GetAccountWei(liquid, f.WrappedMarket); !got.IsZero() {
		t.Errorf("liquidated wrapped balance got %s, want 0", got)
	}
	if got := f.Ledger.GetAccountWei(solid, f.UsdcMarket).Signed(); got.Cmp(quote) != 0 {
		t.Errorf("liquidator proceeds got %s, want %s", got, quote)
	}
	if got := v.UnderlyingBalanceOf(); got.Sign() != 0 {
		t.Errorf("liquidated vault custody not drained: %s", got)
	}
}

func TestUnwrapper_ExchangeLedgerOnly(t *testing.T) {
	f := testutil.NewFixture(t)
	_, err := f.Unwrapper.Exchange(
		f.Alice, f.Alice, f.Ledger.Address(),
		f.Registry.Usdc.Address(), f.Factory.Address(),
		testutil.Glp(1), nil)
	if !errors.Is(err, margin.ErrOnlyDolomiteMargin) {
		t.Errorf("got %v, want ErrOnlyDolomiteMargin", err)
	}
}

func TestUnwrapper_RejectsWrongTokens(t *testing.T) {
	f := testutil.NewFixture(t)

	_, err := f.Unwrapper.GetExchangeCost(
		f.Registry.Usdc.Address(), f.Registry.Usdc.Address(), testutil.Glp(1), nil)
	if !errors.Is(err, trader.ErrInvalidInputToken) {
		t.Errorf("wrong taker: got %v, want ErrInvalidInputToken", err)
	}
	_, err = f.Unwrapper.GetExchangeCost(
		f.Factory.Address(), f.Factory.Address(), testutil.Glp(1), nil)
	if !errors.Is(err, trader.ErrInvalidOutputToken) {
		t.Errorf("wrong maker: got %v, want ErrInvalidOutputToken", err)
	}
}

func TestCreateActionsForUnwrapping_RejectsNonPositiveAmount(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	if _, err := f.Unwrapper.CreateActionsForUnwrapping(0, v.Address(), big.NewInt(0), nil); !errors.Is(err, trader.ErrInvalidInputAmount) {
		t.Errorf("zero: got %v, want ErrInvalidInputAmount", err)
	}
	if _, err := f.Unwrapper.CreateActionsForUnwrapping(0, v.Address(), nil, nil); !errors.Is(err, trader.ErrInvalidInputAmount) {
		t.Errorf("nil: got %v, want ErrInvalidInputAmount", err)
	}
}

// ============================================================================
// Test: wrapping
// ============================================================================

func TestWrap_EndToEnd(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	// Alice funds her vault account with USDC through a plain deposit, then
	// converts it into wrapped collateral in the same batch.
	f.GiveUsdc(f.Alice, testutil.Usdc(1_000))
	f.Registry.Usdc.Approve(f.Alice, f.Ledger.Address(), testutil.MaxUint256())

	quote, err := f.Wrapper.GetExchangeCost(
		f.Factory.Address(), f.Registry.Usdc.Address(), testutil.Usdc(1_000), nil)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	wrapActions, err := f.Wrapper.CreateActionsForWrapping(0, testutil.Usdc(1_000), quote)
	if err != nil {
		t.Fatalf("build actions: %v", err)
	}
	if len(wrapActions) != f.Wrapper.ActionsLength() {
		t.Fatalf("got %d actions, want %d", len(wrapActions), f.Wrapper.ActionsLength())
	}

	actions := append([]margin.Action{{
		Type:            margin.ActionTypeDeposit,
		AccountID:       0,
		PrimaryMarketID: f.UsdcMarket,
		OtherAddress:    f.Alice,
		Amount:          testutil.Usdc(1_000),
	}}, wrapActions...)

	acct := types.AccountInfo{Owner: v.Address(), Number: 0}
	if err := f.Ledger.Operate(v.Address(), []types.AccountInfo{acct}, actions); err != nil {
		t.Fatalf("operate: %v", err)
	}

	if got := f.Ledger.GetAccountWei(acct, f.UsdcMarket); !got.IsZero() {
		t.Errorf("liquid balance got %s, want 0", got)
	}
	if got := f.Ledger.GetAccountWei(acct, f.WrappedMarket).Signed(); got.Cmp(quote) != 0 {
		t.Errorf("wrapped balance got %s, want %s", got, quote)
	}
	// The minted receipts land in the vault's custody, matching the margin
	// balance exactly.
	if got := v.UnderlyingBalanceOf(); got.Cmp(quote) != 0 {
		t.Errorf("vault custody got %s, want %s", got, quote)
	}
}

func TestWrap_ThenUnwrapRoundTripLosesOnlyFees(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	f.GiveUsdc(f.Alice, testutil.Usdc(1_000))
	f.Registry.Usdc.Approve(f.Alice, f.Ledger.Address(), testutil.MaxUint256())

	wrapActions, err := f.Wrapper.CreateActionsForWrapping(0, testutil.Usdc(1_000), nil)
	if err != nil {
		t.Fatalf("build wrap: %v", err)
	}
	actions := append([]margin.Action{{
		Type:            margin.ActionTypeDeposit,
		AccountID:       0,
		PrimaryMarketID: f.UsdcMarket,
		OtherAddress:    f.Alice,
		Amount:          testutil.Usdc(1_000),
	}}, wrapActions...)

	acct := types.AccountInfo{Owner: v.Address(), Number: 0}
	if err := f.Ledger.Operate(v.Address(), []types.AccountInfo{acct}, actions); err != nil {
		t.Fatalf("wrap: %v", err)
	}

	wrapped := f.Ledger.GetAccountWei(acct, f.WrappedMarket).Signed()
	unwrapActions, err := f.Unwrapper.CreateActionsForUnwrapping(0, v.Address(), wrapped, nil)
	if err != nil {
		t.Fatalf("build unwrap: %v", err)
	}
	if err := f.Ledger.Operate(v.Address(), []types.AccountInfo{acct}, unwrapActions); err != nil {
		t.Fatalf("unwrap: %v", err)
	}

	final := f.Ledger.GetAccountWei(acct, f.UsdcMarket).Signed()
	if final.Cmp(testutil.Usdc(1_000)) >= 0 {
		t.Errorf("round trip cannot be free: got %s from %s", final, testutil.Usdc(1_000))
	}
	// Two legs of at most 75bps each: never lose more than 2%.
	floor := new(big.Int).Div(new(big.Int).Mul(testutil.Usdc(1_000), big.NewInt(98)), big.NewInt(100))
	if final.Cmp(floor) < 0 {
		t.Errorf("round trip lost too much: got %s, floor %s", final, floor)
	}
}

func TestWrapper_RequiresVaultOriginator(t *testing.T) {
	f := testutil.NewFixture(t)

	// A non-vault account selling USDC through the wrapper must fail: the
	// minted receipts would have nowhere safe to land.
	f.GiveUsdc(f.Alice, testutil.Usdc(100))
	f.Registry.Usdc.Approve(f.Alice, f.Ledger.Address(), testutil.MaxUint256())

	wrapActions, err := f.Wrapper.CreateActionsForWrapping(0, testutil.Usdc(100), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	actions := append([]margin.Action{{
		Type:            margin.ActionTypeDeposit,
		AccountID:       0,
		PrimaryMarketID: f.UsdcMarket,
		OtherAddress:    f.Alice,
		Amount:          testutil.Usdc(100),
	}}, wrapActions...)

	acct := types.AccountInfo{Owner: f.Alice, Number: 0}
	err = f.Ledger.Operate(f.Alice, []types.AccountInfo{acct}, actions)
	if !errors.Is(err, vaults.ErrVaultRequired) {
		t.Errorf("got %v, want ErrVaultRequired", err)
	}
}

func TestWrapper_ExchangeLedgerOnly(t *testing.T) {
	f := testutil.NewFixture(t)
	_, err := f.Wrapper.Exchange(
		f.Alice, f.Alice, f.Ledger.Address(),
		f.Factory.Address(), f.Registry.Usdc.Address(),
		testutil.Usdc(1), nil)
	if !errors.Is(err, margin.ErrOnlyDolomiteMargin) {
		t.Errorf("got %v, want ErrOnlyDolomiteMargin", err)
	}
}

// ============================================================================
// Test: order data
// ============================================================================

func TestOrderDataRoundTrip(t *testing.T) {
	min := big.NewInt(987654321)
	data := trader.EncodeOrderData(min)
	if len(data) != 32 {
		t.Fatalf("length got %d, want 32", len(data))
	}
	if got := new(big.Int).SetBytes(data); got.Cmp(min) != 0 {
		t.Errorf("got %s, want %s", got, min)
	}
}

// ============================================================================
// Test: oracle price brackets the unwrap price
// ============================================================================

func TestOraclePriceBracketsRedemptionRate(t *testing.T) {
	f := testutil.NewFixture(t)

	price, err := f.GlpOracle.GetPrice(f.Factory.Address())
	if err != nil {
		t.Fatalf("oracle: %v", err)
	}
	bandBps := int64(f.Registry.Pool.MaxRedemptionFeeBps())

	for _, n := range []int64{10, 100_000, 10_000_000} {
		quote, err := f.Unwrapper.GetExchangeCost(
			f.Registry.Usdc.Address(), f.Factory.Address(), testutil.Glp(n), nil)
		if err != nil {
			t.Fatalf("size %d: quote: %v", n, err)
		}
		realized := new(big.Int).Mul(quote, types.TenPow(30))
		realized.Div(realized, testutil.Glp(n))

		// Lower side: even a pool-scale unwrap realizes at least the
		// oracle price, so the ledger never overvalues the collateral.
		if realized.Cmp(price.Value) < 0 {
			t.Errorf("size %d: realized rate %s below oracle price %s", n, realized, price.Value)
		}

		// Upper side: the realized rate never exceeds the oracle price by
		// more than the fee band, so the two code paths cannot diverge far
		// enough to arbitrage the solvency checks.
		ceiling := new(big.Int).Mul(price.Value, big.NewInt(10_000+bandBps))
		ceiling.Div(ceiling, big.NewInt(10_000))
		if realized.Cmp(ceiling) > 0 {
			t.Errorf("size %d: realized rate %s above band ceiling %s", n, realized, ceiling)
		}
	}
}

func TestGetExchangeCost_StrictlyIncreasing(t *testing.T) {
	f := testutil.NewFixture(t)

	sizes := []int64{1, 10, 5_000, 1_000_000, 20_000_000}

	prev := new(big.Int)
	for _, n := range sizes {
		quote, err := f.Unwrapper.GetExchangeCost(
			f.Registry.Usdc.Address(), f.Factory.Address(), testutil.Glp(n), nil)
		if err != nil {
			t.Fatalf("unwrap size %d: %v", n, err)
		}
		if quote.Cmp(prev) <= 0 {
			t.Errorf("unwrap quote for %d GLP (%s) not above smaller size's %s", n, quote, prev)
		}
		prev = quote
	}

	prev = new(big.Int)
	for _, n := range sizes {
		quote, err := f.Wrapper.GetExchangeCost(
			f.Factory.Address(), f.Registry.Usdc.Address(), testutil.Usdc(n), nil)
		if err != nil {
			t.Fatalf("wrap size %d: %v", n, err)
		}
		if quote.Cmp(prev) <= 0 {
			t.Errorf("wrap quote for %d USDC (%s) not above smaller size's %s", n, quote, prev)
		}
		prev = quote
	}
}

func TestGetExchangeCost_RejectsNonPositiveAmount(t *testing.T) {
	f := testutil.NewFixture(t)

	for _, amount := range []*big.Int{nil, new(big.Int), big.NewInt(-1)} {
		_, err := f.Unwrapper.GetExchangeCost(
			f.Registry.Usdc.Address(), f.Factory.Address(), amount, nil)
		if !errors.Is(err, trader.ErrInvalidInputAmount) {
			t.Errorf("unwrap quote of %s: got %v, want ErrInvalidInputAmount", amount, err)
		}
		_, err = f.Wrapper.GetExchangeCost(
			f.Factory.Address(), f.Registry.Usdc.Address(), amount, nil)
		if !errors.Is(err, trader.ErrInvalidInputAmount) {
			t.Errorf("wrap quote of %s: got %v, want ErrInvalidInputAmount", amount, err)
		}
	}
}
