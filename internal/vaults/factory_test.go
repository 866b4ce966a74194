package vaults_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/midaseth/dolomite-margin-modules/internal/testutil"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
	"github.com/midaseth/dolomite-margin-modules/internal/vaults"
)

// ============================================================================
// Test: vault creation
// ============================================================================

func TestCreateVaultFor_IsDeterministic(t *testing.T) {
	f := testutil.NewFixture(t)

	predicted := f.Factory.CalculateVaultByAccount(f.Alice)
	v, err := f.Factory.CreateVaultFor(f.Alice)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.Address() != predicted {
		t.Errorf("deployed at %s, predicted %s", v.Address().Hex(), predicted.Hex())
	}
	if v.Owner() != f.Alice {
		t.Errorf("owner got %s, want %s", v.Owner().Hex(), f.Alice.Hex())
	}
}

func TestCreateVaultFor_IsIdempotent(t *testing.T) {
	f := testutil.NewFixture(t)

	v1, err := f.Factory.CreateVaultFor(f.Alice)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	v2, err := f.Factory.CreateVaultFor(f.Alice)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if v1.Address() != v2.Address() {
		t.Errorf("repeat create moved the vault: %s vs %s", v1.Address().Hex(), v2.Address().Hex())
	}
}

func TestCreateVaultFor_DistinctOwnersDistinctVaults(t *testing.T) {
	f := testutil.NewFixture(t)

	va, err := f.Factory.CreateVaultFor(f.Alice)
	if err != nil {
		t.Fatalf("alice: %v", err)
	}
	vb, err := f.Factory.CreateVaultFor(f.Bob)
	if err != nil {
		t.Fatalf("bob: %v", err)
	}
	if va.Address() == vb.Address() {
		t.Error("different owners must get different vault addresses")
	}
}

func TestCreateVaultFor_RejectsZeroOwner(t *testing.T) {
	f := testutil.NewFixture(t)
	_, err := f.Factory.CreateVaultFor(types.ZeroAddress)
	if !errors.Is(err, vaults.ErrInvalidOwner) {
		t.Errorf("got %v, want ErrInvalidOwner", err)
	}
}

func TestGetVaultByAccount(t *testing.T) {
	f := testutil.NewFixture(t)

	if got := f.Factory.GetVaultByAccount(f.Alice); got != types.ZeroAddress {
		t.Errorf("unknown owner should map to the zero address, got %s", got.Hex())
	}

	v := f.CreateVault(t, f.Alice)
	if got := f.Factory.GetVaultByAccount(f.Alice); got != v.Address() {
		t.Errorf("got %s, want %s", got.Hex(), v.Address().Hex())
	}
	if !f.Factory.IsVault(v.Address()) {
		t.Error("deployed vault should be recognized")
	}
	if f.Factory.IsVault(f.Alice) {
		t.Error("owner address is not a vault")
	}
}

// ============================================================================
// Test: initialization
// ============================================================================

func TestOwnerInitialize_OnlyOnce(t *testing.T) {
	f := testutil.NewFixture(t)

	// The fixture already initialized the factory.
	err := f.Factory.OwnerInitialize(f.Governance, f.Unwrapper.Address(), f.Wrapper.Address())
	if !errors.Is(err, vaults.ErrAlreadyInitialized) {
		t.Errorf("got %v, want ErrAlreadyInitialized", err)
	}
}

func TestIsTokenConverter(t *testing.T) {
	f := testutil.NewFixture(t)

	if !f.Factory.IsTokenConverter(f.Unwrapper.Address()) {
		t.Error("unwrapper should be a token converter")
	}
	if !f.Factory.IsTokenConverter(f.Wrapper.Address()) {
		t.Error("wrapper should be a token converter")
	}
	if f.Factory.IsTokenConverter(f.Alice) {
		t.Error("arbitrary address is not a token converter")
	}
}

// ============================================================================
// Test: allow-lists
// ============================================================================

func TestOwnerSetAllowableMarketIds_GovernanceOnly(t *testing.T) {
	f := testutil.NewFixture(t)

	if err := f.Factory.OwnerSetAllowableDebtMarketIds(f.Alice, []types.MarketID{f.UsdcMarket}); err == nil {
		t.Error("non-governance debt list update should fail")
	}
	if err := f.Factory.OwnerSetAllowableCollateralMarketIds(f.Alice, []types.MarketID{f.UsdcMarket}); err == nil {
		t.Error("non-governance collateral list update should fail")
	}

	// A rejected update leaves the stored lists untouched.
	if got := f.Factory.AllowableDebtMarketIds(); len(got) != 0 {
		t.Errorf("debt list changed by rejected update: %v", got)
	}
	if got := f.Factory.AllowableCollateralMarketIds(); len(got) != 0 {
		t.Errorf("collateral list changed by rejected update: %v", got)
	}

	if err := f.Factory.OwnerSetAllowableDebtMarketIds(f.Governance, []types.MarketID{f.UsdcMarket}); err != nil {
		t.Fatalf("set debt list: %v", err)
	}
	got := f.Factory.AllowableDebtMarketIds()
	if len(got) != 1 || got[0] != f.UsdcMarket {
		t.Errorf("debt list got %v, want [%d]", got, f.UsdcMarket)
	}
}

func TestValidateAccount_WrappedBalanceRequiresVault(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	vaultAcct := types.AccountInfo{Owner: v.Address(), Number: 0}
	balances := map[types.MarketID]*big.Int{f.WrappedMarket: testutil.Glp(1)}
	if err := f.Factory.ValidateAccount(vaultAcct, balances); err != nil {
		t.Errorf("vault holding wrapped collateral should pass: %v", err)
	}

	strangerAcct := types.AccountInfo{Owner: f.Bob, Number: 0}
	if err := f.Factory.ValidateAccount(strangerAcct, balances); !errors.Is(err, vaults.ErrVaultRequired) {
		t.Errorf("got %v, want ErrVaultRequired", err)
	}
}

func TestValidateAccount_RejectsWrappedDebt(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	// Even a vault account may never owe the wrapped market; collateral
	// recorded elsewhere would have no custody behind it.
	acct := types.AccountInfo{Owner: v.Address(), Number: 7}
	balances := map[types.MarketID]*big.Int{
		f.WrappedMarket: new(big.Int).Neg(testutil.Glp(1)),
	}
	if err := f.Factory.ValidateAccount(acct, balances); !errors.Is(err, vaults.ErrWrappedDebtNotAllowed) {
		t.Errorf("got %v, want ErrWrappedDebtNotAllowed", err)
	}
}

func TestValidateAccount_EnforcesDebtAllowList(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	acct := types.AccountInfo{Owner: v.Address(), Number: 0}

	// Empty list: any debt market is fine.
	balances := map[types.MarketID]*big.Int{
		f.WrappedMarket: testutil.Glp(10),
		f.UsdcMarket:    new(big.Int).Neg(testutil.Usdc(5)),
	}
	if err := f.Factory.ValidateAccount(acct, balances); err != nil {
		t.Fatalf("unrestricted debt should pass: %v", err)
	}

	// Restrict debt to the wrapped market only: USDC debt now rejected.
	if err := f.Factory.OwnerSetAllowableDebtMarketIds(f.Governance, []types.MarketID{f.WrappedMarket}); err != nil {
		t.Fatalf("set list: %v", err)
	}
	if err := f.Factory.ValidateAccount(acct, balances); !errors.Is(err, vaults.ErrDebtMarketNotAllowed) {
		t.Errorf("got %v, want ErrDebtMarketNotAllowed", err)
	}
}

func TestValidateAccount_EnforcesCollateralAllowList(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	acct := types.AccountInfo{Owner: v.Address(), Number: 0}

	if err := f.Factory.OwnerSetAllowableCollateralMarketIds(f.Governance, []types.MarketID{f.WrappedMarket}); err != nil {
		t.Fatalf("set list: %v", err)
	}
	balances := map[types.MarketID]*big.Int{
		f.WrappedMarket: testutil.Glp(10),
		f.UsdcMarket:    testutil.Usdc(5),
	}
	if err := f.Factory.ValidateAccount(acct, balances); !errors.Is(err, vaults.ErrCollateralMarketNotAllowed) {
		t.Errorf("got %v, want ErrCollateralMarketNotAllowed", err)
	}
}

// ============================================================================
// Test: restricted token surface
// ============================================================================

func TestFactoryTransfer_RejectsUnqueued(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	err := f.Factory.Transfer(f.Ledger.Address(), v.Address(), testutil.Glp(1))
	if !errors.Is(err, vaults.ErrNoQueuedTransfer) {
		t.Errorf("got %v, want ErrNoQueuedTransfer", err)
	}
}

func TestFactoryTransfer_RejectsArbitraryRecipient(t *testing.T) {
	f := testutil.NewFixture(t)

	err := f.Factory.Transfer(f.Ledger.Address(), f.Bob, testutil.Glp(1))
	if !errors.Is(err, vaults.ErrUnsupportedTransfer) {
		t.Errorf("got %v, want ErrUnsupportedTransfer", err)
	}
}

func TestFactoryTransfer_LedgerOnly(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	if err := f.Factory.Transfer(f.Alice, v.Address(), testutil.Glp(1)); err == nil {
		t.Error("non-ledger caller must not move wrapped tokens")
	}
}

func TestAcceptWrap_ConverterOnly(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	err := f.Factory.AcceptWrap(f.Alice, v.Address(), testutil.Glp(1))
	if !errors.Is(err, vaults.ErrNotTokenConverter) {
		t.Errorf("got %v, want ErrNotTokenConverter", err)
	}
}
