package vaults_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/midaseth/dolomite-margin-modules/internal/gmx"
	"github.com/midaseth/dolomite-margin-modules/internal/margin"
	"github.com/midaseth/dolomite-margin-modules/internal/testutil"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
	"github.com/midaseth/dolomite-margin-modules/internal/vaults"
)

// ============================================================================
// Test: deposit / withdraw
// ============================================================================

func TestVaultDeposit(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	f.GiveSGlp(t, f.Alice, testutil.Glp(100))

	if err := v.DepositIntoVaultForDolomiteMargin(f.Alice, 0, testutil.Glp(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// The underlying sits in the vault, the wrapped balance with the ledger,
	// and the margin account reflects both.
	if got := v.UnderlyingBalanceOf(); got.Cmp(testutil.Glp(100)) != 0 {
		t.Errorf("underlying got %s, want %s", got, testutil.Glp(100))
	}
	if got := f.Factory.BalanceOf(f.Ledger.Address()); got.Cmp(testutil.Glp(100)) != 0 {
		t.Errorf("ledger wrapped balance got %s, want %s", got, testutil.Glp(100))
	}
	if got := v.DolomiteBalance(0).Signed(); got.Cmp(testutil.Glp(100)) != 0 {
		t.Errorf("margin balance got %s, want %s", got, testutil.Glp(100))
	}
	if got := f.Registry.SGlp.BalanceOf(f.Alice); got.Sign() != 0 {
		t.Errorf("owner should hold no underlying after deposit, has %s", got)
	}
}

func TestVaultDepositWithdrawRoundTrip(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	f.GiveSGlp(t, f.Alice, testutil.Glp(100))

	if err := v.DepositIntoVaultForDolomiteMargin(f.Alice, 0, testutil.Glp(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := v.WithdrawFromVaultForDolomiteMargin(f.Alice, 0, testutil.Glp(40)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if got := f.Registry.SGlp.BalanceOf(f.Alice); got.Cmp(testutil.Glp(40)) != 0 {
		t.Errorf("owner got %s, want %s", got, testutil.Glp(40))
	}
	if got := v.UnderlyingBalanceOf(); got.Cmp(testutil.Glp(60)) != 0 {
		t.Errorf("underlying got %s, want %s", got, testutil.Glp(60))
	}
	if got := v.DolomiteBalance(0).Signed(); got.Cmp(testutil.Glp(60)) != 0 {
		t.Errorf("margin balance got %s, want %s", got, testutil.Glp(60))
	}
	// Underlying custody and the margin balance must stay in lockstep.
	if v.UnderlyingBalanceOf().Cmp(v.DolomiteBalance(0).Signed()) != 0 {
		t.Error("underlying custody diverged from margin balance")
	}
}

func TestVaultDeposit_OwnerOnly(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	f.GiveSGlp(t, f.Bob, testutil.Glp(10))

	err := v.DepositIntoVaultForDolomiteMargin(f.Bob, 0, testutil.Glp(10))
	if !errors.Is(err, vaults.ErrNotVaultOwner) {
		t.Errorf("got %v, want ErrNotVaultOwner", err)
	}
}

func TestVaultWithdraw_OwnerOnly(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	f.GiveSGlp(t, f.Alice, testutil.Glp(10))
	if err := v.DepositIntoVaultForDolomiteMargin(f.Alice, 0, testutil.Glp(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := v.WithdrawFromVaultForDolomiteMargin(f.Bob, 0, testutil.Glp(10))
	if !errors.Is(err, vaults.ErrNotVaultOwner) {
		t.Errorf("got %v, want ErrNotVaultOwner", err)
	}
}

func TestVaultDeposit_FailsWithoutFunds(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	if err := v.DepositIntoVaultForDolomiteMargin(f.Alice, 0, testutil.Glp(1)); err == nil {
		t.Fatal("deposit without underlying should fail")
	}
	// The failed batch must leave no residue behind.
	if got := f.Factory.BalanceOf(f.Ledger.Address()); got.Sign() != 0 {
		t.Errorf("ledger wrapped balance not unwound: %s", got)
	}
	if got := v.DolomiteBalance(0); !got.IsZero() {
		t.Errorf("margin balance not unwound: %s", got)
	}
}

func TestVaultDeposit_SeparateAccountNumbers(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	f.GiveSGlp(t, f.Alice, testutil.Glp(30))

	if err := v.DepositIntoVaultForDolomiteMargin(f.Alice, 0, testutil.Glp(10)); err != nil {
		t.Fatalf("deposit 0: %v", err)
	}
	if err := v.DepositIntoVaultForDolomiteMargin(f.Alice, 7, testutil.Glp(20)); err != nil {
		t.Fatalf("deposit 7: %v", err)
	}

	if got := v.DolomiteBalance(0).Signed(); got.Cmp(testutil.Glp(10)) != 0 {
		t.Errorf("account 0 got %s, want %s", got, testutil.Glp(10))
	}
	if got := v.DolomiteBalance(7).Signed(); got.Cmp(testutil.Glp(20)) != 0 {
		t.Errorf("account 7 got %s, want %s", got, testutil.Glp(20))
	}
}

// ============================================================================
// Test: custody hook
// ============================================================================

func TestCallFunction_LedgerOnly(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	acct := types.AccountInfo{Owner: v.Address(), Number: 0}
	data := vaults.EncodeCallData(f.Unwrapper.Address(), testutil.Glp(1))
	if err := v.CallFunction(f.Alice, acct, data); err == nil {
		t.Error("non-ledger caller must not trigger the custody hook")
	}
}

func TestCallFunction_RejectsForeignAccount(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	acct := types.AccountInfo{Owner: f.Alice, Number: 0}
	data := vaults.EncodeCallData(f.Unwrapper.Address(), testutil.Glp(1))
	if err := v.CallFunction(f.Ledger.Address(), acct, data); err == nil {
		t.Error("hook must only run against the vault's own account")
	}
}

func TestCallFunction_RejectsMalformedData(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	acct := types.AccountInfo{Owner: v.Address(), Number: 0}
	if err := v.CallFunction(f.Ledger.Address(), acct, []byte{0x01, 0x02}); err == nil {
		t.Error("short calldata should be rejected")
	}
}

// ============================================================================
// Test: staking passthrough
// ============================================================================

func TestVaultStakeUnstakeGmx(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	f.Registry.Gmx.Mint(f.Alice, testutil.Glp(10))
	f.Registry.Gmx.Approve(f.Alice, v.Address(), testutil.MaxUint256())

	if err := v.StakeGmx(f.Alice, testutil.Glp(10)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if got := f.Registry.RewardRouter.StakedGmx(v.Address()); got.Cmp(testutil.Glp(10)) != 0 {
		t.Errorf("staked got %s, want %s", got, testutil.Glp(10))
	}
	if got := v.GmxBalanceOf(); got.Cmp(testutil.Glp(10)) != 0 {
		t.Errorf("vault gmx view got %s, want %s", got, testutil.Glp(10))
	}

	if err := v.UnstakeGmx(f.Alice, testutil.Glp(10)); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if got := f.Registry.Gmx.BalanceOf(f.Alice); got.Cmp(testutil.Glp(10)) != 0 {
		t.Errorf("owner got %s back, want %s", got, testutil.Glp(10))
	}
}

func TestVaultStakeGmx_OwnerOnly(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	if err := v.StakeGmx(f.Bob, testutil.Glp(1)); !errors.Is(err, vaults.ErrNotVaultOwner) {
		t.Errorf("got %v, want ErrNotVaultOwner", err)
	}
}

func TestVaultVestAndUnvestGmx(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	keeper := f.Keeper

	// Accrue esGMX to the vault, claim it into idle custody, vest it, let
	// the keeper convert half, then exit with compounding enabled.
	if err := f.Registry.RewardRouter.AccruePendingRewards(keeper, v.Address(), testutil.Glp(10), nil); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := v.HandleRewards(f.Alice, gmx.HandleRewardsOptions{ShouldClaimEsGmx: true}); err != nil {
		t.Fatalf("claim esgmx: %v", err)
	}
	if err := v.VestGmx(f.Alice, testutil.Glp(10)); err != nil {
		t.Fatalf("vest: %v", err)
	}
	if got := v.EsGmxBalanceOf(); got.Cmp(testutil.Glp(10)) != 0 {
		t.Errorf("esgmx view got %s, want %s", got, testutil.Glp(10))
	}
	if err := f.Registry.Vester.AdvanceVesting(keeper, v.Address(), testutil.Glp(4)); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if err := v.UnvestGmx(f.Alice, true); err != nil {
		t.Fatalf("unvest: %v", err)
	}
	// 4 GLP-denominated units vested into GMX and were compounded into the
	// staked position; 6 esGMX returned to vault custody.
	if got := f.Registry.RewardRouter.StakedGmx(v.Address()); got.Cmp(testutil.Glp(4)) != 0 {
		t.Errorf("staked gmx got %s, want %s", got, testutil.Glp(4))
	}
	if got := f.Registry.EsGmx.BalanceOf(v.Address()); got.Cmp(testutil.Glp(6)) != 0 {
		t.Errorf("returned esgmx got %s, want %s", got, testutil.Glp(6))
	}
}

func TestVaultHandleRewards_ForwardsWethToOwner(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	if err := f.Registry.RewardRouter.AccruePendingRewards(f.Keeper, v.Address(), nil, testutil.Glp(2)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := v.HandleRewards(f.Alice, gmx.HandleRewardsOptions{ShouldClaimWeth: true}); err != nil {
		t.Fatalf("handle rewards: %v", err)
	}
	if got := f.Registry.Weth.BalanceOf(f.Alice); got.Cmp(testutil.Glp(2)) != 0 {
		t.Errorf("owner weth got %s, want %s", got, testutil.Glp(2))
	}
}

func TestEncodeCallData(t *testing.T) {
	recipient := types.DeriveAddress("vault-test:recipient")
	amount := big.NewInt(123456789)

	data := vaults.EncodeCallData(recipient, amount)
	if len(data) != 52 {
		t.Fatalf("length got %d, want 52", len(data))
	}
	if got := data[:20]; string(got) != string(recipient.Bytes()) {
		t.Error("recipient bytes mismatch")
	}
	if got := new(big.Int).SetBytes(data[20:]); got.Cmp(amount) != 0 {
		t.Errorf("amount got %s, want %s", got, amount)
	}
}

// ============================================================================
// Test: custody hooks and pause view
// ============================================================================

func TestVaultCustodyHooks_RejectForeignCallers(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	err := v.AcceptTransfer(f.Alice, f.Alice, testutil.Glp(1))
	if !errors.Is(err, margin.ErrOnlyDolomiteMargin) {
		t.Errorf("accept transfer error got %v, want ErrOnlyDolomiteMargin", err)
	}
	err = v.ExecuteWithdrawalFromVault(f.Alice, f.Alice, testutil.Glp(1))
	if !errors.Is(err, margin.ErrOnlyDolomiteMargin) {
		t.Errorf("execute withdrawal error got %v, want ErrOnlyDolomiteMargin", err)
	}
}

func TestVaultIsExternalRedemptionPaused(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)

	if v.IsExternalRedemptionPaused() {
		t.Error("redemption should start unpaused")
	}
	if err := f.Registry.Pool.SetRedemptionPaused(f.Keeper, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !v.IsExternalRedemptionPaused() {
		t.Error("redemption pause not visible through the vault")
	}
}

func TestVaultWithdraw_CannotOverdrawAcrossAccountNumbers(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.CreateVault(t, f.Alice)
	f.GiveSGlp(t, f.Alice, testutil.Glp(100))

	if err := v.DepositIntoVaultForDolomiteMargin(f.Alice, 0, testutil.Glp(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Account 7 holds nothing; withdrawing against it would drain custody
	// while account 0 still records the collateral.
	err := v.WithdrawFromVaultForDolomiteMargin(f.Alice, 7, testutil.Glp(100))
	if !errors.Is(err, margin.ErrMarketClosing) {
		t.Fatalf("overdraw got %v, want ErrMarketClosing", err)
	}

	if got := v.UnderlyingBalanceOf(); got.Cmp(testutil.Glp(100)) != 0 {
		t.Errorf("custody got %s, want %s", got, testutil.Glp(100))
	}
	if got := v.DolomiteBalance(0).Signed(); got.Cmp(testutil.Glp(100)) != 0 {
		t.Errorf("account 0 got %s, want %s", got, testutil.Glp(100))
	}
	if got := v.DolomiteBalance(7).Signed(); got.Sign() != 0 {
		t.Errorf("account 7 got %s, want 0", got)
	}
	if got := f.Registry.SGlp.BalanceOf(f.Alice); got.Sign() != 0 {
		t.Errorf("owner received %s underlying from a rejected withdrawal", got)
	}
}
