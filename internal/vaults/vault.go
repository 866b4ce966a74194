package vaults

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/event"
	"github.com/midaseth/dolomite-margin-modules/internal/gmx"
	"github.com/midaseth/dolomite-margin-modules/internal/margin"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
)

// callDataLen is the fixed encoding of a vault's ledger-gated hook:
// a 20-byte recipient followed by a 32-byte big-endian amount.
const callDataLen = 52

// Vault holds one owner's staked-receipt custody in isolation. All ledger
// balances for the owner are keyed by the vault's address, so positions in
// one vault can never touch another owner's custody. The owner interacts
// with the vault directly; the ledger interacts with it through CallFunction.
type Vault struct {
	addr     common.Address
	owner    common.Address
	factory  *Factory
	registry *gmx.Registry
}

func newVault(addr, owner common.Address, factory *Factory, registry *gmx.Registry) *Vault {
	return &Vault{addr: addr, owner: owner, factory: factory, registry: registry}
}

func (v *Vault) Address() common.Address { return v.addr }
func (v *Vault) Owner() common.Address   { return v.owner }

func (v *Vault) requireOwner(caller common.Address) error {
	if caller != v.owner {
		return fmt.Errorf("caller %s, owner %s: %w", caller.Hex(), v.owner.Hex(), ErrNotVaultOwner)
	}
	return nil
}

// DepositIntoVaultForDolomiteMargin pulls the staked receipt from the owner
// into the vault and credits the ledger account {vault, accountNumber} with
// the same wrapped amount, atomically.
func (v *Vault) DepositIntoVaultForDolomiteMargin(caller common.Address, accountNumber uint64, amount *big.Int) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if err := v.factory.depositIntoDolomiteMargin(v.addr, accountNumber, amount, v.owner); err != nil {
		return err
	}
	v.factory.emitDeposit(v.addr, v.owner, accountNumber, amount)
	return nil
}

// WithdrawFromVaultForDolomiteMargin debits the ledger account
// {vault, accountNumber} and releases the staked receipt to the owner,
// atomically. Fails if the remaining account would violate a validator.
func (v *Vault) WithdrawFromVaultForDolomiteMargin(caller common.Address, accountNumber uint64, amount *big.Int) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if err := v.factory.withdrawFromDolomiteMargin(v.addr, accountNumber, amount); err != nil {
		return err
	}
	v.factory.emitWithdrawal(v.addr, v.owner, accountNumber, amount)
	return nil
}

// CallFunction is the ledger-gated hook used by unwrap batches: it releases
// underlying custody to a token converter and authorizes the wrapped-token
// transfer that the following sale action will perform. Data encodes the
// converter address and the amount.
func (v *Vault) CallFunction(caller common.Address, account types.AccountInfo, data []byte) error {
	if caller != v.factory.ledger.Address() {
		return fmt.Errorf("call function from %s: %w", caller.Hex(), margin.ErrOnlyDolomiteMargin)
	}
	if account.Owner != v.addr {
		return fmt.Errorf("call function for account %s: %w", account, ErrNotVaultOwner)
	}
	if len(data) != callDataLen {
		return fmt.Errorf("call function: data length %d: %w", len(data), margin.ErrInvalidAction)
	}
	recipient := common.BytesToAddress(data[:20])
	amount := new(big.Int).SetBytes(data[20:])
	if amount.Sign() <= 0 {
		return fmt.Errorf("call function: %w", margin.ErrInvalidAction)
	}
	if err := v.factory.enqueueForConverter(v.addr, recipient, amount); err != nil {
		return err
	}
	if err := v.registry.SGlp.Transfer(v.addr, recipient, amount); err != nil {
		return fmt.Errorf("release underlying: %w", err)
	}
	return nil
}

// requireLedgerOrFactory gates the custody hooks that settle wrapped-token
// transfers.
func (v *Vault) requireLedgerOrFactory(caller common.Address) error {
	if caller != v.factory.addr && caller != v.factory.ledger.Address() {
		return fmt.Errorf("caller %s: %w", caller.Hex(), margin.ErrOnlyDolomiteMargin)
	}
	return nil
}

// AcceptTransfer pulls the staked receipt from its current holder into vault
// custody. This is the custody half of a wrapped-token transfer into the
// ledger.
func (v *Vault) AcceptTransfer(caller, from common.Address, amount *big.Int) error {
	if err := v.requireLedgerOrFactory(caller); err != nil {
		return fmt.Errorf("accept transfer: %w", err)
	}
	if err := v.registry.SGlp.TransferFrom(v.addr, from, v.addr, amount); err != nil {
		return fmt.Errorf("pull underlying: %w", err)
	}
	return nil
}

// ExecuteWithdrawalFromVault releases the staked receipt from vault custody
// to the recipient. This is the custody half of a wrapped-token transfer out
// of the ledger.
func (v *Vault) ExecuteWithdrawalFromVault(caller, recipient common.Address, amount *big.Int) error {
	if err := v.requireLedgerOrFactory(caller); err != nil {
		return fmt.Errorf("execute withdrawal: %w", err)
	}
	if err := v.registry.SGlp.Transfer(v.addr, recipient, amount); err != nil {
		return fmt.Errorf("release underlying: %w", err)
	}
	return nil
}

// IsExternalRedemptionPaused reports whether the yield protocol currently
// refuses redemptions, which also blocks unwrapping this vault's collateral.
func (v *Vault) IsExternalRedemptionPaused() bool {
	return v.registry.Pool.IsRedemptionPaused()
}

// EncodeCallData builds the Data payload CallFunction expects.
func EncodeCallData(recipient common.Address, amount *big.Int) []byte {
	data := make([]byte, callDataLen)
	copy(data[:20], recipient.Bytes())
	amount.FillBytes(data[20:])
	return data
}

// StakeGmx pulls GMX from the owner and bonds it under the vault. The owner
// must have approved the vault on the GMX token.
func (v *Vault) StakeGmx(caller common.Address, amount *big.Int) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if err := v.registry.Gmx.TransferFrom(v.addr, v.owner, v.addr, amount); err != nil {
		return fmt.Errorf("stake gmx: %w", err)
	}
	return v.registry.RewardRouter.StakeGmx(v.addr, amount)
}

// UnstakeGmx unbonds GMX and returns it to the owner.
func (v *Vault) UnstakeGmx(caller common.Address, amount *big.Int) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if err := v.registry.RewardRouter.UnstakeGmx(v.addr, amount); err != nil {
		return err
	}
	return v.registry.Gmx.Transfer(v.addr, v.owner, amount)
}

// StakeEsGmx bonds escrowed GMX idle in the vault. Escrowed GMX never leaves
// the vault.
func (v *Vault) StakeEsGmx(caller common.Address, amount *big.Int) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	return v.registry.RewardRouter.StakeEsGmx(v.addr, amount)
}

// UnstakeEsGmx unbonds escrowed GMX back into the vault's idle balance.
func (v *Vault) UnstakeEsGmx(caller common.Address, amount *big.Int) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	return v.registry.RewardRouter.UnstakeEsGmx(v.addr, amount)
}

// VestGmx locks idle escrowed GMX into the vesting pipeline.
func (v *Vault) VestGmx(caller common.Address, esGmxAmount *big.Int) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	return v.registry.Vester.Deposit(v.addr, esGmxAmount)
}

// UnvestGmx exits the vesting pipeline. Vested GMX is either restaked under
// the vault or paid out to the owner; unvested escrowed GMX returns to the
// vault's idle balance.
func (v *Vault) UnvestGmx(caller common.Address, shouldStakeGmx bool) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	claimed, _, err := v.registry.Vester.Withdraw(v.addr)
	if err != nil {
		return err
	}
	if claimed.Sign() == 0 {
		return nil
	}
	if shouldStakeGmx {
		return v.registry.RewardRouter.StakeGmx(v.addr, claimed)
	}
	return v.registry.Gmx.Transfer(v.addr, v.owner, claimed)
}

// HandleRewards harvests the selected reward legs. Claimed GMX that is not
// restaked and claimed WETH are forwarded to the owner; escrowed GMX always
// stays in the vault.
func (v *Vault) HandleRewards(caller common.Address, opts gmx.HandleRewardsOptions) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if err := v.registry.RewardRouter.HandleRewards(v.addr, opts); err != nil {
		return err
	}
	if opts.ShouldClaimGmx && !opts.ShouldStakeGmx {
		if idle := v.registry.Gmx.BalanceOf(v.addr); idle.Sign() > 0 {
			if err := v.registry.Gmx.Transfer(v.addr, v.owner, idle); err != nil {
				return fmt.Errorf("forward gmx: %w", err)
			}
		}
	}
	if opts.ShouldClaimWeth {
		if idle := v.registry.Weth.BalanceOf(v.addr); idle.Sign() > 0 {
			if err := v.registry.Weth.Transfer(v.addr, v.owner, idle); err != nil {
				return fmt.Errorf("forward weth: %w", err)
			}
		}
	}
	if v.factory.metrics != nil {
		v.factory.metrics.RewardHarvests.Inc()
	}
	v.factory.emit(&event.RewardsHandled{Vault: v.addr, Owner: v.owner})
	return nil
}

// UnderlyingBalanceOf returns the staked receipt held in vault custody.
func (v *Vault) UnderlyingBalanceOf() *big.Int {
	return v.registry.SGlp.BalanceOf(v.addr)
}

// GmxBalanceOf returns the vault's total GMX position: idle, bonded, and
// vested-but-unclaimed.
func (v *Vault) GmxBalanceOf() *big.Int {
	total := v.registry.Gmx.BalanceOf(v.addr)
	total.Add(total, v.registry.RewardRouter.StakedGmx(v.addr))
	total.Add(total, v.registry.Vester.Claimable(v.addr))
	return total
}

// EsGmxBalanceOf returns the vault's total escrowed-GMX position: idle,
// bonded, and still vesting.
func (v *Vault) EsGmxBalanceOf() *big.Int {
	total := v.registry.EsGmx.BalanceOf(v.addr)
	total.Add(total, v.registry.RewardRouter.StakedEsGmx(v.addr))
	total.Add(total, v.registry.Vester.Deposited(v.addr))
	return total
}

// DolomiteBalance returns the ledger balance of the vault's sub-account in
// the wrapped market.
func (v *Vault) DolomiteBalance(accountNumber uint64) types.Wei {
	account := types.AccountInfo{Owner: v.addr, Number: accountNumber}
	return v.factory.ledger.GetAccountWei(account, v.factory.MarketID())
}
