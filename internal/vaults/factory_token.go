package vaults

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/event"
	"github.com/midaseth/dolomite-margin-modules/internal/margin"
	"github.com/midaseth/dolomite-margin-modules/internal/token"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
)

// The factory is the token contract of the wrapped market. Every transfer
// must correspond to a movement of underlying custody, so transfers are only
// honored when a matching entry was queued beforehand by a vault (or, for
// wrapping, minted directly by AcceptWrap). Anything else is rejected.

func (f *Factory) Decimals() uint8 { return types.GlpDecimals }

func (f *Factory) BalanceOf(account common.Address) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Approve is a no-op: the wrapped token has no allowance surface. Transfers
// are authorized by queued entries, not approvals.
func (f *Factory) Approve(caller, spender common.Address, amount *big.Int) {}

// Transfer handles the two outbound legs of the wrapped token: the ledger
// paying out a withdrawal to a vault, and the ledger handing sale input to a
// token converter. Both burn the wrapped amount, since the underlying leaves
// (or has left) vault custody.
func (f *Factory) Transfer(caller, to common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.ledger.Address() {
		return fmt.Errorf("transfer from %s: %w", caller.Hex(), ErrUnsupportedTransfer)
	}

	if owner, isVault := f.vaultOwners[to]; isVault {
		// Withdrawal completion: burn the ledger's wrapped balance and
		// release the underlying from the vault to its owner.
		if _, err := f.dequeueLocked(to, to, amount); err != nil {
			return err
		}
		if err := f.debitLocked(f.ledger.Address(), amount); err != nil {
			return err
		}
		return f.vaultInstances[to].ExecuteWithdrawalFromVault(f.addr, owner, amount)
	}

	if f.converters[to] {
		// Sale input leg of an unwrap. The vault already released its
		// underlying to the converter when the entry was queued; burn
		// the wrapped amount now leaving the ledger.
		if _, err := f.dequeueLocked(types.ZeroAddress, to, amount); err != nil {
			return err
		}
		return f.debitLocked(f.ledger.Address(), amount)
	}

	return fmt.Errorf("transfer to %s: %w", to.Hex(), ErrUnsupportedTransfer)
}

// TransferFrom handles the deposit leg: the ledger pulling wrapped tokens
// out of a vault. The matching entry must have been queued by the vault, and
// carries the owner address when underlying still needs to be pulled in.
func (f *Factory) TransferFrom(caller, from, to common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.ledger.Address() || to != f.ledger.Address() {
		return fmt.Errorf("transfer from %s to %s: %w", from.Hex(), to.Hex(), ErrUnsupportedTransfer)
	}
	if _, isVault := f.vaultOwners[from]; !isVault {
		return fmt.Errorf("transfer from non-vault %s: %w", from.Hex(), ErrUnsupportedTransfer)
	}

	entry, err := f.dequeueLocked(from, f.ledger.Address(), amount)
	if err != nil {
		return err
	}
	if entry.pullFrom != types.ZeroAddress {
		if err := f.vaultInstances[from].AcceptTransfer(f.addr, entry.pullFrom, amount); err != nil {
			return err
		}
	}
	if err := f.debitLocked(from, amount); err != nil {
		return err
	}
	f.creditLocked(f.ledger.Address(), amount)
	return nil
}

// AcceptWrap credits freshly wrapped tokens straight to the ledger. Only the
// trader pair may call it, and only for a deployed vault whose underlying
// custody just grew by the same amount.
func (f *Factory) AcceptWrap(caller, vault common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.converters[caller] {
		return fmt.Errorf("accept wrap from %s: %w", caller.Hex(), ErrNotTokenConverter)
	}
	if _, isVault := f.vaultOwners[vault]; !isVault {
		return fmt.Errorf("accept wrap for %s: %w", vault.Hex(), ErrVaultRequired)
	}
	f.creditLocked(f.ledger.Address(), amount)
	return nil
}

// enqueueForConverter authorizes the next wrapped-token transfer from the
// ledger into a token converter. Called by a vault's ledger-gated hook.
func (f *Factory) enqueueForConverter(vault, recipient common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.converters[recipient] {
		return fmt.Errorf("enqueue for %s: %w", recipient.Hex(), ErrNotTokenConverter)
	}
	f.queue = append(f.queue, queuedTransfer{
		vault:     vault,
		recipient: recipient,
		amount:    new(big.Int).Set(amount),
	})
	return nil
}

// depositIntoDolomiteMargin mints wrapped tokens against a vault's custody
// and settles them into the ledger account {vault, accountNumber}. The
// underlying is pulled from pullFrom (the owner) during settlement; pass the
// zero address when custody already sits in the vault.
func (f *Factory) depositIntoDolomiteMargin(vault common.Address, accountNumber uint64, amount *big.Int, pullFrom common.Address) error {
	f.mu.Lock()
	if !f.initialized {
		f.mu.Unlock()
		return fmt.Errorf("deposit: %w", ErrNotInitialized)
	}
	f.creditLocked(vault, amount)
	f.queue = append(f.queue, queuedTransfer{
		vault:     vault,
		recipient: f.ledger.Address(),
		amount:    new(big.Int).Set(amount),
		pullFrom:  pullFrom,
	})
	f.mu.Unlock()

	account := types.AccountInfo{Owner: vault, Number: accountNumber}
	err := f.ledger.Operate(f.addr, []types.AccountInfo{account}, []margin.Action{{
		Type:            margin.ActionTypeDeposit,
		AccountID:       0,
		PrimaryMarketID: f.marketID,
		OtherAddress:    vault,
		Amount:          new(big.Int).Set(amount),
	}})
	if err != nil {
		// The mint and queue entry pre-date the ledger's snapshot, so
		// they must be unwound here.
		f.mu.Lock()
		f.dequeueLocked(vault, f.ledger.Address(), amount)
		f.debitLocked(vault, amount)
		f.mu.Unlock()
		return err
	}
	return nil
}

// withdrawFromDolomiteMargin settles a withdrawal out of the ledger account
// {vault, accountNumber}. The wrapped amount is burned and the underlying is
// released to the vault's owner inside the same batch.
func (f *Factory) withdrawFromDolomiteMargin(vault common.Address, accountNumber uint64, amount *big.Int) error {
	f.mu.Lock()
	if !f.initialized {
		f.mu.Unlock()
		return fmt.Errorf("withdraw: %w", ErrNotInitialized)
	}
	f.queue = append(f.queue, queuedTransfer{
		vault:     vault,
		recipient: vault,
		amount:    new(big.Int).Set(amount),
	})
	f.mu.Unlock()

	account := types.AccountInfo{Owner: vault, Number: accountNumber}
	err := f.ledger.Operate(f.addr, []types.AccountInfo{account}, []margin.Action{{
		Type:            margin.ActionTypeWithdraw,
		AccountID:       0,
		PrimaryMarketID: f.marketID,
		OtherAddress:    vault,
		Amount:          new(big.Int).Set(amount),
	}})
	if err != nil {
		f.mu.Lock()
		f.dequeueLocked(vault, vault, amount)
		f.mu.Unlock()
		return err
	}
	return nil
}

// dequeueLocked removes and returns the oldest entry matching recipient and
// amount (and vault, when non-zero).
func (f *Factory) dequeueLocked(vault, recipient common.Address, amount *big.Int) (queuedTransfer, error) {
	for i, entry := range f.queue {
		if entry.recipient != recipient || entry.amount.Cmp(amount) != 0 {
			continue
		}
		if vault != types.ZeroAddress && entry.vault != vault {
			continue
		}
		f.queue = append(f.queue[:i], f.queue[i+1:]...)
		return entry, nil
	}
	return queuedTransfer{}, fmt.Errorf("recipient %s amount %s: %w", recipient.Hex(), amount.String(), ErrNoQueuedTransfer)
}

func (f *Factory) creditLocked(to common.Address, amount *big.Int) {
	if b, ok := f.balances[to]; ok {
		f.balances[to] = new(big.Int).Add(b, amount)
	} else {
		f.balances[to] = new(big.Int).Set(amount)
	}
}

func (f *Factory) debitLocked(from common.Address, amount *big.Int) error {
	b, ok := f.balances[from]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("wrapped balance of %s below %s: %w",
			from.Hex(), amount.String(), token.ErrInsufficientBalance)
	}
	f.balances[from] = new(big.Int).Sub(b, amount)
	return nil
}

// Snapshot captures the wrapped balances and the pending transfer queue for
// unit-of-work rollback. Vault registrations are not included; vaults are
// never created mid-batch.
func (f *Factory) Snapshot() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := factorySnapshot{
		balances: make(map[common.Address]*big.Int, len(f.balances)),
		queue:    make([]queuedTransfer, len(f.queue)),
	}
	for k, v := range f.balances {
		snap.balances[k] = new(big.Int).Set(v)
	}
	copy(snap.queue, f.queue)
	return snap
}

// Restore replaces balances and queue with an earlier snapshot.
func (f *Factory) Restore(snapshot any) {
	snap, ok := snapshot.(factorySnapshot)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances = make(map[common.Address]*big.Int, len(snap.balances))
	for k, v := range snap.balances {
		f.balances[k] = new(big.Int).Set(v)
	}
	f.queue = make([]queuedTransfer, len(snap.queue))
	copy(f.queue, snap.queue)
}

func (f *Factory) emitDeposit(vault, owner common.Address, accountNumber uint64, amount *big.Int) {
	if f.metrics != nil {
		f.metrics.VaultDeposits.Inc()
	}
	f.emit(&event.VaultDeposit{
		Vault:         vault,
		Owner:         owner,
		AccountNumber: accountNumber,
		Amount:        new(big.Int).Set(amount),
	})
}

func (f *Factory) emitWithdrawal(vault, owner common.Address, accountNumber uint64, amount *big.Int) {
	if f.metrics != nil {
		f.metrics.VaultWithdrawals.Inc()
	}
	f.emit(&event.VaultWithdrawal{
		Vault:         vault,
		Owner:         owner,
		AccountNumber: accountNumber,
		Amount:        new(big.Int).Set(amount),
	})
}
