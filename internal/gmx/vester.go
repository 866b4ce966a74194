package gmx

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/token"
)

// Vester models the esGMX vesting pipeline: deposited esGMX converts to GMX
// over time. Time passage is driven by the keeper (AdvanceVesting), which
// keeps conversions deterministic for a fixed state.
type Vester struct {
	mu sync.Mutex

	addr   common.Address
	keeper common.Address

	gmx   *token.TestToken
	esGmx *token.TestToken

	deposited map[common.Address]*big.Int // esGMX locked, not yet vested
	vested    map[common.Address]*big.Int // GMX claimable
}

func NewVester(addr, keeper common.Address, gmx, esGmx *token.TestToken) *Vester {
	return &Vester{
		addr:      addr,
		keeper:    keeper,
		gmx:       gmx,
		esGmx:     esGmx,
		deposited: make(map[common.Address]*big.Int),
		vested:    make(map[common.Address]*big.Int),
	}
}

func (v *Vester) Address() common.Address { return v.addr }

// Deposit locks esGMX into the vesting pipeline.
func (v *Vester) Deposit(account common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := v.esGmx.Transfer(account, v.addr, amount); err != nil {
		return fmt.Errorf("vest deposit: %w", err)
	}
	v.deposited[account] = add(v.deposited[account], amount)
	return nil
}

// Withdraw exits the pipeline: claims any vested GMX and returns the
// unvested esGMX remainder. Returns (gmxClaimed, esGmxReturned).
func (v *Vester) Withdraw(account common.Address) (*big.Int, *big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	claimed, err := v.claimLocked(account)
	if err != nil {
		return nil, nil, err
	}
	remaining := copyOrZero(v.deposited[account])
	if remaining.Sign() > 0 {
		v.deposited[account] = new(big.Int)
		if err := v.esGmx.Transfer(v.addr, account, remaining); err != nil {
			return nil, nil, fmt.Errorf("vest withdraw: %w", err)
		}
	}
	return claimed, remaining, nil
}

// Claim pays out vested GMX to the account.
func (v *Vester) Claim(account common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.claimLocked(account)
}

func (v *Vester) claimLocked(account common.Address) (*big.Int, error) {
	claimable := v.vested[account]
	if claimable == nil || claimable.Sign() == 0 {
		return new(big.Int), nil
	}
	v.vested[account] = new(big.Int)
	v.gmx.Mint(account, claimable)
	return new(big.Int).Set(claimable), nil
}

// AdvanceVesting converts part of an account's deposited esGMX into
// claimable GMX, burning the escrowed tokens. Keeper only.
func (v *Vester) AdvanceVesting(caller, account common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.keeper {
		return fmt.Errorf("advance vesting: %w", ErrNotKeeper)
	}
	deposited := v.deposited[account]
	if deposited == nil || deposited.Cmp(amount) < 0 {
		return fmt.Errorf("advance vesting %s of %s deposited: %w", amount, deposited, ErrNothingStaked)
	}
	v.deposited[account] = new(big.Int).Sub(deposited, amount)
	v.vested[account] = add(v.vested[account], amount)
	if err := v.esGmx.Burn(v.addr, amount); err != nil {
		return fmt.Errorf("advance vesting: %w", err)
	}
	return nil
}

// Deposited returns the esGMX amount still vesting for an account.
func (v *Vester) Deposited(account common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return copyOrZero(v.deposited[account])
}

// Claimable returns the GMX already vested and claimable for an account.
func (v *Vester) Claimable(account common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return copyOrZero(v.vested[account])
}
