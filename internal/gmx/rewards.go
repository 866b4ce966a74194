package gmx

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/token"
)

// ErrNothingStaked is returned when unstaking more than the staked balance.
var ErrNothingStaked = errors.New("unstake exceeds staked balance")

// HandleRewardsOptions mirrors the reward router's claim flags: each flag
// independently selects which reward legs to claim and whether claimed
// amounts are compounded back into a staked position.
type HandleRewardsOptions struct {
	ShouldClaimGmx              bool
	ShouldStakeGmx              bool
	ShouldClaimEsGmx            bool
	ShouldStakeEsGmx            bool
	ShouldStakeMultiplierPoints bool
	ShouldClaimWeth             bool
}

// RewardRouter models the staking side of the reward protocol: bonded GMX
// and esGMX positions per account plus keeper-accrued pending rewards.
type RewardRouter struct {
	mu sync.Mutex

	addr   common.Address
	keeper common.Address

	gmx   *token.TestToken
	esGmx *token.TestToken
	weth  *token.TestToken

	stakedGmx   map[common.Address]*big.Int
	stakedEsGmx map[common.Address]*big.Int

	// Multiplier points boost an account's reward share. They accrue on
	// bonded GMX, are staked explicitly, and burn pro rata on unstake.
	stakedMultiplierPoints  map[common.Address]*big.Int
	pendingMultiplierPoints map[common.Address]*big.Int

	pendingEsGmx map[common.Address]*big.Int
	pendingWeth  map[common.Address]*big.Int

	vester *Vester
}

func NewRewardRouter(addr, keeper common.Address, gmx, esGmx, weth *token.TestToken, vester *Vester) *RewardRouter {
	return &RewardRouter{
		addr:                    addr,
		keeper:                  keeper,
		gmx:                     gmx,
		esGmx:                   esGmx,
		weth:                    weth,
		stakedGmx:               make(map[common.Address]*big.Int),
		stakedEsGmx:             make(map[common.Address]*big.Int),
		stakedMultiplierPoints:  make(map[common.Address]*big.Int),
		pendingMultiplierPoints: make(map[common.Address]*big.Int),
		pendingEsGmx:            make(map[common.Address]*big.Int),
		pendingWeth:             make(map[common.Address]*big.Int),
		vester:                  vester,
	}
}

func (r *RewardRouter) Address() common.Address { return r.addr }

// StakeGmx bonds GMX held by the account.
func (r *RewardRouter) StakeGmx(account common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.gmx.Transfer(account, r.addr, amount); err != nil {
		return fmt.Errorf("stake gmx: %w", err)
	}
	r.stakedGmx[account] = add(r.stakedGmx[account], amount)
	return nil
}

// UnstakeGmx releases bonded GMX back to the account. Staked multiplier
// points burn pro rata with the unstaked share, matching the reward
// protocol's boost decay.
func (r *RewardRouter) UnstakeGmx(account common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	staked := r.stakedGmx[account]
	if staked == nil || staked.Cmp(amount) < 0 {
		return fmt.Errorf("unstake gmx %s: %w", amount, ErrNothingStaked)
	}
	if mp := r.stakedMultiplierPoints[account]; mp != nil && mp.Sign() > 0 {
		burn := new(big.Int).Mul(mp, amount)
		burn.Div(burn, staked)
		r.stakedMultiplierPoints[account] = new(big.Int).Sub(mp, burn)
	}
	r.stakedGmx[account] = new(big.Int).Sub(staked, amount)
	if err := r.gmx.Transfer(r.addr, account, amount); err != nil {
		return fmt.Errorf("unstake gmx: %w", err)
	}
	return nil
}

// StakeEsGmx bonds escrowed GMX held by the account.
func (r *RewardRouter) StakeEsGmx(account common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.esGmx.Transfer(account, r.addr, amount); err != nil {
		return fmt.Errorf("stake esgmx: %w", err)
	}
	r.stakedEsGmx[account] = add(r.stakedEsGmx[account], amount)
	return nil
}

// UnstakeEsGmx releases bonded esGMX back to the account.
func (r *RewardRouter) UnstakeEsGmx(account common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	staked := r.stakedEsGmx[account]
	if staked == nil || staked.Cmp(amount) < 0 {
		return fmt.Errorf("unstake esgmx %s: %w", amount, ErrNothingStaked)
	}
	r.stakedEsGmx[account] = new(big.Int).Sub(staked, amount)
	if err := r.esGmx.Transfer(r.addr, account, amount); err != nil {
		return fmt.Errorf("unstake esgmx: %w", err)
	}
	return nil
}

// HandleRewards claims the selected reward legs for the account. Claimed GMX
// comes out of the vester's vested balance; esGMX and WETH out of the
// keeper-accrued pending buckets.
func (r *RewardRouter) HandleRewards(account common.Address, opts HandleRewardsOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if opts.ShouldClaimGmx {
		claimed, err := r.vester.Claim(account)
		if err != nil {
			return fmt.Errorf("claim gmx: %w", err)
		}
		if opts.ShouldStakeGmx && claimed.Sign() > 0 {
			if err := r.gmx.Transfer(account, r.addr, claimed); err != nil {
				return fmt.Errorf("compound gmx: %w", err)
			}
			r.stakedGmx[account] = add(r.stakedGmx[account], claimed)
		}
	}

	if opts.ShouldClaimEsGmx {
		pending := r.pendingEsGmx[account]
		if pending != nil && pending.Sign() > 0 {
			r.pendingEsGmx[account] = new(big.Int)
			if opts.ShouldStakeEsGmx {
				r.esGmx.Mint(r.addr, pending)
				r.stakedEsGmx[account] = add(r.stakedEsGmx[account], pending)
			} else {
				r.esGmx.Mint(account, pending)
			}
		}
	}

	if opts.ShouldStakeMultiplierPoints {
		pending := r.pendingMultiplierPoints[account]
		if pending != nil && pending.Sign() > 0 {
			r.pendingMultiplierPoints[account] = new(big.Int)
			r.stakedMultiplierPoints[account] = add(r.stakedMultiplierPoints[account], pending)
		}
	}

	if opts.ShouldClaimWeth {
		pending := r.pendingWeth[account]
		if pending != nil && pending.Sign() > 0 {
			r.pendingWeth[account] = new(big.Int)
			r.weth.Mint(account, pending)
		}
	}
	return nil
}

// AccruePendingRewards is the keeper hook standing in for reward emission.
func (r *RewardRouter) AccruePendingRewards(caller, account common.Address, esGmxAmount, wethAmount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.keeper {
		return fmt.Errorf("accrue rewards: %w", ErrNotKeeper)
	}
	if esGmxAmount != nil {
		r.pendingEsGmx[account] = add(r.pendingEsGmx[account], esGmxAmount)
	}
	if wethAmount != nil {
		r.pendingWeth[account] = add(r.pendingWeth[account], wethAmount)
	}
	return nil
}

// AccrueMultiplierPoints is the keeper hook standing in for bonus emission
// on bonded GMX. Accrued points sit pending until HandleRewards stakes them.
func (r *RewardRouter) AccrueMultiplierPoints(caller, account common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.keeper {
		return fmt.Errorf("accrue multiplier points: %w", ErrNotKeeper)
	}
	if amount != nil {
		r.pendingMultiplierPoints[account] = add(r.pendingMultiplierPoints[account], amount)
	}
	return nil
}

// StakedGmx returns the bonded GMX balance of an account.
func (r *RewardRouter) StakedGmx(account common.Address) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyOrZero(r.stakedGmx[account])
}

// StakedEsGmx returns the bonded esGMX balance of an account.
func (r *RewardRouter) StakedEsGmx(account common.Address) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyOrZero(r.stakedEsGmx[account])
}

// StakedMultiplierPoints returns the staked multiplier point balance of an
// account.
func (r *RewardRouter) StakedMultiplierPoints(account common.Address) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyOrZero(r.stakedMultiplierPoints[account])
}

func add(a, b *big.Int) *big.Int {
	if a == nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int).Add(a, b)
}

func copyOrZero(a *big.Int) *big.Int {
	if a == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a)
}
