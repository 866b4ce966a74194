package vaults

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/midaseth/dolomite-margin-modules/internal/event"
	"github.com/midaseth/dolomite-margin-modules/internal/gmx"
	"github.com/midaseth/dolomite-margin-modules/internal/margin"
	"github.com/midaseth/dolomite-margin-modules/internal/observability"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
)

// vaultCodeHash salts the deterministic vault address derivation, standing in
// for the implementation code hash of a create2 scheme.
var vaultCodeHash = crypto.Keccak256([]byte("wrapped-token-user-vault-v1"))

type queuedTransfer struct {
	vault     common.Address
	recipient common.Address // the ledger for deposits, the vault for withdrawals, a token converter otherwise
	amount    *big.Int
	pullFrom  common.Address // non-zero when underlying must be pulled into the vault on settlement
}

type factorySnapshot struct {
	balances map[common.Address]*big.Int
	queue    []queuedTransfer
}

// Factory mints one isolated vault per owner and is itself registered with
// the margin ledger as the token contract for the wrapped market. The token
// surface it exposes is deliberately crippled: the wrapped asset moves only
// between vaults and the ledger, so the vaults' stake bookkeeping can never
// desync from the ledger's recorded balances.
type Factory struct {
	mu sync.Mutex

	addr     common.Address
	ledger   *margin.Ledger
	registry *gmx.Registry

	marketID    types.MarketID
	initialized bool
	unwrapper   common.Address
	wrapper     common.Address
	converters  map[common.Address]bool

	vaults         map[common.Address]common.Address // owner -> vault
	vaultOwners    map[common.Address]common.Address // vault -> owner
	vaultInstances map[common.Address]*Vault         // vault -> instance

	// Wrapped-token balances as seen by the ledger. Minted on deposit,
	// burned on withdrawal; total supply always equals the sum of vault
	// custody.
	balances map[common.Address]*big.Int

	// FIFO of vault movements pre-authorized for the next wrapped-token
	// transfers. Ordering is load-bearing: a conversion leg must follow
	// the leg that queued its funds.
	queue []queuedTransfer

	allowableDebtMarketIDs       []types.MarketID
	allowableCollateralMarketIDs []types.MarketID

	recorder event.Recorder
	log      zerolog.Logger
	metrics  *observability.Metrics
}

// NewFactory creates the factory. The allow-lists may start non-empty; an
// empty list means no restriction.
func NewFactory(
	addr common.Address,
	ledger *margin.Ledger,
	registry *gmx.Registry,
	allowableDebtMarketIDs []types.MarketID,
	allowableCollateralMarketIDs []types.MarketID,
	recorder event.Recorder,
	metrics *observability.Metrics,
) *Factory {
	f := &Factory{
		addr:                         addr,
		ledger:                       ledger,
		registry:                     registry,
		converters:                   make(map[common.Address]bool),
		vaults:                       make(map[common.Address]common.Address),
		vaultOwners:                  make(map[common.Address]common.Address),
		vaultInstances:               make(map[common.Address]*Vault),
		balances:                     make(map[common.Address]*big.Int),
		allowableDebtMarketIDs:       append([]types.MarketID(nil), allowableDebtMarketIDs...),
		allowableCollateralMarketIDs: append([]types.MarketID(nil), allowableCollateralMarketIDs...),
		recorder:                     recorder,
		log:                          observability.NewLogger("vault-factory"),
		metrics:                      metrics,
	}
	return f
}

func (f *Factory) Address() common.Address { return f.addr }

// MarketID returns the wrapped market id, valid after OwnerInitialize.
func (f *Factory) MarketID() types.MarketID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marketID
}

// OwnerInitialize performs the one-time trader-pair registration and binds
// the factory to its market id on the ledger. Governance only; a second call
// fails with ErrAlreadyInitialized.
func (f *Factory) OwnerInitialize(caller, unwrapper, wrapper common.Address) error {
	// Ledger queries happen before taking f.mu: the ledger calls back into
	// the factory under its own lock during settlement, so the factory must
	// never hold its lock while calling the ledger.
	if caller != f.ledger.Governance() {
		return fmt.Errorf("initialize: caller %s: %w", caller.Hex(), margin.ErrNotGovernance)
	}
	marketID, err := f.ledger.GetMarketIdByTokenAddress(f.addr)
	if err != nil {
		return fmt.Errorf("initialize: factory not registered as a market: %w", err)
	}
	if !f.ledger.GetIsGlobalOperator(unwrapper) || !f.ledger.GetIsGlobalOperator(wrapper) {
		return fmt.Errorf("initialize: trader pair must be global operators first: %w", margin.ErrUnauthorizedOperator)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initialized {
		return fmt.Errorf("initialize: %w", ErrAlreadyInitialized)
	}
	f.marketID = marketID
	f.unwrapper = unwrapper
	f.wrapper = wrapper
	f.converters[unwrapper] = true
	f.converters[wrapper] = true
	f.initialized = true

	f.emit(&event.TraderPairInitialized{Unwrapper: unwrapper, Wrapper: wrapper})
	f.log.Info().
		Str("unwrapper", unwrapper.Hex()).
		Str("wrapper", wrapper.Hex()).
		Uint64("market_id", uint64(marketID)).
		Msg("factory initialized")
	return nil
}

// CreateVaultFor deploys the vault for an owner, or returns the existing one.
// Idempotent; the address always equals CalculateVaultByAccount(owner).
func (f *Factory) CreateVaultFor(owner common.Address) (*Vault, error) {
	if owner == types.ZeroAddress {
		return nil, fmt.Errorf("create vault: %w", ErrInvalidOwner)
	}

	f.mu.Lock()
	if existing, ok := f.vaults[owner]; ok {
		vault := f.vaultInstances[existing]
		f.mu.Unlock()
		return vault, nil
	}
	addr := f.deriveVaultAddress(owner)
	vault := newVault(addr, owner, f, f.registry)
	f.vaults[owner] = addr
	f.vaultOwners[addr] = owner
	f.vaultInstances[addr] = vault
	f.mu.Unlock()

	// Each vault is a callee so unwrap batches can trigger its
	// ledger-gated custody hook via a Call action. Registered outside f.mu;
	// the ledger calls back into the factory under its own lock.
	f.ledger.RegisterCallee(addr, vault)

	if f.metrics != nil {
		f.metrics.VaultsCreated.Inc()
	}
	f.emit(&event.VaultCreated{Owner: owner, Vault: addr})
	f.log.Info().
		Str("owner", owner.Hex()).
		Str("vault", addr.Hex()).
		Msg("vault created")
	return vault, nil
}

// GetVaultByAccount returns the owner's vault address, or the zero address
// if none has been created. Pure lookup.
func (f *Factory) GetVaultByAccount(owner common.Address) common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vaults[owner]
}

// GetVault returns the live vault instance for an owner, or nil.
func (f *Factory) GetVault(owner common.Address) *Vault {
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr, ok := f.vaults[owner]; ok {
		return f.vaultInstances[addr]
	}
	return nil
}

// CalculateVaultByAccount returns the deterministic address a future
// CreateVaultFor call will produce for this owner.
func (f *Factory) CalculateVaultByAccount(owner common.Address) common.Address {
	return f.deriveVaultAddress(owner)
}

func (f *Factory) deriveVaultAddress(owner common.Address) common.Address {
	salt := crypto.Keccak256(owner.Bytes())
	preimage := make([]byte, 0, 1+20+32+32)
	preimage = append(preimage, 0xff)
	preimage = append(preimage, f.addr.Bytes()...)
	preimage = append(preimage, salt...)
	preimage = append(preimage, vaultCodeHash...)
	return common.BytesToAddress(crypto.Keccak256(preimage)[12:])
}

// IsVault reports whether an address is a deployed vault.
func (f *Factory) IsVault(addr common.Address) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.vaultOwners[addr]
	return ok
}

// IsTokenConverter reports whether an address belongs to the trader pair.
func (f *Factory) IsTokenConverter(addr common.Address) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.converters[addr]
}

// OwnerSetAllowableDebtMarketIds replaces the debt allow-list wholesale.
// Governance only.
func (f *Factory) OwnerSetAllowableDebtMarketIds(caller common.Address, marketIDs []types.MarketID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if caller != f.ledger.Governance() {
		return fmt.Errorf("set debt market ids: caller %s: %w", caller.Hex(), margin.ErrNotGovernance)
	}
	f.allowableDebtMarketIDs = append([]types.MarketID(nil), marketIDs...)
	f.emit(&event.AllowableDebtMarketIdsSet{MarketIDs: marketIDsToUint64(marketIDs)})
	return nil
}

// OwnerSetAllowableCollateralMarketIds replaces the collateral allow-list
// wholesale. Governance only.
func (f *Factory) OwnerSetAllowableCollateralMarketIds(caller common.Address, marketIDs []types.MarketID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if caller != f.ledger.Governance() {
		return fmt.Errorf("set collateral market ids: caller %s: %w", caller.Hex(), margin.ErrNotGovernance)
	}
	f.allowableCollateralMarketIDs = append([]types.MarketID(nil), marketIDs...)
	f.emit(&event.AllowableCollateralMarketIdsSet{MarketIDs: marketIDsToUint64(marketIDs)})
	return nil
}

// AllowableDebtMarketIds returns a copy of the debt allow-list.
func (f *Factory) AllowableDebtMarketIds() []types.MarketID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.MarketID(nil), f.allowableDebtMarketIDs...)
}

// AllowableCollateralMarketIds returns a copy of the collateral allow-list.
func (f *Factory) AllowableCollateralMarketIds() []types.MarketID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.MarketID(nil), f.allowableCollateralMarketIDs...)
}

// ValidateAccount enforces the allow-lists and the vault-only custody rule
// after each batch: an account holding the wrapped asset must be a vault,
// owe only allow-listed debt markets, and hold only allow-listed collateral
// markets. Empty list means no restriction.
func (f *Factory) ValidateAccount(account types.AccountInfo, balances map[types.MarketID]*big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	wrapped, ok := balances[f.marketID]
	if !ok || wrapped.Sign() == 0 {
		return nil
	}
	// The wrapped market can never be owed: a negative balance would mean
	// the ledger records collateral somewhere with no custody behind it.
	if wrapped.Sign() < 0 {
		return fmt.Errorf("account %s owes wrapped market %d: %w",
			account, f.marketID, ErrWrappedDebtNotAllowed)
	}
	if _, isVault := f.vaultOwners[account.Owner]; !isVault {
		return fmt.Errorf("account %s: %w", account, ErrVaultRequired)
	}
	for id, b := range balances {
		if id == f.marketID || b.Sign() == 0 {
			continue
		}
		if b.Sign() < 0 {
			if len(f.allowableDebtMarketIDs) > 0 && !containsMarket(f.allowableDebtMarketIDs, id) {
				return fmt.Errorf("market %d: %w", id, ErrDebtMarketNotAllowed)
			}
		} else {
			if len(f.allowableCollateralMarketIDs) > 0 && !containsMarket(f.allowableCollateralMarketIDs, id) {
				return fmt.Errorf("market %d: %w", id, ErrCollateralMarketNotAllowed)
			}
		}
	}
	return nil
}

func containsMarket(ids []types.MarketID, id types.MarketID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func marketIDsToUint64(ids []types.MarketID) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

func (f *Factory) emit(evt event.Event) {
	if f.recorder != nil {
		f.recorder.Record(evt)
	}
}
